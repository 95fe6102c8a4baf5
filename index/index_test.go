package index

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPositionToBlockIndex(t *testing.T) {
	t.Run("positive positions", func(t *testing.T) {
		require.Equal(t, Index3D{0, 0, 0}, PositionToBlockIndex(1, Vector3f{0.5, 0.5, 0.5}))
		require.Equal(t, Index3D{2, 0, 1}, PositionToBlockIndex(1, Vector3f{2.1, 0.9, 1}))
	})

	t.Run("negative positions floor away from zero", func(t *testing.T) {
		require.Equal(t, Index3D{-1, -1, -3}, PositionToBlockIndex(0.5, Vector3f{-0.1, -0.5, -1.2}))
	})

	t.Run("interior positions map to their block", func(t *testing.T) {
		blockSize := float32(0.4)
		for _, idx := range []Index3D{{0, 0, 0}, {3, -2, 7}, {-5, -5, -5}} {
			center := Add(BlockOrigin(blockSize, idx), Vector3f{0.2, 0.2, 0.2})
			require.Equal(t, idx, PositionToBlockIndex(blockSize, center))
		}
	})
}

func TestPositionInRange(t *testing.T) {
	blockSize := float32(0.4)

	t.Run("regular positions are in range", func(t *testing.T) {
		for _, p := range []Vector3f{{}, {-1000, 250, 3.5}, {1e8, -1e8, 0}} {
			require.True(t, PositionInRange(blockSize, p), "position %v", p)
			require.NoError(t, CheckPosition(blockSize, p))
		}
	})

	t.Run("far away positions are out of range", func(t *testing.T) {
		positions := []Vector3f{
			{X: 1e30},
			{X: -1e30},
			{Y: 1e10},
			{Z: float32(math.Inf(1))},
			{X: float32(math.NaN())},
		}

		for _, p := range positions {
			require.False(t, PositionInRange(blockSize, p), "position %v", p)

			err := CheckPosition(blockSize, p)
			require.Error(t, err)
			require.True(t, errors.IsType(err, ErrTypePositionOutOfRange))
		}
	})
}

func TestPositionToVoxelIndex(t *testing.T) {
	voxelSize := float32(0.05)
	blockSize := VoxelsPerSide * voxelSize

	t.Run("voxel index is within block bounds", func(t *testing.T) {
		positions := []Vector3f{
			{0, 0, 0},
			{0.399, 0.399, 0.399},
			{-0.001, -0.3, 12.7},
			{1.23, -4.56, 7.89},
		}

		for _, p := range positions {
			v := PositionToVoxelIndex(blockSize, voxelSize, p)
			require.True(t, v.InBlock(), "position %v gave voxel index %v", p, v)
		}
	})

	t.Run("voxel corner roundtrips", func(t *testing.T) {
		blockIndex := Index3D{-2, 3, 1}
		voxelIndex := Index3D{1, 7, 4}

		p := VoxelCenter(blockSize, blockIndex, voxelIndex)
		b, v := BlockAndVoxelIndexFromPosition(blockSize, voxelSize, p)
		require.Equal(t, blockIndex, b)
		require.Equal(t, voxelIndex, v)
	})

	t.Run("rounding past the block upper face is clamped", func(t *testing.T) {
		b, v := BlockAndVoxelIndexFromPosition(blockSize, voxelSize, Vector3f{-1e-9, 0, 0})
		require.Equal(t, int32(-1), b.X)
		require.Equal(t, int32(VoxelsPerSide-1), v.X)
	})
}

func TestIndexLinear(t *testing.T) {
	require.Equal(t, 0, Index3D{0, 0, 0}.Linear())
	require.Equal(t, VoxelsPerBlock-1, Index3D{7, 7, 7}.Linear())
	require.Equal(t, 1+VoxelsPerSide*(2+VoxelsPerSide*3), Index3D{1, 2, 3}.Linear())
}

func TestHash(t *testing.T) {
	require.Equal(t, Hash(Index3D{1, 2, 3}), Hash(Index3D{1, 2, 3}))
	require.NotEqual(t, Hash(Index3D{1, 2, 3}), Hash(Index3D{3, 2, 1}))
}

func TestVector3fEqualWithEpsilon(t *testing.T) {
	a := Vector3f{1, 2, 3}
	require.True(t, a.EqualWithEpsilon(Vector3f{1.05, 2, 3}, 0.1))
	require.False(t, a.EqualWithEpsilon(Vector3f{1.2, 2, 3}, 0.1))
	require.True(t, Sub(Add(a, a), a).Equal(a))
	require.True(t, Mul(a, 2).Equal(Vector3f{2, 4, 6}))
}
