package layer

import (
	"testing"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBlockLayerAllocate(t *testing.T) {
	t.Run("allocation is idempotent", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

		a, err := l.AllocateBlockAtIndex(index.Index3D{X: 1, Y: 2, Z: 3})
		require.NoError(t, err)
		b, err := l.AllocateBlockAtIndex(index.Index3D{X: 1, Y: 2, Z: 3})
		require.NoError(t, err)

		require.Same(t, a, b)
		require.Equal(t, 1, l.NumAllocatedBlocks())
	})

	t.Run("allocation by position uses the containing block", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](2, device.MemoryTypeHost)

		a, err := l.AllocateBlockAtPosition(index.Vector3f{X: 0.5, Y: -0.5, Z: 3.9})
		require.NoError(t, err)
		require.Same(t, a, l.GetBlockAtIndex(index.Index3D{X: 0, Y: -1, Z: 1}))
		require.Same(t, a, l.GetBlockAtPosition(index.Vector3f{X: 1.9, Y: -1.9, Z: 2}))
	})

	t.Run("far away positions are rejected", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](0.4, device.MemoryTypeHost)

		for _, p := range []index.Vector3f{{X: 1e30}, {X: -1e30}, {X: 1e10}} {
			b, err := l.AllocateBlockAtPosition(p)
			require.Error(t, err)
			require.True(t, errors.IsType(err, index.ErrTypePositionOutOfRange))
			require.Nil(t, b)
			require.Nil(t, l.GetBlockAtPosition(p))
		}
		require.Zero(t, l.NumAllocatedBlocks())
	})

	t.Run("get does not allocate", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

		require.Nil(t, l.GetBlockAtIndex(index.Index3D{}))
		require.Nil(t, l.GetBlockAtPosition(index.Vector3f{X: 10}))
		require.False(t, l.IsBlockAllocated(index.Index3D{}))
		require.Zero(t, l.NumAllocatedBlocks())
	})

	t.Run("blocks are allocated in the layer memory type", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeDevice)

		b, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		require.Equal(t, device.MemoryTypeDevice, b.MemoryType())
	})

	t.Run("allocation failure is returned and leaves the layer unchanged", func(t *testing.T) {
		arena := device.DefaultArena()
		capacity := arena.Capacity()
		defer arena.SetCapacity(capacity)
		arena.SetCapacity(1)

		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeDevice)
		b, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.Error(t, err)
		require.True(t, errors.IsType(err, device.ErrTypeOutOfMemory))
		require.Nil(t, b)
		require.Zero(t, l.NumAllocatedBlocks())
	})
}

func TestBlockLayerGetAllBlockIndices(t *testing.T) {
	l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

	indices := []index.Index3D{{X: 0}, {X: -1, Y: 4}, {Z: 9}}
	for _, idx := range indices {
		_, err := l.AllocateBlockAtIndex(idx)
		require.NoError(t, err)
	}

	require.ElementsMatch(t, indices, l.GetAllBlockIndices())
}

func TestBlockLayerClear(t *testing.T) {
	t.Run("clear removes every block", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

		held, err := l.AllocateBlockAtIndex(index.Index3D{X: 1})
		require.NoError(t, err)
		_, err = l.AllocateBlockAtIndex(index.Index3D{X: 2})
		require.NoError(t, err)

		l.Clear()
		require.Zero(t, l.NumAllocatedBlocks())
		require.Empty(t, l.GetAllBlockIndices())

		// External holders keep removed blocks alive.
		require.Zero(t, held.NumVertices())
	})

	t.Run("clear blocks skips unallocated indices", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

		a := index.Index3D{X: 1}
		b := index.Index3D{X: 2}
		c := index.Index3D{X: 3}
		d := index.Index3D{X: 4}
		for _, idx := range []index.Index3D{a, c, d} {
			_, err := l.AllocateBlockAtIndex(idx)
			require.NoError(t, err)
		}

		l.ClearBlocks([]index.Index3D{a, b, c})
		require.False(t, l.IsBlockAllocated(a))
		require.False(t, l.IsBlockAllocated(b))
		require.False(t, l.IsBlockAllocated(c))
		require.True(t, l.IsBlockAllocated(d))
		require.Equal(t, 1, l.NumAllocatedBlocks())
	})

	t.Run("reallocation after clear creates a new block", func(t *testing.T) {
		l := NewBlockLayer[MeshBlock](1, device.MemoryTypeHost)

		a, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		l.ClearBlocks([]index.Index3D{{}})

		b, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		require.NotSame(t, a, b)
	})
}

func TestBlockLayerCopy(t *testing.T) {
	newMeshLayer := func(t *testing.T) *MeshLayer {
		l := NewBlockLayer[MeshBlock](0.5, device.MemoryTypeUnified)

		b, err := l.AllocateBlockAtIndex(index.Index3D{X: 1})
		require.NoError(t, err)
		require.NoError(t, b.SetMesh(device.MemoryTypeUnified,
			[]index.Vector3f{{X: 1}, {Y: 1}, {Z: 1}},
			[]index.Vector3f{{Z: 1}, {Z: 1}, {Z: 1}},
			[]Color{{R: 255}, {G: 255}, {B: 255}},
			[]int32{0, 1, 2},
		))
		return l
	}

	t.Run("clone copies block content", func(t *testing.T) {
		l := newMeshLayer(t)

		c, err := l.CloneTo(device.MemoryTypeHost)
		require.NoError(t, err)
		require.Equal(t, device.MemoryTypeHost, c.MemoryType())
		require.Equal(t, l.BlockSize(), c.BlockSize())
		require.ElementsMatch(t, l.GetAllBlockIndices(), c.GetAllBlockIndices())

		src := l.GetBlockAtIndex(index.Index3D{X: 1})
		dst := c.GetBlockAtIndex(index.Index3D{X: 1})
		require.NotSame(t, src, dst)
		require.Equal(t, device.MemoryTypeHost, dst.MemoryType())
		require.Equal(t, src.Vertices().CopyToHost(), dst.Vertices().CopyToHost())
		require.Equal(t, src.Triangles().CopyToHost(), dst.Triangles().CopyToHost())
		require.Equal(t, ViewStateAbsent, c.GpuLayerViewState())
	})

	t.Run("copy assignment takes the source memory type", func(t *testing.T) {
		l := newMeshLayer(t)
		dst := NewBlockLayer[MeshBlock](3, device.MemoryTypeHost)
		_, err := dst.AllocateBlockAtIndex(index.Index3D{Y: 8})
		require.NoError(t, err)

		require.NoError(t, dst.CopyFrom(l))
		require.Equal(t, device.MemoryTypeUnified, dst.MemoryType())
		require.Equal(t, float32(0.5), dst.BlockSize())
		require.ElementsMatch(t, []index.Index3D{{X: 1}}, dst.GetAllBlockIndices())
	})

	t.Run("move transfers blocks without copying", func(t *testing.T) {
		l := newMeshLayer(t)
		b := l.GetBlockAtIndex(index.Index3D{X: 1})

		_, err := l.GetGpuLayerView()
		require.NoError(t, err)

		moved := l.Move()
		require.Same(t, b, moved.GetBlockAtIndex(index.Index3D{X: 1}))
		require.Equal(t, ViewStateFresh, moved.GpuLayerViewState())
		require.Zero(t, l.NumAllocatedBlocks())
		require.Equal(t, ViewStateAbsent, l.GpuLayerViewState())

		// The source stays usable.
		_, err = l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		require.Equal(t, 1, l.NumAllocatedBlocks())
		require.Equal(t, 1, moved.NumAllocatedBlocks())
	})
}

func TestSizeArgumentFromVoxelSize(t *testing.T) {
	require.Equal(t, float32(0.05), SizeArgumentFromVoxelSize(SizeArgumentVoxelSize, 0.05))
	require.Equal(t, index.VoxelsPerSide*float32(0.05), SizeArgumentFromVoxelSize(SizeArgumentBlockSize, 0.05))
}
