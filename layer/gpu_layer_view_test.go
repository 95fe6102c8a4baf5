package layer

import (
	"testing"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/stretchr/testify/require"
)

func TestGpuLayerView(t *testing.T) {
	t.Run("view is built on first request", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeDevice)
		require.Equal(t, ViewStateAbsent, l.GpuLayerViewState())

		b, err := l.AllocateBlockAtIndex(index.Index3D{X: 2})
		require.NoError(t, err)
		require.Equal(t, ViewStateAbsent, l.GpuLayerViewState())

		v, err := l.GetGpuLayerView()
		require.NoError(t, err)
		require.Equal(t, ViewStateFresh, l.GpuLayerViewState())
		require.Equal(t, 1, v.Size())
		require.Equal(t, l.BlockSize(), v.BlockSize())

		found, ok := v.Find(index.Index3D{X: 2})
		require.True(t, ok)
		require.Same(t, b, found)

		_, ok = v.Find(index.Index3D{X: 3})
		require.False(t, ok)
	})

	t.Run("repeated requests do not rebuild", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		_, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)

		a, err := l.GetGpuLayerView()
		require.NoError(t, err)
		b, err := l.GetGpuLayerView()
		require.NoError(t, err)

		require.Same(t, a, b)
		require.Equal(t, uint64(1), l.GpuLayerViewRebuilds())
	})

	t.Run("allocation invalidates the view", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		_, err := l.GetGpuLayerView()
		require.NoError(t, err)

		b, err := l.AllocateBlockAtIndex(index.Index3D{Y: -4})
		require.NoError(t, err)
		require.Equal(t, ViewStateStale, l.GpuLayerViewState())

		v, err := l.GetGpuLayerView()
		require.NoError(t, err)
		require.Equal(t, uint64(2), l.GpuLayerViewRebuilds())

		found, ok := v.Find(index.Index3D{Y: -4})
		require.True(t, ok)
		require.Same(t, b, found)
	})

	t.Run("allocating an existing block keeps the view fresh", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		_, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		_, err = l.GetGpuLayerView()
		require.NoError(t, err)

		_, err = l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)
		require.Equal(t, ViewStateFresh, l.GpuLayerViewState())
	})

	t.Run("removal invalidates the view", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		_, err := l.AllocateBlockAtIndex(index.Index3D{X: 1})
		require.NoError(t, err)
		_, err = l.AllocateBlockAtIndex(index.Index3D{X: 2})
		require.NoError(t, err)
		_, err = l.GetGpuLayerView()
		require.NoError(t, err)

		l.ClearBlocks([]index.Index3D{{X: 5}})
		require.Equal(t, ViewStateFresh, l.GpuLayerViewState())

		l.ClearBlocks([]index.Index3D{{X: 1}})
		require.Equal(t, ViewStateStale, l.GpuLayerViewState())

		v, err := l.GetGpuLayerView()
		require.NoError(t, err)
		require.Equal(t, 1, v.Size())
		_, ok := v.Find(index.Index3D{X: 1})
		require.False(t, ok)

		l.Clear()
		require.Equal(t, ViewStateStale, l.GpuLayerViewState())

		v, err = l.GetGpuLayerView()
		require.NoError(t, err)
		require.Zero(t, v.Size())
	})

	t.Run("rebuild reuses the table storage", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		_, err := l.AllocateBlockAtIndex(index.Index3D{})
		require.NoError(t, err)

		a, err := l.GetGpuLayerView()
		require.NoError(t, err)

		_, err = l.AllocateBlockAtIndex(index.Index3D{Z: 1})
		require.NoError(t, err)

		b, err := l.GetGpuLayerView()
		require.NoError(t, err)
		require.Same(t, a, b)
		require.Equal(t, 2, b.Size())
	})

	t.Run("view lives in device memory", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)

		v, err := l.GetGpuLayerView()
		require.NoError(t, err)
		require.Equal(t, device.MemoryTypeDevice, v.Table().MemoryType())
	})

	t.Run("find at position", func(t *testing.T) {
		l := NewVoxelBlockLayer[TsdfVoxel](0.1, device.MemoryTypeHost)
		b, err := l.AllocateBlockAtPosition(index.Vector3f{X: 1.05, Y: 0.1, Z: -0.1})
		require.NoError(t, err)

		v, err := l.GetGpuLayerView()
		require.NoError(t, err)

		found, ok := v.FindAtPosition(index.Vector3f{X: 1.05, Y: 0.1, Z: -0.1})
		require.True(t, ok)
		require.Same(t, b, found)
	})
}

func TestViewStateString(t *testing.T) {
	require.Equal(t, "absent", ViewStateAbsent.String())
	require.Equal(t, "stale", ViewStateStale.String())
	require.Equal(t, "fresh", ViewStateFresh.String())
}
