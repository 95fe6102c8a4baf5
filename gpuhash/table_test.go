package gpuhash

import (
	"testing"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/stretchr/testify/require"
)

func TestTableBuildAndFind(t *testing.T) {
	table, err := New[int](device.MemoryTypeDevice, 0)
	require.NoError(t, err)
	defer table.Free()
	require.Equal(t, minCapacity, table.Capacity())

	var keys []index.Index3D
	var values []int
	for x := int32(-5); x < 5; x++ {
		for y := int32(-5); y < 5; y++ {
			keys = append(keys, index.Index3D{X: x, Y: y, Z: x * y})
			values = append(values, len(values))
		}
	}

	require.NoError(t, table.Build(keys, values))
	require.Equal(t, len(keys), table.Size())
	require.GreaterOrEqual(t, table.Capacity(), 2*len(keys))

	for i, k := range keys {
		v, ok := table.Find(k)
		require.True(t, ok)
		require.Equal(t, values[i], v)
	}

	_, ok := table.Find(index.Index3D{X: 100, Y: 100, Z: 100})
	require.False(t, ok)
}

func TestTableRebuildInPlace(t *testing.T) {
	table, err := New[string](device.MemoryTypeUnified, 8)
	require.NoError(t, err)
	defer table.Free()

	require.NoError(t, table.Build([]index.Index3D{{X: 1}, {X: 2}}, []string{"a", "b"}))
	slots := table.Slots()

	require.NoError(t, table.Build([]index.Index3D{{X: 3}}, []string{"c"}))
	require.Equal(t, 1, table.Size())
	require.Same(t, &slots[0], &table.Slots()[0], "small rebuilds reuse the allocation")

	_, ok := table.Find(index.Index3D{X: 1})
	require.False(t, ok)

	v, ok := table.Find(index.Index3D{X: 3})
	require.True(t, ok)
	require.Equal(t, "c", v)
}
