package models

import (
	"testing"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestSetAndQueryVoxels(t *testing.T) {
	c := layer.NewCake(0.1, device.MemoryTypeDevice)
	c.Add(layer.TsdfLayerType)
	c.Add(layer.MeshLayerType)

	t.Run("set then query", func(t *testing.T) {
		err := SetVoxels(c, "tsdf", []VoxelUpdate{
			{
				Position: index.Vector3f{X: 0.05, Y: 0.05, Z: 0.05},
				Value:    json.RawMessage(`{"distance":0.25,"weight":3}`),
			},
			{
				Position: index.Vector3f{X: -2.01, Y: 0, Z: 0},
				Value:    json.RawMessage(`{"distance":-0.5,"weight":1}`),
			},
		})
		require.NoError(t, err)

		res, err := QueryVoxels(c, "tsdf", []index.Vector3f{
			{X: 0.05, Y: 0.05, Z: 0.05},
			{X: 50},
			{X: -2.01, Y: 0, Z: 0},
		})
		require.NoError(t, err)
		require.Equal(t, "tsdf", res.Layer)
		require.Equal(t, []bool{true, false, true}, res.Found)
		require.Equal(t, []layer.TsdfVoxel{
			{Distance: 0.25, Weight: 3},
			{},
			{Distance: -0.5, Weight: 1},
		}, res.Voxels)
	})

	t.Run("bad voxel values leave the layer untouched", func(t *testing.T) {
		l, _ := LayerByName(c, "tsdf")
		before := l.NumAllocatedBlocks()

		err := SetVoxels(c, "tsdf", []VoxelUpdate{
			{Position: index.Vector3f{X: 10}, Value: json.RawMessage(`{"distance":1}`)},
			{Position: index.Vector3f{X: 20}, Value: json.RawMessage(`"nope"`)},
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadVoxel))
		require.Equal(t, before, l.NumAllocatedBlocks())
	})

	t.Run("far away positions are rejected", func(t *testing.T) {
		l, _ := LayerByName(c, "tsdf")
		before := l.NumAllocatedBlocks()

		err := SetVoxels(c, "tsdf", []VoxelUpdate{
			{Position: index.Vector3f{X: 1e30}, Value: json.RawMessage(`{"distance":1}`)},
			{Position: index.Vector3f{X: -1e30}, Value: json.RawMessage(`{"distance":2}`)},
		})
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadVoxel))
		require.Equal(t, before, l.NumAllocatedBlocks())

		res, err := QueryVoxels(c, "tsdf", []index.Vector3f{{X: 1e30}, {Y: -1e10}})
		require.NoError(t, err)
		require.Equal(t, []bool{false, false}, res.Found)
	})

	t.Run("mesh layers hold no voxels", func(t *testing.T) {
		_, err := QueryVoxels(c, "mesh", []index.Vector3f{{}})
		require.True(t, errors.IsType(err, ErrTypeNotVoxelLayer))

		err = SetVoxels(c, "mesh", nil)
		require.True(t, errors.IsType(err, ErrTypeNotVoxelLayer))
	})

	t.Run("missing layer", func(t *testing.T) {
		_, err := QueryVoxels(c, "color", nil)
		require.True(t, errors.IsType(err, ErrTypeLayerNotFound))
	})
}
