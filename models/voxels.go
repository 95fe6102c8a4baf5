package models

import (
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	// Error type returned when a layer holds no voxels.
	ErrTypeNotVoxelLayer = "not_voxel_layer"

	// Error type returned when a voxel value does not match the layer voxel
	// type.
	ErrTypeBadVoxel = "bad_voxel"
)

// VoxelQueryResult holds the voxels closest to a list of positions.
// Voxels[i] is only meaningful when Found[i] is true.
type VoxelQueryResult struct {
	Layer  string `json:"layer"`
	Voxels any    `json:"voxels"`
	Found  []bool `json:"found"`
}

// QueryVoxels returns the voxels of the named layer closest to positions.
func QueryVoxels(c *layer.Cake, layerName string, positions []index.Vector3f) (VoxelQueryResult, error) {
	l, err := LayerByName(c, layerName)
	if err != nil {
		return VoxelQueryResult{}, err
	}

	res := VoxelQueryResult{Layer: layerName}

	switch l := l.(type) {
	case *layer.TsdfLayer:
		res.Voxels, res.Found = l.GetVoxels(positions)

	case *layer.ColorLayer:
		res.Voxels, res.Found = l.GetVoxels(positions)

	case *layer.OccupancyLayer:
		res.Voxels, res.Found = l.GetVoxels(positions)

	default:
		return VoxelQueryResult{}, notVoxelLayer(layerName)
	}
	return res, nil
}

// VoxelUpdate is a voxel value to write at a position. Value is the JSON
// encoding of a voxel of the target layer type.
type VoxelUpdate struct {
	Position index.Vector3f  `json:"position"`
	Value    json.RawMessage `json:"value"`
}

// SetVoxels writes voxel values into the named layer, allocating the blocks
// containing their positions. Values and positions are all checked before
// any block is touched.
func SetVoxels(c *layer.Cake, layerName string, updates []VoxelUpdate) error {
	l, err := LayerByName(c, layerName)
	if err != nil {
		return err
	}

	switch l := l.(type) {
	case *layer.TsdfLayer:
		return setVoxels(l, updates)

	case *layer.ColorLayer:
		return setVoxels(l, updates)

	case *layer.OccupancyLayer:
		return setVoxels(l, updates)

	default:
		return notVoxelLayer(layerName)
	}
}

func setVoxels[V any](l *layer.VoxelBlockLayer[V], updates []VoxelUpdate) error {
	values := make([]V, len(updates))
	for i, u := range updates {
		if err := json.Unmarshal(u.Value, &values[i]); err != nil {
			return errors.New("decoding voxel value failed").
				WithType(ErrTypeBadVoxel).
				WithTag("index", i).
				Wrap(err)
		}

		if err := index.CheckPosition(l.BlockSize(), u.Position); err != nil {
			return errors.New("invalid voxel position").
				WithType(ErrTypeBadVoxel).
				WithTag("index", i).
				Wrap(err)
		}
	}

	for i, u := range updates {
		blockIndex, voxelIndex := index.BlockAndVoxelIndexFromPosition(l.BlockSize(), l.VoxelSize(), u.Position)

		b, err := l.AllocateBlockAtIndex(blockIndex)
		if err != nil {
			return err
		}
		b.SetVoxel(voxelIndex, values[i])
	}
	return nil
}

func notVoxelLayer(name string) error {
	return errors.New("layer does not hold voxels").
		WithType(ErrTypeNotVoxelLayer).
		WithTag("layer", name)
}
