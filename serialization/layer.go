package serialization

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	layerNameField       protowire.Number = 1
	layerVoxelSizeField  protowire.Number = 2
	layerBlockSizeField  protowire.Number = 3
	layerMemoryTypeField protowire.Number = 4
	layerBlockField      protowire.Number = 5

	indexedBlockXField    protowire.Number = 1
	indexedBlockYField    protowire.Number = 2
	indexedBlockZField    protowire.Number = 3
	indexedBlockDataField protowire.Number = 4
)

// LayerHeader describes an encoded layer.
type LayerHeader struct {
	Name       string            `json:"name"`
	VoxelSize  float32           `json:"voxel_size"`
	BlockSize  float32           `json:"block_size"`
	MemoryType device.MemoryType `json:"memory_type"`
	NumBlocks  int               `json:"num_blocks"`
}

// EncodeLayer encodes every block of l along with its geometry. name is the
// layer type name, used to pick a codec when decoding.
func EncodeLayer[V any](l *layer.VoxelBlockLayer[V], name string, codec VoxelCodec[V]) []byte {
	var data []byte
	data = protowire.AppendTag(data, layerNameField, protowire.BytesType)
	data = protowire.AppendString(data, name)
	data = protowire.AppendTag(data, layerVoxelSizeField, protowire.Fixed32Type)
	data = appendFloat32(data, l.VoxelSize())
	data = protowire.AppendTag(data, layerBlockSizeField, protowire.Fixed32Type)
	data = appendFloat32(data, l.BlockSize())
	data = protowire.AppendTag(data, layerMemoryTypeField, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(l.MemoryType()))

	var block []byte
	for _, idx := range l.GetAllBlockIndices() {
		block = block[:0]
		block = appendSint32(block, indexedBlockXField, idx.X)
		block = appendSint32(block, indexedBlockYField, idx.Y)
		block = appendSint32(block, indexedBlockZField, idx.Z)
		block = protowire.AppendTag(block, indexedBlockDataField, protowire.BytesType)
		block = protowire.AppendBytes(block, SerializeBlock(l.GetBlockAtIndex(idx), codec))

		data = protowire.AppendTag(data, layerBlockField, protowire.BytesType)
		data = protowire.AppendBytes(data, block)
	}
	return data
}

// ReadLayerHeader decodes the description of an encoded layer without
// decoding its blocks.
func ReadLayerHeader(data []byte) (LayerHeader, error) {
	var h LayerHeader
	err := consumeLayer(data, &h, func(index.Index3D, []byte) error {
		h.NumBlocks++
		return nil
	})
	return h, err
}

// DecodeLayer decodes an encoded layer into a new layer stored in
// memoryType.
func DecodeLayer[V any](data []byte, codec VoxelCodec[V], memoryType device.MemoryType) (*layer.VoxelBlockLayer[V], LayerHeader, error) {
	var h LayerHeader
	var l *layer.VoxelBlockLayer[V]

	err := consumeLayer(data, &h, func(idx index.Index3D, block []byte) error {
		if l == nil {
			if h.VoxelSize <= 0 || h.BlockSize != index.VoxelsPerSide*h.VoxelSize {
				return errors.New("invalid layer geometry").
					WithType(ErrTypeBadSnapshot).
					WithTag("voxel_size", h.VoxelSize).
					WithTag("block_size", h.BlockSize)
			}
			l = layer.NewVoxelBlockLayer[V](h.VoxelSize, memoryType)
		}

		if l.IsBlockAllocated(idx) {
			return errors.New("duplicated block").
				WithType(ErrTypeBadSnapshot).
				WithTag("block_index", idx)
		}

		b, err := l.AllocateBlockAtIndex(idx)
		if err != nil {
			return err
		}
		h.NumBlocks++
		return DeserializeBlock(block, codec, b)
	})
	if err != nil {
		return nil, LayerHeader{}, err
	}

	if l == nil {
		if h.VoxelSize <= 0 {
			return nil, LayerHeader{}, errors.New("invalid layer voxel size").
				WithType(ErrTypeBadSnapshot).
				WithTag("voxel_size", h.VoxelSize)
		}
		l = layer.NewVoxelBlockLayer[V](h.VoxelSize, memoryType)
	}
	return l, h, nil
}

// EncodeBaseLayer encodes a voxel layer of one of the built-in layer types.
func EncodeBaseLayer(name string, l layer.BaseLayer) ([]byte, error) {
	switch l := l.(type) {
	case *layer.TsdfLayer:
		return EncodeLayer(l, name, TsdfCodec), nil

	case *layer.ColorLayer:
		return EncodeLayer(l, name, ColorCodec), nil

	case *layer.OccupancyLayer:
		return EncodeLayer(l, name, OccupancyCodec), nil

	default:
		return nil, errors.New("layer cannot be encoded").
			WithType(ErrTypeUnsupportedLayer).
			WithTag("layer", name)
	}
}

// DecodeBaseLayer decodes a layer encoded with EncodeBaseLayer, picking the
// voxel codec from the encoded layer name.
func DecodeBaseLayer(data []byte, memoryType device.MemoryType) (layer.BaseLayer, LayerHeader, error) {
	h, err := ReadLayerHeader(data)
	if err != nil {
		return nil, LayerHeader{}, err
	}

	switch h.Name {
	case layer.TsdfLayerType.Name:
		return decodeBaseLayer(data, TsdfCodec, memoryType)

	case layer.ColorLayerType.Name:
		return decodeBaseLayer(data, ColorCodec, memoryType)

	case layer.OccupancyLayerType.Name:
		return decodeBaseLayer(data, OccupancyCodec, memoryType)

	default:
		return nil, LayerHeader{}, errors.New("layer cannot be decoded").
			WithType(ErrTypeUnsupportedLayer).
			WithTag("layer", h.Name)
	}
}

func decodeBaseLayer[V any](data []byte, codec VoxelCodec[V], memoryType device.MemoryType) (layer.BaseLayer, LayerHeader, error) {
	l, h, err := DecodeLayer(data, codec, memoryType)
	if err != nil {
		return nil, LayerHeader{}, err
	}
	return l, h, nil
}

func consumeLayer(data []byte, h *LayerHeader, onBlock func(index.Index3D, []byte) error) error {
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, value []byte) (int, error) {
		switch {
		case num == layerNameField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(value)
			h.Name = v
			return n, nil

		case num == layerVoxelSizeField && typ == protowire.Fixed32Type:
			return consumeFloat32s(value, &h.VoxelSize), nil

		case num == layerBlockSizeField && typ == protowire.Fixed32Type:
			return consumeFloat32s(value, &h.BlockSize), nil

		case num == layerMemoryTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			h.MemoryType = device.MemoryType(v)
			return n, nil

		case num == layerBlockField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return n, nil
			}

			idx, block, err := consumeIndexedBlock(v)
			if err != nil {
				return 0, err
			}
			return n, onBlock(idx, block)

		default:
			return -1, nil
		}
	})
}

func consumeIndexedBlock(data []byte) (index.Index3D, []byte, error) {
	var idx index.Index3D
	var block []byte

	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, value []byte) (int, error) {
		if typ == protowire.VarintType {
			switch num {
			case indexedBlockXField:
				return consumeSint32(value, &idx.X), nil
			case indexedBlockYField:
				return consumeSint32(value, &idx.Y), nil
			case indexedBlockZField:
				return consumeSint32(value, &idx.Z), nil
			}
		}

		if num == indexedBlockDataField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(value)
			block = v
			return n, nil
		}
		return -1, nil
	})
	return idx, block, err
}

func appendSint32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func consumeSint32(b []byte, v *int32) int {
	u, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	*v = int32(protowire.DecodeZigZag(u))
	return n
}
