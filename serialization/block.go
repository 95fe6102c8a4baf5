package serialization

import (
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	blockVoxelsField protowire.Number = 1
)

// SerializeBlock encodes the voxels of b. Device blocks are read back in a
// single transfer.
func SerializeBlock[V any](b *layer.VoxelBlock[V], codec VoxelCodec[V]) []byte {
	voxels := b.Voxels().CopyToHost()

	payload := make([]byte, 0, len(voxels)*codec.Size)
	for _, v := range voxels {
		payload = codec.Append(payload, v)
	}

	data := make([]byte, 0, len(payload)+protowire.SizeTag(blockVoxelsField)+protowire.SizeVarint(uint64(len(payload))))
	data = protowire.AppendTag(data, blockVoxelsField, protowire.BytesType)
	return protowire.AppendBytes(data, payload)
}

// DeserializeBlock overwrites the voxels of the allocated block b with the
// ones encoded in data. b is left unchanged on error.
func DeserializeBlock[V any](data []byte, codec VoxelCodec[V], b *layer.VoxelBlock[V]) error {
	if b.Voxels() == nil {
		return errors.New("block is not allocated")
	}

	var payload []byte
	err := consumeFields(data, func(num protowire.Number, typ protowire.Type, value []byte) (int, error) {
		if num == blockVoxelsField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(value)
			payload = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return err
	}

	if len(payload) != index.VoxelsPerBlock*codec.Size {
		return errors.New("unexpected block voxel payload size").
			WithType(ErrTypeBadSnapshot).
			WithTag("expected", index.VoxelsPerBlock*codec.Size).
			WithTag("size", len(payload))
	}

	voxels := make([]V, index.VoxelsPerBlock)
	for i := range voxels {
		v, n := codec.Consume(payload)
		if n < 0 {
			return errors.New("decoding voxel failed").
				WithType(ErrTypeBadSnapshot).
				WithTag("voxel", i).
				Wrap(protowire.ParseError(n))
		}
		voxels[i] = v
		payload = payload[n:]
	}

	b.Voxels().CopyFromHost(voxels)
	return nil
}

// consumeFields walks the fields of a protobuf message. fn decodes the field
// value and returns its length, or a negative length to skip the field.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.New("decoding field tag failed").
				WithType(ErrTypeBadSnapshot).
				Wrap(protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return errors.New("decoding field value failed").
				WithType(ErrTypeBadSnapshot).
				WithTag("field", num).
				Wrap(protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
