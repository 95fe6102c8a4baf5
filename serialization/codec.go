// Package serialization encodes voxel blocks and voxel layers to bytes, and
// seals encoded layers into compressed, optionally signed snapshots.
//
// Blocks and layers use the protobuf wire format so snapshots stay readable
// by any protobuf decoder, without generated code on either side.
package serialization

import (
	"math"

	"github.com/aukilabs/blox/layer"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// Error type returned when bytes do not hold a valid block, layer or
	// snapshot.
	ErrTypeBadSnapshot = "bad_snapshot"

	// Error type returned when a snapshot signature does not match its
	// content.
	ErrTypeBadSignature = "bad_signature"

	// Error type returned when a layer has no voxel codec.
	ErrTypeUnsupportedLayer = "unsupported_layer"
)

// VoxelCodec converts voxels of type V to and from a fixed width binary form.
type VoxelCodec[V any] struct {
	// The number of bytes of an encoded voxel.
	Size int

	// Appends the encoding of v to b.
	Append func(b []byte, v V) []byte

	// Decodes a voxel from the start of b. The returned length is negative
	// when b is too short.
	Consume func(b []byte) (V, int)
}

var TsdfCodec = VoxelCodec[layer.TsdfVoxel]{
	Size: 8,
	Append: func(b []byte, v layer.TsdfVoxel) []byte {
		b = appendFloat32(b, v.Distance)
		return appendFloat32(b, v.Weight)
	},
	Consume: func(b []byte) (layer.TsdfVoxel, int) {
		var v layer.TsdfVoxel
		n := consumeFloat32s(b, &v.Distance, &v.Weight)
		return v, n
	},
}

var ColorCodec = VoxelCodec[layer.ColorVoxel]{
	Size: 8,
	Append: func(b []byte, v layer.ColorVoxel) []byte {
		rgba := uint32(v.Color.R) | uint32(v.Color.G)<<8 | uint32(v.Color.B)<<16 | uint32(v.Color.A)<<24
		b = protowire.AppendFixed32(b, rgba)
		return appendFloat32(b, v.Weight)
	},
	Consume: func(b []byte) (layer.ColorVoxel, int) {
		var v layer.ColorVoxel

		rgba, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return v, n
		}
		v.Color = layer.Color{
			R: uint8(rgba),
			G: uint8(rgba >> 8),
			B: uint8(rgba >> 16),
			A: uint8(rgba >> 24),
		}

		m := consumeFloat32s(b[n:], &v.Weight)
		if m < 0 {
			return v, m
		}
		return v, n + m
	},
}

var OccupancyCodec = VoxelCodec[layer.OccupancyVoxel]{
	Size: 4,
	Append: func(b []byte, v layer.OccupancyVoxel) []byte {
		return appendFloat32(b, v.LogOdds)
	},
	Consume: func(b []byte) (layer.OccupancyVoxel, int) {
		var v layer.OccupancyVoxel
		n := consumeFloat32s(b, &v.LogOdds)
		return v, n
	},
}

func appendFloat32(b []byte, v float32) []byte {
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func consumeFloat32s(b []byte, values ...*float32) int {
	var total int
	for _, v := range values {
		bits, n := protowire.ConsumeFixed32(b[total:])
		if n < 0 {
			return n
		}
		*v = math.Float32frombits(bits)
		total += n
	}
	return total
}
