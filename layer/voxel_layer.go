package layer

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
)

// VoxelBlockLayer is a BlockLayer of voxel blocks. Its block size is always
// index.VoxelsPerSide times its voxel size.
type VoxelBlockLayer[V any] struct {
	BlockLayer[VoxelBlock[V], *VoxelBlock[V]]

	voxelSize float32
}

// NewVoxelBlockLayer creates an empty layer of voxels of side voxelSize,
// stored in memoryType.
func NewVoxelBlockLayer[V any](voxelSize float32, memoryType device.MemoryType) *VoxelBlockLayer[V] {
	return &VoxelBlockLayer[V]{
		BlockLayer: newBlockLayer[VoxelBlock[V], *VoxelBlock[V]](index.VoxelsPerSide*voxelSize, memoryType),
		voxelSize:  voxelSize,
	}
}

func (l *VoxelBlockLayer[V]) VoxelSize() float32 {
	return l.voxelSize
}

// GetVoxel returns a copy of the voxel closest to p. The returned flag is
// false when the block containing p is not allocated or p is out of range.
//
// Voxels of device layers are transferred one at a time: this is meant for
// tests and diagnostics, not for bulk access.
func (l *VoxelBlockLayer[V]) GetVoxel(p index.Vector3f) (V, bool) {
	if !index.PositionInRange(l.blockSize, p) {
		var zero V
		return zero, false
	}

	blockIndex, voxelIndex := index.BlockAndVoxelIndexFromPosition(l.blockSize, l.voxelSize, p)

	block := l.GetBlockAtIndex(blockIndex)
	if block == nil {
		var zero V
		return zero, false
	}
	return block.Voxel(voxelIndex), true
}

// GetVoxels returns a copy of the voxels closest to the given positions.
// Both returned slices have the length of positions; voxels[i] is only
// meaningful when ok[i] is true.
func (l *VoxelBlockLayer[V]) GetVoxels(positions []index.Vector3f) (voxels []V, ok []bool) {
	voxels = make([]V, len(positions))
	ok = make([]bool, len(positions))

	for i, p := range positions {
		voxels[i], ok[i] = l.GetVoxel(p)
	}
	return voxels, ok
}

// Clone returns a deep copy of the layer in the same memory type.
func (l *VoxelBlockLayer[V]) Clone() (*VoxelBlockLayer[V], error) {
	return l.CloneTo(l.memoryType)
}

// CloneTo returns a deep copy of the layer with every block stored in
// memoryType.
func (l *VoxelBlockLayer[V]) CloneTo(memoryType device.MemoryType) (*VoxelBlockLayer[V], error) {
	inner, err := l.BlockLayer.CloneTo(memoryType)
	if err != nil {
		return nil, err
	}

	return &VoxelBlockLayer[V]{
		BlockLayer: *inner,
		voxelSize:  l.voxelSize,
	}, nil
}

func (l *VoxelBlockLayer[V]) CloneLayerTo(memoryType device.MemoryType) (BaseLayer, error) {
	return l.CloneTo(memoryType)
}

// CopyFrom replaces the content of l with a deep copy of other. Unlike
// CloneTo, l keeps its own memory type: the copied blocks are converted into
// it. On error l is left unchanged.
func (l *VoxelBlockLayer[V]) CopyFrom(other *VoxelBlockLayer[V]) error {
	if err := l.BlockLayer.copyFrom(&other.BlockLayer, l.memoryType); err != nil {
		return err
	}

	l.voxelSize = other.voxelSize
	return nil
}

// Move returns a layer taking over the blocks and accelerator view of l.
// l is left empty.
func (l *VoxelBlockLayer[V]) Move() *VoxelBlockLayer[V] {
	moved := &VoxelBlockLayer[V]{}
	moved.MoveFrom(l)
	return moved
}

// MoveFrom replaces the content of l with the blocks and accelerator view of
// other. other is left empty.
func (l *VoxelBlockLayer[V]) MoveFrom(other *VoxelBlockLayer[V]) {
	l.BlockLayer.MoveFrom(&other.BlockLayer)
	l.voxelSize = other.voxelSize
}
