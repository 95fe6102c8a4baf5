package layer

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
)

// Block is the capability a payload type must provide to be stored in a
// BlockLayer. It is implemented by the pointer type of the payload.
type Block[T any] interface {
	*T

	// Allocates the block storage in the given memory type. Called once on a
	// zero value payload.
	Allocate(memoryType device.MemoryType) error

	// Makes the receiver, a zero value payload, a deep copy of src with its
	// storage placed in the given memory type.
	CopyFrom(src *T, memoryType device.MemoryType) error
}

// BaseLayer is the part of a layer that does not depend on its payload type.
type BaseLayer interface {
	// The side length of a block.
	BlockSize() float32

	// Where the layer blocks are stored.
	MemoryType() device.MemoryType

	NumAllocatedBlocks() int
	IsBlockAllocated(idx index.Index3D) bool
	GetAllBlockIndices() []index.Index3D

	// Allocates the missing blocks at the given indices, stopping at the
	// first failure.
	AllocateBlocks(indices []index.Index3D) error

	// Removes every block.
	Clear()

	// Removes the given blocks. Indices that are not allocated are skipped.
	ClearBlocks(indices []index.Index3D)

	// Deep copies the layer into memoryType.
	CloneLayerTo(memoryType device.MemoryType) (BaseLayer, error)

	// Builds the accelerator view when needed and describes it.
	BuildGpuLayerView() (ViewStats, error)

	GpuLayerViewState() ViewState
	GpuLayerViewRebuilds() uint64
}

// SizeArgument tells what the size argument of a layer constructor is.
type SizeArgument int

const (
	// The constructor takes the block size.
	SizeArgumentBlockSize SizeArgument = iota

	// The constructor takes the voxel size and derives the block size from it.
	SizeArgumentVoxelSize
)

func (s SizeArgument) String() string {
	if s == SizeArgumentVoxelSize {
		return "voxel_size"
	}
	return "block_size"
}

// SizeArgumentFromVoxelSize returns the constructor size argument for a
// layer whose voxels, or whose blocks' voxel grid, have the given size.
func SizeArgumentFromVoxelSize(arg SizeArgument, voxelSize float32) float32 {
	if arg == SizeArgumentVoxelSize {
		return voxelSize
	}
	return index.VoxelsPerSide * voxelSize
}
