package layer

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
)

// VoxelBlock is a dense cube of index.VoxelsPerSide voxels per side.
type VoxelBlock[V any] struct {
	voxels *device.Buffer[V]
}

func (b *VoxelBlock[V]) Allocate(memoryType device.MemoryType) error {
	voxels, err := device.NewBuffer[V](memoryType, index.VoxelsPerBlock)
	if err != nil {
		return err
	}

	b.voxels = voxels
	return nil
}

func (b *VoxelBlock[V]) CopyFrom(src *VoxelBlock[V], memoryType device.MemoryType) error {
	voxels, err := src.voxels.Clone(memoryType)
	if err != nil {
		return err
	}

	b.voxels = voxels
	return nil
}

func (b *VoxelBlock[V]) MemoryType() device.MemoryType {
	return b.voxels.MemoryType()
}

// Voxel returns a copy of the voxel at the given block-local index. It costs
// a transfer when the block is in device memory.
func (b *VoxelBlock[V]) Voxel(idx index.Index3D) V {
	return b.voxels.Load(idx.Linear())
}

// SetVoxel overwrites the voxel at the given block-local index. It costs a
// transfer when the block is in device memory.
func (b *VoxelBlock[V]) SetVoxel(idx index.Index3D, v V) {
	b.voxels.Store(idx.Linear(), v)
}

// Voxels returns the voxel buffer, indexed by index.Index3D.Linear.
func (b *VoxelBlock[V]) Voxels() *device.Buffer[V] {
	return b.voxels
}
