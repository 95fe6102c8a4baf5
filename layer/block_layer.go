package layer

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/dolthub/swiss"
)

// BlockLayer is a sparse set of blocks on a regular grid of cubes of side
// BlockSize. Blocks are created on demand and owned by the layer.
//
// A layer is not safe for concurrent mutation. Concurrent reads, including
// GetGpuLayerView, are safe as long as no mutation runs at the same time.
//
// Layers must be created with NewBlockLayer; the zero value is not usable.
type BlockLayer[T any, B Block[T]] struct {
	blockSize  float32
	memoryType device.MemoryType
	blocks     *swiss.Map[index.Index3D, B]
	view       *viewCache[B]
}

// NewBlockLayer creates an empty layer of blocks of side blockSize, stored in
// memoryType.
func NewBlockLayer[T any, B Block[T]](blockSize float32, memoryType device.MemoryType) *BlockLayer[T, B] {
	l := newBlockLayer[T, B](blockSize, memoryType)
	return &l
}

func newBlockLayer[T any, B Block[T]](blockSize float32, memoryType device.MemoryType) BlockLayer[T, B] {
	return BlockLayer[T, B]{
		blockSize:  blockSize,
		memoryType: memoryType,
		blocks:     swiss.NewMap[index.Index3D, B](0),
		view:       newViewCache[B](),
	}
}

func (l *BlockLayer[T, B]) BlockSize() float32 {
	return l.blockSize
}

func (l *BlockLayer[T, B]) MemoryType() device.MemoryType {
	return l.memoryType
}

// GetBlockAtIndex returns the block at idx, or nil when it is not allocated.
func (l *BlockLayer[T, B]) GetBlockAtIndex(idx index.Index3D) B {
	b, _ := l.blocks.Get(idx)
	return b
}

// GetBlockAtPosition returns the block containing p, or nil when it is not
// allocated or p is out of range.
func (l *BlockLayer[T, B]) GetBlockAtPosition(p index.Vector3f) B {
	if !index.PositionInRange(l.blockSize, p) {
		return nil
	}
	return l.GetBlockAtIndex(index.PositionToBlockIndex(l.blockSize, p))
}

// AllocateBlockAtIndex returns the block at idx, allocating it when missing.
// Repeated calls return the same block until it is cleared.
func (l *BlockLayer[T, B]) AllocateBlockAtIndex(idx index.Index3D) (B, error) {
	if b, ok := l.blocks.Get(idx); ok {
		return b, nil
	}

	b := B(new(T))
	if err := b.Allocate(l.memoryType); err != nil {
		instrumentAllocationError(l.memoryType)
		logs.WithTag("block_index", idx).
			WithTag("memory_type", l.memoryType).
			Debug(err)
		return nil, err
	}

	l.blocks.Put(idx, b)
	l.view.invalidate()
	instrumentBlockAllocation(l.memoryType)
	return b, nil
}

// AllocateBlockAtPosition returns the block containing p, allocating it when
// missing.
func (l *BlockLayer[T, B]) AllocateBlockAtPosition(p index.Vector3f) (B, error) {
	if err := index.CheckPosition(l.blockSize, p); err != nil {
		return nil, err
	}
	return l.AllocateBlockAtIndex(index.PositionToBlockIndex(l.blockSize, p))
}

// AllocateBlocks allocates the missing blocks at the given indices. Blocks
// allocated before a failure are kept.
func (l *BlockLayer[T, B]) AllocateBlocks(indices []index.Index3D) error {
	for _, idx := range indices {
		if _, err := l.AllocateBlockAtIndex(idx); err != nil {
			return err
		}
	}
	return nil
}

// GetAllBlockIndices returns the indices of the allocated blocks, in no
// particular order.
func (l *BlockLayer[T, B]) GetAllBlockIndices() []index.Index3D {
	indices := make([]index.Index3D, 0, l.blocks.Count())
	l.blocks.Iter(func(idx index.Index3D, _ B) bool {
		indices = append(indices, idx)
		return false
	})
	return indices
}

func (l *BlockLayer[T, B]) IsBlockAllocated(idx index.Index3D) bool {
	return l.blocks.Has(idx)
}

func (l *BlockLayer[T, B]) NumAllocatedBlocks() int {
	return l.blocks.Count()
}

// Clear removes every block. Blocks still referenced elsewhere stay alive.
func (l *BlockLayer[T, B]) Clear() {
	n := l.blocks.Count()
	if n == 0 {
		return
	}

	l.blocks.Clear()
	l.view.invalidate()
	instrumentBlockRemoval(l.memoryType, n)
}

// ClearBlocks removes the blocks at the given indices. Indices that are not
// allocated are skipped.
func (l *BlockLayer[T, B]) ClearBlocks(indices []index.Index3D) {
	var removed int
	for _, idx := range indices {
		if l.blocks.Delete(idx) {
			removed++
		}
	}

	if removed != 0 {
		l.view.invalidate()
		instrumentBlockRemoval(l.memoryType, removed)
	}
}

// GetGpuLayerView returns the accelerator view of the layer, rebuilding it
// only if blocks were allocated or removed since the last call.
//
// The view is invalidated by the next mutation of the layer; work reading it
// must be finished before then.
func (l *BlockLayer[T, B]) GetGpuLayerView() (*GPULayerView[B], error) {
	return l.view.get(l.blockSize, l.snapshot)
}

// GpuLayerViewState returns the state of the accelerator view cache.
func (l *BlockLayer[T, B]) GpuLayerViewState() ViewState {
	return l.view.state()
}

// GpuLayerViewRebuilds returns how many times the accelerator view was
// rebuilt.
func (l *BlockLayer[T, B]) GpuLayerViewRebuilds() uint64 {
	return l.view.rebuilds.Load()
}

// BuildGpuLayerView is GetGpuLayerView for callers that do not know the
// layer payload type.
func (l *BlockLayer[T, B]) BuildGpuLayerView() (ViewStats, error) {
	v, err := l.GetGpuLayerView()
	if err != nil {
		return ViewStats{}, err
	}

	return ViewStats{
		Blocks:     v.Size(),
		Capacity:   v.Table().Capacity(),
		MemoryType: v.Table().MemoryType(),
		Rebuilds:   l.GpuLayerViewRebuilds(),
	}, nil
}

func (l *BlockLayer[T, B]) snapshot() ([]index.Index3D, []B) {
	n := l.blocks.Count()
	indices := make([]index.Index3D, 0, n)
	blocks := make([]B, 0, n)

	l.blocks.Iter(func(idx index.Index3D, b B) bool {
		indices = append(indices, idx)
		blocks = append(blocks, b)
		return false
	})
	return indices, blocks
}

// Clone returns a deep copy of the layer in the same memory type.
func (l *BlockLayer[T, B]) Clone() (*BlockLayer[T, B], error) {
	return l.CloneTo(l.memoryType)
}

// CloneTo returns a deep copy of the layer with every block stored in
// memoryType. The copy starts without an accelerator view.
func (l *BlockLayer[T, B]) CloneTo(memoryType device.MemoryType) (*BlockLayer[T, B], error) {
	blocks, err := copyBlocks[T, B](l.blocks, memoryType)
	if err != nil {
		return nil, err
	}

	return &BlockLayer[T, B]{
		blockSize:  l.blockSize,
		memoryType: memoryType,
		blocks:     blocks,
		view:       newViewCache[B](),
	}, nil
}

func (l *BlockLayer[T, B]) CloneLayerTo(memoryType device.MemoryType) (BaseLayer, error) {
	return l.CloneTo(memoryType)
}

// CopyFrom replaces the content of l with a deep copy of other, taking its
// block size and memory type. On error l is left unchanged.
func (l *BlockLayer[T, B]) CopyFrom(other *BlockLayer[T, B]) error {
	return l.copyFrom(other, other.memoryType)
}

func (l *BlockLayer[T, B]) copyFrom(other *BlockLayer[T, B], memoryType device.MemoryType) error {
	if l == other {
		return nil
	}

	blocks, err := copyBlocks[T, B](other.blocks, memoryType)
	if err != nil {
		return err
	}

	l.blockSize = other.blockSize
	l.memoryType = memoryType
	l.blocks = blocks
	l.view.invalidate()
	return nil
}

// Move returns a layer taking over the blocks and accelerator view of l,
// without copying them. l is left empty.
func (l *BlockLayer[T, B]) Move() *BlockLayer[T, B] {
	moved := &BlockLayer[T, B]{}
	moved.MoveFrom(l)
	return moved
}

// MoveFrom replaces the content of l with the blocks and accelerator view of
// other, without copying them. other is left empty.
func (l *BlockLayer[T, B]) MoveFrom(other *BlockLayer[T, B]) {
	if l == other {
		return
	}

	l.blockSize = other.blockSize
	l.memoryType = other.memoryType
	l.blocks = other.blocks
	l.view = other.view

	other.blocks = swiss.NewMap[index.Index3D, B](0)
	other.view = newViewCache[B]()
}

func copyBlocks[T any, B Block[T]](src *swiss.Map[index.Index3D, B], memoryType device.MemoryType) (*swiss.Map[index.Index3D, B], error) {
	blocks := swiss.NewMap[index.Index3D, B](uint32(src.Count()))

	var err error
	src.Iter(func(idx index.Index3D, b B) bool {
		c := B(new(T))
		if err = c.CopyFrom((*T)(b), memoryType); err != nil {
			return true
		}

		blocks.Put(idx, c)
		return false
	})
	if err != nil {
		instrumentAllocationError(memoryType)
		return nil, err
	}
	return blocks, nil
}
