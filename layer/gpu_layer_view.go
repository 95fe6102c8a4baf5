package layer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/gpuhash"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// GPULayerView is a snapshot of the index to block association of a layer,
// laid out for accelerator kernels.
type GPULayerView[B any] struct {
	blockSize float32
	table     *gpuhash.Table[B]
}

func (v *GPULayerView[B]) BlockSize() float32 {
	return v.blockSize
}

// Size returns the number of blocks in the view.
func (v *GPULayerView[B]) Size() int {
	return v.table.Size()
}

// Find returns the block at idx as seen when the view was built.
func (v *GPULayerView[B]) Find(idx index.Index3D) (B, bool) {
	return v.table.Find(idx)
}

// FindAtPosition returns the block containing p as seen when the view was
// built.
func (v *GPULayerView[B]) FindAtPosition(p index.Vector3f) (B, bool) {
	if !index.PositionInRange(v.blockSize, p) {
		var zero B
		return zero, false
	}
	return v.table.Find(index.PositionToBlockIndex(v.blockSize, p))
}

// Table returns the underlying hash table.
func (v *GPULayerView[B]) Table() *gpuhash.Table[B] {
	return v.table
}

// ViewStats describes the accelerator view of a layer.
type ViewStats struct {
	Blocks     int               `json:"blocks"`
	Capacity   int               `json:"capacity"`
	MemoryType device.MemoryType `json:"memory_type"`
	Rebuilds   uint64            `json:"rebuilds"`
}

// ViewState is the state of the accelerator view cache of a layer.
type ViewState int

const (
	// No accelerator view was requested yet.
	ViewStateAbsent ViewState = iota

	// The view no longer reflects the layer blocks.
	ViewStateStale

	// The view reflects the layer blocks.
	ViewStateFresh
)

func (s ViewState) String() string {
	switch s {
	case ViewStateAbsent:
		return "absent"
	case ViewStateStale:
		return "stale"
	default:
		return "fresh"
	}
}

type viewCache[B any] struct {
	mutex    sync.Mutex
	upToDate bool
	view     *GPULayerView[B]
	rebuilds atomic.Uint64
}

func newViewCache[B any]() *viewCache[B] {
	return &viewCache[B]{}
}

func (c *viewCache[B]) invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.upToDate = false
}

func (c *viewCache[B]) state() ViewState {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case c.view == nil:
		return ViewStateAbsent
	case !c.upToDate:
		return ViewStateStale
	default:
		return ViewStateFresh
	}
}

func (c *viewCache[B]) get(blockSize float32, snapshot func() ([]index.Index3D, []B)) (*GPULayerView[B], error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.upToDate && c.view != nil {
		return c.view, nil
	}

	start := time.Now()
	indices, blocks := snapshot()

	if c.view == nil {
		table, err := gpuhash.New[B](device.MemoryTypeDevice, len(indices))
		if err != nil {
			return nil, err
		}
		c.view = &GPULayerView[B]{table: table}
	}

	if err := c.view.table.Build(indices, blocks); err != nil {
		return nil, err
	}
	c.view.blockSize = blockSize
	c.upToDate = true
	c.rebuilds.Add(1)

	instrumentViewRebuild(start)
	logs.WithTag("blocks", len(indices)).
		WithTag("capacity", c.view.table.Capacity()).
		Debug("gpu layer view rebuilt")
	return c.view, nil
}
