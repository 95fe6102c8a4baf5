package layer

import (
	"sort"
	"sync"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LayerType describes how to build one kind of layer.
type LayerType struct {
	// The name the layer is registered under in a cake.
	Name string

	// What the size argument passed to New means.
	SizeArgument SizeArgument

	New func(size float32, memoryType device.MemoryType) BaseLayer
}

var (
	TsdfLayerType = LayerType{
		Name:         "tsdf",
		SizeArgument: SizeArgumentVoxelSize,
		New: func(size float32, memoryType device.MemoryType) BaseLayer {
			return NewVoxelBlockLayer[TsdfVoxel](size, memoryType)
		},
	}

	ColorLayerType = LayerType{
		Name:         "color",
		SizeArgument: SizeArgumentVoxelSize,
		New: func(size float32, memoryType device.MemoryType) BaseLayer {
			return NewVoxelBlockLayer[ColorVoxel](size, memoryType)
		},
	}

	OccupancyLayerType = LayerType{
		Name:         "occupancy",
		SizeArgument: SizeArgumentVoxelSize,
		New: func(size float32, memoryType device.MemoryType) BaseLayer {
			return NewVoxelBlockLayer[OccupancyVoxel](size, memoryType)
		},
	}

	MeshLayerType = LayerType{
		Name:         "mesh",
		SizeArgument: SizeArgumentBlockSize,
		New: func(size float32, memoryType device.MemoryType) BaseLayer {
			return NewBlockLayer[MeshBlock](size, memoryType)
		},
	}
)

// Cake is a set of layers sharing the same voxel size, at most one per layer
// type.
type Cake struct {
	voxelSize  float32
	memoryType device.MemoryType
	layers     map[string]BaseLayer
}

func NewCake(voxelSize float32, memoryType device.MemoryType) *Cake {
	return &Cake{
		voxelSize:  voxelSize,
		memoryType: memoryType,
		layers:     make(map[string]BaseLayer),
	}
}

func (c *Cake) VoxelSize() float32 {
	return c.voxelSize
}

func (c *Cake) MemoryType() device.MemoryType {
	return c.memoryType
}

// Add returns the layer of the given type, creating it when missing.
func (c *Cake) Add(t LayerType) BaseLayer {
	if l, ok := c.layers[t.Name]; ok {
		return l
	}

	l := t.New(SizeArgumentFromVoxelSize(t.SizeArgument, c.voxelSize), c.memoryType)
	c.layers[t.Name] = l
	return l
}

// Set registers l under name, replacing the existing layer. l must share the
// cake geometry and memory type.
func (c *Cake) Set(name string, l BaseLayer) error {
	if l.MemoryType() != c.memoryType {
		return errors.New("layer memory type differs from the cake one").
			WithTag("layer", name).
			WithTag("memory_type", l.MemoryType()).
			WithTag("cake_memory_type", c.memoryType)
	}

	if l.BlockSize() != index.VoxelsPerSide*c.voxelSize {
		return errors.New("layer block size does not match the cake voxel size").
			WithTag("layer", name).
			WithTag("block_size", l.BlockSize()).
			WithTag("voxel_size", c.voxelSize)
	}

	c.layers[name] = l
	return nil
}

// Layer returns the layer registered under name.
func (c *Cake) Layer(name string) (BaseLayer, bool) {
	l, ok := c.layers[name]
	return l, ok
}

// Names returns the sorted names of the cake layers.
func (c *Cake) Names() []string {
	names := make([]string, 0, len(c.layers))
	for name := range c.layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes the blocks of every layer.
func (c *Cake) Clear() {
	for _, l := range c.layers {
		l.Clear()
	}
}

// CloneTo deep copies every layer into memoryType. Layers are copied
// concurrently; the first failure is returned.
func (c *Cake) CloneTo(memoryType device.MemoryType) (*Cake, error) {
	clone := NewCake(c.voxelSize, memoryType)

	var mutex sync.Mutex
	var g errgroup.Group
	for name, l := range c.layers {
		g.Go(func() error {
			copied, err := l.CloneLayerTo(memoryType)
			if err != nil {
				return err
			}

			mutex.Lock()
			defer mutex.Unlock()
			clone.layers[name] = copied
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clone, nil
}

// GetLayer returns the layer of type t with its concrete type.
func GetLayer[L BaseLayer](c *Cake, t LayerType) (L, bool) {
	l, ok := c.layers[t.Name]
	if !ok {
		var zero L
		return zero, false
	}

	typed, ok := l.(L)
	return typed, ok
}
