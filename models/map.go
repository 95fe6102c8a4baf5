package models

import (
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

const (
	ErrTypeMapNotFound   = "map_not_found"
	ErrTypeLayerNotFound = "layer_not_found"
)

// Map is a named reconstruction made of a layer cake. Layers are not safe for
// concurrent mutation: every access goes through View or Update.
type Map struct {
	ID        uint32
	UUID      string
	Name      string
	CreatedAt time.Time

	mutex sync.RWMutex
	cake  *layer.Cake

	closeOnce sync.Once
}

// NewMap creates a map with the given layer types.
func NewMap(id uint32, name string, voxelSize float32, memoryType device.MemoryType, layerTypes ...layer.LayerType) *Map {
	cake := layer.NewCake(voxelSize, memoryType)
	for _, t := range layerTypes {
		cake.Add(t)
	}

	return &Map{
		ID:        id,
		UUID:      uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		cake:      cake,
	}
}

func (m *Map) VoxelSize() float32 {
	return m.cake.VoxelSize()
}

func (m *Map) MemoryType() device.MemoryType {
	return m.cake.MemoryType()
}

// View calls fn with shared access to the map layers. fn must not allocate
// or remove blocks. Building accelerator views is allowed.
func (m *Map) View(fn func(c *layer.Cake) error) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return fn(m.cake)
}

// Update calls fn with exclusive access to the map layers.
func (m *Map) Update(fn func(c *layer.Cake) error) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return fn(m.cake)
}

// Close removes every block of the map.
func (m *Map) Close() {
	m.closeOnce.Do(func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		m.cake.Clear()
	})
}

// MapInfo is a summary of a map.
type MapInfo struct {
	ID         uint32            `json:"id"`
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"`
	VoxelSize  float32           `json:"voxel_size"`
	MemoryType device.MemoryType `json:"memory_type"`
	CreatedAt  time.Time         `json:"created_at"`
	Layers     []LayerInfo       `json:"layers"`
}

// LayerInfo is a summary of a map layer.
type LayerInfo struct {
	Name         string  `json:"name"`
	BlockSize    float32 `json:"block_size"`
	NumBlocks    int     `json:"num_blocks"`
	ViewState    string  `json:"view_state"`
	ViewRebuilds uint64  `json:"view_rebuilds,omitempty"`
}

func (m *Map) Info() MapInfo {
	info := MapInfo{
		ID:         m.ID,
		UUID:       m.UUID,
		Name:       m.Name,
		VoxelSize:  m.VoxelSize(),
		MemoryType: m.MemoryType(),
		CreatedAt:  m.CreatedAt,
	}

	m.View(func(c *layer.Cake) error {
		for _, name := range c.Names() {
			l, _ := c.Layer(name)

			info.Layers = append(info.Layers, LayerInfo{
				Name:         name,
				BlockSize:    l.BlockSize(),
				NumBlocks:    l.NumAllocatedBlocks(),
				ViewState:    l.GpuLayerViewState().String(),
				ViewRebuilds: l.GpuLayerViewRebuilds(),
			})
		}
		return nil
	})
	return info
}

// LayerByName returns the layer registered under name in c.
func LayerByName(c *layer.Cake, name string) (layer.BaseLayer, error) {
	l, ok := c.Layer(name)
	if !ok {
		return nil, errors.New("layer not found").
			WithType(ErrTypeLayerNotFound).
			WithTag("layer", name)
	}
	return l, nil
}

// MapStore holds the maps served by the process.
type MapStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	maps     map[string]*Map
	ids      SequentialIDGenerator
}

func (s *MapStore) init() {
	s.maps = map[string]*Map{}
}

func (s *MapStore) NewID() uint32 {
	return s.ids.New()
}

func (s *MapStore) Add(m *Map) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.maps[m.UUID] = m

	instrumentIncreaseMapGauge(m.MemoryType())
	instrumentCountMap(m.MemoryType())
}

func (s *MapStore) Remove(m *Map) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.maps[m.UUID]; !ok {
		return
	}

	delete(s.maps, m.UUID)
	m.Close()

	s.ids.Reuse(m.ID)

	instrumentDecreaseMapGauge(m.MemoryType())
}

// Get returns the map with the given uuid.
func (s *MapStore) Get(mapUUID string) (*Map, error) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	m, ok := s.maps[mapUUID]
	if !ok {
		return nil, errors.New("map not found").
			WithType(ErrTypeMapNotFound).
			WithTag("map_uuid", mapUUID)
	}
	return m, nil
}

// List returns the maps ordered by id.
func (s *MapStore) List() []*Map {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	maps := make([]*Map, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}

	sort.Slice(maps, func(i, j int) bool {
		return maps[i].ID < maps[j].ID
	})
	return maps
}

func (s *MapStore) Count() int {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.maps)
}
