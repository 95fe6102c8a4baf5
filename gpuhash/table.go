// Package gpuhash implements the accelerator side index of a block layer: an
// open addressing hash table from block indices to block handles, stored as a
// single flat slot array so kernels can probe it without pointer chasing.
//
// A table is built from a host snapshot and rebuilt in place; it is never
// updated incrementally.
package gpuhash

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
)

const minCapacity = 16

type Slot[V any] struct {
	Key      index.Index3D
	Value    V
	Occupied bool
}

type Table[V any] struct {
	memoryType device.MemoryType
	slots      *device.Buffer[Slot[V]]
	staging    []Slot[V]
	size       int
}

// New allocates a table able to hold n entries.
func New[V any](memoryType device.MemoryType, n int) (*Table[V], error) {
	t := &Table[V]{memoryType: memoryType}
	if err := t.reserve(n); err != nil {
		return nil, err
	}
	return t, nil
}

func capacityFor(n int) int {
	c := minCapacity
	for c < 2*n {
		c <<= 1
	}
	return c
}

func (t *Table[V]) reserve(n int) error {
	c := capacityFor(n)
	if t.slots != nil && t.slots.Len() >= c {
		return nil
	}

	slots, err := device.NewBuffer[Slot[V]](t.memoryType, c)
	if err != nil {
		return err
	}

	if t.slots != nil {
		t.slots.Free()
	}
	t.slots = slots
	t.staging = make([]Slot[V], c)
	return nil
}

// Build replaces the table content with the given associations. The
// allocation is reused when large enough. keys must be unique.
func (t *Table[V]) Build(keys []index.Index3D, values []V) error {
	if err := t.reserve(len(keys)); err != nil {
		return err
	}

	clear(t.staging)
	mask := uint64(len(t.staging) - 1)
	for i, k := range keys {
		for h := index.Hash(k) & mask; ; h = (h + 1) & mask {
			if !t.staging[h].Occupied {
				t.staging[h] = Slot[V]{Key: k, Value: values[i], Occupied: true}
				break
			}
		}
	}

	t.slots.CopyFromHost(t.staging)
	t.size = len(keys)
	return nil
}

// Find looks up k the way a kernel does, probing the device slots directly.
func (t *Table[V]) Find(k index.Index3D) (V, bool) {
	slots := t.slots.Device()
	mask := uint64(len(slots) - 1)

	for h := index.Hash(k) & mask; ; h = (h + 1) & mask {
		s := slots[h]
		if !s.Occupied {
			var zero V
			return zero, false
		}
		if s.Key == k {
			return s.Value, true
		}
	}
}

// Size returns the number of entries.
func (t *Table[V]) Size() int {
	return t.size
}

// Capacity returns the number of slots.
func (t *Table[V]) Capacity() int {
	return t.slots.Len()
}

func (t *Table[V]) MemoryType() device.MemoryType {
	return t.memoryType
}

// Slots returns the raw slot array for kernels.
func (t *Table[V]) Slots() []Slot[V] {
	return t.slots.Device()
}

// Free releases the accelerator memory of the table.
func (t *Table[V]) Free() {
	t.slots.Free()
}
