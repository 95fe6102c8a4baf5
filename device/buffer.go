package device

import (
	"runtime"
	"unsafe"
)

// Buffer is a fixed size array of T living in a given memory type.
//
// Device buffers must not be read or written directly by the host: Load,
// Store and CopyToHost perform (and account) the transfers. Kernels reach the
// raw storage through Device.
type Buffer[T any] struct {
	memoryType MemoryType
	arena      *Arena
	reserved   int64
	data       []T
}

// NewBuffer allocates a zeroed buffer of n elements.
func NewBuffer[T any](memoryType MemoryType, n int) (*Buffer[T], error) {
	return newBuffer[T](DefaultArena(), memoryType, n)
}

// NewBufferFrom allocates a buffer holding a copy of src.
func NewBufferFrom[T any](memoryType MemoryType, src []T) (*Buffer[T], error) {
	b, err := NewBuffer[T](memoryType, len(src))
	if err != nil {
		return nil, err
	}

	copy(b.data, src)
	if !memoryType.HostAccessible() && len(src) != 0 {
		b.arena.countTransfer(directionToDevice)
	}
	return b, nil
}

func newBuffer[T any](arena *Arena, memoryType MemoryType, n int) (*Buffer[T], error) {
	b := &Buffer[T]{
		memoryType: memoryType,
		arena:      arena,
	}

	if memoryType.OnDevice() {
		var zero T
		size := int64(unsafe.Sizeof(zero)) * int64(n)
		if err := arena.Reserve(size); err != nil {
			return nil, err
		}
		b.reserved = size
		runtime.SetFinalizer(b, (*Buffer[T]).Free)
	}

	b.data = make([]T, n)
	return b, nil
}

func (b *Buffer[T]) Len() int {
	return len(b.data)
}

func (b *Buffer[T]) MemoryType() MemoryType {
	return b.memoryType
}

// Host returns the buffer storage when it is reachable from the host.
func (b *Buffer[T]) Host() ([]T, bool) {
	if !b.memoryType.HostAccessible() {
		return nil, false
	}
	return b.data, true
}

// Device returns the raw storage as seen by accelerator kernels.
func (b *Buffer[T]) Device() []T {
	return b.data
}

// Load copies the element at i to the host.
func (b *Buffer[T]) Load(i int) T {
	if !b.memoryType.HostAccessible() {
		b.arena.countTransfer(directionToHost)
	}
	return b.data[i]
}

// Store copies v into the element at i.
func (b *Buffer[T]) Store(i int, v T) {
	if !b.memoryType.HostAccessible() {
		b.arena.countTransfer(directionToDevice)
	}
	b.data[i] = v
}

// CopyToHost returns a host copy of the whole buffer in a single transfer.
func (b *Buffer[T]) CopyToHost() []T {
	if !b.memoryType.HostAccessible() && len(b.data) != 0 {
		b.arena.countTransfer(directionToHost)
	}

	out := make([]T, len(b.data))
	copy(out, b.data)
	return out
}

// CopyFromHost overwrites the buffer with src in a single transfer. src must
// have the buffer length.
func (b *Buffer[T]) CopyFromHost(src []T) {
	if !b.memoryType.HostAccessible() && len(src) != 0 {
		b.arena.countTransfer(directionToDevice)
	}
	copy(b.data, src)
}

// Clone returns a deep copy of the buffer placed in memoryType.
func (b *Buffer[T]) Clone(memoryType MemoryType) (*Buffer[T], error) {
	c, err := newBuffer[T](b.arena, memoryType, len(b.data))
	if err != nil {
		return nil, err
	}

	copy(c.data, b.data)
	if len(b.data) != 0 {
		switch {
		case !b.memoryType.HostAccessible() && memoryType.HostAccessible():
			b.arena.countTransfer(directionToHost)
		case b.memoryType.HostAccessible() && !memoryType.HostAccessible():
			b.arena.countTransfer(directionToDevice)
		}
	}
	return c, nil
}

// Free releases the accelerator memory held by the buffer. Buffers not freed
// explicitly are released once garbage collected.
func (b *Buffer[T]) Free() {
	if b.reserved == 0 {
		return
	}

	b.arena.Release(b.reserved)
	b.reserved = 0
	runtime.SetFinalizer(b, nil)
}
