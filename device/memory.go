package device

import (
	"strings"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// Error type returned when the accelerator memory arena is exhausted.
	ErrTypeOutOfMemory = "device_out_of_memory"

	// Error type returned when a memory type name is not recognized.
	ErrTypeUnknownMemoryType = "unknown_memory_type"
)

// MemoryType describes where a buffer lives.
type MemoryType int

const (
	// Memory only reachable by accelerator kernels. Host reads and writes go
	// through explicit transfers.
	MemoryTypeDevice MemoryType = iota

	// Memory reachable from both the host and the accelerator. It is
	// accounted against the accelerator arena.
	MemoryTypeUnified

	// Plain host memory.
	MemoryTypeHost
)

func (m MemoryType) String() string {
	switch m {
	case MemoryTypeDevice:
		return "device"
	case MemoryTypeUnified:
		return "unified"
	case MemoryTypeHost:
		return "host"
	default:
		return "unknown"
	}
}

// HostAccessible reports whether the host can read memory of type m without
// a transfer.
func (m MemoryType) HostAccessible() bool {
	return m == MemoryTypeHost || m == MemoryTypeUnified
}

// OnDevice reports whether memory of type m consumes accelerator memory.
func (m MemoryType) OnDevice() bool {
	return m == MemoryTypeDevice || m == MemoryTypeUnified
}

func (m MemoryType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MemoryType) UnmarshalText(b []byte) error {
	v, err := ParseMemoryType(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMemoryType parses a memory type name as returned by String.
func ParseMemoryType(s string) (MemoryType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device":
		return MemoryTypeDevice, nil
	case "unified":
		return MemoryTypeUnified, nil
	case "host":
		return MemoryTypeHost, nil
	default:
		return 0, errors.New("unknown memory type").
			WithType(ErrTypeUnknownMemoryType).
			WithTag("memory_type", s)
	}
}

// Arena accounts for the accelerator memory used by device and unified
// buffers. A zero capacity means unlimited.
type Arena struct {
	capacity  atomic.Int64
	used      atomic.Int64
	transfers atomic.Uint64
}

func NewArena(capacity int64) *Arena {
	a := &Arena{}
	a.capacity.Store(capacity)
	return a
}

var defaultArena = NewArena(0)

// DefaultArena returns the arena used by buffers created in this process.
func DefaultArena() *Arena {
	return defaultArena
}

func (a *Arena) Capacity() int64 {
	return a.capacity.Load()
}

// SetCapacity changes the arena capacity. Already reserved memory is kept
// even if it exceeds the new capacity.
func (a *Arena) SetCapacity(capacity int64) {
	a.capacity.Store(capacity)
}

// Used returns the number of bytes currently reserved.
func (a *Arena) Used() int64 {
	return a.used.Load()
}

// Transfers returns the number of host/accelerator transfers performed on
// buffers of this arena.
func (a *Arena) Transfers() uint64 {
	return a.transfers.Load()
}

// Reserve reserves n bytes of accelerator memory.
func (a *Arena) Reserve(n int64) error {
	for {
		used := a.used.Load()
		capacity := a.capacity.Load()

		if capacity > 0 && used+n > capacity {
			instrumentAllocationError()
			return errors.New("accelerator memory exhausted").
				WithType(ErrTypeOutOfMemory).
				WithTag("requested_bytes", n).
				WithTag("used_bytes", used).
				WithTag("capacity_bytes", capacity)
		}

		if a.used.CompareAndSwap(used, used+n) {
			instrumentBytesInUse(n)
			return nil
		}
	}
}

// Release gives back n bytes previously reserved.
func (a *Arena) Release(n int64) {
	a.used.Add(-n)
	instrumentBytesInUse(-n)
}

func (a *Arena) countTransfer(direction string) {
	a.transfers.Add(1)
	instrumentTransfer(direction)
}
