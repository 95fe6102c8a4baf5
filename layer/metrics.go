package layer

import (
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	memoryTypeLabel = "memory_type"
)

var (
	blocksAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blox_blocks_allocated_total",
		Help: "The number of blocks allocated in layers.",
	}, []string{memoryTypeLabel})

	blocksRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blox_blocks_removed_total",
		Help: "The number of blocks removed from layers.",
	}, []string{memoryTypeLabel})

	blockAllocationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blox_block_allocation_errors_total",
		Help: "The number of block allocations or copies that failed.",
	}, []string{memoryTypeLabel})

	viewRebuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "blox_gpu_layer_view_rebuild_seconds",
		Help: "The time to rebuild the accelerator view of a layer.",
	})
)

func instrumentBlockAllocation(memoryType device.MemoryType) {
	blocksAllocated.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Inc()
}

func instrumentBlockRemoval(memoryType device.MemoryType, n int) {
	blocksRemoved.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Add(float64(n))
}

func instrumentAllocationError(memoryType device.MemoryType) {
	blockAllocationErrors.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Inc()
}

func instrumentViewRebuild(start time.Time) {
	viewRebuildLatency.Observe(time.Since(start).Seconds())
}
