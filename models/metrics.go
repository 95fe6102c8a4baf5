package models

import (
	"github.com/aukilabs/blox/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	memoryTypeLabel = "memory_type"
)

var (
	bloxMapCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blox_map_count",
		Help: "The number of maps.",
	}, []string{memoryTypeLabel})

	bloxMapCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blox_map_count_total",
		Help: "The total number of maps.",
	}, []string{memoryTypeLabel})
)

func instrumentIncreaseMapGauge(memoryType device.MemoryType) {
	bloxMapCount.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Inc()
}

func instrumentDecreaseMapGauge(memoryType device.MemoryType) {
	bloxMapCount.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Dec()
}

func instrumentCountMap(memoryType device.MemoryType) {
	bloxMapCountTotal.
		With(prometheus.Labels{memoryTypeLabel: memoryType.String()}).
		Inc()
}
