package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionLabel = "direction"

	directionToHost   = "to_host"
	directionToDevice = "to_device"
)

var (
	deviceBytesInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blox_device_bytes_in_use",
		Help: "The number of accelerator memory bytes reserved by buffers.",
	})

	deviceTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blox_device_transfers_total",
		Help: "The number of transfers between host and accelerator memory.",
	}, []string{directionLabel})

	deviceAllocationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blox_device_allocation_errors_total",
		Help: "The number of accelerator allocations refused because the arena was exhausted.",
	})
)

func instrumentBytesInUse(delta int64) {
	deviceBytesInUse.Add(float64(delta))
}

func instrumentTransfer(direction string) {
	deviceTransfers.
		With(prometheus.Labels{directionLabel: direction}).
		Inc()
}

func instrumentAllocationError() {
	deviceAllocationErrors.Inc()
}
