package http

import (
	"net/http"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/models"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ReadyCheck describes what the readiness endpoint reports.
type ReadyCheck struct {
	// Reports whether the server still accepts traffic.
	Running func() bool

	Maps  *models.MapStore
	Arena *device.Arena
}

type ReadyResponse struct {
	Ready                bool  `json:"ready"`
	Maps                 int   `json:"maps"`
	DeviceMemoryUsed     int64 `json:"device_memory_used"`
	DeviceMemoryCapacity int64 `json:"device_memory_capacity"`
}

// HandleReadyCheck reports the served maps and the accelerator memory usage.
// It responds with 503 once the server stops accepting traffic, or when the
// accelerator memory is exhausted.
func HandleReadyCheck(check ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := ReadyResponse{
			Ready:                check.Running == nil || check.Running(),
			Maps:                 check.Maps.Count(),
			DeviceMemoryUsed:     check.Arena.Used(),
			DeviceMemoryCapacity: check.Arena.Capacity(),
		}
		if res.DeviceMemoryCapacity > 0 && res.DeviceMemoryUsed >= res.DeviceMemoryCapacity {
			res.Ready = false
		}

		status := http.StatusOK
		if !res.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
	}
}

type VersionResponse struct {
	Version string `json:"version"`

	// The address exported snapshots are signed with.
	SnapshotSigner string `json:"snapshot_signer,omitempty"`

	// The addresses whose snapshots are imported.
	TrustedSigners []string `json:"trusted_signers,omitempty"`
}

func HandleVersion(res VersionResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, res)
	}
}
