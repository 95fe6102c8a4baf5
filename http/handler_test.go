package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/models"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestHandleReadyCheck(t *testing.T) {
	ready := func(t *testing.T, check ReadyCheck) (int, ReadyResponse) {
		w := httptest.NewRecorder()
		HandleReadyCheck(check)(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		var res ReadyResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		return w.Code, res
	}

	t.Run("ready", func(t *testing.T) {
		maps := &models.MapStore{}
		m := models.NewMap(maps.NewID(), "ready", 0.1, device.MemoryTypeHost)
		maps.Add(m)
		defer maps.Remove(m)

		arena := device.NewArena(1024)
		require.NoError(t, arena.Reserve(256))

		status, res := ready(t, ReadyCheck{
			Running: func() bool { return true },
			Maps:    maps,
			Arena:   arena,
		})
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, ReadyResponse{
			Ready:                true,
			Maps:                 1,
			DeviceMemoryUsed:     256,
			DeviceMemoryCapacity: 1024,
		}, res)
	})

	t.Run("stopping", func(t *testing.T) {
		status, res := ready(t, ReadyCheck{
			Running: func() bool { return false },
			Maps:    &models.MapStore{},
			Arena:   device.NewArena(0),
		})
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.False(t, res.Ready)
	})

	t.Run("device memory exhausted", func(t *testing.T) {
		arena := device.NewArena(128)
		require.NoError(t, arena.Reserve(128))

		status, res := ready(t, ReadyCheck{
			Maps:  &models.MapStore{},
			Arena: arena,
		})
		require.Equal(t, http.StatusServiceUnavailable, status)
		require.False(t, res.Ready)
		require.Equal(t, int64(128), res.DeviceMemoryUsed)
	})
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion(VersionResponse{
		Version:        "v1.2.3",
		SnapshotSigner: "0xabc",
	})(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var res VersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "v1.2.3", res.Version)
	require.Equal(t, "0xabc", res.SnapshotSigner)
	require.Empty(t, res.TrustedSigners)
}
