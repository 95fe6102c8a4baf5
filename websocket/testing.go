package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/blox/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var setTestingEncoders sync.Once

// NewTestingEnv starts a voxel stream server and returns a client connected
// to it, with a function that closes both. The close function returns once
// the server side handler is done.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	setTestingEncoders.Do(func() {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
		errors.Encoder = json.Marshal
	})

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	client, close := newTestingEnv(t, newHandler)
	return client, func() {
		close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	var wg sync.WaitGroup

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			wg.Add(1)
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer wg.Done()
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}

	config.Header.Set("User-Agent", "ted")
	config.Header.Set("X-Forwarded-For", "192.0.0.0")
	config.Header.Set(HeaderClientID, uuid.NewString())

	client, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	return client, func() {
		client.Close()
		wg.Wait()
		server.Close()
	}
}

func newTestHandler(maps *models.MapStore, idleTimeout time.Duration) func() Handler {
	return func() Handler {
		var h Handler = &VoxelStreamHandler{
			ClientIdleTimeout: idleTimeout,
			Maps:              maps,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "http://blox-test")
		return h
	}
}
