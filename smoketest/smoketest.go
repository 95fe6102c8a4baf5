package smoketest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	bwebsocket "github.com/aukilabs/blox/websocket"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	defaultTimeout = time.Second * 10
)

type Options struct {
	// The endpoint of the server running the smoke test.
	Endpoint string

	UserAgent string

	// Called with the result of each smoke test.
	SendResult func(context.Context, Results) error
}

type Request struct {
	// The endpoint of the Blox server to test.
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
}

type Results struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest starts a smoke test against the endpoint in the request
// body. The result is reported asynchronously with opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// cancel the test context on exit to signal the smoke test
				// is over
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := RunSmokeTest(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				UserAgent:    opts.UserAgent,
				Timeout:      req.Timeout,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunOptions struct {
	FromEndpoint string
	ToEndpoint   string
	UserAgent    string
	Timeout      time.Duration
}

// RunSmokeTest connects to the voxel stream of a Blox server and measures
// the round trip of a ping.
func RunSmokeTest(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		Status:       StatusFailed,
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	latency, err := ping(ctx, opts)
	if err != nil {
		err = errors.New("smoke test failed").
			WithTag("from_endpoint", opts.FromEndpoint).
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
		res.Error = err.Error()
		return res, err
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
	return res, nil
}

func ping(ctx context.Context, opts RunOptions) (time.Duration, error) {
	endpoint := strings.TrimSuffix(opts.ToEndpoint, "/")
	endpoint = strings.Replace(endpoint, "http", "ws", 1) + "/stream"

	origin := opts.FromEndpoint
	if origin == "" {
		origin = "http://localhost"
	}

	config, err := websocket.NewConfig(endpoint, origin)
	if err != nil {
		return 0, errors.New("creating websocket config failed").Wrap(err)
	}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}
	config.Header.Set(bwebsocket.HeaderClientID, "smoke-test-"+uuid.NewString())

	conn, err := config.DialContext(ctx)
	if err != nil {
		return 0, errors.New("dialing voxel stream failed").Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	send := bwebsocket.NewSender(conn)
	receive := bwebsocket.NewReceiver(conn)

	id := uuid.NewString()
	start := time.Now()

	if _, err := send(bwebsocket.Msg{ID: id, Type: bwebsocket.MsgTypePing}); err != nil {
		return 0, errors.New("sending ping failed").Wrap(err)
	}

	for {
		msg, _, err := receive()
		if err != nil {
			return 0, errors.New("receiving pong failed").Wrap(err)
		}

		if msg.ID == id && msg.Type == bwebsocket.MsgTypePong {
			return time.Since(start), nil
		}
	}
}
