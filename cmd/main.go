package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/featureflag"
	bloxhttp "github.com/aukilabs/blox/http"
	"github.com/aukilabs/blox/models"
	"github.com/aukilabs/blox/serialization"
	"github.com/aukilabs/blox/smoketest"
	bwebsocket "github.com/aukilabs/blox/websocket"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Blox version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "blox_info",
		Help:        "Blox information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"BLOX_ADDR"                   help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"BLOX_ADMIN_ADDR"             help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"BLOX_PUBLIC_ENDPOINT"        help:"The public endpoint where this Blox server is reachable."`
	PrivateKey         string        `cli:""        env:"BLOX_PRIVATE_KEY"            help:"The private key of the Ethereum-compatible wallet used to sign snapshots."`
	PrivateKeyFile     string        `cli:""        env:"BLOX_PRIVATE_KEY_FILE"       help:"The file that contains the private key used to sign snapshots."`
	TrustedSigners     []string      `cli:""        env:"BLOX_TRUSTED_SIGNERS"        help:"Comma separated addresses whose snapshots are imported, besides this server's own."`
	LogLevel           string        `cli:""        env:"BLOX_LOG_LEVEL"              help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"BLOX_LOG_INDENT"             help:"Indent logs."`
	DeviceMemory       int64         `cli:""        env:"BLOX_DEVICE_MEMORY"          help:"Device memory capacity in bytes. 0 means unlimited."`
	DefaultVoxelSize   float64       `cli:""        env:"BLOX_DEFAULT_VOXEL_SIZE"     help:"Voxel size of maps created without one, in meters."`
	DefaultMemoryType  string        `cli:""        env:"BLOX_DEFAULT_MEMORY_TYPE"    help:"Memory type of maps created without one (device|unified|host)."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"BLOX_CLIENT_IDLE_TIMEOUT"    help:"Time until an idle stream client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"BLOX_LOG_SUMMARY_INTERVAL"   help:"The duration between each log summary by connection."`
	Events             eventsConfig  `cli:",hidden" env:"-"                           help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"BLOX_FEATURE_FLAGS"          help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                           help:"Show version."`
	Help               bool          `cli:""        env:"-"                           help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"BLOX_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"BLOX_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"BLOX_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"BLOX_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		DefaultVoxelSize:   0.05,
		DefaultMemoryType:  device.MemoryTypeDevice.String(),
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Blox server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	defaultMemoryType, err := validateConfig(conf)
	if err != nil {
		logs.Fatal(err)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	var privateKey *ecdsa.PrivateKey
	featureFlags.IfNotSet(featureflag.FlagDisableSnapshotSignature, func() {
		privateKey, err = loadPrivateKey(conf)
	})
	if err != nil {
		logs.Fatal(errors.New("error loading private key").Wrap(err))
	}

	sealer, err := serialization.NewSealer(privateKey,
		!featureFlags.IsSet(featureflag.FlagDisableSnapshotCompression))
	if err != nil {
		logs.Fatal(errors.New("error creating snapshot sealer").Wrap(err))
	}
	defer sealer.Close()

	if err := sealer.TrustSigners(conf.TrustedSigners...); err != nil {
		logs.Fatal(errors.New("error loading trusted signers").Wrap(err))
	}

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "blox",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	device.DefaultArena().SetCapacity(conf.DeviceMemory)

	var maps models.MapStore
	defer func() {
		for _, m := range maps.List() {
			maps.Remove(m)
		}
	}()

	api := bloxhttp.MapAPI{
		Maps:              &maps,
		Sealer:            sealer,
		DefaultVoxelSize:  float32(conf.DefaultVoxelSize),
		DefaultMemoryType: defaultMemoryType,
	}

	var routes http.ServeMux
	api.RegisterRoutes(&routes)

	var service http.ServeMux
	service.Handle("/maps", bloxhttp.HandleWithCORS(&routes))
	service.Handle("/maps/", bloxhttp.HandleWithCORS(&routes))
	service.Handle("/health", bloxhttp.HandleWithCORS(http.HandlerFunc(bloxhttp.HandleHealthCheck)))
	service.Handle("/version", bloxhttp.HandleWithCORS(bloxhttp.HandleVersion(bloxhttp.VersionResponse{
		Version:        version,
		SnapshotSigner: sealer.Signer(),
		TrustedSigners: sealer.TrustedSigners(),
	})))

	readyCheck := bloxhttp.HandleReadyCheck(bloxhttp.ReadyCheck{
		Running: func() bool {
			return ctx.Err() == nil
		},
		Maps:  &maps,
		Arena: device.DefaultArena(),
	})
	service.Handle("/ready", bloxhttp.HandleWithCORS(readyCheck))

	featureFlags.IfNotSet(featureflag.FlagDisableVoxelStream, func() {
		service.Handle("/stream", websocket.Server{
			Handler: func(conn *websocket.Conn) {
				defer conn.Close()

				var h bwebsocket.Handler = newVoxelStreamHandler(conf, &maps, featureFlags)
				h = bwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
				h = bwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
				defer h.Close()

				bwebsocket.Handle(ctx, conn, h)
			},
		})
	})

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		UserAgent: fmt.Sprintf("Blox %s", version),
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("from_endpoint", res.FromEndpoint).
				WithTag("to_endpoint", res.ToEndpoint).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("status", res.Status).
				Info("smoke test done")
			return nil
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", bloxhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.Handle("/ready", readyCheck)

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("device_memory", conf.DeviceMemory).
		WithTag("default_memory_type", defaultMemoryType).
		WithTag("snapshot_signer", strings.ToLower(sealer.Signer())).
		WithTag("trusted_signers", sealer.TrustedSigners()).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting blox server")

	bloxhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			bloxhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func newVoxelStreamHandler(conf config, maps *models.MapStore, featureFlags featureflag.FeatureFlag) *bwebsocket.VoxelStreamHandler {
	return &bwebsocket.VoxelStreamHandler{
		ClientIdleTimeout: conf.ClientIdleTimeout,
		Maps:              maps,
		ReadOnly:          featureFlags.IsSet(featureflag.FlagReadOnlyVoxelStream),
	}
}

// loadPrivateKey returns the configured snapshot signing key. A key is
// generated when none is configured: snapshots exported by the process can
// then only be imported back into it, or into servers trusting its address.
func loadPrivateKey(conf config) (*ecdsa.PrivateKey, error) {
	privateKey := conf.PrivateKey

	if len(conf.PrivateKeyFile) != 0 {
		privateKeyBytes, err := os.ReadFile(conf.PrivateKeyFile)
		if err != nil {
			return nil, errors.New("error loading private key from file").
				WithTag("file_name", conf.PrivateKeyFile).
				Wrap(err)
		}
		privateKey = string(privateKeyBytes)
	}

	privateKey = strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")

	if len(privateKey) == 0 {
		logs.Warn(errors.New("no private key configured, snapshots are signed with an ephemeral key"))
		return crypto.GenerateKey()
	}

	return crypto.HexToECDSA(privateKey)
}

func validateConfig(conf config) (device.MemoryType, error) {
	if len(conf.PrivateKey) != 0 &&
		len(conf.PrivateKeyFile) != 0 {
		return 0, errors.New("have to specify either private key or private key file, not both")
	}

	if conf.DefaultVoxelSize <= 0 {
		return 0, errors.New("default voxel size must be positive").
			WithTag("default_voxel_size", conf.DefaultVoxelSize)
	}

	if conf.DeviceMemory < 0 {
		return 0, errors.New("device memory capacity cannot be negative").
			WithTag("device_memory", conf.DeviceMemory)
	}

	memoryType, err := device.ParseMemoryType(conf.DefaultMemoryType)
	if err != nil {
		return 0, errors.New("invalid default memory type").Wrap(err)
	}
	return memoryType, nil
}
