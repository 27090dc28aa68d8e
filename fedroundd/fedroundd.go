package fedroundd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedround/collector"
	cmiddleware "github.com/absmach/fedround/collector/middleware"
	"github.com/absmach/fedround/lifecycle"
	lmiddleware "github.com/absmach/fedround/lifecycle/middleware"
	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/manager/api"
	mmiddleware "github.com/absmach/fedround/manager/middleware"
	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/blob/badger"
	"github.com/absmach/fedround/pkg/cache"
	"github.com/absmach/fedround/pkg/mqtt"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const svcName = "collector"

var ErrUnknownBlobStore = errors.New("unknown blob store type")

type BlobConfig struct {
	// Type is "badger" or "memory".
	Type string `env:"TYPE" envDefault:"badger"`
	// Path is the Badger directory. Empty keeps Badger in memory.
	Path string `env:"PATH" envDefault:"./fedround-blobs"`
}

type Config struct {
	LogLevel         string        `env:"FEDROUND_LOG_LEVEL"          envDefault:"info"`
	InstanceID       string        `env:"FEDROUND_INSTANCE_ID"`
	NegativeCacheTTL time.Duration `env:"FEDROUND_NEGATIVE_CACHE_TTL" envDefault:"5s"`
	OTELURL          url.URL       `env:"FEDROUND_OTEL_URL"`
	TraceRatio       float64       `env:"FEDROUND_TRACE_RATIO"        envDefault:"0"`
	Storage          storage.Config
	Blob             BlobConfig       `envPrefix:"FEDROUND_BLOB_"`
	Locator          blob.Config      `envPrefix:"FEDROUND_"`
	MQTT             mqtt.Config      `envPrefix:"FEDROUND_MQTT_"`
	Collector        collector.Config `envPrefix:"FEDROUND_COLLECTOR_"`
	Lifecycle        lifecycle.Config `envPrefix:"FEDROUND_LIFECYCLE_"`
	Server           server.Config    `envPrefix:"FEDROUND_HTTP_"`
}

// InstanceID returns a readable name with a random suffix.
func InstanceID() string {
	return namegenerator.NewGenerator().Generate() + "-" + uuid.NewString()[:8]
}

// Start runs the collector sweeps, the notification subscriber and the
// manager HTTP API until ctx is canceled or a component fails.
func Start(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.InstanceID == "" {
		cfg.InstanceID = InstanceID()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler).With(slog.String("instance_id", cfg.InstanceID))
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			return fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				slog.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	repos, err := storage.NewRepositories(cfg.Storage, cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer repos.Closer.Close()

	store, closer, err := NewBlobStore(cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer closer.Close()

	full, err := cache.NewNegative(cfg.NegativeCacheTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize negative cache: %w", err)
	}
	defer full.Close()

	pubsub, err := mqtt.NewPubSub(cfg.MQTT, cfg.InstanceID, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
	}
	defer func() {
		if err := pubsub.Disconnect(context.Background()); err != nil {
			logger.Warn("failed to disconnect mqtt client", slog.Any("error", err))
		}
	}()

	locator := blob.NewLocator(cfg.Locator)

	csvc := collector.NewService(cfg.Collector, repos, store, locator, pubsub, logger)
	csvc = cmiddleware.Logging(logger, csvc)
	csvc = cmiddleware.Tracing(tracer, csvc)
	counter, latency := prometheus.MakeMetrics(svcName, "sweeps")
	csvc = cmiddleware.Metrics(counter, latency, csvc)

	msvc := manager.NewService(repos, locator, full, logger)
	msvc = mmiddleware.Logging(logger, msvc)
	msvc = mmiddleware.Tracing(tracer, msvc)
	counter, latency = prometheus.MakeMetrics("manager", "api")
	msvc = mmiddleware.Metrics(counter, latency, msvc)

	lsvc := lifecycle.NewService(cfg.Lifecycle, repos, store, locator, logger)
	lsvc = lmiddleware.Logging(logger, lsvc)
	lsvc = lmiddleware.Tracing(tracer, lsvc)
	counter, latency = prometheus.MakeMetrics("lifecycle", "sweeps")
	lsvc = lmiddleware.Metrics(counter, latency, lsvc)

	sched, err := collector.NewScheduler(cfg.Collector, csvc, logger, lifecycle.Jobs(cfg.Lifecycle, lsvc)...)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := collector.Subscribe(ctx, pubsub, cfg.Collector.NotificationTopic, csvc, logger); err != nil {
		return fmt.Errorf("failed to subscribe to aggregator notifications: %w", err)
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, cfg.Server, api.MakeHandler(msvc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return sched.Start(ctx)
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	return nil
}

// NewBlobStore opens the configured blob store. The closer releases it.
func NewBlobStore(cfg BlobConfig) (blob.Store, io.Closer, error) {
	switch cfg.Type {
	case "badger":
		s, err := badger.NewStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}

		return s, s, nil
	case "memory":
		return blob.NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBlobStore, cfg.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
