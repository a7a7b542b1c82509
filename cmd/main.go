package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/pqa/internal/adapters/dispatch"
	"github.com/okian/pqa/internal/adapters/http/api"
	"github.com/okian/pqa/internal/adapters/http/swagger"
	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/adapters/repository/memstore"
	"github.com/okian/pqa/internal/adapters/repository/pgstore"
	app "github.com/okian/pqa/internal/app"
	"github.com/okian/pqa/internal/config"
	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		// The logger may not be available yet.
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Process-wide Go collectors are replaced by the service's own system gauges.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Service:     cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher, err := newDispatcher(cfg, log)
	if err != nil {
		return err
	}

	svc := app.New(store,
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithRetry(cfg.WorkerMaxRetries, cfg.WorkerRetryInitial),
		app.WithDedupe(cfg.DedupeWindow, cfg.DedupeTypeKeys),
		app.WithBatchParallelism(cfg.BatchParallelism),
		app.WithRequireKnownSources(cfg.RequireKnownSources),
		app.WithSchedule(cfg.SnapshotInterval, cfg.PurgeInterval),
		app.WithDispatcher(dispatcher),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return runErr
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise. Fixtures from the seed file
// are written through either store.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	var store repository.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = pg
		log.Info(ctx, "using postgres store")
	} else {
		store = memstore.New(dedupe.WithMaxSize(cfg.DedupeSize))
		log.Info(ctx, "using in-memory store", logger.Int("dedupe_size", cfg.DedupeSize))
	}

	if cfg.SeedFile == "" {
		return store, nil
	}
	fixtures, err := repository.LoadFixturesFile(cfg.SeedFile)
	if err == nil {
		err = repository.Seed(ctx, store, fixtures)
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seed %s: %w", cfg.SeedFile, err)
	}
	log.Info(ctx, "seeded fixtures",
		logger.String("file", cfg.SeedFile),
		logger.Int("companies", len(fixtures.Companies)),
		logger.Int("contacts", len(fixtures.Contacts)),
		logger.Int("sources", len(fixtures.Sources)),
	)
	return store, nil
}

// newDispatcher always logs events and also publishes them to Kafka when
// brokers are configured.
func newDispatcher(cfg *config.Config, log logger.Logger) (dispatch.Dispatcher, error) {
	logDispatcher := dispatch.NewLogDispatcher(log.Named("dispatch"))
	if len(cfg.KafkaBrokers) == 0 {
		return logDispatcher, nil
	}
	kd, err := dispatch.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka dispatcher: %w", err)
	}
	return dispatch.Multi{logDispatcher, kd}, nil
}

func newHandler(cfg *config.Config, svc api.Service, log logger.Logger) http.Handler {
	return api.NewServer(svc,
		api.WithLogger(log.Named("http")),
		api.WithIngestLimit(cfg.IngestRatePerSec, cfg.IngestBurst),
		api.WithAPILimit(cfg.APIRatePerSec, cfg.APIBurst),
		api.WithCORSOrigins(cfg.CORSAllowedOrigins),
		api.WithRoutes(swagger.Register),
	).Handler()
}
