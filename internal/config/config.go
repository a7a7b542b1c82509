// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New() returns a Config populated with defaults.
// - Load(ctx) layers a YAML file and environment variables on top.
// - Validate() reports every invalid field at once.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL selects the PostgreSQL store. Empty runs on the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// SeedFile optionally loads companies, contacts, sources and ICP into the in-memory store.
	SeedFile string `koanf:"seed_file"`

	// OTLPEndpoint enables trace export over OTLP gRPC when set.
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// OTLPInsecure disables TLS to the OTLP collector.
	OTLPInsecure bool `koanf:"otlp_insecure"`

	// TraceSampleRatio samples this share of root traces. Zero samples all.
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`

	// ServiceName is reported as the trace resource name.
	ServiceName string `koanf:"service_name"`

	// QueueSize bounds the in-memory background task queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of background workers.
	WorkerCount int `koanf:"worker_count"`

	// WorkerMaxRetries caps retries of a failing background task.
	WorkerMaxRetries int `koanf:"worker_max_retries"`

	// WorkerRetryInitial is the first backoff interval between retries.
	WorkerRetryInitial time.Duration `koanf:"worker_retry_initial"`

	// DedupeWindow is the time bucket width used in dedup keys.
	DedupeWindow time.Duration `koanf:"dedupe_window"`

	// DedupeSize caps live keys held by the in-memory deduper.
	DedupeSize int `koanf:"dedupe_size"`

	// DedupeTypeKeys adds or overrides the metadata fields that identify a signal per type.
	DedupeTypeKeys map[string][]string `koanf:"dedupe_type_keys"`

	// RequireKnownSources rejects signals from sources that are not registered and active.
	RequireKnownSources bool `koanf:"require_known_sources"`

	// BatchParallelism bounds concurrent item processing in a batch.
	BatchParallelism int `koanf:"batch_parallelism"`

	// IngestRatePerSec and IngestBurst form the per-organization allowance on ingestion routes.
	IngestRatePerSec float64 `koanf:"ingest_rate_per_sec"`
	IngestBurst      int     `koanf:"ingest_burst"`

	// APIRatePerSec and APIBurst form the per-organization allowance on every other route.
	APIRatePerSec float64 `koanf:"api_rate_per_sec"`
	APIBurst      int     `koanf:"api_burst"`

	// SnapshotInterval schedules score snapshot capture. Zero disables the schedule.
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	// PurgeInterval schedules removal of expired dedup keys. Zero disables it.
	PurgeInterval time.Duration `koanf:"purge_interval"`

	// KafkaBrokers enables Kafka event dispatch when non-empty.
	KafkaBrokers []string `koanf:"kafka_brokers"`

	// KafkaTopic receives signal.ingested and score.changed events.
	KafkaTopic string `koanf:"kafka_topic"`

	// CORSAllowedOrigins lists origins allowed by the CORS middleware.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		ServiceName:        "pqa",
		QueueSize:          10_000,
		WorkerCount:        runtime.NumCPU() * 2,
		WorkerMaxRetries:   5,
		WorkerRetryInitial: 200 * time.Millisecond,
		DedupeWindow:       24 * time.Hour,
		DedupeSize:         500_000,
		BatchParallelism:   16,
		IngestRatePerSec:   200,
		IngestBurst:        400,
		APIRatePerSec:      50,
		APIBurst:           100,
		SnapshotInterval:   24 * time.Hour,
		PurgeInterval:      time.Hour,
		KafkaTopic:         "pqa.events",
		CORSAllowedOrigins: []string{"*"},
		ShutdownTimeout:    10 * time.Second,
	}
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(strings.TrimSpace(c.Addr) != "", "addr must not be empty")
	check(c.LogFormat == "" || c.LogFormat == "text" || c.LogFormat == "json", "log_format must be text or json, got %q", c.LogFormat)
	check(c.QueueSize > 0, "queue_size must be positive, got %d", c.QueueSize)
	check(c.WorkerCount > 0, "worker_count must be positive, got %d", c.WorkerCount)
	check(c.WorkerMaxRetries >= 0, "worker_max_retries must not be negative, got %d", c.WorkerMaxRetries)
	check(c.DedupeWindow > 0, "dedupe_window must be positive, got %s", c.DedupeWindow)
	check(c.DedupeSize > 0, "dedupe_size must be positive, got %d", c.DedupeSize)
	check(c.BatchParallelism > 0, "batch_parallelism must be positive, got %d", c.BatchParallelism)
	check(c.IngestRatePerSec > 0 && c.IngestBurst > 0, "ingest rate and burst must be positive")
	check(c.APIRatePerSec > 0 && c.APIBurst > 0, "api rate and burst must be positive")
	check(c.TraceSampleRatio >= 0 && c.TraceSampleRatio <= 1, "trace_sample_ratio must be within [0, 1], got %g", c.TraceSampleRatio)
	check(c.ShutdownTimeout > 0, "shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	check(c.SnapshotInterval >= 0, "snapshot_interval must not be negative")
	check(c.PurgeInterval >= 0, "purge_interval must not be negative")
	check(len(c.KafkaBrokers) == 0 || c.KafkaTopic != "", "kafka_topic is required with kafka_brokers")
	for typ, fields := range c.DedupeTypeKeys {
		check(len(fields) > 0, "dedupe_type_keys[%s] must list at least one field", typ)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
