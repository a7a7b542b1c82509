package service

import (
	"time"

	"github.com/okian/pqa/internal/adapters/dispatch"
	"github.com/okian/pqa/internal/adapters/mq/queue"
	"github.com/okian/pqa/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of background workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the background task queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithQueue replaces the in-memory task queue.
func WithQueue(q queue.Queue) Option {
	return func(s *Service) {
		if q != nil {
			s.queue = q
		}
	}
}

// WithRetry sets how often and how soon failed background tasks are retried.
func WithRetry(maxRetries int, initial time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if initial > 0 {
			s.retryInitial = initial
		}
	}
}

// WithDispatcher sets where ingestion and score events are published.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithDedupe sets the dedup bucket width and extra per-type key fields.
func WithDedupe(window time.Duration, typeKeys map[string][]string) Option {
	return func(s *Service) {
		if window > 0 {
			s.dedupeWindow = window
		}
		s.typeKeys = typeKeys
	}
}

// WithBatchParallelism bounds how many batch items are processed at once.
func WithBatchParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchParallelism = n
		}
	}
}

// WithRequireKnownSources rejects signals whose source is not registered and active.
func WithRequireKnownSources(require bool) Option {
	return func(s *Service) {
		s.requireKnownSources = require
	}
}

// WithSchedule sets the snapshot and dedup purge intervals. Zero disables a job.
func WithSchedule(snapshotEvery, purgeEvery time.Duration) Option {
	return func(s *Service) {
		s.snapshotInterval = snapshotEvery
		s.purgeInterval = purgeEvery
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
