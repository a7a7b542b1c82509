// Package service is the signal core: ingestion, dedup, account resolution,
// scoring and score history. The HTTP API and the background workers both
// call into it.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/pqa/internal/adapters/dispatch"
	"github.com/okian/pqa/internal/adapters/mq/queue"
	"github.com/okian/pqa/internal/adapters/mq/worker"
	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/internal/domain/resolve"
	"github.com/okian/pqa/internal/domain/scoring"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize        = 10000
	defaultMaxRetries       = 5
	defaultRetryInitial     = 200 * time.Millisecond
	defaultBatchParallelism = 16
	defaultSnapshotInterval = 24 * time.Hour
	defaultPurgeInterval    = time.Hour
	systemMetricsInterval   = 15 * time.Second
)

// Service implements the signal core on top of a repository.Store.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	qmu        sync.RWMutex
	queue      queue.Queue
	ownsQueue  bool
	pool       *worker.Pool
	dispatcher dispatch.Dispatcher
	keyer      *dedupe.Keyer
	resolver   *resolve.Resolver
	engine     *scoring.Engine

	workerCount         int
	queueSize           int
	maxRetries          int
	retryInitial        time.Duration
	dedupeWindow        time.Duration
	typeKeys            map[string][]string
	batchParallelism    int
	requireKnownSources bool
	snapshotInterval    time.Duration
	purgeInterval       time.Duration
	now                 func() time.Time

	started bool
	stopCh  chan struct{}
	bg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service over store. Tasks can be enqueued right away;
// they are executed once Start runs the worker pool.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        defaultQueueSize,
		maxRetries:       defaultMaxRetries,
		retryInitial:     defaultRetryInitial,
		dedupeWindow:     dedupe.DefaultWindow,
		batchParallelism: defaultBatchParallelism,
		snapshotInterval: defaultSnapshotInterval,
		purgeInterval:    defaultPurgeInterval,
		now:              time.Now,
		stopCh:           make(chan struct{}),
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.queue == nil {
		s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
		s.ownsQueue = true
	}
	if s.dispatcher == nil {
		s.dispatcher = dispatch.NewLogDispatcher(s.logger.Named("dispatch"))
	}
	s.keyer = dedupe.NewKeyer(s.dedupeWindow, s.typeKeys)
	s.resolver = resolve.New(store, resolve.WithLogger(s.logger.Named("resolve")))
	s.engine = scoring.NewEngine()
	return s
}

// Start runs the worker pool and the scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting signal service...")

	// A previous Stop closed the stop channel and the queue.
	if s.pool != nil {
		s.stopCh = make(chan struct{})
		if s.ownsQueue {
			s.qmu.Lock()
			s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
			s.qmu.Unlock()
		}
	}

	s.pool = worker.NewPool(s.workerCount, s.tasks(), worker.HandlerFunc(s.handleTask),
		worker.WithMaxRetries(s.maxRetries),
		worker.WithInitialInterval(s.retryInitial),
		worker.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(context.WithoutCancel(ctx))

	s.schedule(ctx, "snapshots", s.snapshotInterval, func(ctx context.Context) {
		if _, err := s.CaptureAllSnapshots(ctx); err != nil {
			s.logger.Error(ctx, "scheduled snapshot capture failed", logger.Error(err))
		}
	})
	s.schedule(ctx, "dedup-purge", s.purgeInterval, s.purgeDedupKeys)
	s.schedule(ctx, "system-metrics", systemMetricsInterval, s.refreshGauges)

	s.started = true
	s.logger.Info(ctx, "signal service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("dedupeWindow", s.dedupeWindow),
		logger.Duration("snapshotInterval", s.snapshotInterval),
	)
	return nil
}

// Stop drains the task queue, stops scheduled jobs and closes the dispatcher.
// The service can be started again; events then go to the closed dispatcher
// and fail until it is replaced.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping signal service...")

	close(s.stopCh)
	s.bg.Wait()

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.dispatcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "signal service stopped")
	return errors.Join(errs...)
}

// schedule runs job every interval until Stop. A non-positive interval disables it.
func (s *Service) schedule(ctx context.Context, name string, every time.Duration, job func(context.Context)) {
	if every <= 0 {
		return
	}
	jobCtx := context.WithoutCancel(ctx)
	stop := s.stopCh
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.logger.Debug(jobCtx, "running scheduled job", logger.String("job", name))
				job(jobCtx)
			}
		}
	}()
}

func (s *Service) purgeDedupKeys(ctx context.Context) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		s.logger.Error(ctx, "dedup key purge failed", logger.Error(err))
		return
	}
	metrics.RecordDedupKeysPurged(n)
	if n > 0 {
		s.logger.Info(ctx, "purged expired dedup keys", logger.Int64("count", n))
	}
}

// refreshGauges updates the gauges nothing else keeps current.
func (s *Service) refreshGauges(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if m.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(m.PauseNs[(m.NumGC+255)%256]) / 1e6)
	}

	metrics.UpdateQueueSize(s.tasks().Len(ctx))
	if sizer, ok := s.store.(dedupe.Sizer); ok {
		metrics.UpdateDedupKeys(sizer.Size())
	}
	counts, err := s.store.TierCounts(ctx)
	if err != nil {
		s.logger.Warn(ctx, "tier count refresh failed", logger.Error(err))
		return
	}
	for tier, n := range counts {
		metrics.UpdateTierCount(string(tier), n)
	}
}

// handleTask routes a background task. It is safe to run more than once.
func (s *Service) handleTask(ctx context.Context, t queue.Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	switch t.Kind {
	case queue.KindScoreRecompute:
		_, err := s.ComputeAccountScore(ctx, t.OrganizationID, t.AccountID)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
			return worker.Permanent(err)
		}
		return err
	case queue.KindSignalIngested, queue.KindScoreChanged:
		err := s.dispatcher.Dispatch(ctx, dispatch.Event{
			ID:             t.ID,
			Type:           string(t.Kind),
			OrganizationID: t.OrganizationID,
			AccountID:      t.AccountID,
			OccurredAt:     t.EnqueuedAt.UTC(),
			Data:           t.Payload,
		})
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordDispatch(string(t.Kind), outcome)
		return err
	default:
		return worker.Permanent(fmt.Errorf("unknown task kind %q", t.Kind))
	}
}

// enqueue hands t to the workers. A rejected task is logged, never surfaced.
func (s *Service) enqueue(ctx context.Context, t queue.Task) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	if t.ID == "" {
		t.ID = dispatch.NewEventID()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = s.now()
	}
	if err := s.tasks().Enqueue(context.WithoutCancel(ctx), t); err != nil {
		s.logger.Warn(ctx, "background task dropped",
			logger.String("kind", string(t.Kind)),
			logger.String("org_id", t.OrganizationID),
			logger.String("account_id", t.AccountID),
			logger.Error(err),
		)
	}
}

func (s *Service) tasks() queue.Queue {
	s.qmu.RLock()
	defer s.qmu.RUnlock()
	return s.queue
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":             s.started,
		"workerCount":         s.workerCount,
		"queueCapacity":       s.queueSize,
		"queueLength":         s.tasks().Len(ctx),
		"dedupeWindow":        s.dedupeWindow.String(),
		"requireKnownSources": s.requireKnownSources,
	}
	if sizer, ok := s.store.(dedupe.Sizer); ok {
		stats["dedupKeys"] = sizer.Size()
	}
	if counts, err := s.store.TierCounts(ctx); err == nil {
		stats["accountsByTier"] = counts
	}
	return stats
}
