// Package worker runs background tasks with at-least-once retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/pqa/internal/adapters/mq/queue"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxRetries       = 5
	defaultInitialInterval  = 200 * time.Millisecond
	defaultMaxInterval      = 10 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Handler executes one task. Handlers must be idempotent: a task may run
// more than once. Wrap an error with Permanent to stop retrying it.
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, t queue.Task) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, t queue.Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	return f(ctx, t)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Worker processes tasks until its queue closes or it is shut down.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the task in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker on top of a Queue.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string

	maxRetries      uint
	initialInterval time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           q,
		handler:         h,
		name:            "worker",
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			if err := w.process(ctx, t); err != nil {
				w.logger.Error(ctx, "task failed",
					logger.String("task_id", t.ID),
					logger.String("kind", string(t.Kind)),
					logger.String("org_id", t.OrganizationID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown signals the worker and waits for it to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs the handler with exponential backoff between attempts.
func (w *InMemoryWorker) process(ctx context.Context, t queue.Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.initialInterval
	b.MaxInterval = defaultMaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, w.handler.Handle(ctx, t)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(w.maxRetries+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.RecordWorkerRetry(string(t.Kind))
			w.logger.Debug(ctx, "retrying task",
				logger.String("task_id", t.ID),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", next),
				logger.Error(err),
			)
		}),
	)

	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		outcome := "failed"
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			outcome = "rejected"
		}
		metrics.RecordWorkerTask(string(t.Kind), outcome, latency)
		return fmt.Errorf("task %s after %d attempts: %w", t.ID, attempt, err)
	}
	metrics.RecordWorkerTask(string(t.Kind), "ok", latency)
	return nil
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. opts apply to every worker.
func NewPool(workerCount int, q Queue, h Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, h, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, lets workers drain what is buffered and waits
// for them until ctx or the pool timeout expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
