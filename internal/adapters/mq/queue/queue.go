// Package queue hands background tasks from the ingestion path to workers.
//
// The in-memory queue is bounded; producers never block. A task that does
// not fit is rejected and the caller decides what to do with it.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/pqa/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Kind names what a worker must do with a task.
type Kind string

// Task kinds.
const (
	// KindScoreRecompute recomputes one account score.
	KindScoreRecompute Kind = "score.recompute"
	// KindSignalIngested publishes a stored signal downstream.
	KindSignalIngested Kind = "signal.ingested"
	// KindScoreChanged publishes a tier or score change downstream.
	KindScoreChanged Kind = "score.changed"
)

// Task is a unit of background work. ID is stable across retries so that
// downstream consumers can drop redeliveries.
type Task struct {
	ID             string
	Kind           Kind
	OrganizationID string
	AccountID      string
	Payload        any
	EnqueuedAt     time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a task. It returns ErrFull or ErrClosed when the task was not accepted.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue returns a channel that yields tasks and is closed with the queue.
	Dequeue(ctx context.Context) <-chan Task

	// Len returns the current number of queued tasks.
	Len(ctx context.Context) int

	// Close stops accepting tasks. Buffered tasks can still be drained.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

var _ Queue = (*InMemoryQueue)(nil)

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks    chan Task
	capacity int
	now      func() time.Time
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)

	return q
}

// Enqueue adds a task without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.now()
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.tasks))
		return nil
	default:
		metrics.RecordQueueEnqueueError("full")
		return ErrFull
	}
}

// Dequeue returns the receive side of the buffer. Every consumer shares it.
func (q *InMemoryQueue) Dequeue(context.Context) <-chan Task {
	return q.tasks
}

// Len returns the current number of queued tasks.
func (q *InMemoryQueue) Len(context.Context) int {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting tasks and closes the dequeue channel once drained.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
