// Package dedupe derives signal dedup keys and tracks claimed keys.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Claim is a dedup key scoped to an organization and source, valid until ExpiresAt.
type Claim struct {
	OrganizationID string
	SourceID       string
	Key            string
	ExpiresAt      time.Time
}

// Deduper records claimed keys so a signal is stored at most once per window.
type Deduper interface {
	// SeenAndRecord atomically checks if the claim is live and records it if not.
	// Returns true if it was already claimed, false if it was newly recorded.
	// This is the ONLY method for deduplication - thread-safe and atomic.
	SeenAndRecord(ctx context.Context, c Claim) (bool, error)

	// Unrecord releases a claim so a retried submission is not wrongly
	// treated as a duplicate. Used when persistence fails after the claim.
	Unrecord(ctx context.Context, c Claim) error

	// PurgeExpired drops claims that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sizer is implemented by dedupers that know how many keys they hold.
type Sizer interface {
	Size() int64
}

// node is a single entry in the insertion-ordered list.
type node struct {
	key        string
	expiresAt  time.Time
	prev, next *node
}

// live reports whether the claim holds at now. A zero expiry never lapses.
func (n *node) live(now time.Time) bool {
	return n.expiresAt.IsZero() || n.expiresAt.After(now)
}

// reset clears the node state for reuse
func (n *node) reset() {
	n.key = ""
	n.expiresAt = time.Time{}
	n.prev = nil
	n.next = nil
}

// InMemoryDeduper implements Deduper with a map and an insertion-ordered
// doubly linked list. Bounded mode (maxSize > 0) evicts the oldest claim.
// Expired claims are treated as absent; a zero ExpiresAt never expires.
type InMemoryDeduper struct {
	mu       sync.Mutex
	seen     map[string]*node
	head     *node // most recently added
	tail     *node // oldest
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
	now      func() time.Time
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) *InMemoryDeduper {
	d := &InMemoryDeduper{
		maxSize: 500_000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() any {
			return &node{}
		},
	}
	return d
}

func claimID(c Claim) string {
	return c.OrganizationID + "\x00" + c.SourceID + "\x00" + c.Key
}

// SeenAndRecord implements Deduper.
func (d *InMemoryDeduper) SeenAndRecord(_ context.Context, c Claim) (bool, error) {
	id := claimID(c)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[id]; exists {
		if n.live(now) {
			return true, nil
		}
		d.remove(n)
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node) //nolint:forcetypeassert // pool only holds *node
	n.key = id
	n.expiresAt = c.ExpiresAt
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
	d.seen[id] = n
	d.size.Add(1)
	return false, nil
}

// Unrecord implements Deduper.
func (d *InMemoryDeduper) Unrecord(_ context.Context, c Claim) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.seen[claimID(c)]; exists {
		d.remove(n)
	}
	return nil
}

// PurgeExpired implements Deduper.
func (d *InMemoryDeduper) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var purged int64
	for n := d.tail; n != nil; {
		prev := n.prev
		if !n.live(now) {
			d.remove(n)
			purged++
		}
		n = prev
	}
	return purged, nil
}

// Size returns the current number of entries in the deduper.
func (d *InMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// evictOldest removes the tail. Must be called with d.mu held.
func (d *InMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}

// remove unlinks n and returns it to the pool. Must be called with d.mu held.
func (d *InMemoryDeduper) remove(n *node) {
	delete(d.seen, n.key)
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}
