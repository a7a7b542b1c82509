package dedupe

import "time"

// Option applies a configuration option to the in-memory deduper.
type Option func(*InMemoryDeduper)

// WithMaxSize sets the maximum number of claims to keep in memory.
// If maxSize > 0: bounded mode, the oldest claim is evicted first.
// If maxSize <= 0: unbounded mode.
func WithMaxSize(maxSize int) Option {
	return func(d *InMemoryDeduper) {
		d.maxSize = maxSize
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *InMemoryDeduper) {
		if now != nil {
			d.now = now
		}
	}
}
