package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/okian/pqa/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1e3
		metrics.RecordHTTPRequest(endpoint, r.Method, strconv.Itoa(wrapped.statusCode), durationMs)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Limiter table bounds. A bucket idle for limiterIdleTTL is full again, so
// dropping it loses nothing.
const (
	maxOrgLimiters = 10_000
	limiterIdleTTL = 10 * time.Minute
)

// orgLimiter keeps one token bucket per organization, at most max of them.
type orgLimiter struct {
	mu    sync.Mutex
	m     map[string]*orgBucket
	r     rate.Limit
	burst int
	max   int
	idle  time.Duration
	now   func() time.Time
}

type orgBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newOrgLimiter(perSec float64, burst int) *orgLimiter {
	return &orgLimiter{
		m:     make(map[string]*orgBucket),
		r:     rate.Limit(perSec),
		burst: burst,
		max:   maxOrgLimiters,
		idle:  limiterIdleTTL,
		now:   time.Now,
	}
}

func (l *orgLimiter) limiterFor(orgID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if b, ok := l.m[orgID]; ok {
		b.lastSeen = now
		return b.lim
	}
	if len(l.m) >= l.max {
		l.evict(now)
	}
	b := &orgBucket{lim: rate.NewLimiter(l.r, l.burst), lastSeen: now}
	l.m[orgID] = b
	return b.lim
}

// evict drops idle buckets, or the least recently used one when none is idle.
func (l *orgLimiter) evict(now time.Time) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, b := range l.m {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.m, id)
			continue
		}
		if oldestID == "" || b.lastSeen.Before(oldest) {
			oldestID, oldest = id, b.lastSeen
		}
	}
	if len(l.m) >= l.max && oldestID != "" {
		delete(l.m, oldestID)
	}
}

func (l *orgLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// middleware rejects requests over the org's allowance with 429.
func (l *orgLimiter) middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgID := chi.URLParam(r, "orgID")
			if !l.limiterFor(orgID).Allow() {
				metrics.RecordRateLimited(scope)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
