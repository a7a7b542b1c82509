// Package metrics provides Prometheus metrics for the PQA signal service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	signalsIngested  *prometheus.CounterVec
	signalFailures   *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	batchSize        prometheus.Histogram
	dedupKeys        prometheus.Gauge
	dedupKeysPurged  prometheus.Counter
	ingestRateLimits *prometheus.CounterVec

	// Scoring and history
	scoreComputations  prometheus.Counter
	scoreComputeErrors prometheus.Counter
	scoreLatency       prometheus.Histogram
	accountsByTier     *prometheus.GaugeVec
	snapshotsCaptured  prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers and downstream dispatch
	workerCount   prometheus.Gauge
	workerTasks   *prometheus.CounterVec
	workerRetries *prometheus.CounterVec
	workerLatency *prometheus.HistogramVec
	dispatches    *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pqa",
		subsystem:        "signals",
		histogramBuckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.signalsIngested = m.counterVec("ingested_total", "Signals submitted to the gateway by outcome (stored, deduplicated, failed)", "outcome")
	m.signalFailures = m.counterVec("failures_total", "Signals rejected by reason (validation, persistence)", "reason")
	m.resolutions = m.counterVec("resolutions_total", "Account resolution outcomes by method", "method")
	m.batchSize = m.histogram("batch_size", "Items per batch ingestion request", []float64{1, 10, 50, 100, 250, 500, 1000})
	m.dedupKeys = m.gauge("dedup_keys", "Live dedup keys held by the in-memory deduper")
	m.dedupKeysPurged = m.counter("dedup_keys_purged_total", "Expired dedup keys purged")
	m.ingestRateLimits = m.counterVec("rate_limited_total", "Requests rejected by the per-organization rate allowance", "scope")

	m.scoreComputations = m.counter("score_computations_total", "Account score computations")
	m.scoreComputeErrors = m.counter("score_compute_errors_total", "Account score computations that failed")
	m.scoreLatency = m.histogram("score_compute_latency_milliseconds", "Account score computation latency in milliseconds", m.histogramBuckets)
	m.accountsByTier = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "accounts_by_tier", Help: "Scored accounts per tier across organizations",
	}, []string{"tier"})
	m.snapshotsCaptured = m.counter("snapshots_captured_total", "Score snapshots appended")

	m.queueSize = m.gauge("queue_size", "Tasks waiting in the background queue")
	m.queueCapacity = m.gauge("queue_capacity", "Background queue capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Tasks enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Tasks dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Tasks dropped at enqueue by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Background workers running")
	m.workerTasks = m.counterVec("worker_tasks_total", "Background tasks handled by kind and outcome", "kind", "outcome")
	m.workerRetries = m.counterVec("worker_retries_total", "Background task retries by kind", "kind")
	m.workerLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "worker_task_latency_milliseconds", Help: "Background task latency in milliseconds including retries",
		Buckets: m.histogramBuckets,
	}, []string{"kind"})
	m.dispatches = m.counterVec("dispatch_total", "Downstream event publications by event type and outcome", "event", "outcome")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordSignalStored counts a newly persisted signal.
func RecordSignalStored() { globalManager.signalsIngested.WithLabelValues("stored").Inc() }

// RecordSignalDuplicate counts a signal suppressed by the deduper.
func RecordSignalDuplicate() { globalManager.signalsIngested.WithLabelValues("deduplicated").Inc() }

// RecordSignalFailed counts a rejected signal.
func RecordSignalFailed(reason string) {
	globalManager.signalsIngested.WithLabelValues("failed").Inc()
	globalManager.signalFailures.WithLabelValues(reason).Inc()
}

// RecordResolution counts an account resolution outcome.
func RecordResolution(method string) { globalManager.resolutions.WithLabelValues(method).Inc() }

// ObserveBatchSize records the item count of a batch request.
func ObserveBatchSize(n int) { globalManager.batchSize.Observe(float64(n)) }

// UpdateDedupKeys sets the number of live in-memory dedup keys.
func UpdateDedupKeys(n int64) { globalManager.dedupKeys.Set(float64(n)) }

// RecordDedupKeysPurged counts purged dedup keys.
func RecordDedupKeysPurged(n int64) { globalManager.dedupKeysPurged.Add(float64(n)) }

// RecordRateLimited counts a request rejected by a rate allowance.
func RecordRateLimited(scope string) { globalManager.ingestRateLimits.WithLabelValues(scope).Inc() }

// RecordScoreComputed records a successful score computation.
func RecordScoreComputed(latencyMs float64) {
	globalManager.scoreComputations.Inc()
	globalManager.scoreLatency.Observe(latencyMs)
}

// RecordScoreComputeError counts a failed score computation.
func RecordScoreComputeError() { globalManager.scoreComputeErrors.Inc() }

// UpdateTierCount sets the number of scored accounts in tier.
func UpdateTierCount(tier string, n int) { globalManager.accountsByTier.WithLabelValues(tier).Set(float64(n)) }

// RecordSnapshotsCaptured counts appended score snapshots.
func RecordSnapshotsCaptured(n int) { globalManager.snapshotsCaptured.Add(float64(n)) }

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue counts an enqueued task.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a dequeued task.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError counts a dropped task.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerTask records a finished background task.
func RecordWorkerTask(kind, outcome string, latencyMs float64) {
	globalManager.workerTasks.WithLabelValues(kind, outcome).Inc()
	globalManager.workerLatency.WithLabelValues(kind).Observe(latencyMs)
}

// RecordWorkerRetry counts a retried background task attempt.
func RecordWorkerRetry(kind string) { globalManager.workerRetries.WithLabelValues(kind).Inc() }

// RecordDispatch counts a downstream publication.
func RecordDispatch(event, outcome string) {
	globalManager.dispatches.WithLabelValues(event, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
