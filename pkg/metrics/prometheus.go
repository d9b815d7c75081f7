// Package metrics exposes Prometheus metrics for the soccer analytics service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded by RecordAnalyticsFetch.
const (
	FetchIssued       = "issued"
	FetchCommitted    = "committed"
	FetchDiscarded    = "discarded"
	FetchShortCircuit = "short_circuit"
	FetchDispatchFail = "dispatch_failed"
)

// Manager owns every collector registered by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Stat mutations and change signals
	statMutations  *prometheus.CounterVec
	changeSignals  *prometheus.CounterVec
	duplicateEdits prometheus.Counter

	// Analytics pipeline
	analyticsFetches *prometheus.CounterVec
	facetResults     *prometheus.CounterVec
	facetLatency     *prometheus.HistogramVec
	fetchLatency     prometheus.Histogram
	activeSessions   prometheus.Gauge
	trackedPlayers   prometheus.Gauge

	// Fetch queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueUtilization  prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueRejected     prometheus.Counter
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram
	workerPanics      prometheus.Counter
	upstreamRetries   *prometheus.CounterVec
	sessionsEvicted   prometheus.Counter

	// Repository
	repoLatency *prometheus.HistogramVec
	repoRecords *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
	systemCPUPercent     prometheus.Gauge
}

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

var globalManager = NewManager(WithPrometheusRegistry(customRegistry)) //nolint:gochecknoglobals // singleton

// NewManager creates and registers the full metric set.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "soccer",
		subsystem:        "analytics",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.register()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) register() {
	m.statMutations = m.counterVec("stat_mutations_total", "Stat mutations by operation and result", "op", "result")
	m.changeSignals = m.counterVec("change_signals_total", "Stats-changed signals by disposition", "disposition")
	m.duplicateEdits = m.counter("duplicate_mutations_total", "Mutations replayed under an already seen idempotency key")

	m.analyticsFetches = m.counterVec("fetches_total", "Analytics fetches by outcome", "outcome")
	m.facetResults = m.counterVec("facet_results_total", "Facet fetch results by facet and error kind", "facet", "kind")
	m.facetLatency = m.histogramVec("facet_latency_milliseconds", "Facet fetch latency", "facet")
	m.fetchLatency = m.histogram("fetch_latency_milliseconds", "End-to-end analytics fetch latency", m.histogramBuckets)
	m.activeSessions = m.gauge("active_sessions", "Open analytics sessions")
	m.trackedPlayers = m.gauge("tracked_players", "Players with at least one open session")

	m.queueSize = m.gauge("queue_size", "Pending analytics fetch jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Fetch queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Fetch queue fill ratio (0-1)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Fetch jobs accepted by the queue")
	m.queueRejected = m.counter("queue_rejected_total", "Fetch jobs rejected because the queue was full or closed")
	m.workerCount = m.gauge("worker_count", "Running fetch workers")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Time a worker spends on one fetch job", m.histogramBuckets)
	m.workerPanics = m.counter("worker_panics_total", "Recovered worker panics")
	m.upstreamRetries = m.counterVec("upstream_retries_total", "Retried upstream calls by operation", "op")
	m.sessionsEvicted = m.counter("sessions_evicted_total", "Idle sessions removed by the janitor")

	m.repoLatency = m.histogramVec("repository_latency_milliseconds", "Store call latency by backend and operation", "backend", "op")
	m.repoRecords = m.gaugeVec("repository_records", "Stored rows by backend and kind", "backend", "kind")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and kind", "component", "kind")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "GC pause time", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
	m.systemCPUPercent = m.gauge("system_cpu_percent", "Host CPU utilisation percent")
}

// RecordStatMutation counts a create/update/delete by result (ok or an error kind).
func RecordStatMutation(op, result string) {
	globalManager.statMutations.WithLabelValues(op, result).Inc()
}

// RecordChangeSignal counts a stats-changed signal as "armed" or "coalesced".
func RecordChangeSignal(disposition string) {
	globalManager.changeSignals.WithLabelValues(disposition).Inc()
}

func RecordDuplicateMutation() {
	globalManager.duplicateEdits.Inc()
}

// RecordAnalyticsFetch counts a fetch lifecycle event; see the Fetch* constants.
func RecordAnalyticsFetch(outcome string) {
	globalManager.analyticsFetches.WithLabelValues(outcome).Inc()
}

// RecordFacetResult records one facet fetch; kind is "ok" on success.
func RecordFacetResult(facet, kind string, latencyMs float64) {
	globalManager.facetResults.WithLabelValues(facet, kind).Inc()
	globalManager.facetLatency.WithLabelValues(facet).Observe(latencyMs)
}

func RecordFetchLatency(latencyMs float64) {
	globalManager.fetchLatency.Observe(latencyMs)
}

func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

func UpdateTrackedPlayers(n int) {
	globalManager.trackedPlayers.Set(float64(n))
}

// UpdateQueue sets size, capacity and the derived utilisation.
func UpdateQueue(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	globalManager.queueCapacity.Set(float64(capacity))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

func RecordQueueRejected() {
	globalManager.queueRejected.Inc()
}

func UpdateWorkerCount(n int) {
	globalManager.workerCount.Set(float64(n))
}

func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

func RecordWorkerPanic() {
	globalManager.workerPanics.Inc()
}

func RecordUpstreamRetry(op string) {
	globalManager.upstreamRetries.WithLabelValues(op).Inc()
}

func RecordSessionsEvicted(n int) {
	globalManager.sessionsEvicted.Add(float64(n))
}

// RecordRepositoryLatency observes one store call.
func RecordRepositoryLatency(backend, op string, latencyMs float64) {
	globalManager.repoLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// UpdateRepositoryRecords sets the row count for kind ("players" or "stats").
func UpdateRepositoryRecords(backend, kind string, n int) {
	globalManager.repoRecords.WithLabelValues(backend, kind).Set(float64(n))
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

func RecordError(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

func UpdateSystemGoroutineCount(n int) {
	globalManager.systemGoroutineCount.Set(float64(n))
}

func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

func UpdateSystemCPUPercent(pct float64) {
	globalManager.systemCPUPercent.Set(pct)
}

// GetRegistry returns the registry served on /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
