// Package metrics provides Prometheus metrics for the face-match acquisition service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsStarted      *prometheus.CounterVec
	sessionsResolved     *prometheus.CounterVec
	sessionTransitions   *prometheus.CounterVec
	sessionProgress      prometheus.Gauge
	staleDiscarded       *prometheus.CounterVec
	decisions            *prometheus.CounterVec
	matchesSurfaced      *prometheus.CounterVec
	duplicatesSuppressed prometheus.Counter

	// Transport
	framesSent         *prometheus.CounterVec
	roundTripLatency   *prometheus.HistogramVec
	transportErrors    *prometheus.CounterVec
	captureErrors      prometheus.Counter
	detailsLookupError prometheus.Counter

	// Terminal event queue and publishers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors prometheus.Counter
	eventsPublished    prometheus.Counter
	publishErrors      prometheus.Counter
	publishRetries     prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// Process
	memoryBytes prometheus.Gauge
	goroutines  prometheus.Gauge
	gcPause     prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// latencyBuckets covers round trips from a fast local stream to a slow request.
var latencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 30000} //nolint:gochecknoglobals // bucket table

// NewManager creates a new metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "facescan",
		subsystem:        "session",
		histogramBuckets: latencyBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.sessionsStarted = m.counterVec("started_total", "Sessions started by transport mode", "mode")
	m.sessionsResolved = m.counterVec("resolved_total", "Sessions resolved by reason", "reason")
	m.sessionTransitions = m.counterVec("transitions_total", "State transitions taken", "from", "to")
	m.sessionProgress = m.gauge("progress_ratio", "Progress of the active session while processing")
	m.staleDiscarded = m.counterVec("stale_discarded_total", "Async completions dropped because their session was no longer active", "kind")
	m.decisions = m.counterVec("decisions_total", "Operator decisions on surfaced matches", "decision")
	m.matchesSurfaced = m.counterVec("matches_surfaced_total", "Matches surfaced to the operator", "mode")
	m.duplicatesSuppressed = m.counter("duplicates_suppressed_total", "Repeat matches suppressed within a session")

	m.framesSent = m.counterVec("frames_sent_total", "Frames sent to the match service", "mode")
	m.roundTripLatency = m.histogramVec("round_trip_milliseconds", "Match service round trip latency in milliseconds", "mode")
	m.transportErrors = m.counterVec("transport_errors_total", "Transport failures by mode and class", "mode", "class")
	m.captureErrors = m.counter("capture_errors_total", "Camera capture failures")
	m.detailsLookupError = m.counter("details_lookup_errors_total", "Case detail lookups that failed")

	m.queueSize = m.gauge("event_queue_size", "Terminal events waiting to be published")
	m.queueCapacity = m.gauge("event_queue_capacity", "Capacity of the terminal event queue")
	m.queueEnqueueErrors = m.counter("event_queue_enqueue_errors_total", "Terminal events rejected by a full or closed queue")
	m.eventsPublished = m.counter("events_published_total", "Terminal events delivered to the publisher")
	m.publishErrors = m.counter("event_publish_errors_total", "Terminal events dropped after exhausting publish retries")
	m.publishRetries = m.counter("event_publish_retries_total", "Publish attempts retried")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.memoryBytes = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.goroutines = m.gauge("system_goroutines", "Live goroutines")
	m.gcPause = m.gauge("system_gc_pause_milliseconds", "Average GC pause in milliseconds")

	m.httpErrors = m.counterVec("http_errors_total", "HTTP error responses by endpoint, type and severity", "endpoint", "method", "error_type", "severity")
}

// RecordSessionStarted counts a new session for mode.
func RecordSessionStarted(mode string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.sessionsStarted.WithLabelValues(mode).Inc()
	}
}

// RecordSessionResolved counts a session reaching resolved for reason.
func RecordSessionResolved(reason string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.sessionsResolved.WithLabelValues(reason).Inc()
	}
}

func RecordTransition(from, to string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.sessionTransitions.WithLabelValues(from, to).Inc()
	}
}

func UpdateSessionProgress(ratio float64) {
	if globalManager != nil && globalManager.enabled {
		globalManager.sessionProgress.Set(ratio)
	}
}

// RecordStaleDiscarded counts a late completion dropped by the controller.
func RecordStaleDiscarded(kind string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.staleDiscarded.WithLabelValues(kind).Inc()
	}
}

func RecordDecision(decision string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.decisions.WithLabelValues(decision).Inc()
	}
}

func RecordMatchSurfaced(mode string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.matchesSurfaced.WithLabelValues(mode).Inc()
	}
}

func RecordDuplicateSuppressed() {
	if globalManager != nil && globalManager.enabled {
		globalManager.duplicatesSuppressed.Inc()
	}
}

func RecordFrameSent(mode string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.framesSent.WithLabelValues(mode).Inc()
	}
}

// RecordRoundTripLatency observes a match service round trip in milliseconds.
func RecordRoundTripLatency(mode string, latencyMs float64) {
	if globalManager != nil && globalManager.enabled {
		globalManager.roundTripLatency.WithLabelValues(mode).Observe(latencyMs)
	}
}

// RecordTransportError counts a transport failure; class is one of
// connect, timeout, match_service, protocol, closed.
func RecordTransportError(mode, class string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.transportErrors.WithLabelValues(mode, class).Inc()
	}
}

func RecordCaptureError() {
	if globalManager != nil && globalManager.enabled {
		globalManager.captureErrors.Inc()
	}
}

func RecordDetailsLookupError() {
	if globalManager != nil && globalManager.enabled {
		globalManager.detailsLookupError.Inc()
	}
}

func UpdateEventQueueSize(size int) {
	if globalManager != nil && globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

func UpdateEventQueueCapacity(capacity int) {
	if globalManager != nil && globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

func RecordEventQueueEnqueueError() {
	if globalManager != nil && globalManager.enabled {
		globalManager.queueEnqueueErrors.Inc()
	}
}

func RecordEventPublished() {
	if globalManager != nil && globalManager.enabled {
		globalManager.eventsPublished.Inc()
	}
}

func RecordEventPublishError() {
	if globalManager != nil && globalManager.enabled {
		globalManager.publishErrors.Inc()
	}
}

func RecordEventPublishRetry() {
	if globalManager != nil && globalManager.enabled {
		globalManager.publishRetries.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager != nil && globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordHTTPError counts an error response.
func RecordHTTPError(endpoint, method, errorType, severity string) {
	if globalManager != nil && globalManager.enabled {
		globalManager.httpErrors.WithLabelValues(endpoint, method, errorType, severity).Inc()
	}
}

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager != nil && globalManager.enabled {
		globalManager.memoryBytes.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(n int) {
	if globalManager != nil && globalManager.enabled {
		globalManager.goroutines.Set(float64(n))
	}
}

// RecordSystemGCPauseTime sets the average GC pause.
func RecordSystemGCPauseTime(ms float64) {
	if globalManager != nil && globalManager.enabled {
		globalManager.gcPause.Set(ms)
	}
}

// GetRegistry returns the custom registry for HTTP exposure.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
