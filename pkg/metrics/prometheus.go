// Package metrics provides Prometheus metrics for the trip proxy.
package metrics

import (
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream fetch outcomes used as the "outcome" label.
const (
	OutcomeOK             = "ok"
	OutcomeTransportError = "transport_error"
	OutcomeBadStatus      = "bad_status"
	OutcomeDecodeError    = "decode_error"
	OutcomeTooLarge       = "too_large"
	OutcomeCircuitOpen    = "circuit_open"
)

// Manager manages all Prometheus metrics for the proxy.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Upstream Metrics - the one dependency that matters
	upstreamFetches        *prometheus.CounterVec
	upstreamFetchLatency   prometheus.Histogram
	upstreamRecords        prometheus.Gauge
	upstreamBodyBytes      prometheus.Gauge
	breakerState           prometheus.Gauge
	breakerTransitions     *prometheus.CounterVec
	pipelineOperations     *prometheus.CounterVec
	pipelineLatency        *prometheus.HistogramVec
	pipelineRejectedInputs *prometheus.CounterVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByType     *prometheus.CounterVec
	errorRateByEndpoint *prometheus.CounterVec
	errorLatency        *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// global pairs the package-level manager with the registry it writes to.
type global struct {
	manager  *Manager
	registry *prometheus.Registry
}

// current is swapped by Configure and read by the package-level helpers.
var current atomic.Pointer[global] //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	Configure()
}

// Configure replaces the global manager with one built from opts on a fresh
// custom registry, so default Go metrics stay out of /metrics. Call it before
// building the /metrics handler.
func Configure(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	m := NewManager(append(slices.Clone(opts), WithPrometheusRegistry(reg))...)
	current.Store(&global{manager: m, registry: reg})
	return m
}

func globalManager() *Manager { return current.Load().manager }

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tripproxy",
		subsystem:        "proxy",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	// HTTP Performance Metrics - User experience indicators
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds (user experience)",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Upstream Metrics
	m.upstreamFetches = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("upstream_fetches_total"),
			Help:        "Total number of upstream fetches by outcome",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	m.upstreamFetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_fetch_latency_milliseconds"),
		Help:        "Upstream fetch latency in milliseconds, retries included",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.upstreamRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_records"),
		Help:        "Number of records in the most recent successful upstream payload",
		ConstLabels: labels,
	})

	m.upstreamBodyBytes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_body_bytes"),
		Help:        "Size in bytes of the most recent upstream payload",
		ConstLabels: labels,
	})

	m.breakerState = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("upstream_breaker_state"),
		Help:        "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})

	m.breakerTransitions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("upstream_breaker_transitions_total"),
			Help:        "Upstream circuit breaker state transitions",
			ConstLabels: labels,
		},
		[]string{"from", "to"},
	)

	// Pipeline Metrics
	m.pipelineOperations = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("pipeline_operations_total"),
			Help:        "Total number of pipeline transformations applied by operation",
			ConstLabels: labels,
		},
		[]string{"op"},
	)

	m.pipelineLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("pipeline_latency_milliseconds"),
			Help:        "Pipeline transformation latency in milliseconds by operation",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100},
			ConstLabels: labels,
		},
		[]string{"op"},
	)

	m.pipelineRejectedInputs = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("pipeline_rejected_inputs_total"),
			Help:        "Requests rejected before fetching because of invalid pipeline input",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)

	// Enhanced Error Metrics - Detailed error tracking
	m.errorRateByType = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_type_total"),
			Help:        "Total number of errors by type and severity",
			ConstLabels: labels,
		},
		[]string{"error_type", "severity"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("errors_by_endpoint_total"),
			Help:        "Total number of errors by endpoint",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.errorLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("error_latency_milliseconds"),
			Help:        "Latency of requests that ended in an error, in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: labels,
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_memory_usage_bytes"),
		Help:        "System memory usage in bytes",
		ConstLabels: labels,
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_goroutine_count"),
		Help:        "Number of goroutines",
		ConstLabels: labels,
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: labels,
	})
}

// RecordHTTPRequest records an HTTP request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordUpstreamFetch records one upstream fetch and its outcome.
func (m *Manager) RecordUpstreamFetch(outcome string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.upstreamFetches.WithLabelValues(outcome).Inc()
	m.upstreamFetchLatency.Observe(latencyMs)
}

// UpdateUpstreamPayload records the size of the latest successful payload.
func (m *Manager) UpdateUpstreamPayload(records int, bodyBytes int) {
	if !m.enabled {
		return
	}
	m.upstreamRecords.Set(float64(records))
	m.upstreamBodyBytes.Set(float64(bodyBytes))
}

// RecordBreakerTransition records a breaker state change; state follows gobreaker's numbering.
func (m *Manager) RecordBreakerTransition(from, to string, state int) {
	if !m.enabled {
		return
	}
	m.breakerTransitions.WithLabelValues(from, to).Inc()
	m.breakerState.Set(float64(state))
}

// RecordPipelineOperation records one sort or paginate step.
func (m *Manager) RecordPipelineOperation(op string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.pipelineOperations.WithLabelValues(op).Inc()
	m.pipelineLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordPipelineRejected records a request rejected before fetching.
func (m *Manager) RecordPipelineRejected(reason string) {
	if !m.enabled {
		return
	}
	m.pipelineRejectedInputs.WithLabelValues(reason).Inc()
}

// RecordError records error metrics for an endpoint.
func (m *Manager) RecordError(endpoint, method, errorType, severity string, latencyMs float64) {
	if !m.enabled {
		return
	}
	m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	m.errorRateByType.WithLabelValues(errorType, severity).Inc()
	m.errorLatency.WithLabelValues("http", errorType).Observe(latencyMs)
}

// UpdateSystem records runtime gauges.
func (m *Manager) UpdateSystem(memoryBytes uint64, goroutines int) {
	if !m.enabled {
		return
	}
	m.systemMemoryUsage.Set(float64(memoryBytes))
	m.systemGoroutineCount.Set(float64(goroutines))
}

// RecordGCPause records an average GC pause in milliseconds.
func (m *Manager) RecordGCPause(pauseMs float64) {
	if !m.enabled {
		return
	}
	m.systemGCPauseTime.Observe(pauseMs)
}

// Package-level helpers operate on the global manager.

// RecordHTTPRequest records an HTTP request on the global manager.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager().RecordHTTPRequest(endpoint, method, statusCode, durationMs)
}

// RecordUpstreamFetch records an upstream fetch on the global manager.
func RecordUpstreamFetch(outcome string, latencyMs float64) {
	globalManager().RecordUpstreamFetch(outcome, latencyMs)
}

// UpdateUpstreamPayload records payload size on the global manager.
func UpdateUpstreamPayload(records int, bodyBytes int) {
	globalManager().UpdateUpstreamPayload(records, bodyBytes)
}

// RecordBreakerTransition records a breaker transition on the global manager.
func RecordBreakerTransition(from, to string, state int) {
	globalManager().RecordBreakerTransition(from, to, state)
}

// RecordPipelineOperation records a pipeline step on the global manager.
func RecordPipelineOperation(op string, latencyMs float64) {
	globalManager().RecordPipelineOperation(op, latencyMs)
}

// RecordPipelineRejected records a rejected request on the global manager.
func RecordPipelineRejected(reason string) {
	globalManager().RecordPipelineRejected(reason)
}

// RecordError records error metrics on the global manager.
func RecordError(endpoint, method, errorType, severity string, latencyMs float64) {
	globalManager().RecordError(endpoint, method, errorType, severity, latencyMs)
}

// UpdateSystem records runtime gauges on the global manager.
func UpdateSystem(memoryBytes uint64, goroutines int) {
	globalManager().UpdateSystem(memoryBytes, goroutines)
}

// RecordGCPause records a GC pause on the global manager.
func RecordGCPause(pauseMs float64) {
	globalManager().RecordGCPause(pauseMs)
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return current.Load().registry
}
