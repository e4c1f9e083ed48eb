package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsRegistry builds the process-wide Prometheus registry with the
// standard Go and process collectors pre-registered. Package recorders
// (HTTP, delivery) register their metrics on it at wiring time.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler exposes a registry in the Prometheus text format, for
// mounting at GET /metrics.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RequestMetrics records HTTP request telemetry. It implements
// MetricsCollector.
//
// Metrics exposed:
//   - <namespace>_http_requests_total{method, endpoint, status}
//   - <namespace>_http_request_duration_seconds{method, endpoint, status}
type RequestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewRequestMetrics registers the HTTP metrics on reg under the given
// namespace. Registering the same metric names twice panics, so build this
// once at startup.
func NewRequestMetrics(namespace string, reg prometheus.Registerer) *RequestMetrics {
	m := &RequestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Completed HTTP requests partitioned by method, endpoint, and status.",
		}, []string{"method", "endpoint", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency from middleware entry to handler return.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// RecordRequest implements MetricsCollector.
func (m *RequestMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.requests.WithLabelValues(method, endpoint, status).Inc()
	m.duration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// Compile-time interface assertion.
var _ MetricsCollector = (*RequestMetrics)(nil)
