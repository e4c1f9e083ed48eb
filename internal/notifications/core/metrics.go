package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"finpulse/internal/types"
)

// Compile-time assertions.
var (
	_ NotificationMetrics = (*PrometheusMetrics)(nil)
	_ NotificationMetrics = (*NoopMetrics)(nil)
)

// PrometheusMetrics implements NotificationMetrics on a Prometheus registry.
//
// Metrics exposed:
//   - finpulse_notification_deliveries_total{channel, result}
//   - finpulse_notification_delivery_seconds{channel}
//   - finpulse_notification_queue_lag_seconds
type PrometheusMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueLag   prometheus.Histogram
}

// NewPrometheusMetrics registers the delivery metrics on reg. Registering
// the same metric names twice panics, so build this once at startup.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_notification_deliveries_total",
			Help: "Delivery attempts partitioned by channel and result.",
		}, []string{"channel", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finpulse_notification_delivery_seconds",
			Help:    "Duration of a single delivery attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "finpulse_notification_queue_lag_seconds",
			Help: "Time between job enqueue and the start of its delivery attempt.",
			// Lag spans milliseconds (idle queue) to hours (quiet-hours deferral).
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 7200, 28800},
		}),
	}

	reg.MustRegister(m.deliveries, m.latency, m.queueLag)
	return m
}

func (m *PrometheusMetrics) RecordDelivery(_ context.Context, channel types.ChannelType, result MetricResult) {
	m.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, channel types.ChannelType, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.queueLag.Observe(lag.Seconds())
}

// NoopMetrics discards every observation. Used by CLI tools and in tests
// where no registry exists.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult) {}
func (NoopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                   {}
