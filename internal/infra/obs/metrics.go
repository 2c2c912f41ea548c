package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "petadopt"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently open realtime connections",
		},
	)

	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Client events received, by type",
		},
		[]string{"type"},
	)

	RealtimeAuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "auth_failures_total",
			Help:      "Rejected realtime handshakes",
		},
		[]string{"reason"},
	)

	RealtimeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "slow_consumers_total",
			Help:      "Connections closed because their send queue was full",
		},
	)

	ChatSendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "send_failures_total",
			Help:      "Failed message sends, by transport and reason",
		},
		[]string{"transport", "reason"},
	)

	OutboxPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Outbox publish attempts, by topic and status",
		},
		[]string{"topic", "status"},
	)
)

// OutboxMetrics records outbox publish attempts.
type OutboxMetrics struct{}

func (OutboxMetrics) ObservePublish(topic string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OutboxPublishTotal.WithLabelValues(topic, status).Inc()
}
