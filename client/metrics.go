package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeSuccess      = "success"
	outcomeSubscription = "subscription_required"
	outcomeAuthRequired = "auth_required"
	outcomeError        = "error"
	outcomeCancelled    = "cancelled"
)

// Metrics counts client operations.
type Metrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	connectAttempts prometheus.Counter
	queueDepth      prometheus.Gauge
}

// NewMetrics creates the client metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "anonvpn",
				Name:      "client_operations_total",
				Help:      "Client operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "anonvpn",
				Name:      "client_operation_duration_seconds",
				Help:      "Time spent running client operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "anonvpn",
				Name:      "connect_attempts_total",
				Help:      "Engine connect calls, retries included",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "anonvpn",
				Name:      "client_queue_depth",
				Help:      "Operations waiting for the worker",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.connectAttempts, m.queueDepth)
	}
	return m
}

func (m *Metrics) observe(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
