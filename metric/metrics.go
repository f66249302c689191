package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all shopcore platform metrics
type Metrics struct {
	// Upstream integration metrics
	UpstreamAttempts   *prometheus.CounterVec
	UpstreamFailures   *prometheus.CounterVec
	UpstreamRetries    *prometheus.CounterVec
	UpstreamCoalesced  prometheus.Counter
	UpstreamRelayUsed  *prometheus.CounterVec
	UpstreamDuration   *prometheus.HistogramVec
	UpstreamInFlight   prometheus.Gauge

	// Payment gateway metrics
	PaymentCalls    *prometheus.CounterVec
	PaymentDuration *prometheus.HistogramVec

	// Checkout reconciliation metrics
	CheckoutOutcomes     *prometheus.CounterVec
	CheckoutAmountSource *prometheus.CounterVec

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		UpstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "attempts_total",
				Help:      "Physical upstream call attempts",
			},
			[]string{"method"},
		),

		UpstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "failures_total",
				Help:      "Upstream call failures by failure kind",
			},
			[]string{"method", "kind"},
		),

		UpstreamRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "retries_total",
				Help:      "Retry attempts beyond the first upstream call",
			},
			[]string{"method"},
		),

		UpstreamCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "coalesced_total",
				Help:      "Logical calls served by an already in-flight physical call",
			},
		),

		UpstreamRelayUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "relay_fallbacks_total",
				Help:      "Escalations through the relay path by outcome",
			},
			[]string{"outcome"},
		),

		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "duration_seconds",
				Help:      "Logical upstream call duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		UpstreamInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "shopcore",
				Subsystem: "upstream",
				Name:      "in_flight",
				Help:      "Logical upstream calls currently in flight",
			},
		),

		PaymentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "payment",
				Name:      "calls_total",
				Help:      "Payment gateway calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		PaymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shopcore",
				Subsystem: "payment",
				Name:      "duration_seconds",
				Help:      "Payment gateway call duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CheckoutOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "checkout",
				Name:      "outcomes_total",
				Help:      "Terminal checkout states by result and reason",
			},
			[]string{"result", "reason"},
		),

		CheckoutAmountSource: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopcore",
				Subsystem: "checkout",
				Name:      "amount_source_total",
				Help:      "Where the verification amount was recovered from (stash, cookie, query, derived)",
			},
			[]string{"source"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shopcore",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),
	}
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UpstreamAttempts,
		m.UpstreamFailures,
		m.UpstreamRetries,
		m.UpstreamCoalesced,
		m.UpstreamRelayUsed,
		m.UpstreamDuration,
		m.UpstreamInFlight,
		m.PaymentCalls,
		m.PaymentDuration,
		m.CheckoutOutcomes,
		m.CheckoutAmountSource,
		m.HealthCheckStatus,
	}
}
