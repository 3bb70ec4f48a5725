package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for shipping operations.
type Metrics struct {
	reg prometheus.Gatherer

	Transitions     *prometheus.CounterVec
	CarrierCalls    *prometheus.CounterVec
	CarrierDuration *prometheus.HistogramVec
	Reconciliations *prometheus.CounterVec
	PollerCycles    prometheus.Counter
}

// NewMetrics registers collectors on reg. A nil reg gets a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbox_status_transitions_total",
				Help: "Order status transitions by source and target status",
			},
			[]string{"from", "to"},
		),
		CarrierCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbox_carrier_calls_total",
				Help: "Carrier calls by carrier, operation and outcome",
			},
			[]string{"carrier", "operation", "outcome"},
		),
		CarrierDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipbox_carrier_call_duration_seconds",
				Help:    "Carrier call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"carrier", "operation"},
		),
		Reconciliations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbox_reconciliations_total",
				Help: "Tracking updates by outcome (advanced, appended, duplicate, rejected, failed)",
			},
			[]string{"outcome"},
		),
		PollerCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "shipbox_poller_cycles_total",
			Help: "Completed poller cycles",
		}),
	}
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordCarrierCall(carrier, operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CarrierCalls.WithLabelValues(carrier, operation, outcome).Inc()
	m.CarrierDuration.WithLabelValues(carrier, operation).Observe(seconds)
}

func (m *Metrics) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPollerCycle() {
	if m == nil {
		return
	}
	m.PollerCycles.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
