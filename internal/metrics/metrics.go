// Package metrics defines the simulator's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation.
type Metrics struct {
	Turns            *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	OpenSessions     prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_turns_total",
			Help: "Simulator turns by operation and outcome",
		}, []string{"op", "outcome"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_exchange_fallbacks_total",
			Help: "Primary exchange failures retried against the legacy service",
		}, []string{"op"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rehearsal_escalations_total",
			Help: "Escalation latches by rule kind",
		}, []string{"kind"}),
		ExchangeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rehearsal_exchange_duration_seconds",
			Help:    "Time spent waiting on the agent-response service",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		OpenSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "rehearsal_open_sessions",
			Help: "Simulator sessions currently held by the server",
		}),
	}
}

// Turn counts a finished turn.
func (m *Metrics) Turn(op, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(op, outcome).Inc()
}

// Fallback counts a retry against the legacy service.
func (m *Metrics) Fallback(op string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(op).Inc()
}

// Escalation counts a latch.
func (m *Metrics) Escalation(kind string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(kind).Inc()
}

// ObserveExchange records an exchange call's latency in seconds.
func (m *Metrics) ObserveExchange(op string, seconds float64) {
	if m == nil {
		return
	}
	m.ExchangeDuration.WithLabelValues(op).Observe(seconds)
}

// SetOpenSessions updates the open sessions gauge.
func (m *Metrics) SetOpenSessions(n int) {
	if m == nil {
		return
	}
	m.OpenSessions.Set(float64(n))
}
