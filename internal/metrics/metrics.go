// Package metrics exposes Prometheus collectors for the session core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tjfontaine/televisit/internal/core/domain"
)

type Metrics struct {
	probes       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	joins        *prometheus.CounterVec
	engineEvents *prometheus.CounterVec
	feedback     *prometheus.CounterVec
	activeCalls  prometheus.Gauge
	audioLevel   prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "televisit_capability_probes_total",
			Help: "Capability probes resolved, partitioned by capability, state and cause",
		}, []string{"capability", "state", "cause"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "televisit_call_transitions_total",
			Help: "Call state transitions, partitioned by source and target state",
		}, []string{"from", "to"}),
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "televisit_join_attempts_total",
			Help: "Join attempts, partitioned by override and result",
		}, []string{"override", "result"}),
		engineEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "televisit_engine_events_total",
			Help: "Conference engine events received, partitioned by type",
		}, []string{"type"}),
		feedback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "televisit_feedback_total",
			Help: "Feedback outcomes: delivered, skipped, queued or redelivered",
		}, []string{"outcome"}),
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "televisit_active_calls",
			Help: "Sessions currently connecting or in a call",
		}),
		audioLevel: f.NewGauge(prometheus.GaugeOpts{
			Name: "televisit_microphone_level",
			Help: "Most recent normalized microphone level (0-100)",
		}),
	}
}

func (m *Metrics) ProbeResolved(test domain.CapabilityTest) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(string(test.Kind), string(test.State), string(test.Cause)).Inc()
}

func (m *Metrics) Transition(from, to domain.CallState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
	switch {
	case from == domain.CallPreview && to == domain.CallConnecting:
		m.activeCalls.Inc()
	case to == domain.CallEnding:
		m.activeCalls.Dec()
	}
}

func (m *Metrics) JoinAttempt(override domain.Override, result string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(string(override), result).Inc()
}

func (m *Metrics) EngineEvent(t domain.EngineEventType) {
	if m == nil {
		return
	}
	m.engineEvents.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) Feedback(outcome string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AudioLevel(level int) {
	if m == nil {
		return
	}
	m.audioLevel.Set(float64(level))
}
