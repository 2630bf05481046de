package flow

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stateTransitions counts applied state changes.
	// Labels: from, to
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "state_transitions_total",
		Help:      "Total conversation state transitions",
	}, []string{"from", "to"})

	emergencyOverrides = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "emergency_overrides_total",
		Help:      "Total messages that triggered the emergency override",
	})

	// invariantViolations counts defects caught at runtime.
	// Labels: invariant (transition_legality, unit_range)
	invariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "invariant_violations_total",
		Help:      "Total internal invariant violations detected and contained",
	}, []string{"invariant"})

	activeFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convoflow",
		Name:      "active_flows",
		Help:      "Number of conversation flows held in memory",
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "convoflow",
		Name:      "process_duration_seconds",
		Help:      "Time spent processing one message",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
)

// reportInvariant logs and counts an internal defect.
func reportInvariant(invariant string, attrs ...any) {
	invariantViolations.WithLabelValues(invariant).Inc()
	slog.Error("flow invariant violated", append([]any{"invariant", invariant}, attrs...)...)
}

// checkUnit clamps v into [0,1], reporting a violation if it was outside.
func checkUnit(name string, v float64) float64 {
	c := clamp01(v)
	if c != v {
		reportInvariant("unit_range", "field", name, "value", v)
	}
	return c
}
