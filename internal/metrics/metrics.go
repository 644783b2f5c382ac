// Package metrics exposes Prometheus instrumentation for the polling
// machinery itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espulse_fetch_cycles_total",
			Help: "Total fetch cycles by outcome (success, transient, connectivity, skipped)",
		},
		[]string{"outcome"},
	)

	FetchCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "espulse_fetch_cycle_duration_seconds",
			Help:    "Duration of complete fetch cycles",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espulse_state_transitions_total",
			Help: "Connection state machine transitions by target state",
		},
		[]string{"state"},
	)

	ConnectionDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "espulse_connection_degraded",
			Help: "1 while the active connection is in degraded retry mode",
		},
	)

	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espulse_health_probes_total",
			Help: "Health probes by result (ok, failed)",
		},
		[]string{"result"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espulse_commands_total",
			Help: "Cluster maintenance commands by name and result",
		},
		[]string{"command", "result"},
	)
)

// RecordCycleOutcome counts one finished (or skipped) fetch cycle.
func RecordCycleOutcome(outcome string) {
	FetchCyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a state machine transition.
func RecordTransition(state string) {
	StateTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordProbe counts a health probe result.
func RecordProbe(ok bool) {
	if ok {
		HealthProbesTotal.WithLabelValues("ok").Inc()
	} else {
		HealthProbesTotal.WithLabelValues("failed").Inc()
	}
}

// RecordCommand counts a maintenance command invocation.
func RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CommandsTotal.WithLabelValues(command, result).Inc()
}
