package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts flip state machine transitions by target state.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_engine_transitions_total",
			Help: "Total number of position state transitions",
		},
		[]string{"symbol", "to"},
	)

	// FillsApplied counts executions applied to local state.
	FillsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_engine_fills_applied_total",
			Help: "Total number of fills applied to positions",
		},
		[]string{"symbol"},
	)

	// SignalsDropped counts signals discarded without producing an order:
	// risk denials, superseded queue entries, and stopped-symbol drops.
	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_engine_signals_dropped_total",
			Help: "Total number of strategy signals dropped",
		},
		[]string{"symbol", "reason"},
	)

	// Divergences counts reconciliation corrections that flagged a
	// local/remote mismatch.
	Divergences = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipper_engine_divergences_total",
			Help: "Total number of divergences surfaced by reconciliation",
		},
		[]string{"symbol", "kind"},
	)

	// OpenPositions tracks symbols currently holding settled exposure.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flipper_engine_open_positions",
		Help: "Number of symbols with an open position",
	})
)
