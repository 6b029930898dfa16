// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the proctoring engine:
// - observation ingest volume and drop causes
// - accepted violations by category and severity
// - session risk level and lifecycle state
// - terminations by reason
// - sink delivery outcomes

var (
	// ObservationsTotal counts every observation handed to the aggregator.
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_observations_total",
			Help: "Total observations ingested, by detector category",
		},
		[]string{"category"},
	)

	// ObservationsDropped counts observations that did not produce a stored
	// violation, by cause (malformed, nominal, debounced, cap_reached,
	// burst, cooldown).
	ObservationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_observations_dropped_total",
			Help: "Observations that produced no stored violation, by drop cause",
		},
		[]string{"category", "cause"},
	)

	// ViolationsTotal counts accepted violations.
	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Accepted violations, by category and severity",
		},
		[]string{"category", "severity"},
	)

	// RiskLevel exposes the current risk level as an ordinal gauge
	// (0=low, 1=medium, 2=high, 3=critical).
	RiskLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_risk_level",
			Help: "Current session risk level (0=low 1=medium 2=high 3=critical)",
		},
	)

	// SessionState exposes the lifecycle state as a one-hot gauge vector.
	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_session_state",
			Help: "Session lifecycle state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// TerminationsTotal counts session terminations by reason.
	TerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_terminations_total",
			Help: "Session terminations, by termination reason",
		},
		[]string{"reason"},
	)

	// AdapterAvailable exposes adapter attachment state.
	AdapterAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctor_adapter_available",
			Help: "Whether a detector adapter is attached (1) or degraded (0)",
		},
		[]string{"adapter"},
	)

	// SinkDeliveries counts event-sink delivery attempts.
	SinkDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_sink_deliveries_total",
			Help: "Event sink delivery attempts, by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)
)

// riskOrdinal maps the four-point risk scale onto the gauge.
var riskOrdinal = map[string]float64{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

// SetRiskLevel updates the risk gauge from a risk level string.
func SetRiskLevel(level string) {
	if v, ok := riskOrdinal[level]; ok {
		RiskLevel.Set(v)
	}
}

// SetSessionState flips the one-hot session state gauge.
func SetSessionState(state string) {
	for _, s := range []string{"uninitialized", "active", "stopped", "terminated"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		SessionState.WithLabelValues(s).Set(v)
	}
}
