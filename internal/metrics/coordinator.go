// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_gate_decisions_total",
		Help: "Completion gate decisions by plugin class and outcome",
	}, []string{"class", "outcome"}) // outcome=granted|blocked

	gateWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mre_gate_wait_seconds",
		Help:    "Time spent waiting for earlier chunks to complete",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"class"})

	tokenUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_completion_token_updates_total",
		Help: "Completion token writes by class and status",
	}, []string{"class", "status"})
)

// RecordGateDecision counts a gate outcome.
func RecordGateDecision(class, outcome string) {
	gateDecisions.WithLabelValues(class, outcome).Inc()
}

// ObserveGateWait records how long a gated workflow waited.
func ObserveGateWait(class string, d time.Duration) {
	gateWait.WithLabelValues(class).Observe(d.Seconds())
}

// RecordTokenUpdate counts a token status write.
func RecordTokenUpdate(class, status string) {
	tokenUpdates.WithLabelValues(class, status).Inc()
}
