// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers guard calls to external collaborators, today the schedule
// service. The dependency label is the breaker name.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mre_dependency_breaker_state",
		Help: "Breaker state per guarded dependency; the active state is 1",
	}, []string{"dependency", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_dependency_breaker_trips_total",
		Help: "Times a dependency breaker opened, by cause",
	}, []string{"dependency", "reason"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_dependency_breaker_rejected_total",
		Help: "Calls refused without reaching the dependency because its breaker was open",
	}, []string{"dependency"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

// SetBreakerState marks state as the dependency's only active breaker state.
func SetBreakerState(dependency, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(dependency, s).Set(v)
	}
}

func RecordBreakerTrip(dependency, reason string) {
	breakerTrips.WithLabelValues(dependency, reason).Inc()
}

func RecordBreakerRejected(dependency string) {
	breakerRejected.WithLabelValues(dependency).Inc()
}
