// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scheduleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_schedule_ops_total",
		Help: "Schedule operations by op and result",
	}, []string{"op", "result"}) // op=create|update|delete|fire, result=success|not_found|conflict|error

	scheduleRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_schedule_retries_total",
		Help: "Retried schedule service calls",
	}, []string{"op"})

	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_schedule_sweep_runs_total",
		Help: "Cleanup sweeps by result",
	}, []string{"result"})

	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mre_schedule_sweep_deleted_total",
		Help: "Schedules removed by cleanup sweeps",
	})

	eventTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_event_transitions_total",
		Help: "Event lifecycle transitions by target state",
	}, []string{"to"})

	scheduledEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mre_schedules_pending",
		Help: "Schedules pending after the last sweep",
	})
)

// RecordScheduleOp counts a schedule service call.
func RecordScheduleOp(op, result string) {
	scheduleOps.WithLabelValues(op, result).Inc()
}

// RecordScheduleRetry counts one retried call.
func RecordScheduleRetry(op string) {
	scheduleRetries.WithLabelValues(op).Inc()
}

// RecordSweep records one sweep pass.
func RecordSweep(result string, deleted, pending int) {
	sweepRuns.WithLabelValues(result).Inc()
	sweepDeleted.Add(float64(deleted))
	scheduledEvents.Set(float64(pending))
}

// RecordEventTransition counts an event lifecycle change.
func RecordEventTransition(to string) {
	eventTransitions.WithLabelValues(to).Inc()
}
