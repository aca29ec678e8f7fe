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
	workflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_chunk_workflows_total",
		Help: "Chunk workflows by profile and result",
	}, []string{"profile", "result"}) // result=success|failed|invalid

	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mre_chunk_workflow_duration_seconds",
		Help:    "Wall time of one chunk workflow including gate waits",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"profile"})

	workflowsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mre_chunk_workflows_in_flight",
		Help: "Chunk workflows currently executing",
	})

	segmentsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_segments_closed_published_total",
		Help: "SEGMENT_CLOSED notifications published by plugin",
	}, []string{"plugin", "forced"})
)

// RecordWorkflow counts a finished chunk workflow and its duration.
func RecordWorkflow(profile, result string, d time.Duration) {
	workflowRuns.WithLabelValues(orUnknown(profile), result).Inc()
	workflowDuration.WithLabelValues(orUnknown(profile)).Observe(d.Seconds())
}

// WorkflowStarted bumps the in-flight gauge and returns its decrement.
func WorkflowStarted() func() {
	workflowsInFlight.Inc()
	return workflowsInFlight.Dec
}

// RecordSegmentPublished counts a SEGMENT_CLOSED notification.
func RecordSegmentPublished(plugin string, forced bool) {
	f := "false"
	if forced {
		f = "true"
	}
	segmentsPublished.WithLabelValues(plugin, f).Inc()
}
