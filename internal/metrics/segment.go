// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_segment_transitions_total",
		Help: "Segment state transitions by plugin and edge",
	}, []string{"plugin", "from", "to"})

	segmentConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_segment_cas_conflicts_total",
		Help: "Segment updates rejected because the expected state was stale",
	}, []string{"plugin"})

	orderingAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_chunk_ordering_anomalies_total",
		Help: "Chunks observed at or behind the newest processed offset of their event profile",
	}, []string{"profile"})

	pluginResultsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_plugin_results_saved_total",
		Help: "Plugin result rows persisted",
	}, []string{"plugin"})
)

// RecordSegmentTransition counts one accepted state change.
func RecordSegmentTransition(plugin, from, to string) {
	segmentTransitions.WithLabelValues(plugin, from, to).Inc()
}

// RecordSegmentConflict counts a lost compare-and-set.
func RecordSegmentConflict(plugin string) {
	segmentConflicts.WithLabelValues(plugin).Inc()
}

// RecordOrderingAnomaly counts an out-of-order chunk.
func RecordOrderingAnomaly(profile string) {
	orderingAnomalies.WithLabelValues(profile).Inc()
}

// AddPluginResults counts persisted result rows.
func AddPluginResults(plugin string, n int) {
	pluginResultsSaved.WithLabelValues(plugin).Add(float64(n))
}
