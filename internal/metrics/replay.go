// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	replaySegmentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_replay_segments_dropped_total",
		Help: "Selected segments with no matching source segment",
	}, []string{"reason"})

	replayAssembled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_replay_assembled_total",
		Help: "Replay documents assembled by selection mode",
	}, []string{"mode"})

	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mre_exports_total",
		Help: "Export documents written by sink and result",
	}, []string{"sink", "result"})
)

// RecordReplayDrop counts one dropped segment.
func RecordReplayDrop(reason string) {
	replaySegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordReplayAssembled counts a finished replay.
func RecordReplayAssembled(mode string) {
	replayAssembled.WithLabelValues(mode).Inc()
}

// RecordExport counts one sink write.
func RecordExport(sink, result string) {
	exportsTotal.WithLabelValues(sink, result).Inc()
}
