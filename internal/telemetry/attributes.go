// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the engine.
const (
	ProgramKey     = "mre.program"
	EventKey       = "mre.event"
	ProfileKey     = "mre.profile"
	ChunkKey       = "mre.chunk"
	ChunkStartKey  = "mre.chunk.start"
	PluginKey      = "mre.plugin"
	PluginClassKey = "mre.plugin.class"
	ScheduleKey    = "mre.schedule"
	SegmentKey     = "mre.segment.start"
	OutcomeKey     = "mre.outcome"

	ErrorTypeKey = "error.type"
)

// ChunkAttributes identifies a chunk on the event timeline.
func ChunkAttributes(program, event, chunk string, start float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProgramKey, program),
		attribute.String(EventKey, event),
		attribute.String(ChunkKey, chunk),
		attribute.Float64(ChunkStartKey, start),
	}
}

// PluginAttributes names the plugin (and class, when multi-chunk).
func PluginAttributes(plugin, class string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(PluginKey, plugin)}
	if class != "" {
		attrs = append(attrs, attribute.String(PluginClassKey, class))
	}
	return attrs
}

// ScheduleAttributes names a lifecycle schedule.
func ScheduleAttributes(program, event, schedule string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProgramKey, program),
		attribute.String(EventKey, event),
		attribute.String(ScheduleKey, schedule),
	}
}
