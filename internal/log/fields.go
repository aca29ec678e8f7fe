// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldProgram       = "program"
	FieldEvent         = "event"
	FieldProfile       = "profile"
	FieldTrack         = "track"
	FieldChunk         = "chunk"
	FieldPlugin        = "plugin"
	FieldPluginClass   = "plugin_class"
	FieldSchedule      = "schedule"
	FieldExecutionID   = "execution_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Process fields
	FieldComponent = "component"
	FieldOperation = "op"

	// Timeline fields
	FieldStart  = "start"
	FieldEnd    = "end"
	FieldOffset = "offset"
	FieldFireAt = "fire_at"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"
)
