// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/google/uuid"
)

// Detail types.
const (
	TypeChunkIngested     = "CHUNK_INGESTED"
	TypeLiveEventStart    = string(model.LiveEventStart)
	TypeLiveEventEnd      = string(model.LiveEventEnd)
	TypeVODEventEnd       = string(model.VODEventEnd)
	TypeLiveEventComplete = string(model.LiveEventComplete)
	TypeVODEventComplete  = string(model.VODEventComplete)
	TypeWorkflowFailed    = model.WorkflowFailedType
	TypeSegmentClosed     = "SEGMENT_CLOSED"
)

// Sources.
const (
	SourceScheduler   = "mre.scheduler"
	SourceWorkflow    = "mre.workflow"
	SourceCoordinator = "mre.coordinator"
	SourceIngest      = "mre.ingest"
)

// Event is the envelope every published message travels in.
type Event struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detailType"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
}

// LifecycleDetail accompanies event start/end/complete notifications.
type LifecycleDetail struct {
	Program     string           `json:"program"`
	Event       string           `json:"event"`
	State       model.EventState `json:"state"`
	Schedule    string           `json:"schedule,omitempty"`
	Channel     string           `json:"channel,omitempty"`
	StopChannel bool             `json:"stopChannel,omitempty"`
}

// WorkflowFailedDetail locates a failed chunk workflow.
type WorkflowFailedDetail struct {
	Program string `json:"program"`
	Event   string `json:"event"`
	Chunk   string `json:"chunk"`
	Plugin  string `json:"plugin,omitempty"`
	Class   string `json:"class,omitempty"`
	Reason  string `json:"reason"`
}

// SegmentClosedDetail announces a completed segment.
type SegmentClosedDetail struct {
	Program string        `json:"program"`
	Event   string        `json:"event"`
	Plugin  string        `json:"plugin"`
	Segment model.Segment `json:"segment"`
}

// NewEvent wraps detail in an envelope with a fresh ID.
func NewEvent(source, detailType string, detail any, now time.Time) (Event, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Event{}, fmt.Errorf("bus: encode %s detail: %w", detailType, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Detail:     raw,
		Time:       now.UTC(),
	}, nil
}

// PublishEvent builds and publishes an event on the topic named by its detail type.
func PublishEvent(ctx context.Context, b Bus, source, detailType string, detail any, now time.Time) error {
	ev, err := NewEvent(source, detailType, detail, now)
	if err != nil {
		return err
	}
	return b.Publish(ctx, detailType, ev)
}

// DecodeDetail unmarshals the event detail into T.
func DecodeDetail[T any](ev Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Detail, &v); err != nil {
		return v, fmt.Errorf("bus: decode %s detail: %w", ev.DetailType, err)
	}
	return v, nil
}
