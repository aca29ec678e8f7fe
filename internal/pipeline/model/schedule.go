// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// EventState is the lifecycle of an event as driven by the scheduler.
type EventState string

const (
	EventNone          EventState = "NONE"
	LiveEventStart     EventState = "LIVE_EVENT_START"
	LiveEventEnd       EventState = "LIVE_EVENT_END"
	VODEventEnd        EventState = "VOD_EVENT_END"
	LiveEventComplete  EventState = "LIVE_EVENT_COMPLETE"
	VODEventComplete   EventState = "VOD_EVENT_COMPLETE"
	WorkflowFailedType            = "WORKFLOW_FAILED"
)

// IsTerminal returns true if the event lifecycle is finished.
func (s EventState) IsTerminal() bool {
	switch s {
	case LiveEventComplete, VODEventComplete:
		return true
	}
	return false
}

// EventRecord is the scheduler's view of a registered event.
type EventRecord struct {
	Program              string     `json:"program"`
	Name                 string     `json:"name"`
	IsVOD                bool       `json:"isVod"`
	StartTime            time.Time  `json:"startTime"`
	BootstrapMinutes     int        `json:"bootstrapMinutes"`
	DurationMinutes      int        `json:"durationMinutes"`
	Channel              string     `json:"channel,omitempty"`
	StopChannel          bool       `json:"stopChannel,omitempty"`
	State                EventState `json:"state"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	Schedules            []string   `json:"schedules,omitempty"`
	LastTransitionReason string     `json:"lastTransitionReason,omitempty"`

	Version int64 `json:"-"`
}

// Schedule is a one-shot, wall-clock anchored trigger for an event transition.
type Schedule struct {
	Name                 string     `json:"name"`
	EventName            string     `json:"eventName"`
	ProgramName          string     `json:"programName"`
	Transition           EventState `json:"transition"`
	EventStartTime       time.Time  `json:"eventStartTime"`
	IsVODEvent           bool       `json:"isVodEvent"`
	BootstrapMinutes     int        `json:"bootstrapMinutes"`
	EventDurationMinutes int        `json:"eventDurationMinutes"`
	TargetResourceARN    string     `json:"targetResourceArn,omitempty"`
	StopChannel          bool       `json:"stopChannel,omitempty"`
}
