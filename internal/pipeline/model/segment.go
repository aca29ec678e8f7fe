// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// SegmentState is the tagged lifecycle of a segment slot.
type SegmentState string

const (
	// SegmentNone means no segment was ever opened for the key.
	SegmentNone   SegmentState = "NONE"
	SegmentOpen   SegmentState = "OPEN"
	SegmentClosed SegmentState = "CLOSED"
)

// OptoBoundary is an optimizer-adjusted boundary for one audio track.
type OptoBoundary struct {
	OptoStart float64  `json:"optoStart"`
	OptoEnd   *float64 `json:"optoEnd,omitempty"`
}

// Segment is a continuous span of the event timeline reconstructed from chunk results.
type Segment struct {
	Program    string                  `json:"program"`
	Event      string                  `json:"event"`
	Profile    string                  `json:"profile"`
	Track      string                  `json:"track,omitempty"`
	Start      float64                 `json:"start"`
	End        *float64                `json:"end,omitempty"`
	State      SegmentState            `json:"state"`
	Attributes map[string]any          `json:"attributes,omitempty"`
	Opto       map[string]OptoBoundary `json:"opto,omitempty"`
	OpenedBy   string                  `json:"openedBy,omitempty"`
	ClosedBy   string                  `json:"closedBy,omitempty"`
	// Forced is set when the segment was closed by the final chunk rather than a detector.
	Forced    bool      `json:"forced,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is the store version the record was read at; not persisted in the payload.
	Version int64 `json:"-"`
}

// IsOpen reports whether the segment is waiting for its end boundary.
func (s Segment) IsOpen() bool { return s.State == SegmentOpen }

// EndOr returns the end boundary or def if the segment is still open.
func (s Segment) EndOr(def float64) float64 {
	if s.End == nil {
		return def
	}
	return *s.End
}

// Duration is End-Start for closed segments and 0 while open.
func (s Segment) Duration() float64 {
	if s.End == nil {
		return 0
	}
	return *s.End - s.Start
}

// Clone returns a deep copy safe to mutate.
func (s Segment) Clone() Segment {
	cp := s
	if s.End != nil {
		e := *s.End
		cp.End = &e
	}
	if s.Attributes != nil {
		cp.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			cp.Attributes[k] = v
		}
	}
	if s.Opto != nil {
		cp.Opto = make(map[string]OptoBoundary, len(s.Opto))
		for k, v := range s.Opto {
			if v.OptoEnd != nil {
				e := *v.OptoEnd
				v.OptoEnd = &e
			}
			cp.Opto[k] = v
		}
	}
	return cp
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
