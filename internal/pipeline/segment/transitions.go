// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"fmt"
	"math"

	"github.com/ManuGH/mre/internal/pipeline/model"
)

// Opened builds the record for a segment opened at start by chunk.
func Opened(key Key, start float64, chunk string, attrs map[string]any) model.Segment {
	return model.Segment{
		Program:    key.Program,
		Event:      key.Event,
		Profile:    key.Profile,
		Track:      key.Track,
		Start:      start,
		State:      model.SegmentOpen,
		Attributes: attrs,
		OpenedBy:   chunk,
	}
}

// Closed ends an open segment at end.
func Closed(open model.Segment, end float64, chunk string) (model.Segment, error) {
	if open.State != model.SegmentOpen {
		return model.Segment{}, fmt.Errorf("%w: close from %s", ErrInvalidTransition, open.State)
	}
	if end < open.Start || math.IsNaN(end) {
		return model.Segment{}, fmt.Errorf("%w: end %v before start %v", ErrInvalidTransition, end, open.Start)
	}
	next := open.Clone()
	next.End = model.Float(end)
	next.State = model.SegmentClosed
	next.ClosedBy = chunk
	return next, nil
}

// ForceClosed ends an open segment because the event ran out of chunks.
func ForceClosed(open model.Segment, end float64, chunk string) (model.Segment, error) {
	next, err := Closed(open, end, chunk)
	if err != nil {
		return next, err
	}
	next.Forced = true
	return next, nil
}

// Extended grows the end of a closed segment. Ends never regress.
func Extended(closed model.Segment, end float64) (model.Segment, error) {
	if closed.State != model.SegmentClosed || closed.End == nil {
		return model.Segment{}, fmt.Errorf("%w: extend from %s", ErrInvalidTransition, closed.State)
	}
	if end < *closed.End {
		return model.Segment{}, fmt.Errorf("%w: end regresses from %v to %v", ErrInvalidTransition, *closed.End, end)
	}
	next := closed.Clone()
	next.End = model.Float(end)
	return next, nil
}

type edge int

const (
	edgeOpen edge = iota
	edgeClose
	edgeExtend
)

func (e edge) String() string {
	return [...]string{"open", "close", "extend"}[e]
}

// classify validates expected -> next and names the edge.
func classify(expected *model.Segment, next model.Segment) (edge, error) {
	switch {
	case expected == nil && next.State == model.SegmentOpen:
		if next.End != nil {
			return 0, fmt.Errorf("%w: open segment with end", ErrInvalidTransition)
		}
		return edgeOpen, nil
	case expected != nil && expected.State == model.SegmentOpen && next.State == model.SegmentClosed:
		if next.Start != expected.Start {
			return 0, fmt.Errorf("%w: start changed from %v to %v", ErrInvalidTransition, expected.Start, next.Start)
		}
		if next.End == nil || *next.End < next.Start {
			return 0, fmt.Errorf("%w: closed segment needs end >= start", ErrInvalidTransition)
		}
		return edgeClose, nil
	case expected != nil && expected.State == model.SegmentClosed && next.State == model.SegmentClosed:
		if next.Start != expected.Start {
			return 0, fmt.Errorf("%w: closed start is immutable", ErrInvalidTransition)
		}
		if next.End == nil || expected.End == nil || *next.End < *expected.End {
			return 0, fmt.Errorf("%w: end may only grow", ErrInvalidTransition)
		}
		return edgeExtend, nil
	}
	from := model.SegmentNone
	if expected != nil {
		from = expected.State
	}
	return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next.State)
}
