// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package replay turns finalized segments into replay documents: it selects
// segments by feature weights or a duration budget, matches the selection
// back to the source segments and writes the result to an export sink.
package replay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ManuGH/mre/internal/pipeline/model"
)

// Mode picks the selection strategy.
type Mode string

const (
	ModeFeature  Mode = "feature"
	ModeDuration Mode = "duration"
)

var ErrInvalidRequest = errors.New("invalid replay request")

// Request describes one replay.
type Request struct {
	Name    string `json:"name"`
	Program string `json:"program"`
	Event   string `json:"event"`
	Profile string `json:"profile"`
	// Plugin is the segmenter whose segments are replayed.
	Plugin string `json:"plugin"`
	Mode   Mode   `json:"mode"`
	// Weights scores each feature present on a segment.
	Weights map[string]float64 `json:"weights"`
	// MinScore is the inclusion threshold in feature mode.
	MinScore float64 `json:"minScore"`
	// TargetDuration is the budget in seconds for duration mode.
	TargetDuration float64 `json:"targetDuration"`
	// Track selects per-track optimized boundaries when set.
	Track string `json:"track,omitempty"`
}

func (r Request) Validate() error {
	var errs []error
	if r.Program == "" || r.Event == "" {
		errs = append(errs, errors.New("program and event are required"))
	}
	switch r.Mode {
	case ModeFeature:
	case ModeDuration:
		if r.TargetDuration <= 0 {
			errs = append(errs, errors.New("duration mode needs targetDuration > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", r.Mode))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Result is one selected replay entry. Start is the boundary the replay
// uses: the track's optimized start when the request names a track.
// SegmentStart is the canonical start of the source segment when known.
type Result struct {
	Start        float64  `json:"start"`
	End          float64  `json:"end"`
	SegmentStart *float64 `json:"segmentStart,omitempty"`
	Score    float64  `json:"score"`
	Features []string `json:"features,omitempty"`
}

// Features lists the weighted features present on a segment, sorted.
func Features(seg model.Segment, weights map[string]float64) []string {
	var out []string
	for name := range weights {
		if truthy(seg.Attributes[name]) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Score sums the weights of the features present on a segment.
func Score(seg model.Segment, weights map[string]float64) float64 {
	total := 0.0
	for _, f := range Features(seg, weights) {
		total += weights[f]
	}
	return total
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false"
	case float64:
		return x != 0
	case int:
		return x != 0
	}
	return true
}

// Select picks closed segments per the request and returns them in
// chronological order. Feature mode keeps every segment scoring at least
// MinScore; duration mode takes the highest scores first (earlier wins
// ties) while they fit in TargetDuration.
func Select(segments []model.Segment, req Request) ([]Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	candidates := make([]Result, 0, len(segments))
	for _, seg := range segments {
		if seg.State != model.SegmentClosed || seg.End == nil {
			continue
		}
		start, end := seg.Start, *seg.End
		if o, ok := seg.Opto[req.Track]; ok && req.Track != "" {
			start = o.OptoStart
			if o.OptoEnd != nil {
				end = *o.OptoEnd
			}
		}
		candidates = append(candidates, Result{
			Start:        start,
			End:          end,
			SegmentStart: model.Float(seg.Start),
			Score:    Score(seg, req.Weights),
			Features: Features(seg, req.Weights),
		})
	}

	var picked []Result
	switch req.Mode {
	case ModeFeature:
		for _, c := range candidates {
			if c.Score >= req.MinScore {
				picked = append(picked, c)
			}
		}
	case ModeDuration:
		ranked := append([]Result(nil), candidates...)
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].Start < ranked[j].Start
		})
		budget := req.TargetDuration
		for _, c := range ranked {
			d := c.End - c.Start
			if d > budget {
				continue
			}
			picked = append(picked, c)
			budget -= d
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Start != picked[j].Start {
			return picked[i].Start < picked[j].Start
		}
		return *picked[i].SegmentStart < *picked[j].SegmentStart
	})
	return picked, nil
}
