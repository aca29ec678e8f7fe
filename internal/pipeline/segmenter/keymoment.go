// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segmenter

import (
	"fmt"
	"math"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/segment"
)

const attrInstant = "instant"

// KeyMoment cuts a ClipLength window centred on each detected instant.
// Windows never start before 0 and an overlapping window starts where the
// previous one ended.
type KeyMoment struct {
	Plugin     string
	Source     string
	ClipLength float64
}

func (p *KeyMoment) Name() string { return p.Plugin }

func (p *KeyMoment) validate() error {
	if p.ClipLength <= 0 {
		return fmt.Errorf("%w: %s needs desired_clip_length > 0", model.ErrMissingConfig, p.Plugin)
	}
	return nil
}

// Window reads the instants detected inside the chunk.
func (p *KeyMoment) Window(c model.Chunk) segment.LabelWindow {
	return segment.LabelWindow{Plugin: p.Source, From: model.Float(c.StartTimeOffset), UpTo: c.End()}
}

func (p *KeyMoment) Decide(view segment.StateView, c model.Chunk) []Step {
	half := p.ClipLength / 2
	var steps []Step

	seen := math.Inf(-1)
	prevEnd := 0.0
	if view.LastClosed != nil {
		prevEnd = view.LastClosed.EndOr(0)
		if v, ok := asFloat(view.LastClosed.Attributes[attrInstant]); ok {
			seen = v
		}
	}
	// A window opened before a lost race is finished first.
	if view.Open != nil {
		end := view.Open.Start + p.ClipLength
		if v, ok := asFloat(view.Open.Attributes[attrInstant]); ok {
			end = v + half
			seen = v
		}
		steps = append(steps, Step{Op: OpClose, At: end})
		prevEnd = end
	}

	for _, l := range sortedLabels(view.RecentLabels) {
		instant := l.StartOffset
		if instant <= seen {
			continue
		}
		start := math.Max(0, instant-half)
		end := instant + half
		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}
		steps = append(steps,
			Step{Op: OpOpen, At: start, Attributes: map[string]any{attrInstant: instant, "label": l.Label}},
			Step{Op: OpClose, At: end},
		)
		seen, prevEnd = instant, end
	}
	return steps
}
