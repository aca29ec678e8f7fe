// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segmenter

import (
	"fmt"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/segment"
)

// Shot groups consecutive shot labels into segments of at least MinDuration
// seconds. The cut lands on the end of the label that reaches the minimum.
type Shot struct {
	Plugin      string
	Source      string
	MinDuration float64
}

func (p *Shot) Name() string { return p.Plugin }

func (p *Shot) validate() error {
	if p.MinDuration <= 0 {
		return fmt.Errorf("%w: %s needs min_duration > 0", model.ErrMissingConfig, p.Plugin)
	}
	return nil
}

func (p *Shot) Window(c model.Chunk) segment.LabelWindow {
	return segment.LabelWindow{Plugin: p.Source, UpTo: c.End()}
}

func (p *Shot) Decide(view segment.StateView, c model.Chunk) []Step {
	var steps []Step
	open := view.Open != nil
	cursor := view.Anchor()
	acc := 0.0
	for _, l := range sortedLabels(view.RecentLabels) {
		if l.StartOffset < cursor {
			continue
		}
		if !open {
			steps = append(steps, Step{Op: OpOpen, At: l.StartOffset, Attributes: map[string]any{"label": l.Label}})
			open, cursor, acc = true, l.StartOffset, 0
		}
		acc += l.Duration()
		if acc >= p.MinDuration {
			steps = append(steps, Step{Op: OpClose, At: l.EndOffset})
			open, cursor = false, l.EndOffset
		}
	}
	return steps
}
