// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segmenter

import (
	"fmt"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/segment"
)

// Commercial segments the runs whose trailing moving average of label values
// falls below ThresholdVal. A flip between content and commercial is only
// accepted after ThresholdLen consecutive labels agree, and the boundary is
// the start of that run.
type Commercial struct {
	Plugin       string
	Source       string
	WindowSize   int
	ThresholdVal float64
	ThresholdLen int
}

func (p *Commercial) Name() string { return p.Plugin }

func (p *Commercial) validate() error {
	if p.WindowSize < 1 || p.ThresholdLen < 1 {
		return fmt.Errorf("%w: %s needs window_size and threshold_len >= 1", model.ErrMissingConfig, p.Plugin)
	}
	return nil
}

// Window reads the whole label history: the moving average at the anchor
// depends on labels before it.
func (p *Commercial) Window(c model.Chunk) segment.LabelWindow {
	return segment.LabelWindow{Plugin: p.Source, UpTo: c.End(), From: model.Float(0)}
}

type flip struct {
	at           float64
	toCommercial bool
}

// flips replays the hysteresis filter over labels from content state.
func (p *Commercial) flips(labels []model.PluginResult) []flip {
	var (
		out      []flip
		inside   bool
		runStart = -1
		sum      float64
		values   = make([]float64, len(labels))
	)
	for i, l := range labels {
		values[i] = labelValue(l)
		sum += values[i]
		n := i + 1
		if i >= p.WindowSize {
			sum -= values[i-p.WindowSize]
			n = p.WindowSize
		}
		below := sum/float64(n) < p.ThresholdVal

		if below == inside {
			runStart = -1
			continue
		}
		if runStart < 0 {
			runStart = i
		}
		if i-runStart+1 >= p.ThresholdLen {
			inside = below
			out = append(out, flip{at: labels[runStart].StartOffset, toCommercial: below})
			runStart = -1
		}
	}
	return out
}

func (p *Commercial) Decide(view segment.StateView, c model.Chunk) []Step {
	flips := p.flips(sortedLabels(view.RecentLabels))
	var steps []Step
	open := view.Open != nil
	cursor := view.Anchor()
	lastStart := -1.0
	if view.LastClosed != nil {
		lastStart = view.LastClosed.Start
	}
	for _, f := range flips {
		switch {
		case open && !f.toCommercial && f.at > cursor:
			steps = append(steps, Step{Op: OpClose, At: f.at})
			open, cursor = false, f.at
		case !open && f.toCommercial && f.at >= cursor && f.at != lastStart:
			steps = append(steps, Step{Op: OpOpen, At: f.at, Attributes: map[string]any{"label": "commercial"}})
			open, cursor = true, f.at
		}
	}
	return steps
}

// labelValue is the scanned value: an explicit "value" attribute, else the label duration.
func labelValue(l model.PluginResult) float64 {
	if v, ok := asFloat(l.Attributes["value"]); ok {
		return v
	}
	return l.Duration()
}
