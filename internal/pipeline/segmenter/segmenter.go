// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segmenter holds the boundary policies that turn per-chunk labels
// into segment transitions. A policy only decides; Apply executes the
// decision against the segment tracker and re-decides on conflicts.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/segment"
)

// Op is a transition a policy asks for.
type Op int

const (
	OpOpen Op = iota
	OpClose
)

func (o Op) String() string {
	if o == OpOpen {
		return "open"
	}
	return "close"
}

// Step is one decided transition at a video offset.
type Step struct {
	Op         Op
	At         float64
	Attributes map[string]any
}

// Policy decides segment transitions for one chunk from a state view.
// Decide must be a pure function of its inputs so it can be re-run after a conflict.
type Policy interface {
	Name() string
	Window(c model.Chunk) segment.LabelWindow
	Decide(view segment.StateView, c model.Chunk) []Step
}

// MaxAttempts bounds re-read/re-decide rounds per chunk.
const MaxAttempts = 5

// ErrContended is returned when every attempt lost a compare-and-set.
var ErrContended = errors.New("segment key contended")

// Apply runs the policy for chunk c and returns the segments it closed.
func Apply(ctx context.Context, tr *segment.Tracker, key segment.Key, c model.Chunk, p Policy) ([]model.Segment, error) {
	key.Plugin = p.Name()
	var closed []model.Segment
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		view, err := tr.GetSegmentState(ctx, key, p.Window(c))
		if err != nil {
			return closed, err
		}
		done, err := run(ctx, tr, key, c, view, p.Decide(view, c))
		closed = append(closed, done...)
		if errors.Is(err, segment.ErrConflict) {
			continue
		}
		return closed, err
	}
	return closed, fmt.Errorf("%w: %s after %d attempts", ErrContended, p.Name(), MaxAttempts)
}

func run(ctx context.Context, tr *segment.Tracker, key segment.Key, c model.Chunk, view segment.StateView, steps []Step) ([]model.Segment, error) {
	var closed []model.Segment
	open := view.Open
	for _, s := range steps {
		switch s.Op {
		case OpOpen:
			if open != nil {
				return closed, fmt.Errorf("%w: open at %v while %v is open", segment.ErrInvalidTransition, s.At, open.Start)
			}
			seg, err := tr.OpenAt(ctx, key, s.At, c.Filename(), s.Attributes)
			if err != nil {
				return closed, err
			}
			open = &seg
		case OpClose:
			if open == nil {
				return closed, fmt.Errorf("%w: close at %v with nothing open", segment.ErrInvalidTransition, s.At)
			}
			seg, err := tr.CloseAt(ctx, key, *open, s.At, c.Filename())
			if err != nil {
				return closed, err
			}
			closed = append(closed, seg)
			open = nil
		}
	}
	return closed, nil
}

// Defaults are the policy parameters used when a profile does not override them.
type Defaults struct {
	Commercial Commercial
	Shot       Shot
	KeyMoment  KeyMoment
}

// New builds the policy for a profile's classifier. The kind comes from the
// "policy" configuration key, else from the plugin name. The first dependent
// plugin is the label source.
func New(ref model.PluginRef, d Defaults) (Policy, error) {
	if len(ref.DependentPlugins) == 0 {
		return nil, fmt.Errorf("%w: segmenter %s has no dependent label plugin", model.ErrMissingConfig, ref.Name)
	}
	source := ref.DependentPlugins[0]
	cfg := ref.Configuration

	kind, _ := cfg["policy"].(string)
	if kind == "" {
		kind = ref.Name
	}
	switch k := strings.ToLower(kind); {
	case strings.Contains(k, "commercial"):
		p := d.Commercial
		p.Plugin, p.Source = ref.Name, source
		p.WindowSize = intOr(cfg, "window_size", p.WindowSize)
		p.ThresholdVal = floatOr(cfg, "threshold_val", p.ThresholdVal)
		p.ThresholdLen = intOr(cfg, "threshold_len", p.ThresholdLen)
		return &p, p.validate()
	case strings.Contains(k, "shot"):
		p := d.Shot
		p.Plugin, p.Source = ref.Name, source
		p.MinDuration = floatOr(cfg, "min_duration", p.MinDuration)
		return &p, p.validate()
	case strings.Contains(k, "keymoment"), strings.Contains(k, "key_moment"):
		p := d.KeyMoment
		p.Plugin, p.Source = ref.Name, source
		p.ClipLength = floatOr(cfg, "desired_clip_length", p.ClipLength)
		return &p, p.validate()
	}
	return nil, fmt.Errorf("%w: no segment policy for plugin %s", model.ErrMissingConfig, ref.Name)
}

func floatOr(cfg map[string]any, key string, def float64) float64 {
	if v, ok := asFloat(cfg[key]); ok {
		return v
	}
	return def
}

func intOr(cfg map[string]any, key string, def int) int {
	if v, ok := asFloat(cfg[key]); ok {
		return int(v)
	}
	return def
}

// asFloat accepts the numeric shapes YAML and JSON decoding produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func sortedLabels(labels []model.PluginResult) []model.PluginResult {
	out := append([]model.PluginResult(nil), labels...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartOffset < out[j].StartOffset })
	return out
}
