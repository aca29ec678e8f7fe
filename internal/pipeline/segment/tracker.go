// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment tracks the lifecycle of segments across independently
// processed chunks. Each segment key has a head record holding the open
// segment and the last closed one; every transition is a compare-and-set on
// that head, so concurrent workers never both open or both close a segment.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
	"github.com/ManuGH/mre/internal/telemetry"
)

var (
	// ErrConflict means the expected state was stale; re-read and re-decide.
	ErrConflict          = errors.New("segment state changed concurrently")
	ErrInvalidTransition = errors.New("invalid segment transition")
)

const (
	headSK        = "head"
	historyPrefix = "s#"
	optoPrefix    = "o#"
	tracerName    = "mre/segment"
)

// Key identifies one segment stream: at most one segment is open per key.
// Plugin names the segmenter that owns the stream.
type Key struct {
	Program string
	Event   string
	Profile string
	Plugin  string
	Track   string
}

func (k Key) pk() string {
	return store.Key("seg", k.Program, k.Event, k.Profile, k.Plugin, k.Track)
}

// LabelWindow selects the labels returned with a state view.
// Labels are read from the anchor (open start, else last close, else 0)
// unless From overrides it, up to but excluding UpTo.
type LabelWindow struct {
	Plugin string
	UpTo   float64
	From   *float64
}

// StateView is a consistent snapshot of one segment key.
type StateView struct {
	State        model.SegmentState
	Open         *model.Segment
	LastClosed   *model.Segment
	RecentLabels []model.PluginResult
	Version      int64
}

// Anchor is where the next boundary search starts.
func (v StateView) Anchor() float64 {
	switch {
	case v.Open != nil:
		return v.Open.Start
	case v.LastClosed != nil && v.LastClosed.End != nil:
		return *v.LastClosed.End
	}
	return 0
}

type head struct {
	Open       *model.Segment `json:"open,omitempty"`
	LastClosed *model.Segment `json:"lastClosed,omitempty"`
	Closed     int            `json:"closed"`
}

// Tracker is the segment state machine over the shared store.
type Tracker struct {
	st      store.Store
	results *Results
	clock   clock.Clock
}

func NewTracker(st store.Store, results *Results, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{st: st, results: results, clock: clk}
}

// Results exposes the label repository the tracker reads from.
func (t *Tracker) Results() *Results { return t.results }

func (t *Tracker) readHead(ctx context.Context, key Key) (head, int64, error) {
	h, version, err := store.GetAs[head](ctx, t.st, key.pk(), headSK)
	if errors.Is(err, store.ErrNotFound) {
		return head{}, 0, nil
	}
	if err != nil {
		return head{}, 0, err
	}
	if h.Open != nil {
		h.Open.Version = version
	}
	if h.LastClosed != nil {
		h.LastClosed.Version = version
	}
	return h, version, nil
}

// GetSegmentState returns the key's state and the labels the caller needs to
// decide the next transition.
func (t *Tracker) GetSegmentState(ctx context.Context, key Key, win LabelWindow) (StateView, error) {
	h, version, err := t.readHead(ctx, key)
	if err != nil {
		return StateView{}, fmt.Errorf("read segment head: %w", err)
	}
	view := StateView{State: model.SegmentNone, Open: h.Open, LastClosed: h.LastClosed, Version: version}
	switch {
	case h.Open != nil:
		view.State = model.SegmentOpen
	case h.LastClosed != nil:
		view.State = model.SegmentClosed
	}

	if win.Plugin != "" && t.results != nil {
		from := view.Anchor()
		if win.From != nil {
			from = *win.From
		}
		labels, err := t.results.Query(ctx, key.Program, key.Event, win.Plugin, from, win.UpTo)
		if err != nil {
			return StateView{}, fmt.Errorf("read labels: %w", err)
		}
		view.RecentLabels = labels
	}
	return view, nil
}

// UpdateSegment applies expected -> next if the key still holds expected.
// expected is nil to open a segment, the open segment to close it, or the
// last closed segment to extend its end. The caller must re-read on ErrConflict.
func (t *Tracker) UpdateSegment(ctx context.Context, key Key, expected *model.Segment, next model.Segment) (seg model.Segment, err error) {
	e, err := classify(expected, next)
	if err != nil {
		return model.Segment{}, err
	}
	ctx, span := telemetry.Start(ctx, tracerName, "segment.update",
		telemetry.PluginAttributes(key.Plugin, "")...)
	defer func() { telemetry.End(span, err) }()

	h, version, err := t.readHead(ctx, key)
	if err != nil {
		return model.Segment{}, err
	}
	if err := matches(h, version, expected, e); err != nil {
		metrics.RecordSegmentConflict(key.Plugin)
		return model.Segment{}, err
	}
	if e == edgeExtend && h.LastClosed.End != nil && *next.End < *h.LastClosed.End {
		return model.Segment{}, fmt.Errorf("%w: end regresses from stored %v to %v", ErrInvalidTransition, *h.LastClosed.End, *next.End)
	}

	next = next.Clone()
	next.Program, next.Event, next.Profile, next.Track = key.Program, key.Event, key.Profile, key.Track
	next.UpdatedAt = t.clock.Now()

	switch e {
	case edgeOpen:
		if h.LastClosed != nil && h.LastClosed.End != nil && next.Start < *h.LastClosed.End {
			return model.Segment{}, fmt.Errorf("%w: open at %v overlaps segment ending %v", ErrInvalidTransition, next.Start, *h.LastClosed.End)
		}
		h.Open = &next
	case edgeClose:
		h.Open = nil
		h.LastClosed = &next
		h.Closed++
	case edgeExtend:
		h.LastClosed = &next
	}

	cond := store.IfNotExists()
	if version > 0 {
		cond = store.IfVersion(version)
	}
	newVersion, err := store.PutAs(ctx, t.st, key.pk(), headSK, h, cond)
	if errors.Is(err, store.ErrConditionFailed) {
		metrics.RecordSegmentConflict(key.Plugin)
		return model.Segment{}, ErrConflict
	}
	if err != nil {
		return model.Segment{}, err
	}
	next.Version = newVersion

	if e != edgeOpen {
		if err := t.writeHistory(ctx, key, next, newVersion); err != nil {
			return next, err
		}
	}

	from := model.SegmentNone
	if expected != nil {
		from = expected.State
	}
	metrics.RecordSegmentTransition(key.Plugin, string(from), string(next.State))
	logger := log.FromContext(ctx).With().
		Str(log.FieldProgram, key.Program).
		Str(log.FieldEvent, key.Event).
		Str(log.FieldProfile, key.Profile).
		Str(log.FieldPlugin, key.Plugin).
		Logger()
	ev := logger.Debug().Str("edge", e.String()).Float64(log.FieldStart, next.Start)
	if next.End != nil {
		ev = ev.Float64(log.FieldEnd, *next.End)
	}
	ev.Msg("segment transition")
	return next, nil
}

func matches(h head, version int64, expected *model.Segment, e edge) error {
	switch e {
	case edgeOpen:
		if h.Open != nil {
			return ErrConflict
		}
	case edgeClose:
		if h.Open == nil || h.Open.Start != expected.Start {
			return ErrConflict
		}
	case edgeExtend:
		if h.LastClosed == nil || h.LastClosed.Start != expected.Start {
			return ErrConflict
		}
	}
	if expected != nil && expected.Version != 0 && expected.Version != version {
		return ErrConflict
	}
	return nil
}

// historyRecord is a closed segment stamped with the head version that
// produced it.
type historyRecord struct {
	model.Segment
	HeadVersion int64 `json:"headVersion"`
}

var errStaleHistory = errors.New("newer history row already stored")

// writeHistory stores a closed segment under its start. A row written from
// an older head version never replaces a newer one, so late writers of
// concurrent extends cannot roll the end back.
func (t *Tracker) writeHistory(ctx context.Context, key Key, seg model.Segment, headVersion int64) error {
	_, _, err := store.Mutate(ctx, t.st, key.pk(), historyPrefix+store.FloatKey(seg.Start),
		func(cur *historyRecord, exists bool) error {
			if exists && cur.HeadVersion > headVersion {
				return errStaleHistory
			}
			*cur = historyRecord{Segment: seg, HeadVersion: headVersion}
			return nil
		})
	if errors.Is(err, errStaleHistory) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write closed segment at %v: %w", seg.Start, err)
	}
	return nil
}

// OpenAt opens a segment at start if none is open.
func (t *Tracker) OpenAt(ctx context.Context, key Key, start float64, chunk string, attrs map[string]any) (model.Segment, error) {
	return t.UpdateSegment(ctx, key, nil, Opened(key, start, chunk, attrs))
}

// CloseAt closes the open segment observed in view.
func (t *Tracker) CloseAt(ctx context.Context, key Key, open model.Segment, end float64, chunk string) (model.Segment, error) {
	next, err := Closed(open, end, chunk)
	if err != nil {
		return model.Segment{}, err
	}
	return t.UpdateSegment(ctx, key, &open, next)
}

// ExtendEnd grows the last closed segment's end.
func (t *Tracker) ExtendEnd(ctx context.Context, key Key, closed model.Segment, end float64) (model.Segment, error) {
	next, err := Extended(closed, end)
	if err != nil {
		return model.Segment{}, err
	}
	return t.UpdateSegment(ctx, key, &closed, next)
}

// CloseOnFinalChunk force-closes the open segment at the end of the event's
// final chunk. It is a no-op when nothing is open.
func (t *Tracker) CloseOnFinalChunk(ctx context.Context, key Key, final model.Chunk) (*model.Segment, error) {
	for attempt := 0; attempt < maxCloseAttempts; attempt++ {
		view, err := t.GetSegmentState(ctx, key, LabelWindow{})
		if err != nil {
			return nil, err
		}
		if view.Open == nil {
			return nil, nil
		}
		end := final.End()
		if end < view.Open.Start {
			end = view.Open.Start
		}
		next, err := ForceClosed(*view.Open, end, final.Filename())
		if err != nil {
			return nil, err
		}
		seg, err := t.UpdateSegment(ctx, key, view.Open, next)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &seg, nil
	}
	return nil, ErrConflict
}

const maxCloseAttempts = 5

// ListSegments returns every segment of the key ordered by start, the open one last.
func (t *Tracker) ListSegments(ctx context.Context, key Key) ([]model.Segment, error) {
	items, err := store.QueryAll(ctx, t.st, key.pk(), store.BeginsWith(historyPrefix), false)
	if err != nil {
		return nil, err
	}
	h, _, err := t.readHead(ctx, key)
	if err != nil {
		return nil, err
	}

	byStart := make(map[float64]model.Segment, len(items)+2)
	for _, it := range items {
		seg, err := store.Decode[model.Segment](it)
		if err != nil {
			return nil, err
		}
		byStart[seg.Start] = seg
	}
	if h.LastClosed != nil {
		byStart[h.LastClosed.Start] = *h.LastClosed
	}
	if h.Open != nil {
		byStart[h.Open.Start] = *h.Open
	}

	opto, err := t.optoByStart(ctx, key)
	if err != nil {
		return nil, err
	}

	out := make([]model.Segment, 0, len(byStart))
	for start, seg := range byStart {
		if o, ok := opto[start]; ok {
			seg.Opto = o
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}
