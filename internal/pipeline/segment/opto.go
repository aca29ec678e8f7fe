// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

var ErrUnknownSegment = errors.New("no segment starts at offset")

type optoRecord struct {
	Start    float64            `json:"start"`
	Track    string             `json:"track"`
	Boundary model.OptoBoundary `json:"boundary"`
}

// SetOpto records an optimizer-adjusted boundary for one audio track of the
// segment starting at start. The canonical Start/End are never touched.
func (t *Tracker) SetOpto(ctx context.Context, key Key, start float64, track string, b model.OptoBoundary) error {
	if track == "" {
		return fmt.Errorf("set opto: empty track")
	}
	if b.OptoEnd != nil && *b.OptoEnd < b.OptoStart {
		return fmt.Errorf("%w: opto end %v before opto start %v", ErrInvalidTransition, *b.OptoEnd, b.OptoStart)
	}
	if !t.segmentStartsAt(ctx, key, start) {
		return fmt.Errorf("%w: %v", ErrUnknownSegment, start)
	}
	rec := optoRecord{Start: start, Track: track, Boundary: b}
	_, err := store.PutAs(ctx, t.st, key.pk(), optoPrefix+store.Key(store.FloatKey(start), track), rec, store.Condition{})
	return err
}

func (t *Tracker) segmentStartsAt(ctx context.Context, key Key, start float64) bool {
	if _, err := t.st.Get(ctx, key.pk(), historyPrefix+store.FloatKey(start)); err == nil {
		return true
	}
	h, _, err := t.readHead(ctx, key)
	if err != nil {
		return false
	}
	return (h.Open != nil && h.Open.Start == start) || (h.LastClosed != nil && h.LastClosed.Start == start)
}

func (t *Tracker) optoByStart(ctx context.Context, key Key) (map[float64]map[string]model.OptoBoundary, error) {
	items, err := store.QueryAll(ctx, t.st, key.pk(), store.BeginsWith(optoPrefix), false)
	if err != nil {
		return nil, err
	}
	out := make(map[float64]map[string]model.OptoBoundary)
	for _, it := range items {
		rec, err := store.Decode[optoRecord](it)
		if err != nil {
			return nil, err
		}
		if out[rec.Start] == nil {
			out[rec.Start] = make(map[string]model.OptoBoundary)
		}
		out[rec.Start][rec.Track] = rec.Boundary
	}
	return out, nil
}
