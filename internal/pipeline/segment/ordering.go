// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

// ErrOrderingAnomaly reports a chunk whose start offset does not advance past
// the newest chunk already observed for its event profile. Nothing reorders
// chunks; the anomaly is surfaced and processing continues at the caller's choice.
var ErrOrderingAnomaly = errors.New("chunk ordering anomaly")

type chunkCursor struct {
	LastStart    float64 `json:"lastStart"`
	LastFilename string  `json:"lastFilename"`
}

// ObserveChunk advances the per-profile chunk cursor. A redelivery of the
// newest chunk is accepted silently.
func (t *Tracker) ObserveChunk(ctx context.Context, c model.Chunk) error {
	pk := store.Key("order", c.Program, c.Event, c.Profile)
	var behind *chunkCursor
	_, _, err := store.Mutate(ctx, t.st, pk, "cursor", func(cur *chunkCursor, exists bool) error {
		behind = nil
		if exists && c.StartTimeOffset <= cur.LastStart {
			if c.StartTimeOffset == cur.LastStart && c.Filename() == cur.LastFilename {
				return errRedelivery
			}
			snapshot := *cur
			behind = &snapshot
			return ErrOrderingAnomaly
		}
		cur.LastStart = c.StartTimeOffset
		cur.LastFilename = c.Filename()
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errRedelivery):
		return nil
	case errors.Is(err, ErrOrderingAnomaly):
		metrics.RecordOrderingAnomaly(c.Profile)
		log.FromContext(ctx).Warn().
			Str(log.FieldProgram, c.Program).
			Str(log.FieldEvent, c.Event).
			Str(log.FieldProfile, c.Profile).
			Str(log.FieldChunk, c.Filename()).
			Float64(log.FieldStart, c.StartTimeOffset).
			Float64("last_start", behind.LastStart).
			Str("last_chunk", behind.LastFilename).
			Msg("chunk arrived out of order")
		return fmt.Errorf("%w: %s starts at %v, newest seen %s at %v",
			ErrOrderingAnomaly, c.Filename(), c.StartTimeOffset, behind.LastFilename, behind.LastStart)
	default:
		return fmt.Errorf("observe chunk %s: %w", c.Filename(), err)
	}
}

var errRedelivery = errors.New("chunk redelivered")
