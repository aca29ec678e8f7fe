// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"fmt"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/coordinator"
	"github.com/ManuGH/mre/internal/pipeline/model"
)

// Ingestor accepts chunks in arrival order. It registers the chunk's
// completion tokens before publishing CHUNK_INGESTED so that a later chunk
// whose workflow starts first still sees this chunk as pending.
type Ingestor struct {
	Coordinator *coordinator.Coordinator
	Bus         bus.Bus
	Profiles    ProfileSource
	Clock       clock.Clock
}

// Ingest validates the job, registers its tokens and publishes it.
func (i *Ingestor) Ingest(ctx context.Context, job ChunkJob) error {
	c := job.Chunk
	if err := c.Validate(); err != nil {
		return model.WrapChunk("ingest", c, "", err)
	}
	for _, row := range job.Results {
		if err := row.Validate(); err != nil {
			return model.WrapChunk("ingest", c, row.PluginName, err)
		}
	}
	prof, ok := i.Profiles.Profile(c.Profile)
	if !ok {
		return model.WrapChunk("ingest", c, "", fmt.Errorf("%w: profile %q", model.ErrMissingConfig, c.Profile))
	}
	for _, class := range model.MultiChunkClasses() {
		ref := class.PluginFor(&prof)
		if ref == nil {
			continue
		}
		if _, err := i.Coordinator.Register(ctx, c, class, ref.Name); err != nil {
			return err
		}
	}
	if err := bus.PublishEvent(ctx, i.Bus, bus.SourceIngest, bus.TypeChunkIngested, job, now(i.Clock)); err != nil {
		return model.WrapChunk("publish chunk", c, "", err)
	}
	log.FromContext(ctx).Debug().
		Str(log.FieldProgram, c.Program).
		Str(log.FieldEvent, c.Event).
		Str(log.FieldChunk, c.Filename()).
		Int("results", len(job.Results)).
		Msg("chunk ingested")
	return nil
}
