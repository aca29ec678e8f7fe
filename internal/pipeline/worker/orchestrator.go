// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 8

// Orchestrator consumes CHUNK_INGESTED and runs one workflow per chunk.
// Workflows run concurrently up to Concurrency; arrival order is not kept.
type Orchestrator struct {
	Bus         bus.Bus
	Workflow    *Workflow
	Concurrency int

	// OnDone, if set, observes every finished workflow.
	OnDone func(job ChunkJob, out Outcome, err error)
}

// Run blocks until ctx is cancelled, then waits for in-flight workflows.
func (o *Orchestrator) Run(ctx context.Context) error {
	n := o.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	sub, err := o.Bus.Subscribe(ctx, bus.TypeChunkIngested)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	logger := log.WithComponentFromContext(ctx, "orchestrator")
	logger.Info().Int("concurrency", n).Msg("chunk orchestrator started")

	sem := semaphore.NewWeighted(int64(n))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("chunk orchestrator stopping")
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return errors.New("event channel closed")
			}
			job, err := bus.DecodeDetail[ChunkJob](ev)
			if err != nil {
				logger.Error().Err(err).Str("event_id", ev.ID).Msg("dropping undecodable chunk event")
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			go func(id string, job ChunkJob) {
				defer wg.Done()
				defer sem.Release(1)
				o.handle(ctx, id, job)
			}(ev.ID, job)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, eventID string, job ChunkJob) {
	ctx = log.ContextWithCorrelationID(ctx, eventID)
	ctx = log.ContextWithExecutionID(ctx, uuid.NewString())

	out, err := o.Workflow.Process(ctx, job)
	if err != nil {
		// FailWorkflow already reported it; this line ties the error to the execution.
		logger := log.WithComponentFromContext(ctx, "orchestrator")
		logger.Warn().Err(err).
			Str(log.FieldProgram, job.Chunk.Program).
			Str(log.FieldEvent, job.Chunk.Event).
			Str(log.FieldChunk, job.Chunk.Filename()).
			Msg("chunk workflow returned error")
	}
	if o.OnDone != nil {
		o.OnDone(job, out, err)
	}
}
