// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker runs the per-chunk workflow. Every ingested chunk is an
// independent unit of work; the only cross-chunk coordination happens in the
// segment tracker (CAS on the open segment) and the completion coordinator
// (ordering of multi-chunk plugin classes).
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/coordinator"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/segment"
	"github.com/ManuGH/mre/internal/pipeline/segmenter"
	"github.com/ManuGH/mre/internal/telemetry"
)

const (
	tracerName = "mre/worker"

	attrSegmentStart = "segmentStart"
	attrTrack        = "track"

	failTimeout = 10 * time.Second
)

// ChunkJob is the CHUNK_INGESTED payload: the chunk plus the rows its
// plugins produced.
type ChunkJob struct {
	Chunk   model.Chunk          `json:"chunk"`
	Results []model.PluginResult `json:"results,omitempty"`
}

// ProfileSource resolves processing profiles by name.
type ProfileSource interface {
	Profile(name string) (model.Profile, bool)
}

// ProfileMap is a static ProfileSource.
type ProfileMap map[string]model.Profile

func (m ProfileMap) Profile(name string) (model.Profile, bool) {
	p, ok := m[name]
	return p, ok
}

// Outcome summarizes what one workflow changed.
type Outcome struct {
	Closed []model.Segment
	// Forced is the segment the final chunk force-closed, if any.
	Forced  *model.Segment
	Anomaly bool
	// Skipped lists classes an earlier delivery of the chunk already settled.
	Skipped []model.PluginClass
}

// Workflow processes one chunk end to end.
type Workflow struct {
	Tracker     *segment.Tracker
	Coordinator *coordinator.Coordinator
	Bus         bus.Bus
	Profiles    ProfileSource
	Segmenters  segmenter.Defaults
	Clock       clock.Clock
}

type classStep func(w *Workflow, ctx context.Context, prof model.Profile, ref model.PluginRef, job ChunkJob, out *Outcome) error

// classSteps carries what each multi-chunk class does once the gate opens.
var classSteps = map[model.PluginClass]classStep{
	model.ClassClassifier: (*Workflow).classify,
	model.ClassOptimizer:  (*Workflow).optimize,
}

func now(clk clock.Clock) time.Time {
	if clk == nil {
		return time.Now().UTC()
	}
	return clk.Now()
}

func (w *Workflow) now() time.Time { return now(w.Clock) }

// Process runs the chunk's workflow: ordering check, result persistence,
// then each configured multi-chunk class in gating order. Any failure after
// validation marks the chunk's pending tokens ERROR and publishes
// WORKFLOW_FAILED before the error is returned.
func (w *Workflow) Process(ctx context.Context, job ChunkJob) (out Outcome, err error) {
	c := job.Chunk
	started := w.now()
	defer metrics.WorkflowStarted()()

	ctx, span := telemetry.Start(ctx, tracerName, "workflow.process",
		telemetry.ChunkAttributes(c.Program, c.Event, c.Filename(), c.StartTimeOffset)...)
	defer func() { telemetry.End(span, err) }()

	logger := log.WithComponentFromContext(ctx, "workflow").With().
		Str(log.FieldProgram, c.Program).
		Str(log.FieldEvent, c.Event).
		Str(log.FieldProfile, c.Profile).
		Str(log.FieldChunk, c.Filename()).
		Float64(log.FieldStart, c.StartTimeOffset).
		Logger()
	ctx = logger.WithContext(ctx)

	if err := c.Validate(); err != nil {
		metrics.RecordWorkflow(c.Profile, "invalid", w.now().Sub(started))
		return out, model.WrapChunk("validate chunk", c, "", err)
	}
	defer func() {
		result := "success"
		if err != nil {
			result = "failed"
		}
		metrics.RecordWorkflow(c.Profile, result, w.now().Sub(started))
	}()

	prof, ok := w.Profiles.Profile(c.Profile)
	if !ok {
		return out, w.fail(ctx, c, "", fmt.Errorf("%w: profile %q", model.ErrMissingConfig, c.Profile))
	}

	if err := w.Tracker.ObserveChunk(ctx, c); err != nil {
		if !errors.Is(err, segment.ErrOrderingAnomaly) {
			return out, w.fail(ctx, c, "", err)
		}
		out.Anomaly = true
	}

	if err := w.Tracker.Results().Save(ctx, c.Program, c.Event, job.Results); err != nil {
		return out, w.fail(ctx, c, "", err)
	}

	for _, class := range model.MultiChunkClasses() {
		ref := class.PluginFor(&prof)
		if ref == nil {
			continue
		}
		req := coordinator.GateRequest{Chunk: c, Class: class, Plugin: ref.Name}
		tok, err := w.Coordinator.Register(ctx, c, class, ref.Name)
		if err != nil {
			return out, w.fail(ctx, c, ref.Name, err)
		}
		if tok.Status.IsTerminal() {
			w.skipSettled(ctx, class, ref.Name, tok.Status, &out)
			continue
		}
		if err := w.Coordinator.WaitForTurn(ctx, req, clock.Seconds(c.DurationSeconds)); err != nil {
			if errors.Is(err, coordinator.ErrTokenSettled) {
				w.skipSettled(ctx, class, ref.Name, "", &out)
				continue
			}
			return out, w.fail(ctx, c, ref.Name, err)
		}
		if err := classSteps[class](w, ctx, prof, *ref, job, &out); err != nil {
			return out, w.fail(ctx, c, ref.Name, err)
		}
		if err := w.Coordinator.RecordOutcome(ctx, req, model.TokenComplete, ""); err != nil {
			return out, w.fail(ctx, c, ref.Name, err)
		}
	}

	logger.Info().
		Int("closed", len(out.Closed)).
		Bool("anomaly", out.Anomaly).
		Dur("took", w.now().Sub(started)).
		Msg("chunk workflow complete")
	return out, nil
}

// skipSettled records a class whose token a previous delivery of the same
// chunk already settled. Settled tokens are never run again.
func (w *Workflow) skipSettled(ctx context.Context, class model.PluginClass, plugin string, status model.TokenStatus, out *Outcome) {
	out.Skipped = append(out.Skipped, class)
	ev := log.FromContext(ctx).Info().
		Str(log.FieldPlugin, plugin).
		Str("class", string(class))
	if status != "" {
		ev = ev.Str(log.FieldStatus, string(status))
	}
	ev.Msg("chunk already processed for class; skipping redelivery")
}

// classify runs the classifier's segment policy and force-closes on the final chunk.
func (w *Workflow) classify(ctx context.Context, prof model.Profile, ref model.PluginRef, job ChunkJob, out *Outcome) error {
	c := job.Chunk
	policy, err := segmenter.New(ref, w.Segmenters)
	if err != nil {
		return model.WrapChunk("build segmenter", c, ref.Name, err)
	}
	key := segment.Key{Program: c.Program, Event: c.Event, Profile: prof.Name}
	closed, err := segmenter.Apply(ctx, w.Tracker, key, c, policy)
	w.announce(ctx, ref.Name, closed)
	out.Closed = append(out.Closed, closed...)
	if err != nil {
		return model.WrapChunk("apply segmenter", c, ref.Name, err)
	}

	if !c.Final {
		return nil
	}
	key.Plugin = policy.Name()
	forced, err := w.Tracker.CloseOnFinalChunk(ctx, key, c)
	if err != nil {
		return model.WrapChunk("close on final chunk", c, ref.Name, err)
	}
	if forced != nil {
		w.announce(ctx, ref.Name, []model.Segment{*forced})
		out.Forced = forced
		out.Closed = append(out.Closed, *forced)
	}
	return nil
}

// optimize records the optimizer's per-track boundaries against the
// classifier segments they refine. Each optimizer row names the segment by
// its original start ("segmentStart") and optionally one audio track.
func (w *Workflow) optimize(ctx context.Context, prof model.Profile, ref model.PluginRef, job ChunkJob, _ *Outcome) error {
	c := job.Chunk
	if prof.Classifier == nil {
		return model.WrapChunk("optimize", c, ref.Name,
			fmt.Errorf("%w: profile %s has an optimizer but no classifier", model.ErrMissingConfig, prof.Name))
	}
	key := segment.Key{Program: c.Program, Event: c.Event, Profile: prof.Name, Plugin: prof.Classifier.Name}

	for _, row := range job.Results {
		if row.PluginName != ref.Name {
			continue
		}
		start, ok := number(row.Attributes[attrSegmentStart])
		if !ok {
			return model.WrapChunk("optimize", c, ref.Name,
				fmt.Errorf("%w: row at %v has no %s", model.ErrMalformedResult, row.StartOffset, attrSegmentStart))
		}
		tracks := prof.AudioTracks
		if t, _ := row.Attributes[attrTrack].(string); t != "" {
			tracks = []string{t}
		}
		if len(tracks) == 0 {
			return model.WrapChunk("optimize", c, ref.Name,
				fmt.Errorf("%w: no audio track for row at %v", model.ErrMalformedResult, row.StartOffset))
		}
		b := model.OptoBoundary{OptoStart: row.StartOffset}
		if row.EndOffset > row.StartOffset {
			b.OptoEnd = model.Float(row.EndOffset)
		}
		for _, track := range tracks {
			if err := w.Tracker.SetOpto(ctx, key, start, track, b); err != nil {
				return model.WrapChunk("set opto "+track, c, ref.Name, err)
			}
		}
	}
	return nil
}

// announce publishes SEGMENT_CLOSED for each segment. The segments are
// already durable, so publish failures are logged and not returned.
func (w *Workflow) announce(ctx context.Context, plugin string, closed []model.Segment) {
	if w.Bus == nil {
		return
	}
	for _, seg := range closed {
		detail := bus.SegmentClosedDetail{Program: seg.Program, Event: seg.Event, Plugin: plugin, Segment: seg}
		if err := bus.PublishEvent(ctx, w.Bus, bus.SourceWorkflow, bus.TypeSegmentClosed, detail, w.now()); err != nil {
			log.FromContext(ctx).Warn().Err(err).
				Str(log.FieldPlugin, plugin).
				Float64(log.FieldStart, seg.Start).
				Msg("publish segment closed")
			continue
		}
		metrics.RecordSegmentPublished(plugin, seg.Forced)
	}
}

// fail marks the chunk's tokens ERROR and notifies. It runs on a detached
// context so a cancelled workflow still releases later chunks.
func (w *Workflow) fail(ctx context.Context, c model.Chunk, plugin string, cause error) error {
	var ce *model.ContextError
	if !errors.As(cause, &ce) {
		cause = model.WrapChunk("chunk workflow", c, plugin, cause)
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	return w.Coordinator.FailWorkflow(fctx, c, plugin, cause)
}

func number(v any) (float64, bool) {
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
