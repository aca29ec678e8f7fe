// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package coordinator serializes multi-chunk plugin classes across chunk
// workflows that otherwise run concurrently. Every (chunk, plugin) pair owns
// a completion token; a chunk may run a class only once no earlier chunk of
// the event holds a WAITING or IN_PROGRESS token for that class.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
	"github.com/ManuGH/mre/internal/resilience"
	"github.com/ManuGH/mre/internal/telemetry"
)

var (
	// ErrGateTimeout means earlier chunks kept the class busy for the whole wait budget.
	ErrGateTimeout = errors.New("timed out waiting for earlier chunks")
	ErrNoToken     = errors.New("completion token not registered")
	// ErrTokenSettled means the token already holds COMPLETE or ERROR; only
	// RecordOutcome and FailWorkflow write terminal states.
	ErrTokenSettled = errors.New("completion token already settled")

	errBlocked = errors.New("blocked by earlier chunk")
)

const tracerName = "mre/coordinator"

// Config tunes gate polling.
type Config struct {
	// WaitFactor divides the chunk duration into the poll interval.
	WaitFactor  float64
	MaxAttempts uint
}

// DefaultConfig polls four times per chunk duration, at most five times.
func DefaultConfig() Config {
	return Config{WaitFactor: 4, MaxAttempts: 5}
}

// GateRequest identifies the token asking for its turn.
type GateRequest struct {
	Chunk  model.Chunk
	Class  model.PluginClass
	Plugin string
}

// Coordinator implements the gate over the shared store.
type Coordinator struct {
	st    store.Store
	bus   bus.Bus
	clock clock.Clock
	cfg   Config
}

func New(st store.Store, b bus.Bus, clk clock.Clock, cfg Config) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.WaitFactor <= 0 {
		cfg.WaitFactor = DefaultConfig().WaitFactor
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Coordinator{st: st, bus: b, clock: clk, cfg: cfg}
}

func tokenPK(program, event string) string {
	return store.Key("token", program, event)
}

func tokenSK(class model.PluginClass, start float64, chunk, plugin string) string {
	return store.Key(string(class), store.FloatKey(start), chunk, plugin)
}

func (r GateRequest) owns(t model.ChunkCompletionToken) bool {
	return t.ChunkFilename == r.Chunk.Filename() && t.ChunkStart == r.Chunk.StartTimeOffset && t.PluginName == r.Plugin
}

func (r GateRequest) sk() string {
	return tokenSK(r.Class, r.Chunk.StartTimeOffset, r.Chunk.Filename(), r.Plugin)
}

// Register creates the WAITING token for a chunk's plugin. Registering an
// existing token returns it unchanged, so redelivered chunks are harmless.
func (c *Coordinator) Register(ctx context.Context, chunk model.Chunk, class model.PluginClass, plugin string) (model.ChunkCompletionToken, error) {
	tok := model.ChunkCompletionToken{
		Program:       chunk.Program,
		Event:         chunk.Event,
		ChunkFilename: chunk.Filename(),
		ChunkStart:    chunk.StartTimeOffset,
		PluginName:    plugin,
		Class:         class,
		Status:        model.TokenWaiting,
		UpdatedAt:     c.clock.Now(),
	}
	pk := tokenPK(chunk.Program, chunk.Event)
	sk := GateRequest{Chunk: chunk, Class: class, Plugin: plugin}.sk()
	version, err := store.PutAs(ctx, c.st, pk, sk, tok, store.IfNotExists())
	if errors.Is(err, store.ErrConditionFailed) {
		existing, v, err := store.GetAs[model.ChunkCompletionToken](ctx, c.st, pk, sk)
		existing.Version = v
		return existing, err
	}
	if err != nil {
		return model.ChunkCompletionToken{}, model.WrapChunk("register token", chunk, plugin, err)
	}
	tok.Version = version
	metrics.RecordTokenUpdate(string(class), string(model.TokenWaiting))
	return tok, nil
}

// Tokens lists an event's tokens for one class in chunk order.
func (c *Coordinator) Tokens(ctx context.Context, program, event string, class model.PluginClass) ([]model.ChunkCompletionToken, error) {
	items, err := store.QueryAll(ctx, c.st, tokenPK(program, event), store.BeginsWith(string(class)+store.Sep), false)
	if err != nil {
		return nil, err
	}
	out := make([]model.ChunkCompletionToken, 0, len(items))
	for _, it := range items {
		tok, err := store.Decode[model.ChunkCompletionToken](it)
		if err != nil {
			return nil, err
		}
		tok.Version = it.Version
		out = append(out, tok)
	}
	return out, nil
}

// CheckAndGate returns true and marks the token IN_PROGRESS when no earlier
// chunk of the same class is still WAITING or IN_PROGRESS. Otherwise the
// token is marked WAITING and false is returned. A settled token is never
// reopened: the call returns ErrTokenSettled without writing.
func (c *Coordinator) CheckAndGate(ctx context.Context, req GateRequest) (completed bool, err error) {
	ctx, span := telemetry.Start(ctx, tracerName, "coordinator.gate",
		append(telemetry.ChunkAttributes(req.Chunk.Program, req.Chunk.Event, req.Chunk.Filename(), req.Chunk.StartTimeOffset),
			telemetry.PluginAttributes(req.Plugin, string(req.Class))...)...)
	defer func() { telemetry.End(span, err) }()

	tokens, err := c.Tokens(ctx, req.Chunk.Program, req.Chunk.Event, req.Class)
	if err != nil {
		return false, model.WrapChunk("list tokens", req.Chunk, req.Plugin, err)
	}
	var blocker *model.ChunkCompletionToken
	for i := range tokens {
		t := &tokens[i]
		if req.owns(*t) && t.Status.IsTerminal() {
			metrics.RecordGateDecision(string(req.Class), "settled")
			return false, model.WrapChunk("gate", req.Chunk, req.Plugin, ErrTokenSettled)
		}
	}
	for i := range tokens {
		t := &tokens[i]
		if t.ChunkStart >= req.Chunk.StartTimeOffset {
			break
		}
		if !t.Status.IsTerminal() {
			blocker = t
			break
		}
	}

	status := model.TokenInProgress
	if blocker != nil {
		status = model.TokenWaiting
	}
	if err := c.setStatus(ctx, req, status, ""); err != nil {
		return false, err
	}

	outcome := "granted"
	if blocker != nil {
		outcome = "blocked"
		log.FromContext(ctx).Debug().
			Str(log.FieldProgram, req.Chunk.Program).
			Str(log.FieldEvent, req.Chunk.Event).
			Str(log.FieldChunk, req.Chunk.Filename()).
			Str(log.FieldPlugin, req.Plugin).
			Str("blocked_by", blocker.ChunkFilename).
			Str(log.FieldStatus, string(blocker.Status)).
			Msg("chunk waiting for earlier chunk")
	}
	metrics.RecordGateDecision(string(req.Class), outcome)
	return blocker == nil, nil
}

func (c *Coordinator) setStatus(ctx context.Context, req GateRequest, status model.TokenStatus, reason string) error {
	_, _, err := store.Mutate(ctx, c.st, tokenPK(req.Chunk.Program, req.Chunk.Event), req.sk(),
		func(tok *model.ChunkCompletionToken, exists bool) error {
			if !exists {
				return ErrNoToken
			}
			if tok.Status.IsTerminal() && !status.IsTerminal() {
				return ErrTokenSettled
			}
			tok.Status = status
			tok.Reason = reason
			tok.UpdatedAt = c.clock.Now()
			return nil
		})
	if err != nil {
		return model.WrapChunk("set token "+string(status), req.Chunk, req.Plugin, err)
	}
	metrics.RecordTokenUpdate(string(req.Class), string(status))
	return nil
}

// WaitForTurn polls CheckAndGate every chunkDuration/WaitFactor until the
// gate opens or the attempt budget is spent.
func (c *Coordinator) WaitForTurn(ctx context.Context, req GateRequest, chunkDuration time.Duration) error {
	started := c.clock.Now()
	interval := time.Duration(float64(chunkDuration) / c.cfg.WaitFactor)
	if interval <= 0 {
		interval = time.Millisecond
	}
	policy := resilience.Policy{
		MaxAttempts:     c.cfg.MaxAttempts,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
		Retryable:       func(err error) bool { return errors.Is(err, errBlocked) },
	}
	err := resilience.DoErr(ctx, policy, "coordinator.wait", func(ctx context.Context) error {
		ok, err := c.CheckAndGate(ctx, req)
		if err != nil {
			return err
		}
		if !ok {
			return errBlocked
		}
		return nil
	})
	metrics.ObserveGateWait(string(req.Class), c.clock.Now().Sub(started))
	if errors.Is(err, errBlocked) {
		return model.WrapChunk("wait for turn", req.Chunk, req.Plugin,
			fmt.Errorf("%w after %d attempts", ErrGateTimeout, c.cfg.MaxAttempts))
	}
	return err
}

// RecordOutcome stores the terminal status of a plugin run so later chunks proceed.
func (c *Coordinator) RecordOutcome(ctx context.Context, req GateRequest, status model.TokenStatus, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("record outcome: %s is not terminal", status)
	}
	return c.setStatus(ctx, req, status, reason)
}

// FailWorkflow forces every non-terminal token of the chunk to ERROR,
// publishes WORKFLOW_FAILED and returns cause so the caller can re-raise it.
func (c *Coordinator) FailWorkflow(ctx context.Context, chunk model.Chunk, plugin string, cause error) error {
	logger := log.FromContext(ctx).With().
		Str(log.FieldProgram, chunk.Program).
		Str(log.FieldEvent, chunk.Event).
		Str(log.FieldChunk, chunk.Filename()).
		Str(log.FieldPlugin, plugin).
		Logger()

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	var forced []model.PluginClass
	for _, class := range model.MultiChunkClasses() {
		tokens, err := c.Tokens(ctx, chunk.Program, chunk.Event, class)
		if err != nil {
			logger.Error().Err(err).Msg("list tokens while failing workflow")
			continue
		}
		for _, tok := range tokens {
			if tok.ChunkFilename != chunk.Filename() || tok.ChunkStart != chunk.StartTimeOffset || tok.Status.IsTerminal() {
				continue
			}
			req := GateRequest{Chunk: chunk, Class: class, Plugin: tok.PluginName}
			if err := c.setStatus(ctx, req, model.TokenError, reason); err != nil {
				logger.Error().Err(err).Str(log.FieldPluginClass, string(class)).Msg("force token to ERROR")
				continue
			}
			forced = append(forced, class)
		}
	}

	detail := bus.WorkflowFailedDetail{
		Program: chunk.Program,
		Event:   chunk.Event,
		Chunk:   chunk.Filename(),
		Plugin:  plugin,
		Reason:  reason,
	}
	if len(forced) > 0 {
		detail.Class = string(forced[0])
	}
	if c.bus != nil {
		if err := bus.PublishEvent(ctx, c.bus, bus.SourceCoordinator, bus.TypeWorkflowFailed, detail, c.clock.Now()); err != nil {
			logger.Error().Err(err).Msg("publish workflow failure")
		}
	}
	logger.Error().Err(cause).Int("tokens_forced", len(forced)).Msg("chunk workflow failed")
	return cause
}
