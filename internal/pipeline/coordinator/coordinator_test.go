// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

const plugin = "SegmentByCommercials"

func chunkN(n int) model.Chunk {
	return model.Chunk{
		Program: "prog", Event: "ev", Profile: "prof",
		SequenceKey:     fmt.Sprintf("media/prog/ev/chunk_%d.ts", n),
		StartTimeOffset: float64(n * 20), DurationSeconds: 20, FrameRate: 25,
	}
}

func gate(n int) GateRequest {
	return GateRequest{Chunk: chunkN(n), Class: model.ClassClassifier, Plugin: plugin}
}

func setup(t *testing.T) (*Coordinator, *bus.MemoryBus) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	b := bus.NewMemoryBus()
	return New(st, b, nil, Config{WaitFactor: 4, MaxAttempts: 3}), b
}

func register(t *testing.T, c *Coordinator, chunks ...int) {
	t.Helper()
	for _, n := range chunks {
		tok, err := c.Register(context.Background(), chunkN(n), model.ClassClassifier, plugin)
		require.NoError(t, err)
		require.Equal(t, model.TokenWaiting, tok.Status)
	}
}

func statusOf(t *testing.T, c *Coordinator, n int) model.TokenStatus {
	t.Helper()
	toks, err := c.Tokens(context.Background(), "prog", "ev", model.ClassClassifier)
	require.NoError(t, err)
	for _, tok := range toks {
		if tok.ChunkFilename == chunkN(n).Filename() {
			return tok.Status
		}
	}
	t.Fatalf("no token for chunk %d", n)
	return ""
}

func TestGateSerializesChunks(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	register(t, c, 1, 2, 3)

	ok, err := c.CheckAndGate(ctx, gate(2))
	require.NoError(t, err)
	assert.False(t, ok, "chunk 1 still waiting")
	assert.Equal(t, model.TokenWaiting, statusOf(t, c, 2))

	ok, err = c.CheckAndGate(ctx, gate(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.TokenInProgress, statusOf(t, c, 1))

	ok, err = c.CheckAndGate(ctx, gate(2))
	require.NoError(t, err)
	assert.False(t, ok, "chunk 1 in progress")
	assert.NotEqual(t, model.TokenInProgress, statusOf(t, c, 2))

	require.NoError(t, c.RecordOutcome(ctx, gate(1), model.TokenComplete, ""))
	ok, err = c.CheckAndGate(ctx, gate(2))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckAndGate(ctx, gate(3))
	require.NoError(t, err)
	assert.False(t, ok, "chunk 2 in progress")

	require.NoError(t, c.RecordOutcome(ctx, gate(2), model.TokenError, "boom"))
	ok, err = c.CheckAndGate(ctx, gate(3))
	require.NoError(t, err)
	assert.True(t, ok, "ERROR unblocks like COMPLETE")
}

func TestClassesGateIndependently(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	register(t, c, 1, 2)

	req := GateRequest{Chunk: chunkN(2), Class: model.ClassOptimizer, Plugin: "OptimizeAudio"}
	_, err := c.Register(ctx, req.Chunk, req.Class, req.Plugin)
	require.NoError(t, err)
	ok, err := c.CheckAndGate(ctx, req)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	register(t, c, 1)
	require.NoError(t, c.RecordOutcome(ctx, gate(1), model.TokenComplete, ""))

	tok, err := c.Register(ctx, chunkN(1), model.ClassClassifier, plugin)
	require.NoError(t, err)
	assert.Equal(t, model.TokenComplete, tok.Status)
}

func TestGateWithoutTokenFails(t *testing.T) {
	c, _ := setup(t)
	_, err := c.CheckAndGate(context.Background(), gate(1))
	require.ErrorIs(t, err, ErrNoToken)

	var ce *model.ContextError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, plugin, ce.Plugin)
	assert.Equal(t, "chunk_1.ts", ce.Chunk)
}

func TestWaitForTurnTimesOut(t *testing.T) {
	c, _ := setup(t)
	register(t, c, 1, 2)

	err := c.WaitForTurn(context.Background(), gate(2), 8*time.Millisecond)
	require.ErrorIs(t, err, ErrGateTimeout)
	assert.Equal(t, model.TokenWaiting, statusOf(t, c, 2))
}

func TestWaitForTurnProceedsOnceEarlierChunkCompletes(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	c.cfg.MaxAttempts = 50
	register(t, c, 1, 2)

	ok, err := c.CheckAndGate(ctx, gate(1))
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- c.WaitForTurn(ctx, gate(2), 20*time.Millisecond) }()

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, model.TokenWaiting, statusOf(t, c, 2))
	require.NoError(t, c.RecordOutcome(ctx, gate(1), model.TokenComplete, ""))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not proceed")
	}
	assert.Equal(t, model.TokenInProgress, statusOf(t, c, 2))
}

func TestFailWorkflowUnblocksAndNotifies(t *testing.T) {
	ctx := context.Background()
	c, b := setup(t)
	register(t, c, 1, 2)
	sub, err := b.Subscribe(ctx, bus.TypeWorkflowFailed)
	require.NoError(t, err)
	defer sub.Close()

	ok, err := c.CheckAndGate(ctx, gate(1))
	require.NoError(t, err)
	require.True(t, ok)

	cause := fmt.Errorf("%w: bad boundary", model.ErrMalformedResult)
	err = c.FailWorkflow(ctx, chunkN(1), plugin, cause)
	require.ErrorIs(t, err, model.ErrMalformedResult)
	assert.Equal(t, model.TokenError, statusOf(t, c, 1))

	ok, err = c.CheckAndGate(ctx, gate(2))
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case ev := <-sub.C():
		detail, err := bus.DecodeDetail[bus.WorkflowFailedDetail](ev)
		require.NoError(t, err)
		assert.Equal(t, "chunk_1.ts", detail.Chunk)
		assert.Equal(t, plugin, detail.Plugin)
		assert.Equal(t, string(model.ClassClassifier), detail.Class)
		assert.Contains(t, detail.Reason, "bad boundary")
	case <-time.After(time.Second):
		t.Fatal("no WORKFLOW_FAILED event")
	}
}

func TestSettledTokenIsNeverReopened(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	register(t, c, 1, 2)

	ok, err := c.CheckAndGate(ctx, gate(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, c.RecordOutcome(ctx, gate(1), model.TokenComplete, ""))

	ok, err = c.CheckAndGate(ctx, gate(2))
	require.NoError(t, err)
	require.True(t, ok)

	// Redelivery of chunk 1 while chunk 2 runs.
	tok, err := c.Register(ctx, chunkN(1), model.ClassClassifier, plugin)
	require.NoError(t, err)
	assert.Equal(t, model.TokenComplete, tok.Status)

	ok, err = c.CheckAndGate(ctx, gate(1))
	assert.ErrorIs(t, err, ErrTokenSettled)
	assert.False(t, ok)
	assert.ErrorIs(t, c.WaitForTurn(ctx, gate(1), 20*time.Millisecond), ErrTokenSettled)

	assert.Equal(t, model.TokenComplete, statusOf(t, c, 1))
	assert.Equal(t, model.TokenInProgress, statusOf(t, c, 2))
}

func TestFailedTokenStaysFailed(t *testing.T) {
	ctx := context.Background()
	c, _ := setup(t)
	register(t, c, 1)

	require.NoError(t, c.RecordOutcome(ctx, gate(1), model.TokenError, "plugin crashed"))
	_, err := c.CheckAndGate(ctx, gate(1))
	assert.ErrorIs(t, err, ErrTokenSettled)
	assert.Equal(t, model.TokenError, statusOf(t, c, 1))
}
