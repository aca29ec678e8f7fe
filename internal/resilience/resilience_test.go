// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts uint) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	retries := 0
	p := fastPolicy(10)
	p.OnRetry = func(error, time.Duration) { retries++ }

	v, err := Do(context.Background(), p, "create", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("throttled")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := DoErr(context.Background(), fastPolicy(10), "create", func(context.Context) error {
		calls++
		return errors.New("throttled")
	})
	require.EqualError(t, err, "throttled")
	assert.Equal(t, 10, calls)
}

func TestRetryPermanentError(t *testing.T) {
	notFound := errors.New("not found")
	p := fastPolicy(10)
	p.Retryable = func(err error) bool { return !errors.Is(err, notFound) }

	calls := 0
	err := DoErr(context.Background(), p, "delete", func(context.Context) error {
		calls++
		return notFound
	})
	require.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerTripsAndProbes(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker("test", 2, time.Minute, WithClock(fake))
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	fake.Advance(time.Minute)
	require.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens")

	fake.Advance(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoredErrors(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker("ignore", 1, time.Minute, WithIgnore(func(err error) bool { return errors.Is(err, notFound) }))
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestThrottle(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, NewThrottle(0, 0).Wait(ctx))
	th := NewThrottle(1000, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, th.Wait(ctx))
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, NewThrottle(0.001, 1).Wait(cancelled))
}

func rejectedCalls(t *testing.T, dependency string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "mre_dependency_breaker_rejected_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == dependency {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestOpenBreakerCountsRejectedCalls(t *testing.T) {
	cb := NewCircuitBreaker("rejecting-dependency", 1, time.Hour)
	ctx := context.Background()
	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errors.New("down") }))

	calls := 0
	for range 3 {
		err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
		require.ErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Zero(t, calls)
	assert.Equal(t, 3.0, rejectedCalls(t, "rejecting-dependency"))
}
