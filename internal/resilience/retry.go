// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience wraps calls to external services with retry,
// rate limiting and circuit breaking.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/mre/internal/log"
	"github.com/cenkalti/backoff/v5"
)

// Policy is an exponential backoff retry policy.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	// Retryable decides whether an error is transient. Nil retries everything
	// except context cancellation.
	Retryable func(error) bool
	// OnRetry is called before each sleep.
	OnRetry func(err error, wait time.Duration)
}

// DefaultPolicy matches the schedule service retry budget: ten attempts,
// adaptive exponential backoff with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     10,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	return b
}

// Do runs op under the policy and returns its result or the last error.
func Do[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	operation := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		log.FromContext(ctx).Debug().Err(err).
			Str("op", name).
			Dur("wait", wait).
			Msg("retrying after transient error")
		if p.OnRetry != nil {
			p.OnRetry(err, wait)
		}
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
