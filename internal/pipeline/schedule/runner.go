// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
)

// Handler is the target a due schedule is delivered to.
type Handler func(ctx context.Context, e Entry) error

// Runner polls a Service and fires due entries once. A fired entry is
// deleted; if the delete fails it is marked Fired and left for the sweep.
type Runner struct {
	svc      Service
	clock    clock.Clock
	handler  Handler
	interval time.Duration
	prefixes []string
}

func NewRunner(svc Service, clk clock.Clock, interval time.Duration, handler Handler, prefixes ...string) *Runner {
	if clk == nil {
		clk = clock.Real{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	return &Runner{svc: svc, clock: clk, handler: handler, interval: interval, prefixes: prefixes}
}

// Run ticks until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "schedule-runner")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("schedule tick failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick fires every due entry and returns how many fired.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	logger := log.WithComponentFromContext(ctx, "schedule-runner")
	now := r.clock.Now()
	fired := 0
	var errs []error
	for _, prefix := range r.prefixes {
		entries, err := ListAll(ctx, r.svc, prefix)
		if err != nil {
			return fired, err
		}
		for _, e := range entries {
			if e.Fired {
				continue
			}
			at, err := e.FireAt()
			if err != nil {
				logger.Warn().Err(err).Str(log.FieldSchedule, e.Name).Msg("undecodable schedule skipped")
				continue
			}
			if at.After(now) {
				continue
			}
			if err := r.handler(ctx, e); err != nil {
				logger.Error().Err(err).Str(log.FieldSchedule, e.Name).Msg("schedule target failed")
				errs = append(errs, err)
				continue
			}
			fired++
			if err := r.svc.Delete(ctx, e.Name); err != nil && !errors.Is(err, ErrNotFound) {
				logger.Warn().Err(err).Str(log.FieldSchedule, e.Name).Msg("fired schedule not deleted")
				e.Fired = true
				if uerr := r.svc.Update(ctx, e); uerr != nil {
					errs = append(errs, uerr)
				}
			}
		}
	}
	return fired, errors.Join(errs...)
}
