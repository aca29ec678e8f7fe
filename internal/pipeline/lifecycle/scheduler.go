// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lifecycle drives event lifecycles through one-shot schedules:
// it computes fire times, keeps exactly one schedule per event transition,
// applies fired transitions to the event record and sweeps stale schedules.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
	"github.com/ManuGH/mre/internal/pipeline/store"
	"github.com/ManuGH/mre/internal/resilience"
)

// Config tunes the scheduler.
type Config struct {
	// CleanupAfter is how long past its fire time a schedule survives the sweep.
	CleanupAfter time.Duration
	// Target is recorded on every schedule as its delivery target.
	Target         string
	Retry          resilience.Policy
	CallsPerSecond float64
}

// DefaultConfig keeps fired schedules for 24h and retries service calls ten times.
func DefaultConfig() Config {
	return Config{CleanupAfter: 24 * time.Hour, Retry: resilience.DefaultPolicy(), CallsPerSecond: 10}
}

// Scheduler owns the schedules and records of registered events.
type Scheduler struct {
	svc       schedule.Service
	st        store.Store
	bus       bus.Bus
	clock     clock.Clock
	cfg       Config
	retention atomic.Int64
	throttle  *resilience.Throttle
	breaker   *resilience.CircuitBreaker
}

func New(svc schedule.Service, st store.Store, b bus.Bus, clk clock.Clock, cfg Config) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.CleanupAfter <= 0 {
		cfg.CleanupAfter = DefaultConfig().CleanupAfter
	}
	s := &Scheduler{
		svc:      svc,
		st:       st,
		bus:      b,
		clock:    clk,
		cfg:      cfg,
		throttle: resilience.NewThrottle(cfg.CallsPerSecond, 1),
		breaker: resilience.NewCircuitBreaker("schedule-service", 5, 30*time.Second,
			resilience.WithClock(clk), resilience.WithIgnore(expected)),
	}
	s.retention.Store(int64(cfg.CleanupAfter))
	return s
}

// SetRetention changes the sweep threshold at runtime.
func (s *Scheduler) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention.Store(int64(d))
	}
}

// Retention is the current sweep threshold.
func (s *Scheduler) Retention() time.Duration {
	return time.Duration(s.retention.Load())
}

// expected errors are answers from a healthy service.
func expected(err error) bool {
	return errors.Is(err, schedule.ErrNotFound) ||
		errors.Is(err, schedule.ErrAlreadyExists) ||
		errors.Is(err, schedule.ErrInvalid)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, schedule.ErrNotFound):
		return "not_found"
	case errors.Is(err, schedule.ErrAlreadyExists):
		return "conflict"
	}
	return "error"
}

// call runs one service operation through the throttle, breaker and retry policy.
func (s *Scheduler) call(ctx context.Context, op string, fn func(context.Context) error) error {
	p := s.cfg.Retry
	p.Retryable = func(err error) bool { return !expected(err) }
	p.OnRetry = func(error, time.Duration) { metrics.RecordScheduleRetry(op) }
	err := resilience.DoErr(ctx, p, "schedule."+op, func(ctx context.Context) error {
		if err := s.throttle.Wait(ctx); err != nil {
			return err
		}
		return s.breaker.Execute(ctx, fn)
	})
	metrics.RecordScheduleOp(op, resultOf(err))
	return err
}

// CreateOrUpdate makes sched fire at fireAt. An existing schedule of the same
// name is overwritten in place, never duplicated.
func (s *Scheduler) CreateOrUpdate(ctx context.Context, sched model.Schedule, fireAt time.Time) error {
	payload, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", sched.Name, err)
	}
	target := sched.TargetResourceARN
	if target == "" {
		target = s.cfg.Target
	}
	entry := schedule.Entry{Name: sched.Name, Expression: schedule.FormatAt(fireAt), Target: target, Payload: payload}

	create := func(ctx context.Context) error { return s.svc.Create(ctx, entry) }
	update := func(ctx context.Context) error { return s.svc.Update(ctx, entry) }

	err = s.call(ctx, "create", create)
	if errors.Is(err, schedule.ErrAlreadyExists) {
		err = s.call(ctx, "update", update)
		if errors.Is(err, schedule.ErrNotFound) {
			// Fired and removed between the two calls.
			err = s.call(ctx, "create", create)
		}
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", sched.Name, err)
	}
	log.FromContext(ctx).Info().
		Str(log.FieldSchedule, sched.Name).
		Str(log.FieldProgram, sched.ProgramName).
		Str(log.FieldEvent, sched.EventName).
		Time(log.FieldFireAt, fireAt).
		Msg("schedule set")
	return nil
}

// Delete removes a schedule. A missing schedule already fired or was
// removed, so it is not an error.
func (s *Scheduler) Delete(ctx context.Context, name string) error {
	err := s.call(ctx, "delete", func(ctx context.Context) error { return s.svc.Delete(ctx, name) })
	if errors.Is(err, schedule.ErrNotFound) {
		log.FromContext(ctx).Debug().Str(log.FieldSchedule, name).Msg("schedule already gone")
		return nil
	}
	if err != nil {
		log.FromContext(ctx).Error().Err(err).Str(log.FieldSchedule, name).Msg("delete schedule failed")
		return fmt.Errorf("delete schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) list(ctx context.Context, prefix string) ([]schedule.Entry, error) {
	var out []schedule.Entry
	err := s.call(ctx, "list", func(ctx context.Context) error {
		entries, err := schedule.ListAll(ctx, s.svc, prefix)
		out = entries
		return err
	})
	return out, err
}
