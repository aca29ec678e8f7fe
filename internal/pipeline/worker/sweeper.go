// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
)

// Sweeper periodically removes fired lifecycle schedules older than the
// scheduler's retention.
type Sweeper struct {
	Scheduler *lifecycle.Scheduler
	Interval  time.Duration

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

const defaultSweepInterval = time.Hour

// Run sweeps once at start and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := log.WithComponentFromContext(ctx, "sweeper")
	logger.Info().Dur("interval", interval).Msg("schedule sweeper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("schedule sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// LastRun reports when the last sweep finished and its error, if any.
func (s *Sweeper) LastRun() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Sweeper) sweep(ctx context.Context) {
	report, err := s.Scheduler.Sweep(ctx)

	s.mu.Lock()
	s.lastRun, s.lastErr = time.Now(), ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "sweeper")
	if err != nil {
		logger.Error().Err(err).
			Strs("failed", report.Failed).
			Int("deleted", len(report.Deleted)).
			Msg("schedule sweep incomplete")
		return
	}
	if len(report.Deleted) > 0 {
		logger.Info().
			Int("scanned", report.Scanned).
			Strs("deleted", report.Deleted).
			Dur("retention", report.Retention).
			Msg("schedule sweep removed fired schedules")
	}
}
