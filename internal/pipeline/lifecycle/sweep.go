// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
)

// SweepReport summarizes one cleanup pass.
type SweepReport struct {
	Scanned     int           `json:"scanned"`
	Deleted     []string      `json:"deleted,omitempty"`
	Retained    int           `json:"retained"`
	Undecodable []string      `json:"undecodable,omitempty"`
	Failed      []string      `json:"failed,omitempty"`
	Retention   time.Duration `json:"retention"`
}

// Sweep deletes every owned schedule whose fire time is at least the
// retention in the past. A failed delete does not stop the pass; all
// failures are returned joined.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	logger := log.WithComponentFromContext(ctx, "schedule-sweep")
	now := s.clock.Now()
	report := SweepReport{Retention: s.Retention()}
	var errs []error

	for _, prefix := range Prefixes() {
		entries, err := s.list(ctx, prefix)
		if err != nil {
			errs = append(errs, err)
			logger.Error().Err(err).Str("prefix", prefix).Msg("list schedules failed")
			continue
		}
		for _, e := range entries {
			report.Scanned++
			at, err := e.FireAt()
			if err != nil {
				report.Undecodable = append(report.Undecodable, e.Name)
				logger.Warn().Err(err).Str(log.FieldSchedule, e.Name).Msg("schedule expression not decodable")
				continue
			}
			if now.Sub(at) < report.Retention {
				report.Retained++
				continue
			}
			if err := s.Delete(ctx, e.Name); err != nil {
				report.Failed = append(report.Failed, e.Name)
				errs = append(errs, err)
				continue
			}
			report.Deleted = append(report.Deleted, e.Name)
		}
	}

	result := "success"
	if len(errs) > 0 {
		result = "partial"
	}
	metrics.RecordSweep(result, len(report.Deleted), report.Retained)
	logger.Info().
		Int("scanned", report.Scanned).
		Int("deleted", len(report.Deleted)).
		Int("retained", report.Retained).
		Int("failed", len(report.Failed)).
		Msg("schedule sweep finished")
	return report, errors.Join(errs...)
}
