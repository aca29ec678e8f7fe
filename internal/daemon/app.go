// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/mre/internal/api"
	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/health"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
	"github.com/ManuGH/mre/internal/pipeline/worker"
)

// App owns the long-lived runtime: the HTTP server, the chunk orchestrator,
// the schedule runner and sweeper, and config reload wiring.
type App struct {
	cfg          config.AppConfig
	holder       *config.Holder
	logger       zerolog.Logger
	clock        clock.Clock
	reloadSignal os.Signal

	scheduler    *lifecycle.Scheduler
	runner       *schedule.Runner
	sweeper      *worker.Sweeper
	orchestrator *worker.Orchestrator
	server       *api.Server
	health       *health.Manager

	hooks []namedHook
}

// Health exposes the manager the probes report from.
func (a *App) Health() *health.Manager { return a.health }

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails. Resources opened by Build are released before it returns.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.API.ListenAddr)
	if err != nil {
		_ = a.shutdown(context.Background())
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Serve(ctx, ln) })
	g.Go(func() error { return ignoreCancel(a.orchestrator.Run(ctx)) })
	g.Go(func() error { return a.runner.Run(ctx) })
	g.Go(func() error { return ignoreCancel(a.sweeper.Run(ctx)) })

	// Config watcher is best-effort: a failing watcher does not stop the daemon.
	g.Go(func() error {
		if err := a.holder.Watch(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		return nil
	})

	// Reload-during-runtime wiring: retention follows the config.
	applyCh := make(chan config.AppConfig, 1)
	a.holder.Subscribe(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-applyCh:
				a.scheduler.SetRetention(cfg.Schedules.CleanupAfter)
				a.logger.Info().
					Str("event", "config.applied").
					Dur("retention", a.scheduler.Retention()).
					Msg("applied reloaded config")
			}
		}
	})

	// SIGHUP trigger for manual reload.
	if a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.holder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	a.logger.Info().Str("version", a.cfg.Version).Msg("replay engine running")
	err := g.Wait()

	timeout := a.cfg.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if serr := a.shutdown(shutdownCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("replay engine stopped with errors")
		return err
	}
	a.logger.Info().Msg("replay engine stopped cleanly")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
