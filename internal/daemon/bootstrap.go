// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the replay engine together and owns its runtime lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/mre/internal/api"
	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/health"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/coordinator"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/replay"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
	"github.com/ManuGH/mre/internal/pipeline/segment"
	"github.com/ManuGH/mre/internal/pipeline/segmenter"
	"github.com/ManuGH/mre/internal/pipeline/store"
	"github.com/ManuGH/mre/internal/pipeline/worker"
	"github.com/ManuGH/mre/internal/resilience"
	"github.com/ManuGH/mre/internal/telemetry"
)

// ShutdownHook releases a resource acquired during Build.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Build constructs every component from the holder's current config.
// On error, whatever was already opened is closed again.
func Build(ctx context.Context, holder *config.Holder) (*App, error) {
	if holder == nil {
		return nil, ErrMissingConfig
	}
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	app := &App{
		cfg:          cfg,
		holder:       holder,
		logger:       logger,
		clock:        clock.Real{},
		reloadSignal: syscall.SIGHUP,
	}
	built := false
	defer func() {
		if !built {
			_ = app.shutdown(context.Background())
		}
	}()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.registerShutdownHook("telemetry", tp.Shutdown)

	st, err := store.Open(ctx, store.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis:   redisConfig(cfg.Store.Redis),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.registerShutdownHook("store", func(context.Context) error { return st.Close() })

	b, err := app.openBus(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := openScheduleService(cfg.Schedules, st, app.clock)
	if err != nil {
		return nil, err
	}

	retry := resilience.DefaultPolicy()
	if cfg.Schedules.RetryAttempts > 0 {
		retry.MaxAttempts = uint(cfg.Schedules.RetryAttempts)
	}
	app.scheduler = lifecycle.New(svc, st, b, app.clock, lifecycle.Config{
		CleanupAfter:   cfg.Schedules.CleanupAfter,
		Target:         cfg.Schedules.TargetResource,
		Retry:          retry,
		CallsPerSecond: cfg.Schedules.CallsPerSecond,
	})
	app.runner = schedule.NewRunner(svc, app.clock, cfg.Schedules.RunnerInterval, app.scheduler.HandleFire, lifecycle.Prefixes()...)
	app.sweeper = &worker.Sweeper{Scheduler: app.scheduler, Interval: cfg.Schedules.SweepInterval}

	coord := coordinator.New(st, b, app.clock, coordinator.Config{
		WaitFactor:  float64(cfg.Coordinator.WaitFactor),
		MaxAttempts: uint(max(cfg.Coordinator.MaxAttempts, 1)),
	})
	tracker := segment.NewTracker(st, segment.NewResults(st), app.clock)
	app.orchestrator = &worker.Orchestrator{
		Bus: b,
		Workflow: &worker.Workflow{
			Tracker:     tracker,
			Coordinator: coord,
			Bus:         b,
			Profiles:    holder,
			Segmenters:  segmenterDefaults(cfg.Segmenters),
			Clock:       app.clock,
		},
		Concurrency: cfg.Workers.Concurrency,
	}

	sink, err := openSink(ctx, cfg.Export)
	if err != nil {
		return nil, err
	}

	app.health = health.NewManager(cfg.Version)
	app.health.RegisterChecker(health.NewFuncChecker("store", func(ctx context.Context) error {
		return store.Check(ctx, st)
	}))
	if rb, ok := b.(*bus.RedisBus); ok {
		app.health.RegisterChecker(health.NewFuncChecker("bus", rb.Ping))
	}
	sweepMaxAge := 2*cfg.Schedules.SweepInterval + time.Minute
	app.health.RegisterChecker(health.NewLastRunChecker("schedule_sweep", sweepMaxAge, app.sweeper.LastRun))

	app.server = api.New(cfg.API, cfg.Telemetry.ServiceName, api.Deps{
		Scheduler: app.scheduler,
		Ingestor:  &worker.Ingestor{Coordinator: coord, Bus: b, Profiles: holder, Clock: app.clock},
		Tracker:   tracker,
		Profiles:  holder,
		Sink:      sink,
		Health:    app.health,
		Clock:     app.clock,
	})

	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("bus", cfg.Bus.Backend).
		Str("schedules", cfg.Schedules.Backend).
		Str("sink", sink.Name()).
		Int("profiles", len(cfg.Profiles)).
		Msg("replay engine assembled")
	built = true
	return app, nil
}

func redisConfig(c config.RedisConfig) store.RedisConfig {
	return store.RedisConfig{Addr: c.Addr, Password: c.Password, DB: c.DB, KeyPrefix: c.KeyPrefix}
}

// openBus builds the event bus. The redis bus gets its own client so that
// subscriptions do not hold connections from the store's pool.
func (a *App) openBus(ctx context.Context, cfg config.AppConfig) (bus.Bus, error) {
	switch strings.ToLower(cfg.Bus.Backend) {
	case "", "memory":
		return bus.NewMemoryBus(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Store.Redis.Addr,
			Password:    cfg.Store.Redis.Password,
			DB:          cfg.Store.Redis.DB,
			DialTimeout: 5 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("bus: redis connection failed: %w", err)
		}
		a.registerShutdownHook("bus", func(context.Context) error { return client.Close() })
		return bus.NewRedisBus(client, cfg.Store.Redis.KeyPrefix, log.WithComponent("bus")), nil
	default:
		return nil, fmt.Errorf("%w: bus %q", ErrUnknownBackend, cfg.Bus.Backend)
	}
}

func openScheduleService(cfg config.SchedulesConfig, st store.Store, clk clock.Clock) (schedule.Service, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return schedule.NewMemoryService(clk), nil
	case "", "store":
		return schedule.NewStoreService(st, clk), nil
	default:
		return nil, fmt.Errorf("%w: schedules %q", ErrUnknownBackend, cfg.Backend)
	}
}

func openSink(ctx context.Context, cfg config.ExportConfig) (replay.Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "", "none":
		return replay.NopSink{}, nil
	case "file":
		return replay.FileSink{Dir: cfg.Dir}, nil
	case "minio":
		sink, err := replay.NewMinioSink(replay.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("export bucket: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("%w: export sink %q", ErrUnknownBackend, cfg.Sink)
	}
}

func segmenterDefaults(c config.SegmentersConfig) segmenter.Defaults {
	return segmenter.Defaults{
		Commercial: segmenter.Commercial{
			WindowSize:   c.Commercial.WindowSize,
			ThresholdVal: c.Commercial.ThresholdVal,
			ThresholdLen: c.Commercial.ThresholdLen,
		},
		Shot:      segmenter.Shot{MinDuration: c.Shot.MinDuration},
		KeyMoment: segmenter.KeyMoment{ClipLength: c.KeyMoment.ClipLength},
	}
}

func (a *App) registerShutdownHook(name string, hook ShutdownHook) {
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
	a.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// shutdown runs the hooks in reverse registration order.
func (a *App) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(a.hooks) - 1; i >= 0; i-- {
		h := a.hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			a.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		a.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	a.hooks = nil
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
