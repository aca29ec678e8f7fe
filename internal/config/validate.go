// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
)

// Validate checks cross-field constraints and returns every violation.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("logLevel: %w", err)
	}
	if cfg.API.ListenAddr == "" {
		add("api.listenAddr is required")
	}
	if cfg.API.RateLimit < 0 {
		add("api.rateLimit must be >= 0")
	}

	if !slices.Contains([]string{"memory", "sqlite", "badger", "redis"}, cfg.Store.Backend) {
		add("store.backend %q: want memory, sqlite, badger or redis", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		add("store.path is required for the sqlite backend")
	}
	needsRedis := cfg.Store.Backend == "redis" || cfg.Bus.Backend == "redis"
	if needsRedis && cfg.Store.Redis.Addr == "" {
		add("store.redis.addr is required when redis is used")
	}
	if !slices.Contains([]string{"memory", "redis"}, cfg.Bus.Backend) {
		add("bus.backend %q: want memory or redis", cfg.Bus.Backend)
	}

	if !slices.Contains([]string{"memory", "store"}, cfg.Schedules.Backend) {
		add("schedules.backend %q: want memory or store", cfg.Schedules.Backend)
	}
	if cfg.Schedules.CleanupAfter <= 0 {
		add("schedules.cleanupAfter must be > 0")
	}
	if cfg.Schedules.SweepInterval <= 0 {
		add("schedules.sweepInterval must be > 0")
	}
	if cfg.Schedules.RunnerInterval <= 0 {
		add("schedules.runnerInterval must be > 0")
	}
	if cfg.Schedules.RetryAttempts < 1 || cfg.Schedules.RetryAttempts > 10 {
		add("schedules.retryAttempts must be within 1..10")
	}
	if cfg.Schedules.CallsPerSecond < 0 {
		add("schedules.callsPerSecond must be >= 0")
	}

	if cfg.Coordinator.WaitFactor < 1 {
		add("coordinator.waitFactor must be >= 1")
	}
	if cfg.Coordinator.MaxAttempts < 1 || cfg.Coordinator.MaxAttempts > 5 {
		add("coordinator.maxAttempts must be within 1..5")
	}

	c := cfg.Segmenters.Commercial
	if c.WindowSize < 1 || c.ThresholdLen < 1 {
		add("segmenters.commercial windowSize and thresholdLen must be >= 1")
	}
	if cfg.Segmenters.Shot.MinDuration <= 0 {
		add("segmenters.shot.minDuration must be > 0")
	}
	if cfg.Segmenters.KeyMoment.ClipLength <= 0 {
		add("segmenters.keyMoment.clipLength must be > 0")
	}
	if cfg.Workers.Concurrency < 1 {
		add("workers.concurrency must be >= 1")
	}

	switch cfg.Export.Sink {
	case "none":
	case "file":
		if cfg.Export.Dir == "" {
			add("export.dir is required for the file sink")
		}
	case "minio":
		m := cfg.Export.Minio
		if m.Endpoint == "" || m.Bucket == "" {
			add("export.minio endpoint and bucket are required for the minio sink")
		}
	default:
		add("export.sink %q: want none, file or minio", cfg.Export.Sink)
	}

	if cfg.Telemetry.Enabled {
		if !slices.Contains([]string{"grpc", "http"}, cfg.Telemetry.ExporterType) {
			add("telemetry.exporter %q: want grpc or http", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate must be within 0..1")
		}
	}

	for name, p := range cfg.Profiles {
		if p.Name != "" && p.Name != name {
			add("profiles.%s: name %q does not match key", name, p.Name)
		}
		if p.ChunkSize < 0 {
			add("profiles.%s: chunkSize must be >= 0", name)
		}
	}
	return errors.Join(errs...)
}
