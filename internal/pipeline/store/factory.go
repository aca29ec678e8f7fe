// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuGH/mre/internal/persistence/sqlite"
	"github.com/rs/zerolog"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend string // memory, sqlite, badger, redis
	Path    string // sqlite file or badger directory
	Redis   RedisConfig
}

// Open builds the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		s   Store
		err error
	)
	switch backend {
	case "", "memory":
		backend = "memory"
		s = NewMemoryStore()
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: sqlite backend requires a path")
		}
		s, err = NewSqliteStore(ctx, cfg.Path)
	case "badger":
		s, err = NewBadgerStore(cfg.Path)
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("store: redis backend requires an address")
		}
		s, err = NewRedisStore(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Str("backend", backend).Str("path", cfg.Path).Msg("item store opened")
	return NewInstrumentedStore(s, backend), nil
}

// HealthChecker is implemented by backends that can verify themselves.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Check runs the backend's self-check, if any.
func Check(ctx context.Context, s Store) error {
	if hc, ok := s.(HealthChecker); ok {
		return hc.Check(ctx)
	}
	return nil
}

// Check runs a quick integrity check on the database file.
func (s *SqliteStore) Check(ctx context.Context) error {
	issues, err := sqlite.VerifyIntegrity(ctx, s.path, "quick")
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("sqlite integrity: %s", strings.Join(issues, "; "))
	}
	return nil
}

// Check pings the server.
func (r *RedisStore) Check(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
