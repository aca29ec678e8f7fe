// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment and dependencies before starting the daemon.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	// 1. Data directory
	if err := ensureWritableDir(logger, "data", cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Store location
	switch strings.ToLower(cfg.Store.Backend) {
	case "sqlite":
		if err := ensureWritableDir(logger, "store", filepath.Dir(cfg.Store.Path)); err != nil {
			return fmt.Errorf("store directory check failed: %w", err)
		}
	case "badger":
		if err := ensureWritableDir(logger, "store", cfg.Store.Path); err != nil {
			return fmt.Errorf("store directory check failed: %w", err)
		}
	case "memory", "":
		logger.Warn().Msg("item store is in memory; segments and schedules are lost on restart")
	}

	// 3. Export sink
	if strings.EqualFold(cfg.Export.Sink, "file") {
		if err := ensureWritableDir(logger, "export", cfg.Export.Dir); err != nil {
			return fmt.Errorf("export directory check failed: %w", err)
		}
	}

	// 4. Network dependencies
	if err := checkListenAddr(logger, cfg.API.ListenAddr); err != nil {
		return err
	}
	if usesRedis(cfg) {
		if err := checkReachable(ctx, logger, "redis", cfg.Store.Redis.Addr); err != nil {
			return err
		}
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func usesRedis(cfg config.AppConfig) bool {
	return strings.EqualFold(cfg.Store.Backend, "redis") || strings.EqualFold(cfg.Bus.Backend, "redis")
}

func ensureWritableDir(logger zerolog.Logger, what, path string) error {
	if path == "" {
		return fmt.Errorf("%s directory is not configured", what)
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s directory %s: %w", what, path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Str("dir", what).Msg("directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid API listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid API listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("API listen address is valid")
	return nil
}

func checkReachable(ctx context.Context, logger zerolog.Logger, what, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s address is not configured", what)
	}
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s at %s is unreachable: %w", what, addr, err)
	}
	_ = conn.Close()
	logger.Info().Str("addr", addr).Msgf("%s is reachable", what)
	return nil
}
