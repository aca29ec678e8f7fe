// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command mre runs the media replay engine daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/daemon"
	mrelog "github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	envFile := flag.String("env-file", ".env", "optional dotenv file")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	mrelog.Configure(mrelog.Config{Level: "info", Service: "mre", Version: version.Version})
	logger := mrelog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = resolveDefaultConfigPath()
	}
	loader := config.NewLoader(path, *envFile, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Str("config_path", path).Msg("failed to load configuration")
	}
	config.ConfigureLogging(cfg)

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("configuration loaded")

	app, err := daemon.Build(ctx, config.NewHolder(cfg, loader))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.build_failed").Msg("failed to start replay engine")
	}
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("replay engine exited with error")
		os.Exit(1)
	}
}

// resolveDefaultConfigPath auto-loads ${MRE_DATA_DIR}/config.yaml if it exists.
func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA_DIR"))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}
