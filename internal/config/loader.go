// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence
// ENV > .env > YAML file > defaults and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ManuGH/mre/internal/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	envFile         string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. Empty paths skip the corresponding source.
func NewLoader(configPath, envFile, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		envFile:         envFile,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path is the YAML file the loader reads, if any.
func (l *Loader) Path() string { return l.configPath }

// Load runs defaults -> strict YAML -> .env -> env overrides -> Validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if l.envFile != "" {
		// Existing process env wins over the file.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	l.mergeEnv(&cfg)

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}
	cfg.Store.Path = l.resolvePath(cfg.DataDir, cfg.Store.Path)
	cfg.Export.Dir = l.resolvePath(cfg.DataDir, cfg.Export.Dir)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) resolvePath(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) || dataDir == "" {
		return p
	}
	return filepath.Join(dataDir, p)
}

// loadFile decodes YAML over cfg with strict parsing: unknown fields fail.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) env(key string) string {
	k := EnvPrefix + key
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(l.env("LOG_LEVEL"), cfg.LogLevel)
	cfg.DataDir = ParseString(l.env("DATA_DIR"), cfg.DataDir)

	cfg.API.ListenAddr = ParseString(l.env("LISTEN_ADDR"), cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(l.env("API_RATE_LIMIT"), cfg.API.RateLimit)
	cfg.API.ShutdownTimeout = ParseDuration(l.env("SHUTDOWN_TIMEOUT"), cfg.API.ShutdownTimeout)

	cfg.Store.Backend = ParseString(l.env("STORE_BACKEND"), cfg.Store.Backend)
	cfg.Store.Path = ParseString(l.env("STORE_PATH"), cfg.Store.Path)
	cfg.Store.Redis.Addr = ParseString(l.env("REDIS_ADDR"), cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = ParseString(l.env("REDIS_PASSWORD"), cfg.Store.Redis.Password)
	cfg.Store.Redis.DB = ParseInt(l.env("REDIS_DB"), cfg.Store.Redis.DB)
	cfg.Bus.Backend = ParseString(l.env("BUS_BACKEND"), cfg.Bus.Backend)

	cfg.Schedules.Backend = ParseString(l.env("SCHEDULES_BACKEND"), cfg.Schedules.Backend)
	cfg.Schedules.CleanupAfter = ParseDuration(l.env("SCHEDULE_CLEANUP_AFTER"), cfg.Schedules.CleanupAfter)
	cfg.Schedules.SweepInterval = ParseDuration(l.env("SCHEDULE_SWEEP_INTERVAL"), cfg.Schedules.SweepInterval)
	cfg.Schedules.RetryAttempts = ParseInt(l.env("SCHEDULE_RETRY_ATTEMPTS"), cfg.Schedules.RetryAttempts)
	cfg.Schedules.CallsPerSecond = ParseFloat(l.env("SCHEDULE_CALLS_PER_SECOND"), cfg.Schedules.CallsPerSecond)
	cfg.Schedules.TargetResource = ParseString(l.env("SCHEDULE_TARGET"), cfg.Schedules.TargetResource)

	cfg.Coordinator.WaitFactor = ParseInt(l.env("WAIT_FACTOR"), cfg.Coordinator.WaitFactor)
	cfg.Coordinator.MaxAttempts = ParseInt(l.env("GATE_MAX_ATTEMPTS"), cfg.Coordinator.MaxAttempts)
	cfg.Workers.Concurrency = ParseInt(l.env("WORKER_CONCURRENCY"), cfg.Workers.Concurrency)

	cfg.Export.Sink = ParseString(l.env("EXPORT_SINK"), cfg.Export.Sink)
	cfg.Export.Dir = ParseString(l.env("EXPORT_DIR"), cfg.Export.Dir)
	cfg.Export.Minio.Endpoint = ParseString(l.env("MINIO_ENDPOINT"), cfg.Export.Minio.Endpoint)
	cfg.Export.Minio.AccessKey = ParseString(l.env("MINIO_ACCESS_KEY"), cfg.Export.Minio.AccessKey)
	cfg.Export.Minio.SecretKey = ParseString(l.env("MINIO_SECRET_KEY"), cfg.Export.Minio.SecretKey)
	cfg.Export.Minio.Bucket = ParseString(l.env("MINIO_BUCKET"), cfg.Export.Minio.Bucket)
	cfg.Export.Minio.UseSSL = ParseBool(l.env("MINIO_USE_SSL"), cfg.Export.Minio.UseSSL)

	cfg.Telemetry.Enabled = ParseBool(l.env("TELEMETRY_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(l.env("TELEMETRY_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(l.env("TELEMETRY_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.env("TELEMETRY_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
}

// UnknownEnvKeys lists MRE_* variables the loader never consumed. Call after Load.
func (l *Loader) UnknownEnvKeys() []string {
	var out []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// ConfigureLogging applies the log settings to the global logger.
func ConfigureLogging(cfg AppConfig) {
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "mre", Version: cfg.Version})
}
