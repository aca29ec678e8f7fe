// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/mre/internal/pipeline/model"
)

// AppConfig is the complete daemon configuration after defaults, file and
// environment have been merged.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`

	API         APIConfig                `yaml:"api"`
	Store       StoreConfig              `yaml:"store"`
	Bus         BusConfig                `yaml:"bus"`
	Schedules   SchedulesConfig          `yaml:"schedules"`
	Coordinator CoordinatorConfig        `yaml:"coordinator"`
	Segmenters  SegmentersConfig         `yaml:"segmenters"`
	Workers     WorkersConfig            `yaml:"workers"`
	Export      ExportConfig             `yaml:"export"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
	Profiles    map[string]model.Profile `yaml:"profiles"`
}

type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	RateLimit       int           `yaml:"rateLimit"` // requests per minute per client IP; 0 disables
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"` // memory, sqlite, badger, redis
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

type BusConfig struct {
	Backend string `yaml:"backend"` // memory, redis (shares store.redis)
}

type SchedulesConfig struct {
	Backend        string        `yaml:"backend"` // memory, store
	CleanupAfter   time.Duration `yaml:"cleanupAfter"`
	SweepInterval  time.Duration `yaml:"sweepInterval"`
	RunnerInterval time.Duration `yaml:"runnerInterval"`
	RetryAttempts  int           `yaml:"retryAttempts"`
	CallsPerSecond float64       `yaml:"callsPerSecond"`
	TargetResource string        `yaml:"targetResource"`
}

type CoordinatorConfig struct {
	WaitFactor  int `yaml:"waitFactor"`
	MaxAttempts int `yaml:"maxAttempts"`
}

type CommercialConfig struct {
	WindowSize   int     `yaml:"windowSize"`
	ThresholdVal float64 `yaml:"thresholdVal"`
	ThresholdLen int     `yaml:"thresholdLen"`
}

type ShotConfig struct {
	MinDuration float64 `yaml:"minDuration"`
}

type KeyMomentConfig struct {
	ClipLength float64 `yaml:"clipLength"`
}

type SegmentersConfig struct {
	Commercial CommercialConfig `yaml:"commercial"`
	Shot       ShotConfig       `yaml:"shot"`
	KeyMoment  KeyMomentConfig  `yaml:"keyMoment"`
}

type WorkersConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type ExportConfig struct {
	Sink  string      `yaml:"sink"` // none, file, minio
	Dir   string      `yaml:"dir"`
	Minio MinioConfig `yaml:"minio"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	ExporterType string  `yaml:"exporter"` // grpc, http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "/var/lib/mre",
		API: APIConfig{
			ListenAddr:      ":8088",
			RateLimit:       600,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Backend: "sqlite", Path: "mre.sqlite"},
		Bus:   BusConfig{Backend: "memory"},
		Schedules: SchedulesConfig{
			Backend:        "store",
			CleanupAfter:   24 * time.Hour,
			SweepInterval:  time.Hour,
			RunnerInterval: 5 * time.Second,
			RetryAttempts:  10,
			CallsPerSecond: 10,
		},
		Coordinator: CoordinatorConfig{WaitFactor: 4, MaxAttempts: 5},
		Segmenters: SegmentersConfig{
			Commercial: CommercialConfig{WindowSize: 2, ThresholdVal: 1.0, ThresholdLen: 2},
			Shot:       ShotConfig{MinDuration: 10},
			KeyMoment:  KeyMomentConfig{ClipLength: 30},
		},
		Workers: WorkersConfig{Concurrency: 8},
		Export:  ExportConfig{Sink: "file", Dir: "exports"},
		Telemetry: TelemetryConfig{
			ServiceName:  "mre",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
