// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.yaml", `
logLevel: debug
dataDir: `+dir+`
store:
  backend: badger
  path: items
schedules:
  cleanupAfter: 36h
coordinator:
  waitFactor: 2
profiles:
  football:
    name: football
    chunkSize: 20
    classifier:
      name: SegmentByCommercials
`)
	envPath := writeFile(t, dir, ".env", "MRE_WORKER_CONCURRENCY=3\nMRE_GATE_MAX_ATTEMPTS=2\n")
	t.Setenv("MRE_GATE_MAX_ATTEMPTS", "4")
	t.Setenv("MRE_SCHEDULE_CLEANUP_AFTER", "48h")
	// godotenv writes into the process env; make sure the key is restored.
	t.Setenv("MRE_WORKER_CONCURRENCY", "")
	require.NoError(t, os.Unsetenv("MRE_WORKER_CONCURRENCY"))

	cfg, err := NewLoader(cfgPath, envPath, "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "items"), cfg.Store.Path)
	assert.Equal(t, 48*time.Hour, cfg.Schedules.CleanupAfter, "env beats file")
	assert.Equal(t, 2, cfg.Coordinator.WaitFactor)
	assert.Equal(t, 4, cfg.Coordinator.MaxAttempts, "process env beats .env")
	assert.Equal(t, 3, cfg.Workers.Concurrency, ".env applies when env is unset")
	assert.Equal(t, "SegmentByCommercials", cfg.Profiles["football"].Classifier.Name)
	assert.Equal(t, "v1.2.3", cfg.Version)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.yaml", "store:\n  engine: dynamo\n")
	_, err := NewLoader(cfgPath, "", "").Load()
	require.ErrorContains(t, err, "strict config parse error")
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.yaml", "logLevel: info\n---\nlogLevel: debug\n")
	_, err := NewLoader(cfgPath, "", "").Load()
	require.ErrorContains(t, err, "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.json", "{}")
	_, err := NewLoader(cfgPath, "", "").Load()
	require.ErrorContains(t, err, "only YAML supported")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "dynamo"
	cfg.Coordinator.MaxAttempts = 9
	cfg.Schedules.CleanupAfter = 0
	cfg.Export.Sink = "minio"

	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{"store.backend", "coordinator.maxAttempts", "schedules.cleanupAfter", "export.minio"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("MRE_TEST_INT", "many")
	assert.Equal(t, 7, ParseInt("MRE_TEST_INT", 7))
	t.Setenv("MRE_TEST_BOOL", "yes")
	assert.True(t, ParseBool("MRE_TEST_BOOL", false))
	t.Setenv("MRE_TEST_DUR", "90s")
	assert.Equal(t, 90*time.Second, ParseDuration("MRE_TEST_DUR", time.Second))
}

func TestUnknownEnvKeys(t *testing.T) {
	t.Setenv("MRE_NOT_A_SETTING", "1")
	l := NewLoader("", "", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Contains(t, l.UnknownEnvKeys(), "MRE_NOT_A_SETTING")
	assert.NotContains(t, l.UnknownEnvKeys(), "MRE_LOG_LEVEL")
}

func TestHolderReloadKeepsOldOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.yaml", "dataDir: "+dir+"\nschedules:\n  cleanupAfter: 24h\n")
	loader := NewLoader(cfgPath, "", "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	updates := make(chan AppConfig, 1)
	h.Subscribe(updates)

	writeFile(t, dir, "mre.yaml", "dataDir: "+dir+"\nschedules:\n  cleanupAfter: 12h\n")
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, 12*time.Hour, h.Get().Schedules.CleanupAfter)
	assert.Equal(t, 12*time.Hour, (<-updates).Schedules.CleanupAfter)

	writeFile(t, dir, "mre.yaml", "schedules:\n  cleanupAfter: -1h\n")
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 12*time.Hour, h.Get().Schedules.CleanupAfter)
}

func TestHolderWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mre.yaml", "dataDir: "+dir+"\n")
	loader := NewLoader(cfgPath, "", "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	h.debounce = 10 * time.Millisecond
	updates := make(chan AppConfig, 4)
	h.Subscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()
	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "mre.yaml", "dataDir: "+dir+"\nworkers:\n  concurrency: 2\n")
	select {
	case cfg := <-updates:
		assert.Equal(t, 2, cfg.Workers.Concurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	cancel()
	require.NoError(t, <-done)
}
