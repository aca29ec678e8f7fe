// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/mre/internal/api"
	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/health"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/worker"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.ShutdownTimeout = 2 * time.Second
	cfg.Store.Backend = "memory"
	cfg.Schedules.Backend = "memory"
	cfg.Schedules.RunnerInterval = 50 * time.Millisecond
	cfg.Coordinator = config.CoordinatorConfig{WaitFactor: 100, MaxAttempts: 50}
	cfg.Export.Sink = "none"
	cfg.Profiles = map[string]model.Profile{
		"shots": {
			ChunkSize: 10,
			Classifier: &model.PluginRef{
				Name:             "SegmentByShot",
				DependentPlugins: []string{"DetectShot"},
				Configuration:    map[string]any{"min_duration": 10.0},
			},
		},
	}
	return cfg
}

type runningApp struct {
	base   string
	client *http.Client
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg config.AppConfig) runningApp {
	t.Helper()
	holder := config.NewHolder(cfg, config.NewLoader("", "", cfg.Version))
	app, err := Build(context.Background(), holder)
	require.NoError(t, err)
	app.reloadSignal = nil

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	r := runningApp{
		base:   "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 5 * time.Second},
		cancel: cancel,
		done:   done,
	}
	require.Eventually(t, func() bool {
		resp, err := r.client.Get(r.base + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
	return r
}

func (r runningApp) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	r.client.CloseIdleConnections()
}

func (r runningApp) post(t *testing.T, path string, body any) int {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := r.client.Post(r.base+path, "application/json", &buf)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func chunkJob(i int, final bool) worker.ChunkJob {
	start := float64(i * 10)
	c := model.Chunk{
		Program:         "prog",
		Event:           "ev",
		Profile:         "shots",
		SequenceKey:     fmt.Sprintf("media/prog/ev/chunk_%03d.ts", i),
		StartTimeOffset: start,
		DurationSeconds: 10,
		FrameRate:       25,
		Final:           final,
	}
	return worker.ChunkJob{Chunk: c, Results: []model.PluginResult{
		{PluginName: "DetectShot", ChunkKey: c.Filename(), Label: "shot", StartOffset: start, EndOffset: start + 10},
	}}
}

func TestDaemonEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := start(t, testConfig(t))
	defer r.stop(t)

	require.Equal(t, http.StatusOK, r.post(t, "/api/v1/events", lifecycle.EventSpec{Program: "prog", Name: "ev", IsVOD: true, DurationMinutes: 60}))

	// Chunk 1 may start first; the coordinator holds it until chunk 0 completes.
	require.Equal(t, http.StatusAccepted, r.post(t, "/api/v1/chunks", chunkJob(0, false)))
	require.Equal(t, http.StatusAccepted, r.post(t, "/api/v1/chunks", chunkJob(1, true)))

	var segs api.SegmentsResponse
	require.Eventually(t, func() bool {
		resp, err := r.client.Get(r.base + "/api/v1/segments?program=prog&event=ev&profile=shots")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&segs) != nil {
			return false
		}
		return len(segs.Segments) == 2 && !segs.Segments[1].IsOpen()
	}, 5*time.Second, 25*time.Millisecond)
	assert.True(t, segs.Segments[1].Forced)

	resp, err := r.client.Get(r.base + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDaemonWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Store.Backend = "redis"
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Bus.Backend = "redis"
	cfg.Schedules.Backend = "store"

	r := start(t, cfg)
	defer r.stop(t)

	resp, err := r.client.Get(r.base + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var ready health.ReadinessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, health.StatusHealthy, ready.Checks["bus"].Status)
	assert.Equal(t, health.StatusHealthy, ready.Checks["store"].Status)

	require.Equal(t, http.StatusOK, r.post(t, "/api/v1/events", lifecycle.EventSpec{Program: "prog", Name: "ev", IsVOD: true, DurationMinutes: 60}))
	assert.NotEmpty(t, mr.Keys(), "event and schedule records live in redis")
}

func TestBuildRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Backend = "kafka"
	_, err := Build(context.Background(), config.NewHolder(cfg, config.NewLoader("", "", "test")))
	assert.ErrorIs(t, err, ErrUnknownBackend)

	cfg = testConfig(t)
	cfg.Export.Sink = "ftp"
	_, err = Build(context.Background(), config.NewHolder(cfg, config.NewLoader("", "", "test")))
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = Build(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestSegmenterDefaultsFromConfig(t *testing.T) {
	d := segmenterDefaults(config.Defaults().Segmenters)
	assert.Equal(t, 2, d.Commercial.WindowSize)
	assert.Equal(t, 10.0, d.Shot.MinDuration)
	assert.Equal(t, 30.0, d.KeyMoment.ClipLength)
}
