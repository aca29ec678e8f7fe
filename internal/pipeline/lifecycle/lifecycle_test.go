// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/fsm"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
	"github.com/ManuGH/mre/internal/pipeline/store"
	"github.com/ManuGH/mre/internal/resilience"
)

var t0 = time.Date(2025, 6, 1, 18, 30, 15, 500_000_000, time.UTC)

type fixture struct {
	sched *Scheduler
	svc   *schedule.MemoryService
	clk   *clock.Fake
	bus   *bus.MemoryBus
}

func testConfig() Config {
	return Config{
		CleanupAfter: 24 * time.Hour,
		Target:       "mre:lifecycle",
		Retry:        resilience.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}
}

func newFixture(t *testing.T, wrap func(schedule.Service) schedule.Service) fixture {
	t.Helper()
	clk := clock.NewFake(t0)
	svc := schedule.NewMemoryService(clk)
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	b := bus.NewMemoryBus()
	var s schedule.Service = svc
	if wrap != nil {
		s = wrap(svc)
	}
	return fixture{sched: New(s, st, b, clk, testConfig()), svc: svc, clk: clk, bus: b}
}

func TestComputeFireTimeVOD(t *testing.T) {
	in := FireInput{IsVOD: true, Bootstrap: 5 * time.Minute, Duration: 120 * time.Minute, Now: t0}
	got, err := ComputeFireTime(model.VODEventEnd, in)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(125*time.Minute).Truncate(time.Second), got)

	again, err := ComputeFireTime(model.VODEventEnd, in)
	require.NoError(t, err)
	assert.Equal(t, got, again, "pure in its inputs")
}

func TestComputeFireTimeLive(t *testing.T) {
	start := time.Date(2025, 6, 2, 20, 0, 0, 0, time.FixedZone("EST", -5*3600))
	in := FireInput{EventStart: start, Bootstrap: 10 * time.Minute, Duration: 90 * time.Minute, Now: t0}

	at, err := ComputeFireTime(model.LiveEventStart, in)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 50, 0, 0, time.UTC), at)
	assert.Equal(t, time.UTC, at.Location())

	at, err = ComputeFireTime(model.LiveEventEnd, in)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 2, 30, 0, 0, time.UTC), at)

	_, err = ComputeFireTime(model.VODEventEnd, in)
	assert.ErrorIs(t, err, ErrUnsupportedTransition)
	_, err = ComputeFireTime(model.LiveEventComplete, in)
	assert.ErrorIs(t, err, ErrUnsupportedTransition)
}

func TestScheduleNames(t *testing.T) {
	assert.Equal(t, "event-start-Liga-Spiel_1", ScheduleName(model.LiveEventStart, "Liga", "Spiel_1"))
	assert.Equal(t, "vod-end-Canadia-Final--Malaga", ScheduleName(model.VODEventEnd, "Cañadía", "Final: Málaga"))

	long := strings.Repeat("x", 80)
	a := ScheduleName(model.LiveEventEnd, long, "a")
	b := ScheduleName(model.LiveEventEnd, long, "b")
	assert.LessOrEqual(t, len(a), schedule.MaxNameLength)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "event-end-"))
}

func TestRegisterVODEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	rec, err := f.sched.RegisterEvent(ctx, EventSpec{Program: "news", Name: "evening", IsVOD: true, BootstrapMinutes: 5, DurationMinutes: 120})
	require.NoError(t, err)
	assert.Equal(t, model.EventNone, rec.State)
	require.Equal(t, []string{"vod-end-news-evening"}, rec.Schedules)

	e, err := f.svc.Get(ctx, "vod-end-news-evening")
	require.NoError(t, err)
	assert.Equal(t, "at(2025-06-01T20:35:15)", e.Expression)
	assert.Equal(t, "mre:lifecycle", e.Target)
}

func TestRegisterLiveEventReschedulesInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	start := time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	spec := EventSpec{Program: "liga", Name: "match", StartTime: start, BootstrapMinutes: 15, DurationMinutes: 105}

	_, err := f.sched.RegisterEvent(ctx, spec)
	require.NoError(t, err)

	spec.StartTime = start.Add(30 * time.Minute)
	rec, err := f.sched.RegisterEvent(ctx, spec)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"event-start-liga-match", "event-end-liga-match"}, rec.Schedules)

	all, err := schedule.ListAll(ctx, f.svc, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "edits overwrite, never duplicate")

	e, err := f.svc.Get(ctx, "event-start-liga-match")
	require.NoError(t, err)
	assert.Equal(t, "at(2025-06-02T19:15:00)", e.Expression)

	// Switching to VOD removes the live schedules.
	spec.IsVOD = true
	rec, err = f.sched.RegisterEvent(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"vod-end-liga-match"}, rec.Schedules)
	all, err = schedule.ListAll(ctx, f.svc, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sched.RegisterEvent(context.Background(), EventSpec{Program: "p", Name: "e", DurationMinutes: 10})
	require.ErrorIs(t, err, ErrInvalidEvent, "live without start")
	_, err = f.sched.RegisterEvent(context.Background(), EventSpec{Program: "p", IsVOD: true})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

type failingDelete struct {
	schedule.Service
	err   error
	calls atomic.Int32
}

func (f *failingDelete) Delete(ctx context.Context, name string) error {
	f.calls.Add(1)
	if strings.Contains(name, "bad") {
		return f.err
	}
	return f.Service.Delete(ctx, name)
}

func TestDeleteSwallowsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.sched.Delete(context.Background(), "event-end-never-existed"))
}

func TestDeleteReturnsOtherErrorsAfterRetries(t *testing.T) {
	fd := &failingDelete{err: errors.New("throttled")}
	f := newFixture(t, func(s schedule.Service) schedule.Service { fd.Service = s; return fd })

	err := f.sched.Delete(context.Background(), "event-end-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, int32(3), fd.calls.Load(), "retried up to the attempt budget")
}

type flakyCreate struct {
	schedule.Service
	failures atomic.Int32
}

func (f *flakyCreate) Create(ctx context.Context, e schedule.Entry) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("service unavailable")
	}
	return f.Service.Create(ctx, e)
}

func TestCreateRetriesTransientErrors(t *testing.T) {
	fc := &flakyCreate{}
	fc.failures.Store(2)
	f := newFixture(t, func(s schedule.Service) schedule.Service { fc.Service = s; return fc })

	_, err := f.sched.RegisterEvent(context.Background(), EventSpec{Program: "p", Name: "e", IsVOD: true, DurationMinutes: 1})
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), "vod-end-p-e")
	require.NoError(t, err)
}

func TestSweepBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.clk.Set(t0.Truncate(time.Second))
	now := f.clk.Now()
	for name, at := range map[string]time.Time{
		"event-end-exactly-24h": now.Add(-24 * time.Hour),
		"event-end-just-under":  now.Add(-(23*time.Hour + 59*time.Minute + 59*time.Second)),
		"vod-end-old":           now.Add(-72 * time.Hour),
		"vod-end-future":        now.Add(time.Hour),
		"unrelated-old":         now.Add(-72 * time.Hour),
	} {
		require.NoError(t, f.svc.Create(ctx, schedule.Entry{Name: name, Expression: schedule.FormatAt(at)}))
	}

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"event-end-exactly-24h", "vod-end-old"}, report.Deleted)
	assert.Equal(t, 2, report.Retained)
	assert.Equal(t, 4, report.Scanned)

	_, err = f.svc.Get(ctx, "event-end-just-under")
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, "unrelated-old")
	assert.NoError(t, err, "foreign prefixes are not swept")
}

func TestSweepContinuesAfterDeleteFailure(t *testing.T) {
	ctx := context.Background()
	fd := &failingDelete{err: errors.New("boom")}
	f := newFixture(t, func(s schedule.Service) schedule.Service { fd.Service = s; return fd })
	old := schedule.FormatAt(f.clk.Now().Add(-48 * time.Hour))
	require.NoError(t, f.svc.Create(ctx, schedule.Entry{Name: "event-end-a-bad", Expression: old}))
	require.NoError(t, f.svc.Create(ctx, schedule.Entry{Name: "event-end-b-good", Expression: old}))

	report, err := f.sched.Sweep(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"event-end-a-bad"}, report.Failed)
	assert.Equal(t, []string{"event-end-b-good"}, report.Deleted)
}

func TestSweepRetentionIsConfigurable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.svc.Create(ctx, schedule.Entry{Name: "vod-end-x", Expression: schedule.FormatAt(f.clk.Now().Add(-2 * time.Hour))}))

	report, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)

	f.sched.SetRetention(time.Hour)
	report, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"vod-end-x"}, report.Deleted)
}

func TestLiveLifecycleThroughRunner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	sub, err := f.bus.Subscribe(ctx, bus.TypeLiveEventEnd)
	require.NoError(t, err)
	defer sub.Close()

	start := f.clk.Now().Add(time.Hour)
	_, err = f.sched.RegisterEvent(ctx, EventSpec{Program: "liga", Name: "match", StartTime: start, BootstrapMinutes: 10, DurationMinutes: 90})
	require.NoError(t, err)

	runner := schedule.NewRunner(f.svc, f.clk, time.Second, f.sched.HandleFire, Prefixes()...)

	f.clk.Advance(50 * time.Minute)
	n, err := runner.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, err := f.sched.GetEvent(ctx, "liga", "match")
	require.NoError(t, err)
	assert.Equal(t, model.LiveEventStart, rec.State)

	f.clk.Advance(2 * time.Hour)
	_, err = runner.Tick(ctx)
	require.NoError(t, err)
	rec, err = f.sched.GetEvent(ctx, "liga", "match")
	require.NoError(t, err)
	assert.Equal(t, model.LiveEventEnd, rec.State)

	select {
	case ev := <-sub.C():
		d, err := bus.DecodeDetail[bus.LifecycleDetail](ev)
		require.NoError(t, err)
		assert.Equal(t, "match", d.Event)
		assert.Equal(t, "event-end-liga-match", d.Schedule)
	case <-time.After(time.Second):
		t.Fatal("no LIVE_EVENT_END published")
	}

	rec, err = f.sched.ConfirmComplete(ctx, "liga", "match")
	require.NoError(t, err)
	assert.Equal(t, model.LiveEventComplete, rec.State)

	_, err = f.sched.ConfirmComplete(ctx, "liga", "match")
	require.NoError(t, err, "confirming twice is harmless")

	_, err = f.sched.RegisterEvent(ctx, EventSpec{Program: "liga", Name: "match", StartTime: start, DurationMinutes: 90})
	require.ErrorIs(t, err, ErrEventComplete)
}

func TestConfirmCompleteDeletesSchedules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.sched.RegisterEvent(ctx, EventSpec{Program: "p", Name: "e", IsVOD: true, DurationMinutes: 60})
	require.NoError(t, err)

	_, err = f.sched.ConfirmComplete(ctx, "p", "e")
	require.ErrorIs(t, err, fsm.ErrInvalidTransition, "not ended yet")

	entry, err := f.svc.Get(ctx, "vod-end-p-e")
	require.NoError(t, err)
	require.NoError(t, f.sched.HandleFire(ctx, entry))

	rec, err := f.sched.ConfirmComplete(ctx, "p", "e")
	require.NoError(t, err)
	assert.Equal(t, model.VODEventComplete, rec.State)
	_, err = f.svc.Get(ctx, "vod-end-p-e")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestHandleFireDropsImpossibleTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.sched.RegisterEvent(ctx, EventSpec{Program: "p", Name: "e", StartTime: t0.Add(time.Hour), DurationMinutes: 60})
	require.NoError(t, err)

	end, err := f.svc.Get(ctx, "event-end-p-e")
	require.NoError(t, err)
	require.NoError(t, f.sched.HandleFire(ctx, end), "end before start is dropped, not retried")

	rec, err := f.sched.GetEvent(ctx, "p", "e")
	require.NoError(t, err)
	assert.Equal(t, model.EventNone, rec.State)
}
