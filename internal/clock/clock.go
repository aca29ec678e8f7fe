// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clock converts between wall-clock time and video-relative offsets.
package clock

import (
	"math"
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is the UTC wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually driven clock for tests and replays.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Timeline anchors video-relative offsets (seconds) to a wall-clock origin.
// Offset 0 is the instant the event's first frame was captured.
type Timeline struct {
	Origin time.Time
}

// OffsetAt returns the video-relative offset in seconds of wall-clock instant t.
func (tl Timeline) OffsetAt(t time.Time) float64 {
	return t.Sub(tl.Origin).Seconds()
}

// WallClockAt returns the wall-clock instant of a video-relative offset.
// Sub-nanosecond precision is rounded away.
func (tl Timeline) WallClockAt(offset float64) time.Time {
	ns := math.Round(offset * float64(time.Second))
	return tl.Origin.Add(time.Duration(ns)).UTC()
}

// Seconds converts a float seconds value to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
