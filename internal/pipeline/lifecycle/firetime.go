// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
)

var ErrUnsupportedTransition = errors.New("transition is not scheduled")

// FireInput holds everything a fire time depends on.
type FireInput struct {
	IsVOD      bool
	EventStart time.Time
	Bootstrap  time.Duration
	Duration   time.Duration
	// Now anchors VOD schedules, which start ingesting immediately.
	Now time.Time
}

// ComputeFireTime returns the UTC instant, truncated to whole seconds, at
// which the transition kind fires.
//
//	VOD_EVENT_END    = now + bootstrap + duration
//	LIVE_EVENT_START = start - bootstrap
//	LIVE_EVENT_END   = start + duration
func ComputeFireTime(kind model.EventState, in FireInput) (time.Time, error) {
	var at time.Time
	switch {
	case kind == model.VODEventEnd && in.IsVOD:
		at = in.Now.Add(in.Bootstrap + in.Duration)
	case kind == model.LiveEventStart && !in.IsVOD:
		at = in.EventStart.Add(-in.Bootstrap)
	case kind == model.LiveEventEnd && !in.IsVOD:
		at = in.EventStart.Add(in.Duration)
	default:
		return time.Time{}, fmt.Errorf("%w: %s (vod=%t)", ErrUnsupportedTransition, kind, in.IsVOD)
	}
	return at.UTC().Truncate(time.Second), nil
}

// Kinds lists the scheduled transitions of an event.
func Kinds(isVOD bool) []model.EventState {
	if isVOD {
		return []model.EventState{model.VODEventEnd}
	}
	return []model.EventState{model.LiveEventStart, model.LiveEventEnd}
}

var namePrefixes = map[model.EventState]string{
	model.LiveEventStart: "event-start-",
	model.LiveEventEnd:   "event-end-",
	model.VODEventEnd:    "vod-end-",
}

// Prefixes are the schedule name prefixes the scheduler owns.
func Prefixes() []string {
	return []string{"event-end-", "event-start-", "vod-end-"}
}

// ScheduleName is the unique schedule name for an event transition. Program
// and event names are folded to ASCII; overlong names keep a hash of the
// full identity so they stay unique.
func ScheduleName(kind model.EventState, program, event string) string {
	name := namePrefixes[kind] + fold(program) + "-" + fold(event)
	if len(name) <= schedule.MaxNameLength {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(program + "\x00" + event))
	suffix := fmt.Sprintf("-%08x", h.Sum32())
	return name[:schedule.MaxNameLength-len(suffix)] + suffix
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
