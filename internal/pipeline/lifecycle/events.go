// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/metrics"
	"github.com/ManuGH/mre/internal/pipeline/bus"
	"github.com/ManuGH/mre/internal/pipeline/fsm"
	"github.com/ManuGH/mre/internal/pipeline/model"
	"github.com/ManuGH/mre/internal/pipeline/schedule"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

var (
	ErrEventNotFound = errors.New("event not registered")
	ErrEventComplete = errors.New("event already complete")
	ErrInvalidEvent  = errors.New("invalid event")
)

// Trigger moves an event between lifecycle states.
type Trigger string

const (
	TriggerLiveStart Trigger = Trigger(model.LiveEventStart)
	TriggerLiveEnd   Trigger = Trigger(model.LiveEventEnd)
	TriggerVODEnd    Trigger = Trigger(model.VODEventEnd)
	TriggerComplete  Trigger = "COMPLETE"
)

var eventTable = fsm.MustNew([]fsm.Transition[model.EventState, Trigger]{
	{From: model.EventNone, Event: TriggerVODEnd, To: model.VODEventEnd},
	{From: model.EventNone, Event: TriggerLiveStart, To: model.LiveEventStart},
	{From: model.LiveEventStart, Event: TriggerLiveEnd, To: model.LiveEventEnd},
	{From: model.VODEventEnd, Event: TriggerComplete, To: model.VODEventComplete},
	{From: model.LiveEventEnd, Event: TriggerComplete, To: model.LiveEventComplete},
})

// EventSpec registers or edits an event.
type EventSpec struct {
	Program          string    `json:"program"`
	Name             string    `json:"name"`
	IsVOD            bool      `json:"isVod"`
	StartTime        time.Time `json:"startTime"`
	BootstrapMinutes int       `json:"bootstrapMinutes"`
	DurationMinutes  int       `json:"durationMinutes"`
	Channel          string    `json:"channel,omitempty"`
	StopChannel      bool      `json:"stopChannel,omitempty"`
}

func (e EventSpec) validate() error {
	var errs []error
	if e.Program == "" || e.Name == "" {
		errs = append(errs, errors.New("program and name are required"))
	}
	if e.BootstrapMinutes < 0 {
		errs = append(errs, errors.New("bootstrapMinutes must not be negative"))
	}
	if e.DurationMinutes <= 0 {
		errs = append(errs, errors.New("durationMinutes must be positive"))
	}
	if !e.IsVOD && e.StartTime.IsZero() {
		errs = append(errs, errors.New("live events need a startTime"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

func eventPK(program string) string { return store.Key("event", program) }

// GetEvent loads an event record.
func (s *Scheduler) GetEvent(ctx context.Context, program, name string) (model.EventRecord, error) {
	rec, version, err := store.GetAs[model.EventRecord](ctx, s.st, eventPK(program), name)
	if errors.Is(err, store.ErrNotFound) {
		return model.EventRecord{}, fmt.Errorf("%w: %s/%s", ErrEventNotFound, program, name)
	}
	rec.Version = version
	return rec, err
}

// RegisterEvent creates or edits an event and (re)schedules its transitions.
// Editing a registered event moves its schedules rather than adding new ones.
func (s *Scheduler) RegisterEvent(ctx context.Context, spec EventSpec) (model.EventRecord, error) {
	if err := spec.validate(); err != nil {
		return model.EventRecord{}, err
	}
	now := s.clock.Now()
	cur, err := s.GetEvent(ctx, spec.Program, spec.Name)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrEventNotFound) {
		return model.EventRecord{}, err
	}
	if exists && cur.State.IsTerminal() {
		return cur, fmt.Errorf("%w: %s/%s", ErrEventComplete, spec.Program, spec.Name)
	}
	state := model.EventNone
	if exists {
		state = cur.State
	}

	in := FireInput{
		IsVOD:      spec.IsVOD,
		EventStart: spec.StartTime,
		Bootstrap:  time.Duration(spec.BootstrapMinutes) * time.Minute,
		Duration:   time.Duration(spec.DurationMinutes) * time.Minute,
		Now:        now,
	}
	var names []string
	for _, kind := range Kinds(spec.IsVOD) {
		name := ScheduleName(kind, spec.Program, spec.Name)
		if !eventTable.Can(state, Trigger(kind)) && kind == model.LiveEventStart {
			// Already started; only the end moves.
			continue
		}
		fireAt, err := ComputeFireTime(kind, in)
		if err != nil {
			return model.EventRecord{}, err
		}
		sched := model.Schedule{
			Name:                 name,
			EventName:            spec.Name,
			ProgramName:          spec.Program,
			Transition:           kind,
			EventStartTime:       spec.StartTime,
			IsVODEvent:           spec.IsVOD,
			BootstrapMinutes:     spec.BootstrapMinutes,
			EventDurationMinutes: spec.DurationMinutes,
			TargetResourceARN:    s.cfg.Target,
			StopChannel:          spec.StopChannel,
		}
		if err := s.CreateOrUpdate(ctx, sched, fireAt); err != nil {
			return model.EventRecord{}, err
		}
		names = append(names, name)
	}

	// A VOD/LIVE flip leaves schedules of the other kind behind.
	for _, stale := range cur.Schedules {
		if !slices.Contains(names, stale) {
			if err := s.Delete(ctx, stale); err != nil {
				return model.EventRecord{}, err
			}
		}
	}

	rec, version, err := store.Mutate(ctx, s.st, eventPK(spec.Program), spec.Name, func(r *model.EventRecord, exists bool) error {
		if exists && r.State.IsTerminal() {
			return ErrEventComplete
		}
		if !exists {
			r.State = model.EventNone
			r.CreatedAt = now
		}
		r.Program, r.Name, r.IsVOD = spec.Program, spec.Name, spec.IsVOD
		r.StartTime = spec.StartTime
		r.BootstrapMinutes, r.DurationMinutes = spec.BootstrapMinutes, spec.DurationMinutes
		r.Channel, r.StopChannel = spec.Channel, spec.StopChannel
		r.Schedules = names
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.EventRecord{}, fmt.Errorf("save event %s/%s: %w", spec.Program, spec.Name, err)
	}
	rec.Version = version
	return rec, nil
}

// HandleFire is the schedule target: it applies the schedule's transition to
// the event record and publishes it. Transitions the event cannot take are
// logged and dropped so the entry is not redelivered forever.
func (s *Scheduler) HandleFire(ctx context.Context, e schedule.Entry) error {
	var sched model.Schedule
	if err := json.Unmarshal(e.Payload, &sched); err != nil {
		log.FromContext(ctx).Error().Err(err).Str(log.FieldSchedule, e.Name).Msg("undecodable schedule payload dropped")
		metrics.RecordScheduleOp("fire", "error")
		return nil
	}
	logger := log.FromContext(ctx).With().
		Str(log.FieldSchedule, e.Name).
		Str(log.FieldProgram, sched.ProgramName).
		Str(log.FieldEvent, sched.EventName).
		Logger()

	rec, changed, err := s.transition(ctx, sched.ProgramName, sched.EventName, Trigger(sched.Transition), "schedule "+e.Name)
	switch {
	case errors.Is(err, fsm.ErrInvalidTransition), errors.Is(err, ErrEventNotFound):
		logger.Warn().Err(err).Msg("schedule fired for an event that cannot take it")
		metrics.RecordScheduleOp("fire", "error")
		return nil
	case err != nil:
		metrics.RecordScheduleOp("fire", "error")
		return err
	}
	metrics.RecordScheduleOp("fire", "success")
	if !changed {
		return nil
	}
	logger.Info().Str(log.FieldNewState, string(rec.State)).Msg("event transition fired")
	return s.publish(ctx, rec, e.Name)
}

// ConfirmComplete records downstream completion of an ended event and
// deletes its schedules. Confirming twice is a no-op.
func (s *Scheduler) ConfirmComplete(ctx context.Context, program, name string) (model.EventRecord, error) {
	rec, changed, err := s.transition(ctx, program, name, TriggerComplete, "completion confirmed")
	if err != nil {
		return rec, err
	}
	var errs []error
	for _, sched := range rec.Schedules {
		if err := s.Delete(ctx, sched); err != nil {
			errs = append(errs, err)
		}
	}
	if changed {
		if err := s.publish(ctx, rec, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return rec, errors.Join(errs...)
}

// transition applies trigger to the stored record with a version check.
// Re-applying a trigger whose target state is already reached is a no-op.
func (s *Scheduler) transition(ctx context.Context, program, name string, trig Trigger, reason string) (model.EventRecord, bool, error) {
	changed := false
	rec, version, err := store.Mutate(ctx, s.st, eventPK(program), name, func(r *model.EventRecord, exists bool) error {
		changed = false
		if !exists {
			return fmt.Errorf("%w: %s/%s", ErrEventNotFound, program, name)
		}
		if alreadyIn(r.State, trig) {
			return errNoChange
		}
		to, err := eventTable.Fire(ctx, r.State, trig)
		if err != nil {
			return err
		}
		r.State = to
		r.LastTransitionReason = reason
		r.UpdatedAt = s.clock.Now()
		changed = true
		return nil
	})
	if errors.Is(err, errNoChange) {
		cur, gerr := s.GetEvent(ctx, program, name)
		return cur, false, gerr
	}
	if err != nil {
		return model.EventRecord{}, false, err
	}
	rec.Version = version
	metrics.RecordEventTransition(string(rec.State))
	return rec, changed, nil
}

var errNoChange = errors.New("event already in target state")

func alreadyIn(state model.EventState, trig Trigger) bool {
	if trig == TriggerComplete {
		return state.IsTerminal()
	}
	return state == model.EventState(trig)
}

func (s *Scheduler) publish(ctx context.Context, rec model.EventRecord, scheduleName string) error {
	if s.bus == nil {
		return nil
	}
	detail := bus.LifecycleDetail{
		Program:     rec.Program,
		Event:       rec.Name,
		State:       rec.State,
		Schedule:    scheduleName,
		Channel:     rec.Channel,
		StopChannel: rec.StopChannel,
	}
	if err := bus.PublishEvent(ctx, s.bus, bus.SourceScheduler, string(rec.State), detail, s.clock.Now()); err != nil {
		return fmt.Errorf("publish %s for %s/%s: %w", rec.State, rec.Program, rec.Name, err)
	}
	return nil
}
