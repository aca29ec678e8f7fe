// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"errors"

	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/pipeline/store"
)

const schedulesPK = "schedules"

// StoreService persists schedules in the shared store so they survive
// restarts and are visible to every replica's runner.
type StoreService struct {
	st    store.Store
	clock clock.Clock
}

func NewStoreService(st store.Store, clk clock.Clock) *StoreService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &StoreService{st: st, clock: clk}
}

func (s *StoreService) Create(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	now := s.clock.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := store.PutAs(ctx, s.st, schedulesPK, e.Name, e, store.IfNotExists())
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrAlreadyExists
	}
	return err
}

func (s *StoreService) Update(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	cur, version, err := store.GetAs[Entry](ctx, s.st, schedulesPK, e.Name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	e.CreatedAt, e.UpdatedAt = cur.CreatedAt, s.clock.Now()
	_, err = store.PutAs(ctx, s.st, schedulesPK, e.Name, e, store.IfVersion(version))
	if errors.Is(err, store.ErrConditionFailed) {
		// Deleted or rewritten underneath us; the caller decides again.
		return ErrNotFound
	}
	return err
}

func (s *StoreService) Delete(ctx context.Context, name string) error {
	if _, err := s.st.Get(ctx, schedulesPK, name); errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return s.st.Delete(ctx, schedulesPK, name)
}

func (s *StoreService) Get(ctx context.Context, name string) (Entry, error) {
	e, _, err := store.GetAs[Entry](ctx, s.st, schedulesPK, name)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *StoreService) List(ctx context.Context, prefix, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	p, err := s.st.Query(ctx, schedulesPK, store.BeginsWith(prefix), store.QueryOptions{Limit: limit, Cursor: cursor})
	if err != nil {
		return Page{}, err
	}
	page := Page{Next: p.Next}
	for _, it := range p.Items {
		e, err := store.Decode[Entry](it)
		if err != nil {
			return Page{}, err
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

var _ Service = (*StoreService)(nil)
