// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ManuGH/mre/internal/clock"
)

const defaultPageSize = 100

// MemoryService keeps schedules in process memory.
type MemoryService struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]Entry
}

func NewMemoryService(clk clock.Clock) *MemoryService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryService{clock: clk, entries: make(map[string]Entry)}
}

func (m *MemoryService) Create(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.Name]; ok {
		return ErrAlreadyExists
	}
	now := m.clock.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	m.entries[e.Name] = e
	return nil
}

func (m *MemoryService) Update(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[e.Name]
	if !ok {
		return ErrNotFound
	}
	e.CreatedAt, e.UpdatedAt = cur.CreatedAt, m.clock.Now()
	m.entries[e.Name] = e
	return nil
}

func (m *MemoryService) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[name]; !ok {
		return ErrNotFound
	}
	delete(m.entries, name)
	return nil
}

func (m *MemoryService) Get(ctx context.Context, name string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryService) List(ctx context.Context, prefix, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		if strings.HasPrefix(name, prefix) && name > cursor {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var page Page
	for i, name := range names {
		if i == limit {
			page.Next = page.Entries[i-1].Name
			break
		}
		page.Entries = append(page.Entries, m.entries[name])
	}
	m.mu.Unlock()
	return page, nil
}

var _ Service = (*MemoryService)(nil)
