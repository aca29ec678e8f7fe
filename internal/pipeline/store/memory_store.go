// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	mu     sync.RWMutex
	parts  map[string]map[string]Item
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{parts: make(map[string]map[string]Item)}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Item{}, ErrClosed
	}
	it, ok := m.parts[pk][sk]
	if !ok {
		return Item{}, ErrNotFound
	}
	return cloneItem(it), nil
}

func (m *MemoryStore) Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (Page, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return Page{}, ErrClosed
	}
	part := m.parts[pk]
	items := make([]Item, 0, len(part))
	for _, it := range part {
		items = append(items, cloneItem(it))
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if opts.Descending {
			return items[i].SK > items[j].SK
		}
		return items[i].SK < items[j].SK
	})
	return paginate(items, key, opts), nil
}

func (m *MemoryStore) Put(ctx context.Context, item Item, cond Condition) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Item{}, ErrClosed
	}
	part, ok := m.parts[item.PK]
	if !ok {
		part = make(map[string]Item)
		m.parts[item.PK] = part
	}
	cur, exists := part[item.SK]
	if err := cond.check(exists, cur.Version); err != nil {
		return Item{}, err
	}
	item.Version = cur.Version + 1
	item.UpdatedAt = time.Now().UTC()
	item = cloneItem(item)
	part[item.SK] = item
	return cloneItem(item), nil
}

func (m *MemoryStore) Delete(ctx context.Context, pk, sk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if part, ok := m.parts[pk]; ok {
		delete(part, sk)
		if len(part) == 0 {
			delete(m.parts, pk)
		}
	}
	return nil
}

func cloneItem(it Item) Item {
	if it.Value != nil {
		v := make([]byte, len(it.Value))
		copy(v, it.Value)
		it.Value = v
	}
	return it
}
