// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConditionFailed = errors.New("conditional write failed")
	ErrClosed          = errors.New("store closed")
)

// Item is one record under a (partition key, sort key) pair.
// Version starts at 1 and increases by one on every successful write.
type Item struct {
	PK        string
	SK        string
	Value     json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

type conditionKind int

const (
	condNone conditionKind = iota
	condIfNotExists
	condIfVersion
)

// Condition guards a Put. The zero value writes unconditionally.
type Condition struct {
	kind    conditionKind
	version int64
}

// IfNotExists fails the write if the key is already present.
func IfNotExists() Condition { return Condition{kind: condIfNotExists} }

// IfVersion fails the write unless the stored version equals v.
func IfVersion(v int64) Condition { return Condition{kind: condIfVersion, version: v} }

func (c Condition) check(exists bool, current int64) error {
	switch c.kind {
	case condIfNotExists:
		if exists {
			return ErrConditionFailed
		}
	case condIfVersion:
		if !exists || current != c.version {
			return ErrConditionFailed
		}
	}
	return nil
}

// QueryOptions pages through a partition in sort-key order.
type QueryOptions struct {
	Limit      int    // 0 means unlimited
	Cursor     string // exclusive; the Next value of a previous page
	Descending bool
}

// Page is one slice of a query. Next is empty on the final page.
type Page struct {
	Items []Item
	Next  string
}

// Store is the partitioned, sorted key-value system of record for segments,
// plugin results, completion tokens, events and schedules.
//
// Within one partition items are ordered by sort key (bytewise). Writes to a
// single item are atomic; there are no multi-item transactions.
type Store interface {
	Get(ctx context.Context, pk, sk string) (Item, error)
	Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (Page, error)
	// Put writes item.Value and returns the stored item with its new version.
	Put(ctx context.Context, item Item, cond Condition) (Item, error)
	// Delete is idempotent: a missing key is not an error.
	Delete(ctx context.Context, pk, sk string) error
	Close() error
}

// QueryAll drains every page of a query.
func QueryAll(ctx context.Context, s Store, pk string, key SortKey, desc bool) ([]Item, error) {
	var out []Item
	opts := QueryOptions{Descending: desc, Limit: 256}
	for {
		page, err := s.Query(ctx, pk, key, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if page.Next == "" {
			return out, nil
		}
		opts.Cursor = page.Next
	}
}

// First returns the first item of a query or ErrNotFound.
func First(ctx context.Context, s Store, pk string, key SortKey, desc bool) (Item, error) {
	page, err := s.Query(ctx, pk, key, QueryOptions{Limit: 1, Descending: desc})
	if err != nil {
		return Item{}, err
	}
	if len(page.Items) == 0 {
		return Item{}, ErrNotFound
	}
	return page.Items[0], nil
}

// paginate applies predicate, cursor and limit to an ordered candidate list.
// Backends that cannot push the predicate down use it as the final filter.
func paginate(items []Item, key SortKey, opts QueryOptions) Page {
	var page Page
	for _, it := range items {
		if !key.Match(it.SK) {
			continue
		}
		if opts.Cursor != "" {
			if !opts.Descending && it.SK <= opts.Cursor {
				continue
			}
			if opts.Descending && it.SK >= opts.Cursor {
				continue
			}
		}
		if opts.Limit > 0 && len(page.Items) == opts.Limit {
			page.Next = page.Items[len(page.Items)-1].SK
			break
		}
		page.Items = append(page.Items, it)
	}
	return page
}
