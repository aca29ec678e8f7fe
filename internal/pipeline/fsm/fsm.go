// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm holds small, strict transition tables. State is owned by the
// caller (usually a store record) so the table itself is stateless and can
// be shared by concurrent workers.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidTransition is returned for (state, event) pairs with no edge.
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the table.
// Guard may reject the transition; Action performs side-effects before the caller persists To.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(ctx context.Context, from S, event E) error
	Action func(ctx context.Context, from S, to S, event E) error
}

// Table indexes transitions by (from, event). Unknown pairs are errors.
type Table[S ~string, E ~string] struct {
	index map[string]Transition[S, E]
}

// New builds a table, rejecting duplicate edges.
func New[S ~string, E ~string](transitions []Transition[S, E]) (*Table[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Table[S, E]{index: idx}, nil
}

// MustNew is New for package-level tables.
func MustNew[S ~string, E ~string](transitions []Transition[S, E]) *Table[S, E] {
	t, err := New(transitions)
	if err != nil {
		panic(err)
	}
	return t
}

// Next resolves the target state without running guards or actions.
func (t *Table[S, E]) Next(from S, event E) (S, error) {
	tr, ok := t.index[key(from, event)]
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	return tr.To, nil
}

// Can reports whether an edge exists.
func (t *Table[S, E]) Can(from S, event E) bool {
	_, ok := t.index[key(from, event)]
	return ok
}

// Fire runs the edge's guard and action and returns the target state.
// On error the returned state is from.
func (t *Table[S, E]) Fire(ctx context.Context, from S, event E) (S, error) {
	tr, ok := t.index[key(from, event)]
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	if tr.Guard != nil {
		if err := tr.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}
	if tr.Action != nil {
		if err := tr.Action(ctx, from, tr.To, event); err != nil {
			return from, err
		}
	}
	return tr.To, nil
}

// Events lists the events accepted from a state, sorted.
func (t *Table[S, E]) Events(from S) []E {
	var out []E
	for _, tr := range t.index {
		if tr.From == from {
			out = append(out, tr.Event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
