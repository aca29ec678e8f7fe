// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const maxMutateAttempts = 16

// Encode marshals a record payload.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals an item payload into T.
func Decode[T any](it Item) (T, error) {
	var v T
	if err := json.Unmarshal(it.Value, &v); err != nil {
		return v, fmt.Errorf("store: decode %s/%s: %w", it.PK, it.SK, err)
	}
	return v, nil
}

// GetAs loads and decodes one record.
func GetAs[T any](ctx context.Context, s Store, pk, sk string) (T, int64, error) {
	it, err := s.Get(ctx, pk, sk)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	v, err := Decode[T](it)
	return v, it.Version, err
}

// PutAs encodes v and writes it under cond.
func PutAs(ctx context.Context, s Store, pk, sk string, v any, cond Condition) (int64, error) {
	raw, err := Encode(v)
	if err != nil {
		return 0, err
	}
	it, err := s.Put(ctx, Item{PK: pk, SK: sk, Value: raw}, cond)
	if err != nil {
		return 0, err
	}
	return it.Version, nil
}

// Mutate is a read-modify-write loop: fn edits the current record (zero value
// when absent) and the result is written with a version condition. Lost races
// re-read and re-apply fn. An error from fn aborts without writing.
func Mutate[T any](ctx context.Context, s Store, pk, sk string, fn func(cur *T, exists bool) error) (T, int64, error) {
	var zero T
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, 0, err
		}
		cur, version, err := GetAs[T](ctx, s, pk, sk)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return zero, 0, err
		}
		if err := fn(&cur, exists); err != nil {
			return zero, 0, err
		}
		cond := IfNotExists()
		if exists {
			cond = IfVersion(version)
		}
		next, err := PutAs(ctx, s, pk, sk, cur, cond)
		if errors.Is(err, ErrConditionFailed) {
			continue
		}
		if err != nil {
			return zero, 0, err
		}
		return cur, next, nil
	}
	return zero, 0, fmt.Errorf("store: mutate %s/%s: %w after %d attempts", pk, sk, ErrConditionFailed, maxMutateAttempts)
}
