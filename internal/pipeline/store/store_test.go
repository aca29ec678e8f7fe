// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendFactory func(t *testing.T) Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSqliteStore(context.Background(), filepath.Join(t.TempDir(), "items.sqlite"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStore("")
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := NewInstrumentedStore(factory(t), name)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func raw(v string) json.RawMessage { return json.RawMessage(fmt.Sprintf("%q", v)) }

func sks(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.SK)
	}
	return out
}

func TestStorePutGetVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Get(ctx, "p", "a")
		require.ErrorIs(t, err, ErrNotFound)

		it, err := s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("one")}, Condition{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), it.Version)

		it, err = s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("two")}, Condition{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), it.Version)

		got, err := s.Get(ctx, "p", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `"two"`, string(got.Value))
		assert.Equal(t, int64(2), got.Version)
		assert.False(t, got.UpdatedAt.IsZero())
	})
}

func TestStoreConditions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("x")}, IfVersion(1))
		require.ErrorIs(t, err, ErrConditionFailed, "IfVersion on a missing key")

		_, err = s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("x")}, IfNotExists())
		require.NoError(t, err)
		_, err = s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("y")}, IfNotExists())
		require.ErrorIs(t, err, ErrConditionFailed)

		_, err = s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("y")}, IfVersion(7))
		require.ErrorIs(t, err, ErrConditionFailed)

		it, err := s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("y")}, IfVersion(1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), it.Version)

		got, err := s.Get(ctx, "p", "a")
		require.NoError(t, err)
		assert.JSONEq(t, `"y"`, string(got.Value))
	})
}

func TestStoreQueryPredicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, sk := range []string{"b#2", "a#1", "b#1", "c#1", "a#2"} {
			_, err := s.Put(ctx, Item{PK: "p", SK: sk, Value: raw(sk)}, Condition{})
			require.NoError(t, err)
		}
		_, err := s.Put(ctx, Item{PK: "other", SK: "a#1", Value: raw("x")}, Condition{})
		require.NoError(t, err)

		cases := []struct {
			name string
			key  SortKey
			desc bool
			want []string
		}{
			{"all", All(), false, []string{"a#1", "a#2", "b#1", "b#2", "c#1"}},
			{"all desc", All(), true, []string{"c#1", "b#2", "b#1", "a#2", "a#1"}},
			{"equals", Equals("b#1"), false, []string{"b#1"}},
			{"begins", BeginsWith("b#"), false, []string{"b#1", "b#2"}},
			{"begins desc", BeginsWith("a#"), true, []string{"a#2", "a#1"}},
			{"between", Between("a#2", "b#2"), false, []string{"a#2", "b#1", "b#2"}},
			{"gte", GreaterOrEqual("b#2"), false, []string{"b#2", "c#1"}},
			{"lte desc", LessOrEqual("b#1"), true, []string{"b#1", "a#2", "a#1"}},
		}
		for _, tc := range cases {
			items, err := QueryAll(ctx, s, "p", tc.key, tc.desc)
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.want, sks(items), tc.name)
		}
	})
}

func TestStorePagination(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 7; i++ {
			_, err := s.Put(ctx, Item{PK: "p", SK: FloatKey(float64(i) * 10), Value: raw("v")}, Condition{})
			require.NoError(t, err)
		}

		var seen []string
		opts := QueryOptions{Limit: 3}
		pages := 0
		for {
			page, err := s.Query(ctx, "p", All(), opts)
			require.NoError(t, err)
			pages++
			seen = append(seen, sks(page.Items)...)
			if page.Next == "" {
				break
			}
			opts.Cursor = page.Next
		}
		assert.Equal(t, 3, pages)
		require.Len(t, seen, 7)
		assert.Equal(t, FloatKey(0), seen[0])
		assert.Equal(t, FloatKey(60), seen[6])

		last, err := First(ctx, s, "p", All(), true)
		require.NoError(t, err)
		assert.Equal(t, FloatKey(60), last.SK)
	})
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Put(ctx, Item{PK: "p", SK: "a", Value: raw("x")}, Condition{})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "p", "a"))
		require.NoError(t, s.Delete(ctx, "p", "a"))
		_, err = s.Get(ctx, "p", "a")
		require.ErrorIs(t, err, ErrNotFound)

		items, err := QueryAll(ctx, s, "p", All(), false)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

type counter struct {
	N int `json:"n"`
}

func TestMutateSerializesConcurrentWriters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 8

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					_, _, err := Mutate(ctx, s, "p", "counter", func(c *counter, _ bool) error {
						c.N++
						return nil
					})
					if errors.Is(err, ErrConditionFailed) {
						continue
					}
					errs <- err
					return
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		c, version, err := GetAs[counter](ctx, s, "p", "counter")
		require.NoError(t, err)
		assert.Equal(t, writers, c.N)
		assert.Equal(t, int64(writers), version)
	})
}

func TestMutateAbortDoesNotWrite(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	_, _, err := Mutate(context.Background(), s, "p", "x", func(c *counter, exists bool) error {
		assert.False(t, exists)
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = s.Get(context.Background(), "p", "x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFloatKeyOrdering(t *testing.T) {
	offsets := []float64{0, 0.5, 9.999999, 10, 100, 3600.25, 86400}
	for i := 1; i < len(offsets); i++ {
		assert.Less(t, FloatKey(offsets[i-1]), FloatKey(offsets[i]))
	}
	f, err := ParseFloatKey(FloatKey(3600.25))
	require.NoError(t, err)
	assert.InDelta(t, 3600.25, f, 1e-9)
	assert.Equal(t, FloatKey(0), FloatKey(-3))
}

func TestOpenFactory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Check(ctx, s))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "x.sqlite")}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Check(ctx, s))
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Backend: "sqlite"}, zerolog.Nop())
	require.Error(t, err)
	_, err = Open(ctx, Config{Backend: "dynamo"}, zerolog.Nop())
	require.Error(t, err)
}
