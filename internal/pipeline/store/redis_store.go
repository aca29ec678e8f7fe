// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisTxRetries = 16

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string // host:port
	Password  string
	DB        int
	KeyPrefix string // defaults to "mre"
}

// RedisStore implements Store with one hash (sk -> envelope) and one
// lexicographic zset index per partition. Writes use WATCH/MULTI.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mre"
	}
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis item store")

	return &RedisStore{client: client, prefix: prefix, logger: logger}, nil
}

// Client exposes the connection for readiness probes.
func (r *RedisStore) Client() *redis.Client { return r.client }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) hashKey(pk string) string { return r.prefix + ":{" + pk + "}:items" }
func (r *RedisStore) indexKey(pk string) string { return r.prefix + ":{" + pk + "}:idx" }

func (r *RedisStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	raw, err := r.client.HGet(ctx, r.hashKey(pk), sk).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return unwrap(pk, sk, raw)
}

func (r *RedisStore) Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (Page, error) {
	lo, hasLo, hi, hasHi := key.bounds()
	lower, upper := "-", "+"
	if hasLo {
		lower = "[" + lo
	}
	if hasHi {
		upper = "[" + hi
	}
	if opts.Cursor != "" {
		if !opts.Descending && (!hasLo || opts.Cursor >= lo) {
			lower = "(" + opts.Cursor
		}
		if opts.Descending && (!hasHi || opts.Cursor <= hi) {
			upper = "(" + opts.Cursor
		}
	}
	rng := &redis.ZRangeBy{Min: lower, Max: upper}
	if opts.Limit > 0 {
		rng.Count = int64(opts.Limit + 1)
	}

	var (
		sks []string
		err error
	)
	if opts.Descending {
		sks, err = r.client.ZRevRangeByLex(ctx, r.indexKey(pk), rng).Result()
	} else {
		sks, err = r.client.ZRangeByLex(ctx, r.indexKey(pk), rng).Result()
	}
	if err != nil {
		return Page{}, err
	}
	if len(sks) == 0 {
		return Page{}, nil
	}

	vals, err := r.client.HMGet(ctx, r.hashKey(pk), sks...).Result()
	if err != nil {
		return Page{}, err
	}
	items := make([]Item, 0, len(sks))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Index entry without payload: a delete raced this read.
			continue
		}
		it, err := unwrap(pk, sks[i], []byte(s))
		if err != nil {
			return Page{}, err
		}
		items = append(items, it)
	}
	return paginate(items, key, opts), nil
}

func (r *RedisStore) Put(ctx context.Context, item Item, cond Condition) (Item, error) {
	hk := r.hashKey(item.PK)
	var out Item
	txf := func(tx *redis.Tx) error {
		var cur Item
		raw, err := tx.HGet(ctx, hk, item.SK).Bytes()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if exists {
			if cur, err = unwrap(item.PK, item.SK, raw); err != nil {
				return err
			}
		}
		if err := cond.check(exists, cur.Version); err != nil {
			return err
		}
		next := item
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
		data, err := wrap(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hk, item.SK, data)
			pipe.ZAdd(ctx, r.indexKey(item.PK), redis.Z{Score: 0, Member: item.SK})
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, hk)
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug().Str("pk", item.PK).Str("sk", item.SK).Int("attempt", attempt).Msg("redis put lost watch race")
			continue
		}
		if err != nil {
			return Item{}, err
		}
		return out, nil
	}
	return Item{}, fmt.Errorf("redis put %s/%s: %w", item.PK, item.SK, ErrConditionFailed)
}

func (r *RedisStore) Delete(ctx context.Context, pk, sk string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.hashKey(pk), sk)
		pipe.ZRem(ctx, r.indexKey(pk), sk)
		return nil
	})
	return err
}
