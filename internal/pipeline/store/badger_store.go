// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerConflictRetries = 8

// BadgerStore implements Store on an embedded Badger LSM tree.
// Keys are "i\x00<pk>\x00<sk>", so a partition is one key prefix.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the store in dir. An empty dir runs in memory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func partitionPrefix(pk string) []byte {
	return []byte("i\x00" + pk + "\x00")
}

func badgerKey(pk, sk string) []byte {
	return append(partitionPrefix(pk), sk...)
}

func (b *BadgerStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	var out Item
	err := b.db.View(func(txn *badger.Txn) error {
		it, err := b.read(txn, pk, sk)
		out = it
		return err
	})
	return out, err
}

func (b *BadgerStore) read(txn *badger.Txn, pk, sk string) (Item, error) {
	entry, err := txn.Get(badgerKey(pk, sk))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	raw, err := entry.ValueCopy(nil)
	if err != nil {
		return Item{}, err
	}
	return unwrap(pk, sk, raw)
}

func (b *BadgerStore) Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (Page, error) {
	prefix := partitionPrefix(pk)
	lo, hasLo, hi, hasHi := key.bounds()

	var items []Item
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		iopts.Reverse = opts.Descending
		iter := txn.NewIterator(iopts)
		defer iter.Close()

		var seek []byte
		switch {
		case !opts.Descending && hasLo:
			seek = append(append([]byte{}, prefix...), lo...)
		case !opts.Descending:
			seek = prefix
		case hasHi:
			seek = append(append(append([]byte{}, prefix...), hi...), 0xff)
		default:
			seek = append(append([]byte{}, prefix...), 0xff)
		}

		for iter.Seek(seek); iter.ValidForPrefix(prefix); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry := iter.Item()
			sk := string(entry.Key()[len(prefix):])
			if !opts.Descending && hasHi && sk > hi {
				break
			}
			if opts.Descending && hasLo && sk < lo {
				break
			}
			if opts.Cursor != "" && ((!opts.Descending && sk <= opts.Cursor) || (opts.Descending && sk >= opts.Cursor)) {
				continue
			}
			raw, err := entry.ValueCopy(nil)
			if err != nil {
				return err
			}
			it, err := unwrap(pk, sk, raw)
			if err != nil {
				return err
			}
			items = append(items, it)
			// One past the limit is enough to know whether a next page exists.
			if opts.Limit > 0 && len(items) > opts.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return paginate(items, key, opts), nil
}

func (b *BadgerStore) Put(ctx context.Context, item Item, cond Condition) (Item, error) {
	var out Item
	for attempt := 0; ; attempt++ {
		err := b.db.Update(func(txn *badger.Txn) error {
			cur, err := b.read(txn, item.PK, item.SK)
			exists := err == nil
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if err := cond.check(exists, cur.Version); err != nil {
				return err
			}
			next := item
			next.Version = cur.Version + 1
			next.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
			raw, err := wrap(next)
			if err != nil {
				return err
			}
			if err := txn.Set(badgerKey(item.PK, item.SK), raw); err != nil {
				return err
			}
			out = next
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			if attempt < badgerConflictRetries {
				continue
			}
			return Item{}, fmt.Errorf("%w: %w", ErrConditionFailed, err)
		}
		if err != nil {
			return Item{}, err
		}
		return out, nil
	}
}

func (b *BadgerStore) Delete(ctx context.Context, pk, sk string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(pk, sk))
	})
}
