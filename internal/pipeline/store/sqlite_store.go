// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/mre/internal/persistence/sqlite"
)

var sqliteMigrations = []sqlite.Migration{
	{Version: 1, SQL: `
	CREATE TABLE IF NOT EXISTS items (
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		value BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (pk, sk)
	) WITHOUT ROWID;
	`},
}

// SqliteStore implements Store on a single SQLite table keyed by (pk, sk).
type SqliteStore struct {
	DB   *sql.DB
	path string
}

// NewSqliteStore opens (or creates) the database at dbPath and migrates it.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("item store: %w", err)
	}
	return &SqliteStore{DB: db, path: dbPath}, nil
}

// Path is the database file, used by integrity verification.
func (s *SqliteStore) Path() string { return s.path }

func (s *SqliteStore) Close() error { return s.DB.Close() }

func (s *SqliteStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	it := Item{PK: pk, SK: sk}
	var ms int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT value, version, updated_at_ms FROM items WHERE pk = ? AND sk = ?`, pk, sk,
	).Scan((*[]byte)(&it.Value), &it.Version, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	it.UpdatedAt = time.UnixMilli(ms).UTC()
	return it, nil
}

func (s *SqliteStore) Query(ctx context.Context, pk string, key SortKey, opts QueryOptions) (Page, error) {
	var (
		where = []string{"pk = ?"}
		args  = []any{pk}
	)
	lo, hasLo, hi, hasHi := key.bounds()
	if hasLo {
		where = append(where, "sk >= ?")
		args = append(args, lo)
	}
	if hasHi {
		where = append(where, "sk <= ?")
		args = append(args, hi)
	}
	order := "ASC"
	if opts.Cursor != "" {
		if opts.Descending {
			where = append(where, "sk < ?")
		} else {
			where = append(where, "sk > ?")
		}
		args = append(args, opts.Cursor)
	}
	if opts.Descending {
		order = "DESC"
	}
	q := fmt.Sprintf(`SELECT sk, value, version, updated_at_ms FROM items WHERE %s ORDER BY sk %s`,
		strings.Join(where, " AND "), order)
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit+1)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it := Item{PK: pk}
		var ms int64
		if err := rows.Scan(&it.SK, (*[]byte)(&it.Value), &it.Version, &ms); err != nil {
			return Page{}, err
		}
		it.UpdatedAt = time.UnixMilli(ms).UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	return paginate(items, key, opts), nil
}

func (s *SqliteStore) Put(ctx context.Context, item Item, cond Condition) (Item, error) {
	now := time.Now().UTC()
	item.UpdatedAt = now.Truncate(time.Millisecond)
	ms := now.UnixMilli()

	switch cond.kind {
	case condIfNotExists:
		res, err := s.DB.ExecContext(ctx,
			`INSERT INTO items (pk, sk, value, version, updated_at_ms) VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT(pk, sk) DO NOTHING`,
			item.PK, item.SK, []byte(item.Value), ms)
		if err != nil {
			return Item{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Item{}, ErrConditionFailed
		}
		item.Version = 1
		return item, nil

	case condIfVersion:
		res, err := s.DB.ExecContext(ctx,
			`UPDATE items SET value = ?, version = version + 1, updated_at_ms = ?
			 WHERE pk = ? AND sk = ? AND version = ?`,
			[]byte(item.Value), ms, item.PK, item.SK, cond.version)
		if err != nil {
			return Item{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Item{}, ErrConditionFailed
		}
		item.Version = cond.version + 1
		return item, nil
	}

	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO items (pk, sk, value, version, updated_at_ms) VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(pk, sk) DO UPDATE SET
			value = excluded.value,
			version = items.version + 1,
			updated_at_ms = excluded.updated_at_ms
		 RETURNING version`,
		item.PK, item.SK, []byte(item.Value), ms,
	).Scan(&item.Version)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *SqliteStore) Delete(ctx context.Context, pk, sk string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM items WHERE pk = ? AND sk = ?`, pk, sk)
	return err
}
