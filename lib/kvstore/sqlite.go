// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
)

// Schema creates the kv table. Pass it as sqlitepool.Config.Schema
// (alone or concatenated with other schemas).
//
// expires_at is Unix milliseconds; zero means no expiry. A row holds
// a counter when value is NULL.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT    PRIMARY KEY,
	counter    INTEGER NOT NULL DEFAULT 0,
	value      BLOB,
	expires_at INTEGER NOT NULL DEFAULT 0
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS kv_expires ON kv (expires_at) WHERE expires_at != 0;
`

// SQLite is a Store persisted in a SQLite database.
type SQLite struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// NewSQLite wraps pool, which must have Schema applied. A nil clock
// uses real time.
func NewSQLite(pool *sqlitepool.Pool, c clock.Clock) *SQLite {
	if c == nil {
		c = clock.Real()
	}
	return &SQLite{pool: pool, clock: c}
}

func (s *SQLite) nowMillis() int64 {
	return s.clock.Now().UnixMilli()
}

func expiresMillis(now time.Time, ttl time.Duration) int64 {
	deadline := expiry(now, ttl)
	if deadline.IsZero() {
		return 0
	}
	return deadline.UnixMilli()
}

// The "stale" condition in incrementSQL is true when the existing row
// must be replaced rather than added to: it expired, or it holds a
// value rather than a counter.
const incrementSQL = `
INSERT INTO kv (key, counter, value, expires_at) VALUES (?1, ?2, NULL, ?3)
ON CONFLICT (key) DO UPDATE SET
	counter = CASE
		WHEN (kv.expires_at != 0 AND kv.expires_at <= ?4) OR kv.value IS NOT NULL
		THEN excluded.counter
		ELSE kv.counter + excluded.counter END,
	expires_at = CASE
		WHEN (kv.expires_at != 0 AND kv.expires_at <= ?4) OR kv.value IS NOT NULL
		THEN excluded.expires_at
		ELSE kv.expires_at END,
	value = NULL
RETURNING counter`

func (s *SQLite) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	now := s.clock.Now()
	var result int64
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, incrementSQL, &sqlitex.ExecOptions{
			Args: []any{key, delta, expiresMillis(now, ttl), now.UnixMilli()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				result = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: incrementing %s: %w", key, err)
	}
	return result, nil
}

func (s *SQLite) Counter(ctx context.Context, key string) (int64, error) {
	var result int64
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT counter FROM kv
			 WHERE key = ? AND value IS NULL AND (expires_at = 0 OR expires_at > ?)`,
			&sqlitex.ExecOptions{
				Args: []any{key, s.nowMillis()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					result = stmt.ColumnInt64(0)
					return nil
				},
			})
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: reading counter %s: %w", key, err)
	}
	return result, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		value = []byte{}
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT OR REPLACE INTO kv (key, counter, value, expires_at) VALUES (?, 0, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{key, value, expiresMillis(s.clock.Now(), ttl)}})
	})
	if err != nil {
		return fmt.Errorf("kvstore: setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value []byte
		found bool
	)
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT value FROM kv
			 WHERE key = ? AND value IS NOT NULL AND (expires_at = 0 OR expires_at > ?)`,
			&sqlitex.ExecOptions{
				Args: []any{key, s.nowMillis()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					value = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, value)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: getting %s: %w", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	var changed bool
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE kv SET expires_at = ? WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
			&sqlitex.ExecOptions{Args: []any{expiresMillis(now, ttl), key, now.UnixMilli()}})
		changed = conn.Changes() > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("kvstore: expiring %s: %w", key, err)
	}
	return changed, nil
}

func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)

		for _, key := range keys {
			if err = sqlitex.Execute(conn, `DELETE FROM kv WHERE key = ?`,
				&sqlitex.ExecOptions{Args: []any{key}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: deleting %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT key FROM kv
			 WHERE substr(key, 1, length(?1)) = ?1 AND (expires_at = 0 OR expires_at > ?2)
			 ORDER BY key`,
			&sqlitex.ExecOptions{
				Args: []any{prefix, s.nowMillis()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					keys = append(keys, stmt.ColumnText(0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: listing %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *SQLite) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	now := s.nowMillis()
	var removed int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)

		err = sqlitex.Execute(conn,
			`SELECT count(*) FROM kv
			 WHERE substr(key, 1, length(?1)) = ?1 AND (expires_at = 0 OR expires_at > ?2)`,
			&sqlitex.ExecOptions{
				Args: []any{prefix, now},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					removed = stmt.ColumnInt(0)
					return nil
				},
			})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			`DELETE FROM kv WHERE substr(key, 1, length(?1)) = ?1`,
			&sqlitex.ExecOptions{Args: []any{prefix}})
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: deleting prefix %q: %w", prefix, err)
	}
	return removed, nil
}

// Sweep deletes expired rows and returns how many were removed. The
// serve command runs it periodically.
func (s *SQLite) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`DELETE FROM kv WHERE expires_at != 0 AND expires_at <= ?`,
			&sqlitex.ExecOptions{Args: []any{s.nowMillis()}})
		removed = conn.Changes()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: sweeping: %w", err)
	}
	return removed, nil
}
