// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
)

// Schema is the DDL required by SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS usage_daily (
	tenant_id     TEXT    NOT NULL,
	date          TEXT    NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, date)
) WITHOUT ROWID;
`

// SQLite is a Store backed by the usage_daily table.
type SQLite struct {
	pool *sqlitepool.Pool
}

// NewSQLite stores rows through pool, which must have Schema applied.
func NewSQLite(pool *sqlitepool.Pool) *SQLite {
	return &SQLite{pool: pool}
}

func (s *SQLite) Add(ctx context.Context, delta Record) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO usage_daily (tenant_id, date, message_count, input_tokens, output_tokens, cost_usd)
			 VALUES (?1, ?2, ?3, ?4, ?5, ?6)
			 ON CONFLICT (tenant_id, date) DO UPDATE SET
				message_count = message_count + excluded.message_count,
				input_tokens  = input_tokens + excluded.input_tokens,
				output_tokens = output_tokens + excluded.output_tokens,
				cost_usd      = cost_usd + excluded.cost_usd`,
			&sqlitex.ExecOptions{
				Args: []any{
					delta.TenantID, delta.Date,
					delta.MessageCount, delta.InputTokens, delta.OutputTokens, delta.CostUSD,
				},
			})
	})
	if err != nil {
		return fmt.Errorf("usage: add %s/%s: %w", delta.TenantID, delta.Date, err)
	}
	return nil
}

func (s *SQLite) Range(ctx context.Context, tenantID, from, to string) ([]Record, error) {
	var records []Record
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT date, message_count, input_tokens, output_tokens, cost_usd
			 FROM usage_daily
			 WHERE tenant_id = ? AND date >= ? AND date <= ?
			 ORDER BY date`,
			&sqlitex.ExecOptions{
				Args: []any{tenantID, from, to},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					records = append(records, Record{
						TenantID:     tenantID,
						Date:         stmt.ColumnText(0),
						MessageCount: stmt.ColumnInt64(1),
						InputTokens:  stmt.ColumnInt64(2),
						OutputTokens: stmt.ColumnInt64(3),
						CostUSD:      stmt.ColumnFloat(4),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("usage: range %s %s..%s: %w", tenantID, from, to, err)
	}
	return records, nil
}

func (s *SQLite) Delete(ctx context.Context, tenantID, date string) (int, error) {
	var removed int
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		var err error
		if date == "" {
			err = sqlitex.Execute(conn, `DELETE FROM usage_daily WHERE tenant_id = ?`,
				&sqlitex.ExecOptions{Args: []any{tenantID}})
		} else {
			err = sqlitex.Execute(conn, `DELETE FROM usage_daily WHERE tenant_id = ? AND date = ?`,
				&sqlitex.ExecOptions{Args: []any{tenantID, date}})
		}
		if err != nil {
			return err
		}
		removed = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("usage: delete %s/%s: %w", tenantID, date, err)
	}
	return removed, nil
}
