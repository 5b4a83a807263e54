// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"context"
	"fmt"
	"slices"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
)

// TurnsSchema is the conversation table read by SQLiteTurnStore. The
// transcript writer owns the rows; the schema is created here only so
// a fresh database is queryable.
const TurnsSchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	created_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteTurnStore reads recent turns from the conversation_turns table.
type SQLiteTurnStore struct {
	pool *sqlitepool.Pool
}

// NewSQLiteTurnStore reads from pool, which must have TurnsSchema
// applied.
func NewSQLiteTurnStore(pool *sqlitepool.Pool) *SQLiteTurnStore {
	return &SQLiteTurnStore{pool: pool}
}

// LoadRecentTurns returns the last maxTurns turns of a session, oldest
// first. Rows with an unrecognized role are skipped.
func (s *SQLiteTurnStore) LoadRecentTurns(ctx context.Context, sessionID string, maxTurns int) ([]Turn, error) {
	if maxTurns <= 0 || sessionID == "" {
		return nil, nil
	}

	var turns []Turn
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT role, content FROM conversation_turns
			 WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{sessionID, maxTurns},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					role := Role(stmt.ColumnText(0))
					if role != RoleUser && role != RoleAssistant {
						return nil
					}
					turns = append(turns, Turn{Role: role, Content: stmt.ColumnText(1)})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: loading turns for %s: %w", sessionID, err)
	}
	slices.Reverse(turns)
	return turns, nil
}
