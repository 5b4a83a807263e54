// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
)

func TestSQLiteTurnStoreRecentWindow(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "turns.db"),
		Schema: TurnsSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	rows := []struct {
		seq     int
		role    string
		content string
	}{
		{1, "user", "hello"},
		{2, "assistant", "hi"},
		{3, "system", "ignored"},
		{4, "user", "what is a stop loss?"},
		{5, "assistant", "a stop loss is..."},
	}
	err = pool.With(context.Background(), func(conn *sqlite.Conn) error {
		for _, row := range rows {
			if err := sqlitex.Execute(conn,
				`INSERT INTO conversation_turns (session_id, seq, role, content) VALUES (?, ?, ?, ?)`,
				&sqlitex.ExecOptions{Args: []any{"s1", row.seq, row.role, row.content}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	store := NewSQLiteTurnStore(pool)
	turns, err := store.LoadRecentTurns(context.Background(), "s1", 3)
	if err != nil {
		t.Fatalf("LoadRecentTurns: %v", err)
	}
	// The newest three rows are seq 3..5; the system row is skipped.
	if len(turns) != 2 {
		t.Fatalf("turns = %+v, want 2", turns)
	}
	if turns[0].Content != "what is a stop loss?" || turns[1].Role != RoleAssistant {
		t.Errorf("turns out of order: %+v", turns)
	}

	none, err := store.LoadRecentTurns(context.Background(), "unknown", 3)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown session = %v, %v", none, err)
	}
}
