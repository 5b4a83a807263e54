// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database shared by the chat
// core's durable stores: rate-limit counters and cache entries
// (lib/kvstore), daily usage rows (lib/usage), and the read-only
// conversation turns table (lib/retrieval).
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool and applies one set
// of pragmas to every connection: WAL journaling so readers never
// block the single writer, synchronous=NORMAL, a 5 second busy
// timeout for write contention between request goroutines, and an
// in-memory temp store. Each store passes its schema as
// [Config].Schema; it runs once per connection, so statements must be
// idempotent (CREATE TABLE IF NOT EXISTS).
//
// Connections are not safe for concurrent use. Use [Pool.With] to
// borrow one for the duration of a function:
//
//	err := pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "SELECT 1", nil)
//	})
package sqlitepool
