// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kvstore is the shared key/value store behind the rate
// limiter and the response cache.
//
// The [Store] interface exposes only single-round-trip primitives:
// an atomic increment-with-expiry for counters, set-with-expiry for
// values, and prefix scans for bulk invalidation. Components never
// read a counter and write it back; admission decisions are made on
// the value IncrBy returns.
//
// Two implementations are provided. [Memory] keeps everything in a
// mutex-guarded map and is suitable for a single process and for
// tests. [SQLite] persists to a database file through
// lib/sqlitepool, so several processes on one host share counters;
// its increments are a single INSERT ... ON CONFLICT ... RETURNING
// statement.
//
// Expiry is evaluated against an injected clock. Expired keys behave
// as absent; storage is reclaimed lazily and by [SQLite.Sweep].
package kvstore
