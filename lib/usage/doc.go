// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package usage accumulates per-tenant token and cost usage and checks
// it against tier allowances.
//
// Usage is stored as one [Record] per tenant per UTC day, mutated
// additively by [Tracker.Track] and aggregated into months on read.
// Cost is always computed from token counts by the model registry, so
// no caller does its own pricing arithmetic.
//
// Accounting never fails a chat request: Track logs and drops store
// errors. Records are only removed by an explicit [Tracker.Reset].
//
// Two stores are provided. [Memory] guards each tenant-day row with its
// own mutex. [SQLite] relies on a single-statement upsert, which SQLite
// applies atomically.
package usage
