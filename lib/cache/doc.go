// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache is the response cache: a content-addressed map from
// (normalized query, top-ranked chunk set) to a previously generated
// answer.
//
// Keys are derived by [Key]. Two requests share an entry only when
// their normalized query text matches and the same three
// highest-similarity chunks (by source and offset) were retrieved, so
// an answer is never served against materially different context.
//
// Entries live in a [kvstore.Store] under "cache:<key>" as
// deterministic CBOR, optionally compressed with zstd or lz4. Every
// hit bumps a per-entry hit counter and refreshes the TTL of the
// entry and its bookkeeping keys. Request, hit, miss, and saved-cost
// statistics are shared counters in the same store.
//
// Invalidation has two modes. [InvalidationAll] (the default for
// [Cache.Invalidate]) drops the whole namespace whenever any source
// changes. [InvalidationSource] maintains a secondary index
// "cacheidx:<sourceID>:<key>" so that only entries built from the
// changed source are removed.
//
// The cache never fails a chat request. Store errors are logged and
// treated as a miss.
package cache
