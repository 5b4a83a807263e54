// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for absent or expired keys.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a key/value store with per-key expiry. A ttl of zero means
// the key does not expire. Counters and values share one keyspace; a
// key holds either a counter (IncrBy) or a value (Set), and using the
// other operation on it replaces its contents.
//
// Implementations must be safe for concurrent use, and IncrBy must be
// atomic: concurrent increments of one key each observe a distinct
// result.
type Store interface {
	// IncrBy adds delta to the counter at key and returns the new
	// value. An absent or expired key starts from zero and gets ttl as
	// its lifetime; an existing key keeps its expiry.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Counter returns the counter at key, or zero if absent.
	Counter(ctx context.Context, key string) (int64, error)

	// Set stores value under key with the given lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Expire resets the lifetime of an existing key. It reports
	// whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys returns the live keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every key starting with prefix and returns
	// how many live keys were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// expiry converts a ttl into an absolute deadline. The zero time
// means no expiry.
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)
