// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/codec"
	"github.com/bureau-foundation/chatcore/lib/kvstore"
	"github.com/bureau-foundation/chatcore/lib/prompt"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

// DefaultTTL is how long an entry lives without being hit.
const DefaultTTL = 7 * 24 * time.Hour

// Invalidation selects what Invalidate removes.
type Invalidation string

const (
	// InvalidationAll drops every entry when any source changes.
	InvalidationAll Invalidation = "all"

	// InvalidationSource drops only entries whose fingerprinted
	// chunks came from the changed source.
	InvalidationSource Invalidation = "source"
)

// Key prefixes in the shared store.
const (
	entryPrefix = "cache:"
	hitsPrefix  = "cachehits:"
	indexPrefix = "cacheidx:"

	statRequests   = "cachestats:requests"
	statHits       = "cachestats:hits"
	statMisses     = "cachestats:misses"
	statSavedMicro = "cachestats:saved_micro_usd"
)

// Result is the part of a completion worth replaying.
type Result struct {
	Content      string            `json:"content"`
	Citations    []prompt.Citation `json:"citations,omitempty"`
	ModelID      string            `json:"model"`
	InputTokens  int64             `json:"inputTokens"`
	OutputTokens int64             `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`
}

// Entry is a cached result with its bookkeeping.
type Entry struct {
	Key             string   `json:"key"`
	Result          Result   `json:"result"`
	CachedAtEpochMs int64    `json:"cachedAtEpochMs"`
	SourceIDs       []string `json:"sourceIds,omitempty"`

	// HitCount is maintained as a separate counter and filled in on
	// lookup; the stored copy is always zero.
	HitCount int64 `json:"hitCount"`
}

// Stats are the shared cache counters.
type Stats struct {
	TotalRequests      int64   `json:"totalRequests"`
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	HitRate            float64 `json:"hitRate"`
	EstimatedCostSaved float64 `json:"estimatedCostSaved"`
}

// Config holds the parameters for a Cache.
type Config struct {
	Store kvstore.Store

	// TTL is the entry lifetime, refreshed on every hit. Defaults to
	// DefaultTTL.
	TTL time.Duration

	// KeyWidth is the number of hex characters in a key. Defaults to
	// DefaultKeyWidth.
	KeyWidth int

	// Invalidation defaults to InvalidationAll.
	Invalidation Invalidation

	Compression Compression

	Clock  clock.Clock
	Logger *slog.Logger
}

// Cache is the response cache. Safe for concurrent use.
type Cache struct {
	store        kvstore.Store
	ttl          time.Duration
	keyWidth     int
	invalidation Invalidation
	compression  Compression
	clock        clock.Clock
	logger       *slog.Logger
}

// New creates a Cache over cfg.Store.
func New(cfg Config) (*Cache, error) {
	if cfg.Store == nil {
		return nil, errors.New("cache: Store is required")
	}
	c := &Cache{
		store:        cfg.Store,
		ttl:          cfg.TTL,
		keyWidth:     cfg.KeyWidth,
		invalidation: cfg.Invalidation,
		compression:  cfg.Compression,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.keyWidth <= 0 {
		c.keyWidth = DefaultKeyWidth
	}
	switch c.invalidation {
	case "":
		c.invalidation = InvalidationAll
	case InvalidationAll, InvalidationSource:
	default:
		return nil, fmt.Errorf("cache: unknown invalidation mode %q", cfg.Invalidation)
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

// Lookup returns the entry for query and chunks. Any store or decode
// failure is logged and reported as a miss.
func (c *Cache) Lookup(ctx context.Context, query string, chunks []retrieval.RetrievedChunk) (*Entry, bool) {
	key := Key(query, chunks, c.keyWidth)
	c.bump(ctx, statRequests, 1)

	entry, err := c.load(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("cache lookup failed, treating as miss", "key", key, "error", err)
		}
		c.bump(ctx, statMisses, 1)
		return nil, false
	}

	hits, err := c.store.IncrBy(ctx, hitsPrefix+key, 1, c.ttl)
	if err != nil {
		c.logger.Warn("cache hit count update failed", "key", key, "error", err)
	}
	entry.HitCount = hits
	c.refresh(ctx, entry)

	c.bump(ctx, statHits, 1)
	c.bump(ctx, statSavedMicro, toMicros(entry.Result.CostUSD))
	return entry, true
}

// Store caches result for query and chunks, replacing any existing
// entry and resetting its hit count. Failures are logged. Answers
// whose fingerprinted sources carry reserved characters are not
// cached.
func (c *Cache) Store(ctx context.Context, query string, chunks []retrieval.RetrievedChunk, result Result) {
	key := Key(query, chunks, c.keyWidth)
	for _, sourceID := range sourceIDs(chunks) {
		if !retrieval.ValidSourceID(sourceID) {
			c.logger.Warn("not caching answer for unindexable source", "key", key, "source_id", sourceID)
			return
		}
	}
	entry := Entry{
		Key:             key,
		Result:          result,
		CachedAtEpochMs: c.clock.Now().UnixMilli(),
		SourceIDs:       sourceIDs(chunks),
	}

	encoded, err := codec.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache entry encoding failed", "key", key, "error", err)
		return
	}
	framed, err := pack(encoded, c.compression)
	if err != nil {
		c.logger.Warn("cache entry compression failed", "key", key, "error", err)
		return
	}

	if err := c.store.Set(ctx, entryPrefix+key, framed, c.ttl); err != nil {
		c.logger.Warn("cache store failed", "key", key, "error", err)
		return
	}
	if err := c.store.Delete(ctx, hitsPrefix+key); err != nil {
		c.logger.Warn("cache hit count reset failed", "key", key, "error", err)
	}
	if c.invalidation != InvalidationSource {
		return
	}
	for _, sourceID := range entry.SourceIDs {
		if err := c.store.Set(ctx, indexKey(sourceID, key), []byte(key), c.ttl); err != nil {
			c.logger.Warn("cache index update failed", "key", key, "source_id", sourceID, "error", err)
		}
	}
}

// Invalidate removes entries affected by a change to sourceID,
// according to the configured mode. It returns the number of entries
// removed.
func (c *Cache) Invalidate(ctx context.Context, sourceID string) (int, error) {
	if c.invalidation != InvalidationSource || sourceID == "" {
		return c.InvalidateAll(ctx)
	}

	// Chunks with reserved characters never reach the cache, so no
	// entry can reference such a source.
	if !retrieval.ValidSourceID(sourceID) {
		return 0, nil
	}

	indexKeys, err := c.store.Keys(ctx, indexPrefix+sourceID+":")
	if err != nil {
		return 0, fmt.Errorf("cache: listing index for %s: %w", sourceID, err)
	}
	var doomed []string
	for _, indexEntry := range indexKeys {
		key := indexEntry[strings.LastIndexByte(indexEntry, ':')+1:]
		doomed = append(doomed, entryPrefix+key, hitsPrefix+key, indexEntry)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, doomed...); err != nil {
		return 0, fmt.Errorf("cache: invalidating %s: %w", sourceID, err)
	}
	c.logger.Info("cache invalidated for source", "source_id", sourceID, "entries", len(indexKeys))
	return len(indexKeys), nil
}

// InvalidateAll removes every entry. Statistics are kept.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	removed, err := c.store.DeletePrefix(ctx, entryPrefix)
	if err != nil {
		return 0, fmt.Errorf("cache: invalidating all: %w", err)
	}
	for _, prefix := range []string{hitsPrefix, indexPrefix} {
		if _, err := c.store.DeletePrefix(ctx, prefix); err != nil {
			return removed, fmt.Errorf("cache: clearing %s: %w", prefix, err)
		}
	}
	c.logger.Info("cache invalidated", "entries", removed)
	return removed, nil
}

// Stats reads the shared counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var values [4]int64
	for i, name := range []string{statRequests, statHits, statMisses, statSavedMicro} {
		value, err := c.store.Counter(ctx, name)
		if err != nil {
			return Stats{}, fmt.Errorf("cache: reading stats: %w", err)
		}
		values[i] = value
	}
	stats := Stats{
		TotalRequests:      values[0],
		Hits:               values[1],
		Misses:             values[2],
		EstimatedCostSaved: float64(values[3]) / 1e6,
	}
	if stats.TotalRequests > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalRequests)
	}
	return stats, nil
}

// ResetStats zeroes the shared counters.
func (c *Cache) ResetStats(ctx context.Context) error {
	if err := c.store.Delete(ctx, statRequests, statHits, statMisses, statSavedMicro); err != nil {
		return fmt.Errorf("cache: resetting stats: %w", err)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, key string) (*Entry, error) {
	framed, err := c.store.Get(ctx, entryPrefix+key)
	if err != nil {
		return nil, err
	}
	encoded, err := unpack(framed)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := codec.Unmarshal(encoded, &entry); err != nil {
		return nil, fmt.Errorf("cache: decoding entry: %w", err)
	}
	if entry.Key != key {
		return nil, fmt.Errorf("cache: entry key %q stored under %q", entry.Key, key)
	}
	return &entry, nil
}

// refresh extends the lifetime of an entry and its bookkeeping keys.
func (c *Cache) refresh(ctx context.Context, entry *Entry) {
	keys := []string{entryPrefix + entry.Key, hitsPrefix + entry.Key}
	if c.invalidation == InvalidationSource {
		for _, sourceID := range entry.SourceIDs {
			keys = append(keys, indexKey(sourceID, entry.Key))
		}
	}
	for _, key := range keys {
		if _, err := c.store.Expire(ctx, key, c.ttl); err != nil {
			c.logger.Warn("cache ttl refresh failed", "key", key, "error", err)
		}
	}
}

func (c *Cache) bump(ctx context.Context, stat string, delta int64) {
	if delta == 0 {
		return
	}
	if _, err := c.store.IncrBy(ctx, stat, delta, 0); err != nil {
		c.logger.Warn("cache stat update failed", "stat", stat, "error", err)
	}
}

func indexKey(sourceID, key string) string {
	return indexPrefix + sourceID + ":" + key
}

func toMicros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Round(usd * 1e6))
}
