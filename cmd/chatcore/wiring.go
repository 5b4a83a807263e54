// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/chat"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/completion"
	"github.com/bureau-foundation/chatcore/lib/config"
	"github.com/bureau-foundation/chatcore/lib/kvstore"
	"github.com/bureau-foundation/chatcore/lib/llm"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
	"github.com/bureau-foundation/chatcore/lib/stream"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

// stores are the shared state behind the cache, limiter, tracker, and
// session history. The SQLite pool is nil for the memory kind.
type stores struct {
	keyValue kvstore.Store
	usage    usage.Store
	turns    retrieval.TurnStore
	pool     *sqlitepool.Pool
	sqlite   *kvstore.SQLite
}

func (s *stores) Close() error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// openStores opens the configured store kind.
func openStores(cfg *config.Config, c clock.Clock, logger *slog.Logger) (*stores, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		return &stores{
			keyValue: kvstore.NewMemory(c),
			usage:    usage.NewMemory(),
		}, nil

	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		pool, err := sqlitepool.Open(sqlitepool.Config{
			Path:     cfg.Store.Path,
			PoolSize: cfg.Store.PoolSize,
			Schema:   kvstore.Schema + usage.Schema + retrieval.TurnsSchema,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		keyValue := kvstore.NewSQLite(pool, c)
		return &stores{
			keyValue: keyValue,
			usage:    usage.NewSQLite(pool),
			turns:    retrieval.NewSQLiteTurnStore(pool),
			pool:     pool,
			sqlite:   keyValue,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func newCache(cfg *config.Config, store kvstore.Store, c clock.Clock, logger *slog.Logger) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	compression, err := cache.ParseCompression(cfg.Cache.Compression)
	if err != nil {
		return nil, err
	}
	return cache.New(cache.Config{
		Store:        store,
		TTL:          cfg.Cache.TTL,
		KeyWidth:     cfg.Cache.KeyWidth,
		Invalidation: cache.Invalidation(cfg.Cache.Invalidation),
		Compression:  compression,
		Clock:        c,
		Logger:       logger,
	})
}

func newTracker(cfg *config.Config, store usage.Store, registry *model.Registry, c clock.Clock, logger *slog.Logger) (*usage.Tracker, error) {
	return usage.New(usage.Config{
		Store:    store,
		Registry: registry,
		Tiers:    cfg.Tiers.Table(),
		Clock:    c,
		Logger:   logger,
	})
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	httpClient := &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.Provider.Timeout,
	}}
	switch cfg.Provider.Kind {
	case config.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
			HTTPClient: httpClient,
		}), nil
	case config.ProviderAnthropic:
		return llm.NewAnthropic(llm.AnthropicConfig{
			BaseURL:    cfg.Provider.BaseURL,
			APIKey:     cfg.Provider.APIKey,
			HTTPClient: httpClient,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
	}
}

func newRetriever(cfg *config.Config, logger *slog.Logger) retrieval.Retriever {
	if cfg.Retrieval.Endpoint == "" {
		logger.Warn("retrieval.endpoint is empty; every question will get the fallback answer")
		return retrieval.Static(nil)
	}
	return retrieval.NewHTTPRetriever(cfg.Retrieval.Endpoint, cfg.Retrieval.MaxChunks, cfg.Retrieval.Timeout)
}

// application is everything serve needs beyond the HTTP layer.
type application struct {
	stores   *stores
	registry *model.Registry
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	tracker  *usage.Tracker
	service  *chat.Service
}

func (a *application) Close() error {
	return a.stores.Close()
}

// buildApplication wires the chat service from cfg.
func buildApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	c := clock.Real()
	opened, err := openStores(cfg, c, logger)
	if err != nil {
		return nil, err
	}
	app, err := assemble(cfg, opened, c, logger)
	if err != nil {
		return nil, errors.Join(err, opened.Close())
	}
	return app, nil
}

func assemble(cfg *config.Config, opened *stores, c clock.Clock, logger *slog.Logger) (*application, error) {
	registry := model.Default()

	responseCache, err := newCache(cfg, opened.keyValue, c, logger)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		Store:       opened.keyValue,
		Tiers:       cfg.Tiers.Table(),
		PerUserHour: cfg.RateLimit.PerUserHour,
		FailClosed:  !cfg.RateLimit.FailOpen,
		Clock:       c,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	tracker, err := newTracker(cfg, opened.usage, registry, c, logger)
	if err != nil {
		return nil, err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := completion.New(completion.Config{
		Provider:    provider,
		MaxAttempts: cfg.Provider.MaxAttempts,
		Backoff:     cfg.Provider.Backoff,
		BufferSize:  cfg.Server.StreamBuffer,
		Clock:       c,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	temperature := cfg.Model.Temperature
	service, err := chat.New(chat.Config{
		Registry:        registry,
		ModelID:         cfg.Model.Active,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Temperature:     &temperature,
		Retriever:       newRetriever(cfg, logger),
		Turns:           opened.turns,
		HistoryTurns:    cfg.Retrieval.HistoryTurns,
		MaxChunks:       cfg.Retrieval.MaxChunks,
		Cache:           responseCache,
		Limiter:         limiter,
		Engine:          engine,
		Tracker:         tracker,
		Multiplexer: stream.New(stream.Config{
			PingInterval: cfg.Server.PingInterval,
			Timeout:      cfg.Server.StreamTimeout,
			Clock:        c,
			Logger:       logger,
		}),
		Clock:  c,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		stores:   opened,
		registry: registry,
		cache:    responseCache,
		limiter:  limiter,
		tracker:  tracker,
		service:  service,
	}, nil
}
