// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chattest assembles a complete in-memory chat stack for
// tests: memory stores, a fake clock, and a scripted provider.
package chattest

import (
	"testing"
	"time"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/chat"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/completion"
	"github.com/bureau-foundation/chatcore/lib/kvstore"
	"github.com/bureau-foundation/chatcore/lib/llm/llmtest"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
	"github.com/bureau-foundation/chatcore/lib/tier"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2026, 3, 10, 14, 0, 15, 0, time.UTC)

// Options customize New. The zero value gives one chunk, no turn
// store, and a provider with no behavior.
type Options struct {
	Provider *llmtest.Provider
	Chunks   []retrieval.RetrievedChunk
	Turns    retrieval.TurnStore

	// NoChunks forces empty retrieval.
	NoChunks bool

	// Tiers replaces the default tier table in the limiter and the
	// tracker.
	Tiers tier.Table
}

// Stack is a wired Service and its collaborators.
type Stack struct {
	Service  *chat.Service
	Provider *llmtest.Provider
	Clock    *clock.FakeClock
	Store    *kvstore.Memory
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Tracker  *usage.Tracker
	Registry *model.Registry
}

// IntroChunk is the default retrieved chunk.
var IntroChunk = retrieval.RetrievedChunk{
	SourceID:           "v1",
	SourceTitle:        "Intro to Trading",
	StartOffsetSeconds: 225,
	Text:               "Risk management means sizing positions so no single trade can sink the account.",
	Similarity:         0.91,
}

// New builds a Stack using the default model.
func New(t *testing.T, options Options) *Stack {
	t.Helper()

	fake := clock.Fake(Epoch)
	store := kvstore.NewMemory(fake)
	registry := model.Default()

	provider := options.Provider
	if provider == nil {
		provider = &llmtest.Provider{}
	}
	chunks := options.Chunks
	if chunks == nil && !options.NoChunks {
		chunks = []retrieval.RetrievedChunk{IntroChunk}
	}

	responseCache, err := cache.New(cache.Config{Store: store, Clock: fake})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	limiter, err := ratelimit.New(ratelimit.Config{Store: store, Tiers: options.Tiers, Clock: fake})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	tracker, err := usage.New(usage.Config{Store: usage.NewMemory(), Registry: registry, Tiers: options.Tiers, Clock: fake})
	if err != nil {
		t.Fatalf("usage.New: %v", err)
	}
	engine, err := completion.New(completion.Config{Provider: provider, Clock: fake})
	if err != nil {
		t.Fatalf("completion.New: %v", err)
	}
	service, err := chat.New(chat.Config{
		Registry:  registry,
		Retriever: retrieval.Static(chunks),
		Turns:     options.Turns,
		Cache:     responseCache,
		Limiter:   limiter,
		Engine:    engine,
		Tracker:   tracker,
		Clock:     fake,
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}

	return &Stack{
		Service:  service,
		Provider: provider,
		Clock:    fake,
		Store:    store,
		Cache:    responseCache,
		Limiter:  limiter,
		Tracker:  tracker,
		Registry: registry,
	}
}

// Request returns a valid basic-tier request for query.
func Request(query string) chat.Request {
	return chat.Request{
		Query:    query,
		UserID:   "learner-1",
		TenantID: "academy",
		Tier:     "basic",
	}
}
