// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package model is the static table of completion models the chat
// core can bill for. It owns the one cost function: every
// CompletionResult, usage row, and cache saving is priced through
// [Model.Cost].
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrUnknownModel is returned when an explicitly requested model id
// is not in the registry.
var ErrUnknownModel = errors.New("model: unknown model id")

// Provider names the wire protocol used to reach a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Model describes one billable completion model.
type Model struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Provider    Provider `json:"provider"`

	// InputCostPer1M and OutputCostPer1M are USD per million tokens.
	InputCostPer1M  float64 `json:"inputCostPer1M"`
	OutputCostPer1M float64 `json:"outputCostPer1M"`

	// ContextWindow is the total token capacity. The core does not
	// truncate to it; callers keep assembled prompts within it.
	ContextWindow   int `json:"contextWindow"`
	MaxOutputTokens int `json:"maxOutputTokens"`
}

// Cost converts token counts into USD. Negative counts are treated
// as zero, so the result is never negative.
func (m Model) Cost(inputTokens, outputTokens int64) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)/1e6*m.InputCostPer1M +
		float64(outputTokens)/1e6*m.OutputCostPer1M
}

// DefaultModelID is used when configuration names no model or an
// unknown one.
const DefaultModelID = "gpt-4o-mini"

// builtin prices are list prices as of early 2026.
var builtin = []Model{
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini", Provider: ProviderOpenAI,
		InputCostPer1M: 0.15, OutputCostPer1M: 0.60, ContextWindow: 128_000, MaxOutputTokens: 16_384},
	{ID: "gpt-4o", DisplayName: "GPT-4o", Provider: ProviderOpenAI,
		InputCostPer1M: 2.50, OutputCostPer1M: 10.00, ContextWindow: 128_000, MaxOutputTokens: 16_384},
	{ID: "gpt-4.1-mini", DisplayName: "GPT-4.1 mini", Provider: ProviderOpenAI,
		InputCostPer1M: 0.40, OutputCostPer1M: 1.60, ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	{ID: "gpt-4.1", DisplayName: "GPT-4.1", Provider: ProviderOpenAI,
		InputCostPer1M: 2.00, OutputCostPer1M: 8.00, ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku", Provider: ProviderAnthropic,
		InputCostPer1M: 0.80, OutputCostPer1M: 4.00, ContextWindow: 200_000, MaxOutputTokens: 8_192},
	{ID: "claude-haiku-4-5-20251001", DisplayName: "Claude Haiku 4.5", Provider: ProviderAnthropic,
		InputCostPer1M: 1.00, OutputCostPer1M: 5.00, ContextWindow: 200_000, MaxOutputTokens: 64_000},
	{ID: "claude-sonnet-4-5-20250929", DisplayName: "Claude Sonnet 4.5", Provider: ProviderAnthropic,
		InputCostPer1M: 3.00, OutputCostPer1M: 15.00, ContextWindow: 200_000, MaxOutputTokens: 64_000},
}

// Registry is an immutable lookup table. Safe for concurrent use.
type Registry struct {
	models    map[string]Model
	defaultID string
}

// Default returns the registry of built-in models.
func Default() *Registry {
	registry, err := New(builtin, DefaultModelID)
	if err != nil {
		panic("model: built-in registry invalid: " + err.Error())
	}
	return registry
}

// New builds a registry from models. defaultID must be one of them.
func New(models []Model, defaultID string) (*Registry, error) {
	table := make(map[string]Model, len(models))
	for _, m := range models {
		if m.ID == "" {
			return nil, errors.New("model: entry with empty id")
		}
		if m.InputCostPer1M < 0 || m.OutputCostPer1M < 0 {
			return nil, fmt.Errorf("model: %s: negative price", m.ID)
		}
		if _, duplicate := table[m.ID]; duplicate {
			return nil, fmt.Errorf("model: duplicate id %s", m.ID)
		}
		table[m.ID] = m
	}
	if _, ok := table[defaultID]; !ok {
		return nil, fmt.Errorf("model: default %q: %w", defaultID, ErrUnknownModel)
	}
	return &Registry{models: table, defaultID: defaultID}, nil
}

// Lookup returns the model for an explicitly requested id.
func (r *Registry) Lookup(id string) (Model, error) {
	m, ok := r.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m, nil
}

// Resolve maps the environment-level model selection to a model.
// Unlike Lookup it never fails: an empty or unknown id falls back to
// the default, with a warning for the unknown case.
func (r *Registry) Resolve(configuredID string, logger *slog.Logger) Model {
	if configuredID == "" {
		return r.models[r.defaultID]
	}
	if m, ok := r.models[configuredID]; ok {
		return m
	}
	if logger != nil {
		logger.Warn("configured model unknown, using default",
			"configured", configuredID,
			"default", r.defaultID,
		)
	}
	return r.models[r.defaultID]
}

// Cost prices token counts for an explicitly named model.
func (r *Registry) Cost(inputTokens, outputTokens int64, modelID string) (float64, error) {
	m, err := r.Lookup(modelID)
	if err != nil {
		return 0, err
	}
	return m.Cost(inputTokens, outputTokens), nil
}

// List returns all models ordered by provider then id.
func (r *Registry) List() []Model {
	models := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].ID < models[j].ID
	})
	return models
}
