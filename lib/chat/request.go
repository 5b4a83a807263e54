// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/chatcore/lib/prompt"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

// MaxQueryLength bounds the question text, in characters.
const MaxQueryLength = 4000

// Request is one inbound question.
type Request struct {
	Query               string           `json:"query"`
	ConversationHistory []retrieval.Turn `json:"conversationHistory,omitempty"`

	// SessionID names a stored conversation whose recent turns are
	// used when ConversationHistory is empty.
	SessionID string `json:"sessionId,omitempty"`

	// Scope restricts retrieval to these source ids.
	Scope []string `json:"scope,omitempty"`

	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`

	// Tier is "basic", "pro", or "enterprise". Empty means basic.
	Tier string `json:"tier"`

	Stream bool `json:"stream"`
}

// Response is a complete answer.
type Response struct {
	Content      string            `json:"content"`
	Citations    []prompt.Citation `json:"citations"`
	Model        string            `json:"model"`
	InputTokens  int64             `json:"inputTokens"`
	OutputTokens int64             `json:"outputTokens"`
	CostUSD      float64           `json:"costUsd"`

	// Cached is true when the answer came from the response cache.
	// Cached answers report zero tokens and cost: nothing new was
	// spent on them.
	Cached bool `json:"cached"`
}

// validate checks request and returns its parsed tier.
func validate(request Request) (tier.Tier, error) {
	query := strings.TrimSpace(request.Query)
	switch {
	case query == "":
		return "", &ValidationError{Field: "query", Problem: "the question is empty"}
	case utf8.RuneCountInString(query) > MaxQueryLength:
		return "", &ValidationError{Field: "query", Problem: "the question is too long"}
	case request.UserID == "":
		return "", &ValidationError{Field: "userId", Problem: "a user id is required"}
	case request.TenantID == "":
		return "", &ValidationError{Field: "tenantId", Problem: "a tenant id is required"}
	}

	plan := tier.Basic
	if request.Tier != "" {
		parsed, err := tier.Parse(request.Tier)
		if err != nil {
			return "", &ValidationError{Field: "tier", Problem: "the plan is not recognized"}
		}
		plan = parsed
	}

	for _, turn := range request.ConversationHistory {
		if turn.Role != retrieval.RoleUser && turn.Role != retrieval.RoleAssistant {
			return "", &ValidationError{Field: "conversationHistory", Problem: "a turn has an unknown role"}
		}
	}
	return plan, nil
}
