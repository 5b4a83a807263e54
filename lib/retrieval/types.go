// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of prior conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RetrievedChunk is a passage of source content returned by the index.
type RetrievedChunk struct {
	SourceID           string  `json:"sourceId"`
	SourceTitle        string  `json:"sourceTitle"`
	StartOffsetSeconds int     `json:"startOffsetSeconds"`
	Text               string  `json:"text"`
	Similarity         float64 `json:"similarity"`
}

// Retriever returns chunks relevant to query. A non-empty scope
// restricts results to those source ids.
type Retriever interface {
	Search(ctx context.Context, query string, scope []string) ([]RetrievedChunk, error)
}

// TurnStore returns up to maxTurns most recent turns of a session,
// oldest first. The core only reads it.
type TurnStore interface {
	LoadRecentTurns(ctx context.Context, sessionID string, maxTurns int) ([]Turn, error)
}

// ReservedSourceIDChars may not appear in a source id. Cache keys and
// the cache's per-source index are built with these separators.
const ReservedSourceIDChars = ":,"

// ValidSourceID reports whether id is non-empty and free of reserved
// characters.
func ValidSourceID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ReservedSourceIDChars)
}

// ErrMalformedChunk is returned when the index produces a chunk the
// core cannot cite.
var ErrMalformedChunk = errors.New("retrieval: malformed chunk")

// Validate checks the fields the core depends on.
func (c RetrievedChunk) Validate() error {
	switch {
	case c.SourceID == "":
		return fmt.Errorf("%w: missing sourceId", ErrMalformedChunk)
	case !ValidSourceID(c.SourceID):
		return fmt.Errorf("%w: sourceId %q contains one of %q", ErrMalformedChunk, c.SourceID, ReservedSourceIDChars)
	case c.Text == "":
		return fmt.Errorf("%w: %s: missing text", ErrMalformedChunk, c.SourceID)
	case c.StartOffsetSeconds < 0:
		return fmt.Errorf("%w: %s: negative offset %d", ErrMalformedChunk, c.SourceID, c.StartOffsetSeconds)
	case c.Similarity < 0 || c.Similarity > 1:
		return fmt.Errorf("%w: %s: similarity %v outside [0,1]", ErrMalformedChunk, c.SourceID, c.Similarity)
	}
	return nil
}

// Validated wraps r with boundary checks, scope enforcement, and
// stable similarity ordering.
func Validated(r Retriever) Retriever {
	return validated{inner: r}
}

type validated struct {
	inner Retriever
}

func (v validated) Search(ctx context.Context, query string, scope []string) ([]RetrievedChunk, error) {
	chunks, err := v.inner.Search(ctx, query, scope)
	if err != nil {
		return nil, err
	}
	for _, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return nil, err
		}
	}
	chunks = FilterScope(chunks, scope)
	SortBySimilarity(chunks)
	return chunks, nil
}

// FilterScope drops chunks whose source is not in scope. An empty
// scope keeps everything.
func FilterScope(chunks []RetrievedChunk, scope []string) []RetrievedChunk {
	if len(scope) == 0 {
		return chunks
	}
	allowed := make(map[string]struct{}, len(scope))
	for _, id := range scope {
		allowed[id] = struct{}{}
	}
	kept := chunks[:0:0]
	for _, chunk := range chunks {
		if _, ok := allowed[chunk.SourceID]; ok {
			kept = append(kept, chunk)
		}
	}
	return kept
}

// SortBySimilarity orders chunks by descending similarity. Equal
// scores keep their retrieval order.
func SortBySimilarity(chunks []RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
}

// Static is a Retriever over a fixed chunk list. It ignores the query
// and returns a copy of every chunk; scope filtering happens in
// Validated like it would for a real index.
type Static []RetrievedChunk

// Search returns a copy of the fixed chunks.
func (s Static) Search(context.Context, string, []string) ([]RetrievedChunk, error) {
	return append([]RetrievedChunk(nil), s...), nil
}
