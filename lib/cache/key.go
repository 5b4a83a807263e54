// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/bureau-foundation/chatcore/lib/prompt"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

// FingerprintChunks is how many top-ranked chunks contribute to a
// key.
const FingerprintChunks = 3

// DefaultKeyWidth is the number of hex characters kept from the
// SHA-256 digest.
const DefaultKeyWidth = 32

// Key widths outside [MinKeyWidth, MaxKeyWidth] are clamped.
const (
	MinKeyWidth = 8
	MaxKeyWidth = sha256.Size * 2
)

// NormalizeQuery lowercases and trims query text.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key derives the cache key for query and chunks. The top three
// chunks by similarity are reduced to "sourceId:offset" strings and
// sorted, so the key does not depend on the order they arrived in.
// width is clamped to [MinKeyWidth, MaxKeyWidth].
func Key(query string, chunks []retrieval.RetrievedChunk, width int) string {
	if width <= 0 {
		width = DefaultKeyWidth
	}
	width = min(max(width, MinKeyWidth), MaxKeyWidth)

	fingerprint := chunkFingerprint(chunks)
	digest := sha256.Sum256([]byte(NormalizeQuery(query) + "::" + fingerprint))
	return hex.EncodeToString(digest[:])[:width]
}

func chunkFingerprint(chunks []retrieval.RetrievedChunk) string {
	top := prompt.TopChunks(chunks, FingerprintChunks)
	parts := make([]string, len(top))
	for i, chunk := range top {
		parts[i] = chunk.SourceID + ":" + strconv.Itoa(chunk.StartOffsetSeconds)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// sourceIDs returns the distinct sources of the fingerprinted chunks.
func sourceIDs(chunks []retrieval.RetrievedChunk) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, chunk := range prompt.TopChunks(chunks, FingerprintChunks) {
		if _, ok := seen[chunk.SourceID]; ok {
			continue
		}
		seen[chunk.SourceID] = struct{}{}
		ids = append(ids, chunk.SourceID)
	}
	sort.Strings(ids)
	return ids
}
