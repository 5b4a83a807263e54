// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"

	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

func TestKeyStable(t *testing.T) {
	t.Parallel()

	chunks := []retrieval.RetrievedChunk{
		{SourceID: "v1", StartOffsetSeconds: 45, Similarity: 0.9},
		{SourceID: "v2", StartOffsetSeconds: 10, Similarity: 0.8},
		{SourceID: "v3", StartOffsetSeconds: 99, Similarity: 0.7},
		{SourceID: "v4", StartOffsetSeconds: 5, Similarity: 0.1},
	}
	shuffled := []retrieval.RetrievedChunk{chunks[2], chunks[3], chunks[0], chunks[1]}

	first := Key("What is risk management?", chunks, 0)
	second := Key("  what is RISK management?\n", shuffled, 0)
	if first != second {
		t.Errorf("keys differ for equivalent input: %s vs %s", first, second)
	}
	if len(first) != DefaultKeyWidth {
		t.Errorf("key width = %d, want %d", len(first), DefaultKeyWidth)
	}

	// A change outside the top three does not affect the key.
	tail := append([]retrieval.RetrievedChunk(nil), chunks...)
	tail[3].StartOffsetSeconds = 500
	if Key("What is risk management?", tail, 0) != first {
		t.Error("fourth-ranked chunk changed the key")
	}
}

func TestKeyDiffers(t *testing.T) {
	t.Parallel()

	base := []retrieval.RetrievedChunk{
		{SourceID: "v1", StartOffsetSeconds: 45, Similarity: 0.9},
		{SourceID: "v2", StartOffsetSeconds: 10, Similarity: 0.8},
	}
	baseKey := Key("q", base, 0)

	offset := append([]retrieval.RetrievedChunk(nil), base...)
	offset[1].StartOffsetSeconds = 11
	source := append([]retrieval.RetrievedChunk(nil), base...)
	source[0].SourceID = "v9"

	for name, key := range map[string]string{
		"offset": Key("q", offset, 0),
		"source": Key("q", source, 0),
		"query":  Key("q2", base, 0),
		"empty":  Key("q", nil, 0),
	} {
		if key == baseKey {
			t.Errorf("%s change did not change the key", name)
		}
	}
}

func TestKeyWidth(t *testing.T) {
	t.Parallel()

	if got := len(Key("q", nil, 16)); got != 16 {
		t.Errorf("width 16: len = %d", got)
	}
	if got := len(Key("q", nil, 2)); got != 8 {
		t.Errorf("width 2: len = %d, want clamp to 8", got)
	}
	if got := len(Key("q", nil, 200)); got != 64 {
		t.Errorf("width 200: len = %d, want clamp to 64", got)
	}
}
