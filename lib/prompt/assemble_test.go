// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

func TestAssembleRendersChunks(t *testing.T) {
	t.Parallel()

	chunks := []retrieval.RetrievedChunk{
		{SourceID: "v1", SourceTitle: "Risk 101", StartOffsetSeconds: 45, Text: "Risk is the chance of loss.", Similarity: 0.8},
		{SourceID: "v2", SourceTitle: "Position Sizing", StartOffsetSeconds: 3725, Text: "Never risk more than 2%.", Similarity: 0.9},
	}
	assembled := Assemble("  What is risk management?  ", nil, chunks, 5)

	if assembled.Fallback {
		t.Fatal("Fallback set with chunks present")
	}
	if assembled.UserTurn != "What is risk management?" {
		t.Errorf("UserTurn = %q", assembled.UserTurn)
	}
	want := "Source 1: Position Sizing @ 01:02:05\nContent: Never risk more than 2%." +
		chunkSeparator +
		"Source 2: Risk 101 @ 00:45\nContent: Risk is the chance of loss."
	if assembled.ContextBlock != want {
		t.Errorf("ContextBlock =\n%s\nwant\n%s", assembled.ContextBlock, want)
	}
	if !strings.Contains(assembled.System(), assembled.ContextBlock) {
		t.Error("System() does not include the context block")
	}
	if chunks[0].SourceID != "v1" {
		t.Error("Assemble reordered the caller's slice")
	}
}

func TestAssembleTruncatesStably(t *testing.T) {
	t.Parallel()

	var chunks []retrieval.RetrievedChunk
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		chunks = append(chunks, retrieval.RetrievedChunk{SourceID: id, SourceTitle: id, Text: id, Similarity: 0.5})
	}
	chunks[5].Similarity = 0.9

	assembled := Assemble("q", nil, chunks, 0)
	if len(assembled.Chunks) != DefaultMaxChunks {
		t.Fatalf("len(Chunks) = %d, want %d", len(assembled.Chunks), DefaultMaxChunks)
	}
	var order []string
	for _, chunk := range assembled.Chunks {
		order = append(order, chunk.SourceID)
	}
	if got := strings.Join(order, ""); got != "fabcd" {
		t.Errorf("order = %s, want fabcd", got)
	}
}

func TestAssembleEmptyUsesFallback(t *testing.T) {
	t.Parallel()

	history := []retrieval.Turn{{Role: retrieval.RoleUser, Content: "hi"}}
	assembled := Assemble("What is theta decay?", history, nil, 5)
	if !assembled.Fallback {
		t.Fatal("Fallback not set for empty chunks")
	}
	if assembled.ContextBlock != "" {
		t.Errorf("ContextBlock = %q, want empty", assembled.ContextBlock)
	}
	if assembled.SystemInstruction != fallbackInstruction {
		t.Errorf("SystemInstruction is not the fallback instruction")
	}
	if assembled.System() != fallbackInstruction {
		t.Errorf("System() = %q", assembled.System())
	}
	if len(assembled.History) != 1 {
		t.Errorf("History dropped")
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds int
		text    string
	}{
		{0, "00:00"},
		{45, "00:45"},
		{225, "03:45"},
		{3599, "59:59"},
		{3600, "01:00:00"},
		{3725, "01:02:05"},
	}
	for _, test := range tests {
		if got := FormatTimestamp(test.seconds); got != test.text {
			t.Errorf("FormatTimestamp(%d) = %q, want %q", test.seconds, got, test.text)
		}
		parsed, err := ParseTimestamp(test.text)
		if err != nil || parsed != test.seconds {
			t.Errorf("ParseTimestamp(%q) = %d, %v, want %d", test.text, parsed, err, test.seconds)
		}
	}
}

func TestParseTimestampRejects(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "45", "3:5", "3:60", "1:60:00", "a:bc", "1:2:3:4", ":30"} {
		if _, err := ParseTimestamp(text); err == nil {
			t.Errorf("ParseTimestamp(%q) succeeded, want error", text)
		}
	}
	if seconds, err := ParseTimestamp("3:45"); err != nil || seconds != 225 {
		t.Errorf("ParseTimestamp(3:45) = %d, %v", seconds, err)
	}
}
