// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"testing"

	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

func TestExtractCitationsSingleMarker(t *testing.T) {
	t.Parallel()

	chunks := []retrieval.RetrievedChunk{
		{SourceID: "v7", SourceTitle: "Intro to Trading", StartOffsetSeconds: 225, Text: "A trade has an entry and an exit."},
	}
	citations := ExtractCitations("Markets move... as shown in [Intro to Trading @ 3:45], entries matter.", chunks)
	if len(citations) != 1 {
		t.Fatalf("citations = %+v, want 1", citations)
	}
	got := citations[0]
	if got.SourceID != "v7" || got.OffsetSeconds != 225 || got.SourceTitle != "Intro to Trading" {
		t.Errorf("citation = %+v", got)
	}
	if got.Snippet != "A trade has an entry and an exit." {
		t.Errorf("Snippet = %q", got.Snippet)
	}
}

func TestExtractCitationsMatching(t *testing.T) {
	t.Parallel()

	chunks := []retrieval.RetrievedChunk{
		{SourceID: "v1", SourceTitle: "Options Basics", StartOffsetSeconds: 60, Text: "calls"},
		{SourceID: "v1", SourceTitle: "Options Basics", StartOffsetSeconds: 600, Text: "puts"},
		{SourceID: "v2", SourceTitle: "Risk Management Masterclass", StartOffsetSeconds: 30, Text: "stops"},
	}
	text := "See [options basics @ 10:05] and [Risk Management @ 0:30]. " +
		"Again [Options Basics @ 10:05]. Unknown [Crypto 101 @ 1:00]. Bad [Options Basics @ 1:75]."

	citations := ExtractCitations(text, chunks)
	if len(citations) != 2 {
		t.Fatalf("citations = %+v, want 2", citations)
	}
	if citations[0].SourceID != "v1" || citations[0].OffsetSeconds != 605 || citations[0].Snippet != "puts" {
		t.Errorf("first citation = %+v, want v1 nearest 600s chunk", citations[0])
	}
	if citations[1].SourceID != "v2" || citations[1].OffsetSeconds != 30 {
		t.Errorf("second citation = %+v", citations[1])
	}
}

func TestExtractCitationsNone(t *testing.T) {
	t.Parallel()

	if got := ExtractCitations("[Intro @ 1:00]", nil); got != nil {
		t.Errorf("no chunks: got %+v", got)
	}
	chunks := []retrieval.RetrievedChunk{{SourceID: "v1", SourceTitle: "Intro", Text: "x"}}
	if got := ExtractCitations("no markers here", chunks); len(got) != 0 {
		t.Errorf("no markers: got %+v", got)
	}
}
