// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

// Citation points from generated text back to the chunk it used.
type Citation struct {
	SourceID      string `json:"sourceId"`
	SourceTitle   string `json:"sourceTitle"`
	OffsetSeconds int    `json:"offsetSeconds"`
	Snippet       string `json:"snippet"`
}

// snippetLength caps Citation.Snippet, in runes.
const snippetLength = 160

// citationMarker matches "[Title @ 3:45]" and "[Title @ 1:02:03]".
// The title may not contain brackets or '@'.
var citationMarker = regexp.MustCompile(`\[\s*([^\[\]@]+?)\s*@\s*(\d{1,2}(?::\d{2}){1,2})\s*\]`)

// ExtractCitations resolves the "[Title @ timestamp]" markers in text
// against chunks. A marker matches a chunk when either title contains
// the other, ignoring case; among several matches the chunk with the
// nearest offset wins. Markers that match no chunk, or whose timestamp
// does not parse, are dropped. Repeated markers for the same source
// and offset yield one citation. Order follows first appearance.
func ExtractCitations(text string, chunks []retrieval.RetrievedChunk) []Citation {
	if len(chunks) == 0 {
		return nil
	}

	type citationKey struct {
		sourceID string
		offset   int
	}
	seen := make(map[citationKey]struct{})
	var citations []Citation

	for _, match := range citationMarker.FindAllStringSubmatch(text, -1) {
		title := strings.ToLower(strings.TrimSpace(match[1]))
		offset, err := ParseTimestamp(match[2])
		if err != nil || title == "" {
			continue
		}

		chunk, ok := matchChunk(title, offset, chunks)
		if !ok {
			continue
		}
		key := citationKey{sourceID: chunk.SourceID, offset: offset}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}

		citations = append(citations, Citation{
			SourceID:      chunk.SourceID,
			SourceTitle:   chunk.SourceTitle,
			OffsetSeconds: offset,
			Snippet:       snippet(chunk.Text),
		})
	}
	return citations
}

func matchChunk(lowerTitle string, offset int, chunks []retrieval.RetrievedChunk) (retrieval.RetrievedChunk, bool) {
	var best retrieval.RetrievedChunk
	bestDistance := -1
	for _, chunk := range chunks {
		chunkTitle := strings.ToLower(chunk.SourceTitle)
		if chunkTitle == "" {
			continue
		}
		if !strings.Contains(chunkTitle, lowerTitle) && !strings.Contains(lowerTitle, chunkTitle) {
			continue
		}
		distance := chunk.StartOffsetSeconds - offset
		if distance < 0 {
			distance = -distance
		}
		if bestDistance < 0 || distance < bestDistance {
			best = chunk
			bestDistance = distance
		}
	}
	return best, bestDistance >= 0
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:snippetLength])) + "…"
}
