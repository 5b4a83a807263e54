// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/chatcore/lib/retrieval"
)

// DefaultMaxChunks is the number of chunks placed in the context
// block when the caller does not say otherwise.
const DefaultMaxChunks = 5

// chunkSeparator sits between rendered chunks in the context block.
const chunkSeparator = "\n\n---\n\n"

const systemInstruction = `You are a teaching assistant for an online course. Answer the learner's question using only the course excerpts provided below.

Rules:
- If the excerpts do not contain the answer, say so plainly instead of guessing.
- Cite every excerpt you rely on with a marker of the form [Title @ MM:SS], using the title and timestamp shown for that excerpt.
- Keep answers concise and practical. Prefer short paragraphs or lists.`

const fallbackInstruction = `You are a teaching assistant for an online course. No course material relevant to the learner's question was found. Tell the learner that the course content does not appear to cover this topic and suggest rephrasing the question or asking about a topic from the course.`

// FallbackAnswer is returned to the learner when retrieval found
// nothing, without calling the provider.
const FallbackAnswer = "I couldn't find anything in the course material that covers this question. Try rephrasing it, or ask about a specific lesson or topic from the course."

// AssembledPrompt is everything the completion provider needs for one
// turn. It is built per request and never persisted.
type AssembledPrompt struct {
	SystemInstruction string
	ContextBlock      string
	UserTurn          string

	// History is the bounded window of prior turns, oldest first,
	// sent ahead of UserTurn.
	History []retrieval.Turn

	// Chunks are the chunks rendered into ContextBlock, in rendering
	// order. Citation extraction resolves markers against these.
	Chunks []retrieval.RetrievedChunk

	// Fallback is true when no chunks were available. The context
	// block is empty and SystemInstruction is the fallback text.
	Fallback bool
}

// System returns the instruction and context block joined into the
// single system message sent to the provider.
func (p AssembledPrompt) System() string {
	if p.ContextBlock == "" {
		return p.SystemInstruction
	}
	return p.SystemInstruction + "\n\nCourse excerpts:\n\n" + p.ContextBlock
}

// Assemble builds the prompt for query. At most maxChunks chunks are
// used (DefaultMaxChunks when maxChunks <= 0), chosen by similarity
// with ties kept in retrieval order. The input slice is not modified.
func Assemble(query string, history []retrieval.Turn, chunks []retrieval.RetrievedChunk, maxChunks int) AssembledPrompt {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	assembled := AssembledPrompt{
		UserTurn: strings.TrimSpace(query),
		History:  history,
	}

	if len(chunks) == 0 {
		assembled.SystemInstruction = fallbackInstruction
		assembled.Fallback = true
		return assembled
	}

	selected := TopChunks(chunks, maxChunks)
	rendered := make([]string, len(selected))
	for i, chunk := range selected {
		rendered[i] = renderChunk(i+1, chunk)
	}

	assembled.SystemInstruction = systemInstruction
	assembled.ContextBlock = strings.Join(rendered, chunkSeparator)
	assembled.Chunks = selected
	return assembled
}

// TopChunks returns the n highest-similarity chunks, stable with
// respect to the input order. The result is a new slice.
func TopChunks(chunks []retrieval.RetrievedChunk, n int) []retrieval.RetrievedChunk {
	sorted := append([]retrieval.RetrievedChunk(nil), chunks...)
	retrieval.SortBySimilarity(sorted)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func renderChunk(index int, chunk retrieval.RetrievedChunk) string {
	title := chunk.SourceTitle
	if title == "" {
		title = chunk.SourceID
	}
	return fmt.Sprintf("Source %d: %s @ %s\nContent: %s",
		index, title, FormatTimestamp(chunk.StartOffsetSeconds), chunk.Text)
}
