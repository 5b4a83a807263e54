// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt builds the provider-facing prompt for a chat turn
// and parses citations back out of the generated answer.
//
// [Assemble] selects the highest-similarity chunks, renders them as a
// numbered context block, and pairs that with a system instruction
// telling the model to cite sources as "[Title @ MM:SS]". When no
// chunks were retrieved the context block is empty and the
// instruction is replaced by a fixed fallback; callers are expected
// to answer with [FallbackAnswer] without calling the provider.
//
// [ExtractCitations] is the inverse: it scans generated text for
// bracketed markers and resolves each one against the chunks that
// were placed in the prompt.
//
// Token-level truncation is not done here. Keeping the assembled text
// within the model's context window is the caller's responsibility.
package prompt
