// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm is a provider-agnostic client for text-completion APIs.
//
// [Provider] supports a blocking completion and a streaming one.
// Implementations translate between the small set of types here and
// each vendor's wire format:
//   - [OpenAI]: the Chat Completions API (/v1/chat/completions) and
//     compatible servers
//   - [Anthropic]: the Messages API (/v1/messages)
//
// Streaming responses are Server-Sent Events, parsed by [SSEScanner]
// and exposed as an [EventStream] that yields text deltas while
// accumulating the full [Response].
//
// Non-200 responses become a [*ProviderError] carrying the HTTP status
// so callers can tell credential problems from transient failures.
package llm
