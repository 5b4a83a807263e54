// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieval defines the chat core's collaborator boundary: the
// content index that returns ranked transcript chunks for a query
// ([Retriever]) and the conversation store that returns recent turns
// for a session ([TurnStore]).
//
// The core never generates embeddings. It consumes whatever the index
// returns, but not blindly: [Validated] wraps any Retriever so that a
// chunk missing its source id or text fails the request immediately
// rather than producing an uncitable prompt, scope filtering is
// enforced even when the index ignores it, and results are ordered by
// similarity with ties kept in index order.
package retrieval
