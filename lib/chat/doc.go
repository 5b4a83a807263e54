// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat answers a learner's question from retrieved course
// content, enforcing rate limits and recording cost.
//
// A request flows through [Service] as follows:
//
//  1. Validate the request shape.
//  2. Admit it through the two-level rate limiter.
//  3. Load recent conversation turns when the request names a session
//     instead of carrying its own history.
//  4. Retrieve ranked chunks. With no chunks the fixed fallback answer
//     is returned without calling the provider or recording cost.
//  5. Look up the response cache, keyed on the query and the top
//     chunks. A hit is returned without re-billing.
//  6. Assemble the prompt and call the completion engine, streaming or
//     not.
//  7. On success, extract citations, price the tokens, record usage,
//     and cache the result.
//
// Failures are classified into the error types in errors.go. Only
// validation, rate-limit, and provider failures reach the user; cache
// and accounting failures are logged and the request proceeds.
package chat
