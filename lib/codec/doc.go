// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the chat core's CBOR configuration.
//
// JSON is the external format: HTTP request and response bodies, SSE
// frame payloads, CLI --json output. CBOR is the internal format for
// values parked in the shared store (response cache entries and the
// cache's per-source index), where compactness matters and the reader
// is always this codebase.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same cache entry always produces the same bytes. Types that are only
// ever stored carry `cbor` struct tags; types that also travel over
// HTTP carry `json` tags, which fxamacker/cbor reads as a fallback.
// Never put both tags on one field.
package codec
