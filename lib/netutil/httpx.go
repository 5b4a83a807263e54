// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small HTTP helpers shared by the chat core's
// collaborator clients and its SSE writer.
//
// Response helpers bound every body read at MaxResponseSize so a
// misbehaving retrieval index cannot exhaust memory. They are for JSON
// responses only; provider token streams are read incrementally by
// lib/llm's SSE scanner.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON response reads: 16 MB. A search response
// carrying a handful of transcript chunks is a few kilobytes.
const MaxResponseSize int64 = 16 << 20

// DecodeResponse reads a JSON body (up to MaxResponseSize bytes) into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for a diagnostic message,
// capped at 4 KB. Read errors are ignored; a partial body is still
// useful in a log line.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}
