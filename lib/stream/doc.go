// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream turns a completion event channel into a Server-Sent
// Events response.
//
// Every frame has the form
//
//	event: <content|done|error|ping>
//	data: <JSON>
//
// followed by a blank line, and is flushed as soon as it is written.
// A [Multiplexer] merges three inputs into one ordered frame sequence:
// completion events, a periodic ping ticker, and an optional overall
// timeout. It writes exactly one terminal frame (done or error) unless
// the client has gone away, and it always cancels the upstream provider
// call when it stops early.
//
// The multiplexer reads one event at a time from a bounded channel, so
// a slow client blocks the provider read loop instead of growing a
// buffer.
package stream
