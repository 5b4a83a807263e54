// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package completion calls the generation provider with bounded retry
// and exposes streaming output as a channel.
//
// Each request moves through the states
//
//	prepared → attempting(n) → streaming | failed(n) → done | error | cancelled
//
// and every transition is logged at Debug.
//
// [Engine.Complete] makes up to MaxAttempts calls, sleeping the
// configured backoff between them on the injected clock. Credential
// and permission failures are returned immediately; every other
// failure is retried and, once attempts run out, returned as an
// [*ExhaustedError] wrapping the last underlying error.
//
// [Engine.Stream] applies the same policy to establishing the stream.
// Once any content has been delivered the stream is never retried,
// since the caller has already shown it to the user. The returned
// channel carries [EventContent] values followed by exactly one
// terminal event, [EventDone] or [EventError], and is then closed.
// The channel is bounded: if the reader falls behind, the provider
// read loop blocks rather than buffering.
package completion
