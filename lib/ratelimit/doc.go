// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit admits or rejects chat requests against two tiers
// of sliding-window limits: per end-user (per minute and per hour)
// and per tenant (per day, by plan).
//
// Each window is a sliding-window counter: the count in the current
// fixed bucket plus the previous bucket's count weighted by how much
// of it still overlaps the trailing window. Admission increments the
// current bucket with a single atomic [kvstore.Store.IncrBy] and
// decides on the value that call returns, so two concurrent requests
// can never both observe room for one more. A request rejected by any
// window rolls back every increment it made, so denied traffic does
// not consume quota.
//
// When the counter store fails, the limiter fails open by default:
// the request is admitted and a warning is logged. Rate limiting here
// guards cost, not secrets. Config.FailClosed reverses that.
package ratelimit
