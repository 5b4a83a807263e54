// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that retry
// backoff, keep-alive pings, stream deadlines, rate-limit windows, and
// cache expiry can be tested without sleeping.
//
// Production code holds a [Clock] field and is constructed with
// [Real]. Tests construct a [FakeClock] with [Fake], start the code
// under test, call [FakeClock.WaitForTimers] until the goroutine has
// parked on a timer, and then [FakeClock.Advance] past the deadline:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
//	engine := completion.New(completion.Config{Clock: fake, ...})
//	go engine.Complete(ctx, prompt)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
//
// Waiting for the timer before advancing removes the race between the
// goroutine registering its deadline and the test moving time forward.
package clock
