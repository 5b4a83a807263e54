// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

// pendingTimer is a registered After or ticker deadline.
type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time

	// period is non-zero for tickers; the timer is re-armed at
	// deadline+period after each fire.
	period  time.Duration
	stopped bool
}

// Now returns the fake time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a one-shot timer.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- f.now
		return channel
	}
	f.addLocked(&pendingTimer{deadline: f.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic timer.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	timer := &pendingTimer{
		deadline: f.now.Add(d),
		channel:  make(chan time.Time, 1),
		period:   d,
	}
	f.addLocked(timer)

	return &Ticker{
		C: timer.channel,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			timer.stopped = true
			f.changed.Broadcast()
		},
	}
}

func (f *FakeClock) addLocked(timer *pendingTimer) {
	f.pending = append(f.pending, timer)
	f.changed.Broadcast()
}

// Advance moves time forward by d and fires every timer whose
// deadline is reached, in deadline order. Sends never block: a ticker
// whose buffered tick has not been read drops the new one.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now

	var due []*pendingTimer
	var keep []*pendingTimer
	for _, timer := range f.pending {
		if timer.stopped {
			continue
		}
		if timer.deadline.After(target) {
			keep = append(keep, timer)
			continue
		}
		due = append(due, timer)
		if timer.period > 0 {
			for !timer.deadline.After(target) {
				timer.deadline = timer.deadline.Add(timer.period)
			}
			keep = append(keep, timer)
		}
	}
	f.pending = keep
	f.changed.Broadcast()
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		select {
		case timer.channel <- target:
		default:
		}
	}
}

// WaitForTimers blocks until at least n timers are pending.
func (f *FakeClock) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.activeLocked() < n {
		f.changed.Wait()
	}
}

// PendingCount returns the number of active timers.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLocked()
}

func (f *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range f.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
