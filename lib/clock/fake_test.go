// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	channel := fake.After(2 * time.Second)

	fake.Advance(time.Second)
	select {
	case <-channel:
		t.Fatal("timer fired early")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-channel:
		if !fired.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(2*time.Second))
		}
	default:
		t.Fatal("timer did not fire")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", fake.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
}

func TestFakeTickerReArms(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	ticker := fake.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for i := range 3 {
		fake.Advance(30 * time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
	if fake.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", fake.PendingCount())
	}

	ticker.Stop()
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount after Stop = %d, want 0", fake.PendingCount())
	}
}

func TestWaitForTimers(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		Sleep(fake, time.Minute, nil)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)
	<-done
}

func TestSleepCancelled(t *testing.T) {
	t.Parallel()

	fake := Fake(epoch)
	cancel := make(chan struct{})
	close(cancel)
	if Sleep(fake, time.Hour, cancel) {
		t.Error("Sleep returned true after cancellation")
	}
}
