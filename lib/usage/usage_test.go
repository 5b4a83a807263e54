// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/sqlitepool"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

var epoch = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "usage.db"),
		PoolSize: 4,
		Schema:   Schema,
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": NewSQLite(pool),
	}
}

func newTracker(t *testing.T, store Store, fakeClock *clock.FakeClock) *Tracker {
	t.Helper()
	tracker, err := New(Config{Store: store, Registry: model.Default(), Clock: fakeClock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tracker
}

func approximately(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTrackAccumulatesDailyRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range stores(t) {
		tracker := newTracker(t, store, clock.Fake(epoch))
		tracker.Track(ctx, "acme", 1_000_000, 0, "gpt-4o")
		tracker.Track(ctx, "acme", 0, 100_000, "gpt-4o")
		tracker.Track(ctx, "other", 10, 10, "gpt-4o")

		record, err := tracker.DailyUsage(ctx, "acme", "")
		if err != nil {
			t.Fatalf("%s: DailyUsage: %v", name, err)
		}
		if record.Date != "20260314" || record.MessageCount != 2 {
			t.Errorf("%s: record = %+v", name, record)
		}
		if record.InputTokens != 1_000_000 || record.OutputTokens != 100_000 {
			t.Errorf("%s: tokens = %d/%d", name, record.InputTokens, record.OutputTokens)
		}
		// 2.50 for the input million, 1.00 for 100k output at 10/M.
		if !approximately(record.CostUSD, 3.50) {
			t.Errorf("%s: cost = %v, want 3.50", name, record.CostUSD)
		}
	}
}

func TestTrackUnknownModelRecordsZeroCost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := newTracker(t, NewMemory(), clock.Fake(epoch))

	tracker.Track(ctx, "acme", 500, 500, "no-such-model")

	record, _ := tracker.DailyUsage(ctx, "acme", "")
	if record.MessageCount != 1 || record.CostUSD != 0 {
		t.Errorf("record = %+v", record)
	}
}

type failingStore struct{ *Memory }

func (failingStore) Add(context.Context, Record) error { return errors.New("disk full") }

func TestTrackSwallowsStoreFailure(t *testing.T) {
	t.Parallel()
	tracker := newTracker(t, failingStore{Memory: NewMemory()}, clock.Fake(epoch))
	// Must not panic or block.
	tracker.Track(context.Background(), "acme", 1, 1, "gpt-4o")
}

func TestTrackConcurrentIsAdditive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range stores(t) {
		tracker := newTracker(t, store, clock.Fake(epoch))
		var waitGroup sync.WaitGroup
		for range 20 {
			waitGroup.Add(1)
			go func() {
				defer waitGroup.Done()
				tracker.Track(ctx, "acme", 10, 5, "gpt-4o-mini")
			}()
		}
		waitGroup.Wait()

		record, err := tracker.DailyUsage(ctx, "acme", "")
		if err != nil {
			t.Fatalf("%s: DailyUsage: %v", name, err)
		}
		if record.MessageCount != 20 || record.InputTokens != 200 || record.OutputTokens != 100 {
			t.Errorf("%s: record = %+v", name, record)
		}
	}
}

func TestMonthlyUsageAggregatesDays(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range stores(t) {
		fakeClock := clock.Fake(epoch)
		tracker := newTracker(t, store, fakeClock)

		seed := []Record{
			{TenantID: "acme", Date: "20260228", MessageCount: 9, CostUSD: 9},
			{TenantID: "acme", Date: "20260301", MessageCount: 1, InputTokens: 100, CostUSD: 0.5},
			{TenantID: "acme", Date: "20260331", MessageCount: 2, OutputTokens: 40, CostUSD: 0.25},
			{TenantID: "acme", Date: "20260401", MessageCount: 7, CostUSD: 7},
			{TenantID: "other", Date: "20260310", MessageCount: 3, CostUSD: 3},
		}
		for _, record := range seed {
			if err := store.Add(ctx, record); err != nil {
				t.Fatalf("%s: Add: %v", name, err)
			}
		}

		summary, err := tracker.MonthlyUsage(ctx, "acme", "2026-03")
		if err != nil {
			t.Fatalf("%s: MonthlyUsage: %v", name, err)
		}
		if summary.MessageCount != 3 || summary.InputTokens != 100 || summary.OutputTokens != 40 {
			t.Errorf("%s: summary = %+v", name, summary)
		}
		if !approximately(summary.CostUSD, 0.75) {
			t.Errorf("%s: cost = %v, want 0.75", name, summary.CostUSD)
		}
		if len(summary.Days) != 2 || summary.Days[0].Date != "20260301" {
			t.Errorf("%s: days = %+v", name, summary.Days)
		}

		// Default month follows the clock.
		current, err := tracker.MonthlyUsage(ctx, "acme", "")
		if err != nil || current.Month != "2026-03" {
			t.Errorf("%s: current month = %q, %v", name, current.Month, err)
		}

		february, _ := tracker.MonthlyUsage(ctx, "acme", "2026-02")
		if february.MessageCount != 9 {
			t.Errorf("%s: february = %+v", name, february)
		}
	}
}

func TestMonthlyUsageRejectsBadMonth(t *testing.T) {
	t.Parallel()
	tracker := newTracker(t, NewMemory(), clock.Fake(epoch))
	for _, month := range []string{"2026-13", "202603", "March"} {
		if _, err := tracker.MonthlyUsage(context.Background(), "acme", month); err == nil {
			t.Errorf("MonthlyUsage(%q) succeeded", month)
		}
	}
}

func TestCheckTierLimits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		plan     tier.Tier
		messages int64
		cost     float64
		level    WarningLevel
		within   bool
	}{
		{"idle", tier.Basic, 0, 0, LevelNone, true},
		{"below warning", tier.Basic, 749, 0, LevelNone, true},
		{"warning", tier.Basic, 750, 0, LevelWarning, true},
		{"critical", tier.Basic, 900, 0, LevelCritical, true},
		{"exceeded at limit", tier.Basic, 1000, 0, LevelExceeded, false},
		{"cost drives level", tier.Basic, 10, 9.5, LevelCritical, true},
		{"cost exceeded", tier.Pro, 10, 100, LevelExceeded, false},
		{"pro warning", tier.Pro, 8000, 0, LevelWarning, true},
		{"enterprise never limited", tier.Enterprise, 10_000_000, 1e6, LevelNone, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := NewMemory()
			tracker := newTracker(t, store, clock.Fake(epoch))
			if test.messages > 0 || test.cost > 0 {
				store.Add(ctx, Record{
					TenantID: "acme", Date: "20260305",
					MessageCount: test.messages, CostUSD: test.cost,
				})
			}

			status, err := tracker.CheckTierLimits(ctx, "acme", test.plan)
			if err != nil {
				t.Fatalf("CheckTierLimits: %v", err)
			}
			if status.WarningLevel != test.level || status.WithinLimits != test.within {
				t.Errorf("status = %+v, want level %s within %v", status, test.level, test.within)
			}
		})
	}
}

func TestCheckTierLimitsScenarioBasicAtAllowance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tracker := newTracker(t, NewMemory(), clock.Fake(epoch))
	for range 1000 {
		tracker.Track(ctx, "school", 0, 0, "gpt-4o-mini")
	}

	status, err := tracker.CheckTierLimits(ctx, "school", tier.Basic)
	if err != nil {
		t.Fatalf("CheckTierLimits: %v", err)
	}
	if status.WithinLimits || status.WarningLevel != LevelExceeded {
		t.Errorf("status = %+v, want exceeded", status)
	}
	if status.MessagesUsed != 1000 || status.MessageLimit != 1000 || status.PercentUsed != 100 {
		t.Errorf("status = %+v", status)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, store := range stores(t) {
		fakeClock := clock.Fake(epoch)
		tracker := newTracker(t, store, fakeClock)
		tracker.Track(ctx, "acme", 1, 1, "gpt-4o")
		fakeClock.Advance(24 * time.Hour)
		tracker.Track(ctx, "acme", 1, 1, "gpt-4o")
		tracker.Track(ctx, "other", 1, 1, "gpt-4o")

		removed, err := tracker.Reset(ctx, "acme", "20260314")
		if err != nil || removed != 1 {
			t.Fatalf("%s: Reset day = %d, %v", name, removed, err)
		}
		if record, _ := tracker.DailyUsage(ctx, "acme", "20260314"); record.MessageCount != 0 {
			t.Errorf("%s: day not reset: %+v", name, record)
		}
		if record, _ := tracker.DailyUsage(ctx, "acme", "20260315"); record.MessageCount != 1 {
			t.Errorf("%s: other day affected: %+v", name, record)
		}

		removed, err = tracker.Reset(ctx, "acme", "")
		if err != nil || removed != 1 {
			t.Errorf("%s: Reset all = %d, %v", name, removed, err)
		}
		if record, _ := tracker.DailyUsage(ctx, "other", "20260315"); record.MessageCount != 1 {
			t.Errorf("%s: other tenant affected: %+v", name, record)
		}

		if _, err := tracker.Reset(ctx, "acme", "2026-03-14"); err == nil {
			t.Errorf("%s: Reset with bad date succeeded", name)
		}
	}
}
