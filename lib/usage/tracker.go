// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

// WarningLevel grades how close a tenant is to its monthly allowance.
type WarningLevel string

const (
	LevelNone     WarningLevel = "none"
	LevelWarning  WarningLevel = "warning"
	LevelCritical WarningLevel = "critical"
	LevelExceeded WarningLevel = "exceeded"
)

// Thresholds, in percent of the allowance.
const (
	WarningPercent  = 75
	CriticalPercent = 90
)

// MonthlySummary aggregates one tenant's records for a month.
type MonthlySummary struct {
	TenantID     string   `json:"tenantId"`
	Month        string   `json:"month"`
	MessageCount int64    `json:"messageCount"`
	InputTokens  int64    `json:"inputTokens"`
	OutputTokens int64    `json:"outputTokens"`
	CostUSD      float64  `json:"costUsd"`
	Days         []Record `json:"days"`
}

// LimitStatus is the result of CheckTierLimits. Limits of -1 are
// unlimited.
type LimitStatus struct {
	TenantID     string       `json:"tenantId"`
	Tier         tier.Tier    `json:"tier"`
	Month        string       `json:"month"`
	WithinLimits bool         `json:"withinLimits"`
	WarningLevel WarningLevel `json:"warningLevel"`
	PercentUsed  float64      `json:"percentUsed"`
	MessagesUsed int64        `json:"messagesUsed"`
	MessageLimit int64        `json:"messageLimit"`
	CostUsedUSD  float64      `json:"costUsedUsd"`
	CostLimitUSD float64      `json:"costLimitUsd"`
}

// Config holds the parameters for a Tracker.
type Config struct {
	Store    Store
	Registry *model.Registry

	// Tiers defaults to tier.Defaults().
	Tiers tier.Table

	Clock  clock.Clock
	Logger *slog.Logger
}

// Tracker records and reports usage.
type Tracker struct {
	store    Store
	registry *model.Registry
	tiers    tier.Table
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a Tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errors.New("usage: Store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("usage: Registry is required")
	}
	tracker := &Tracker{
		store:    cfg.Store,
		registry: cfg.Registry,
		tiers:    cfg.Tiers,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
	if tracker.tiers == nil {
		tracker.tiers = tier.Defaults()
	}
	if tracker.clock == nil {
		tracker.clock = clock.Real()
	}
	if tracker.logger == nil {
		tracker.logger = slog.New(slog.DiscardHandler)
	}
	return tracker, nil
}

// Today returns the current UTC date in DateLayout.
func (t *Tracker) Today() string {
	return t.clock.Now().UTC().Format(DateLayout)
}

// CurrentMonth returns the current UTC month in MonthLayout.
func (t *Tracker) CurrentMonth() string {
	return t.clock.Now().UTC().Format(MonthLayout)
}

// Track adds one message and its tokens to today's record for the
// tenant. Failures are logged, never returned. An unknown model id is
// recorded with zero cost.
func (t *Tracker) Track(ctx context.Context, tenantID string, inputTokens, outputTokens int64, modelID string) {
	cost, err := t.registry.Cost(inputTokens, outputTokens, modelID)
	if err != nil {
		t.logger.Warn("pricing unknown model, recording zero cost",
			"tenant_id", tenantID,
			"model", modelID,
			"error", err,
		)
		cost = 0
	}

	delta := Record{
		TenantID:     tenantID,
		Date:         t.Today(),
		MessageCount: 1,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}
	if err := t.store.Add(ctx, delta); err != nil {
		t.logger.Warn("usage tracking failed",
			"tenant_id", tenantID,
			"model", modelID,
			"input_tokens", inputTokens,
			"output_tokens", outputTokens,
			"error", err,
		)
	}
}

// DailyUsage returns the tenant's record for date, which defaults to
// today. A day with no usage returns a zero record.
func (t *Tracker) DailyUsage(ctx context.Context, tenantID, date string) (Record, error) {
	if date == "" {
		date = t.Today()
	}
	if err := ValidateDate(date); err != nil {
		return Record{}, err
	}
	records, err := t.store.Range(ctx, tenantID, date, date)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{TenantID: tenantID, Date: date}, nil
	}
	return records[0], nil
}

// MonthlyUsage aggregates the tenant's records for month (YYYY-MM),
// which defaults to the current month.
func (t *Tracker) MonthlyUsage(ctx context.Context, tenantID, month string) (MonthlySummary, error) {
	if month == "" {
		month = t.CurrentMonth()
	}
	from, to, err := monthBounds(month)
	if err != nil {
		return MonthlySummary{}, err
	}
	records, err := t.store.Range(ctx, tenantID, from, to)
	if err != nil {
		return MonthlySummary{}, err
	}

	summary := MonthlySummary{TenantID: tenantID, Month: month, Days: records}
	if summary.Days == nil {
		summary.Days = []Record{}
	}
	for _, record := range records {
		summary.MessageCount += record.MessageCount
		summary.InputTokens += record.InputTokens
		summary.OutputTokens += record.OutputTokens
		summary.CostUSD += record.CostUSD
	}
	return summary, nil
}

// CheckTierLimits compares the tenant's current-month usage with the
// tier's allowances. The percentage is the larger of messages used and
// cost used. Enterprise is always within limits.
func (t *Tracker) CheckTierLimits(ctx context.Context, tenantID string, plan tier.Tier) (LimitStatus, error) {
	limits := t.tiers.Lookup(plan)
	summary, err := t.MonthlyUsage(ctx, tenantID, "")
	if err != nil {
		return LimitStatus{}, fmt.Errorf("usage: checking %s limits: %w", plan, err)
	}

	status := LimitStatus{
		TenantID:     tenantID,
		Tier:         plan,
		Month:        summary.Month,
		WithinLimits: true,
		WarningLevel: LevelNone,
		MessagesUsed: summary.MessageCount,
		MessageLimit: limits.MonthlyMessages,
		CostUsedUSD:  summary.CostUSD,
		CostLimitUSD: limits.MonthlyCostLimitUSD,
	}
	if plan == tier.Enterprise {
		return status, nil
	}

	if !limits.UnlimitedMessages() && limits.MonthlyMessages > 0 {
		status.PercentUsed = max(status.PercentUsed,
			float64(summary.MessageCount)/float64(limits.MonthlyMessages)*100)
	}
	if !limits.UnlimitedCost() && limits.MonthlyCostLimitUSD > 0 {
		status.PercentUsed = max(status.PercentUsed,
			summary.CostUSD/limits.MonthlyCostLimitUSD*100)
	}

	switch {
	case status.PercentUsed >= 100:
		status.WarningLevel = LevelExceeded
		status.WithinLimits = false
	case status.PercentUsed >= CriticalPercent:
		status.WarningLevel = LevelCritical
	case status.PercentUsed >= WarningPercent:
		status.WarningLevel = LevelWarning
	}
	return status, nil
}

// Reset deletes the tenant's record for date, or all of the tenant's
// records when date is empty.
func (t *Tracker) Reset(ctx context.Context, tenantID, date string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: reset requires a tenant id", ErrInvalidArgument)
	}
	if date != "" {
		if err := ValidateDate(date); err != nil {
			return 0, err
		}
	}
	removed, err := t.store.Delete(ctx, tenantID, date)
	if err != nil {
		return 0, err
	}
	t.logger.Info("usage reset", "tenant_id", tenantID, "date", date, "rows", removed)
	return removed, nil
}
