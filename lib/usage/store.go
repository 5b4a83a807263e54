// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the layout of Record.Date.
const DateLayout = "20060102"

// MonthLayout is the layout of month arguments.
const MonthLayout = "2006-01"

// Record is one tenant's usage for one day.
type Record struct {
	TenantID     string  `json:"tenantId"`
	Date         string  `json:"date"`
	MessageCount int64   `json:"messageCount"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// add folds delta's counters into r.
func (r *Record) add(delta Record) {
	r.MessageCount += delta.MessageCount
	r.InputTokens += delta.InputTokens
	r.OutputTokens += delta.OutputTokens
	r.CostUSD += delta.CostUSD
}

// Store persists daily records.
type Store interface {
	// Add adds delta's counters to the row identified by
	// delta.TenantID and delta.Date, creating it if absent.
	Add(ctx context.Context, delta Record) error

	// Range returns the tenant's rows with from <= Date <= to, ordered
	// by date. Both bounds use DateLayout.
	Range(ctx context.Context, tenantID, from, to string) ([]Record, error)

	// Delete removes the tenant's row for date, or every row for the
	// tenant when date is empty. Returns the number of rows removed.
	Delete(ctx context.Context, tenantID, date string) (int, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)

// ErrInvalidArgument marks a malformed date, month, or tenant id.
var ErrInvalidArgument = errors.New("usage: invalid argument")

// ValidateDate checks that date uses DateLayout.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYYMMDD", ErrInvalidArgument, date)
	}
	return nil
}

// monthBounds returns the first and last DateLayout day of month.
func monthBounds(month string) (string, string, error) {
	start, err := time.Parse(MonthLayout, month)
	if err != nil {
		return "", "", fmt.Errorf("%w: month %q is not YYYY-MM", ErrInvalidArgument, month)
	}
	end := start.AddDate(0, 1, -1)
	return start.Format(DateLayout), end.Format(DateLayout), nil
}
