// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tier defines the subscription tiers and the numeric limits
// attached to each. The rate limiter reads the request rates; the
// cost tracker reads the monthly allowances.
package tier

import (
	"fmt"
	"strings"
)

// Tier is a tenant's plan.
type Tier string

const (
	Basic      Tier = "basic"
	Pro        Tier = "pro"
	Enterprise Tier = "enterprise"
)

// Unlimited marks a monthly allowance with no cap.
const Unlimited = -1

// Parse accepts a tier name in any case.
func Parse(name string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(name))); t {
	case Basic, Pro, Enterprise:
		return t, nil
	default:
		return "", fmt.Errorf("tier: unknown tier %q", name)
	}
}

// Limits are the numeric limits of one tier. A negative monthly value
// means unlimited.
type Limits struct {
	MonthlyMessages          int64   `json:"monthlyMessages" yaml:"monthly_messages"`
	MonthlyCostLimitUSD      float64 `json:"monthlyCostLimitUsd" yaml:"monthly_cost_limit_usd"`
	RequestsPerMinutePerUser int64   `json:"requestsPerMinutePerUser" yaml:"requests_per_minute_per_user"`
	RequestsPerDayPerTenant  int64   `json:"requestsPerDayPerTenant" yaml:"requests_per_day_per_tenant"`
}

// UnlimitedMessages reports whether the message allowance is uncapped.
func (l Limits) UnlimitedMessages() bool { return l.MonthlyMessages < 0 }

// UnlimitedCost reports whether the cost allowance is uncapped.
func (l Limits) UnlimitedCost() bool { return l.MonthlyCostLimitUSD < 0 }

// Table maps each tier to its limits.
type Table map[Tier]Limits

// Defaults returns the built-in limits.
func Defaults() Table {
	return Table{
		Basic: {
			MonthlyMessages:          1000,
			MonthlyCostLimitUSD:      10,
			RequestsPerMinutePerUser: 10,
			RequestsPerDayPerTenant:  500,
		},
		Pro: {
			MonthlyMessages:          10000,
			MonthlyCostLimitUSD:      100,
			RequestsPerMinutePerUser: 10,
			RequestsPerDayPerTenant:  2000,
		},
		Enterprise: {
			MonthlyMessages:          Unlimited,
			MonthlyCostLimitUSD:      Unlimited,
			RequestsPerMinutePerUser: 10,
			RequestsPerDayPerTenant:  10000,
		},
	}
}

// Lookup returns the limits for t, falling back to the basic tier's
// limits for a tier missing from the table.
func (table Table) Lookup(t Tier) Limits {
	if limits, ok := table[t]; ok {
		return limits
	}
	if limits, ok := table[Basic]; ok {
		return limits
	}
	return Defaults()[Basic]
}

// Validate checks that every known tier is present with positive
// request rates.
func (table Table) Validate() error {
	var problems []string
	for _, t := range []Tier{Basic, Pro, Enterprise} {
		limits, ok := table[t]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: missing", t))
			continue
		}
		if limits.RequestsPerMinutePerUser <= 0 {
			problems = append(problems, fmt.Sprintf("%s: requests_per_minute_per_user must be positive", t))
		}
		if limits.RequestsPerDayPerTenant <= 0 {
			problems = append(problems, fmt.Sprintf("%s: requests_per_day_per_tenant must be positive", t))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("tier: %s", strings.Join(problems, "; "))
	}
	return nil
}
