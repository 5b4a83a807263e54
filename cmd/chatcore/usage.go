// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/config"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/tier"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

func newUsageCommand(globals *globalFlags) *cobra.Command {
	command := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and reset per-tenant usage",
	}
	command.AddCommand(
		newUsageShowCommand(globals),
		newUsageLimitsCommand(globals),
		newUsageResetCommand(globals),
	)
	return command
}

// withTracker opens the configured store and runs fn with a tracker
// over it.
func withTracker(globals *globalFlags, fn func(tracker *usage.Tracker) error) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	logger, err := globals.logger()
	if err != nil {
		return err
	}
	if cfg.Store.Kind == config.StoreMemory {
		logger.Warn("store.kind is memory; a fresh process has no usage to show")
	}
	opened, err := openStores(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer opened.Close()

	tracker, err := newTracker(cfg, opened.usage, model.Default(), clock.Real(), logger)
	if err != nil {
		return err
	}
	return fn(tracker)
}

func newUsageShowCommand(globals *globalFlags) *cobra.Command {
	var month string
	command := &cobra.Command{
		Use:   "show TENANT",
		Short: "Show a tenant's usage for a month",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			out, err := newPrinter(command.OutOrStdout(), globals.output)
			if err != nil {
				return err
			}
			return withTracker(globals, func(tracker *usage.Tracker) error {
				summary, err := tracker.MonthlyUsage(command.Context(), args[0], month)
				if err != nil {
					return err
				}
				return out.print(summary, func(w io.Writer) {
					row(w, "DATE", "MESSAGES", "INPUT TOKENS", "OUTPUT TOKENS", "COST")
					for _, day := range summary.Days {
						row(w, displayDate(day.Date),
							humanize.Comma(day.MessageCount),
							humanize.Comma(day.InputTokens),
							humanize.Comma(day.OutputTokens),
							dollars(day.CostUSD),
						)
					}
					row(w, summary.Month,
						humanize.Comma(summary.MessageCount),
						humanize.Comma(summary.InputTokens),
						humanize.Comma(summary.OutputTokens),
						dollars(summary.CostUSD),
					)
				})
			})
		},
	}
	command.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current month)")
	return command
}

func newUsageLimitsCommand(globals *globalFlags) *cobra.Command {
	var tierName string
	command := &cobra.Command{
		Use:   "limits TENANT",
		Short: "Compare a tenant's usage this month with its tier allowance",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			plan, err := tier.Parse(tierName)
			if err != nil {
				return err
			}
			out, err := newPrinter(command.OutOrStdout(), globals.output)
			if err != nil {
				return err
			}
			return withTracker(globals, func(tracker *usage.Tracker) error {
				status, err := tracker.CheckTierLimits(command.Context(), args[0], plan)
				if err != nil {
					return err
				}
				return out.print(status, func(w io.Writer) {
					row(w, "TENANT", status.TenantID)
					row(w, "TIER", string(status.Tier))
					row(w, "MONTH", status.Month)
					row(w, "MESSAGES", humanize.Comma(status.MessagesUsed)+" / "+allowance(status.MessageLimit))
					row(w, "COST", dollars(status.CostUsedUSD)+" / "+costAllowance(status.CostLimitUSD))
					row(w, "USED", strconv.FormatFloat(status.PercentUsed, 'f', 1, 64)+"%")
					row(w, "LEVEL", string(status.WarningLevel))
				})
			})
		},
	}
	command.Flags().StringVar(&tierName, "tier", string(tier.Basic), "subscription tier: basic, pro, enterprise")
	return command
}

func newUsageResetCommand(globals *globalFlags) *cobra.Command {
	var date string
	command := &cobra.Command{
		Use:   "reset TENANT",
		Short: "Delete a tenant's usage for one day, or all of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			return withTracker(globals, func(tracker *usage.Tracker) error {
				removed, err := tracker.Reset(command.Context(), args[0], date)
				if err != nil {
					return err
				}
				fmt.Fprintf(command.OutOrStdout(), "removed %s usage rows for %s\n", humanize.Comma(int64(removed)), args[0])
				return nil
			})
		},
	}
	command.Flags().StringVar(&date, "date", "", "day as YYYYMMDD (default: every day)")
	return command
}

func dollars(amount float64) string {
	return "$" + humanize.CommafWithDigits(amount, 4)
}

func allowance(limit int64) string {
	if limit < 0 {
		return "unlimited"
	}
	return humanize.Comma(limit)
}

func costAllowance(limit float64) string {
	if limit < 0 {
		return "unlimited"
	}
	return dollars(limit)
}

func displayDate(date string) string {
	parsed, err := time.Parse(usage.DateLayout, date)
	if err != nil {
		return date
	}
	return parsed.Format(time.DateOnly)
}
