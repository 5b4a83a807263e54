// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/config"
)

func newCacheCommand(globals *globalFlags) *cobra.Command {
	command := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate the response cache",
	}
	command.AddCommand(newCacheStatsCommand(globals), newCacheInvalidateCommand(globals))
	return command
}

// withCache opens the configured store and runs fn with the cache
// over it.
func withCache(globals *globalFlags, fn func(responseCache *cache.Cache) error) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Cache.Enabled {
		return errors.New("the response cache is disabled (cache.enabled: false)")
	}
	logger, err := globals.logger()
	if err != nil {
		return err
	}
	if cfg.Store.Kind == config.StoreMemory {
		logger.Warn("store.kind is memory; a fresh process has an empty cache")
	}
	opened, err := openStores(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer opened.Close()

	responseCache, err := newCache(cfg, opened.keyValue, clock.Real(), logger)
	if err != nil {
		return err
	}
	return fn(responseCache)
}

func newCacheStatsCommand(globals *globalFlags) *cobra.Command {
	var reset bool
	command := &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit and miss counters",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			out, err := newPrinter(command.OutOrStdout(), globals.output)
			if err != nil {
				return err
			}
			return withCache(globals, func(responseCache *cache.Cache) error {
				stats, err := responseCache.Stats(command.Context())
				if err != nil {
					return err
				}
				if err := out.print(stats, func(w io.Writer) {
					row(w, "REQUESTS", humanize.Comma(stats.TotalRequests))
					row(w, "HITS", humanize.Comma(stats.Hits))
					row(w, "MISSES", humanize.Comma(stats.Misses))
					row(w, "HIT RATE", strconv.FormatFloat(stats.HitRate*100, 'f', 1, 64)+"%")
					row(w, "COST SAVED", dollars(stats.EstimatedCostSaved))
				}); err != nil {
					return err
				}
				if reset {
					return responseCache.ResetStats(command.Context())
				}
				return nil
			})
		},
	}
	command.Flags().BoolVar(&reset, "reset", false, "zero the counters after printing them")
	return command
}

func newCacheInvalidateCommand(globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [SOURCE]",
		Short: "Drop cached answers for a source, or every answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			return withCache(globals, func(responseCache *cache.Cache) error {
				var removed int
				var err error
				if len(args) == 1 {
					removed, err = responseCache.Invalidate(command.Context(), args[0])
				} else {
					removed, err = responseCache.InvalidateAll(command.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(command.OutOrStdout(), "invalidated %s cached answers\n", humanize.Comma(int64(removed)))
				return nil
			})
		},
	}
}
