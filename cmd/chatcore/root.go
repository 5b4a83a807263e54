// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chatcore/lib/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	output     string
}

func (g *globalFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&g.configPath, "config", "", "config file (default: $"+config.EnvConfig+")")
	flags.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config; missing is not an error")
	flags.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&g.logFormat, "log-format", "auto", "log format: auto, text, json")
	flags.StringVarP(&g.output, "output", "o", "auto", "output format: auto, table, json")
}

// loadConfig loads the env file, then the config it may reference.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", g.envFile, err)
		}
	}

	var cfg *config.Config
	var err error
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func (g *globalFlags) logger() (*slog.Logger, error) {
	return newLogger(g.logLevel, g.logFormat)
}

func newRootCommand() *cobra.Command {
	globals := &globalFlags{}
	root := &cobra.Command{
		Use:           "chatcore",
		Short:         "Retrieval-augmented chat serving core",
		Long:          "Answers learner questions from transcript excerpts, with citations, caching, rate limits, and usage accounting.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	globals.register(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(globals),
		newModelsCommand(globals),
		newUsageCommand(globals),
		newCacheCommand(globals),
		newTokenCommand(globals),
		newVersionCommand(globals),
	)
	return root
}
