// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/model"
)

func newModelsCommand(globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model registry and its token prices",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			registry := model.Default()
			active := registry.Resolve("", slog.New(slog.DiscardHandler)).ID
			if cfg, err := globals.loadConfig(); err == nil {
				active = registry.Resolve(cfg.Model.Active, slog.New(slog.DiscardHandler)).ID
			}

			out, err := newPrinter(command.OutOrStdout(), globals.output)
			if err != nil {
				return err
			}
			models := registry.List()
			return out.print(modelsResponse{Active: active, Models: models}, func(w io.Writer) {
				row(w, "", "ID", "PROVIDER", "INPUT $/1M", "OUTPUT $/1M", "CONTEXT", "MAX OUTPUT")
				for _, m := range models {
					marker := ""
					if m.ID == active {
						marker = "*"
					}
					row(w, marker, m.ID, string(m.Provider),
						fmt.Sprintf("%.2f", m.InputCostPer1M),
						fmt.Sprintf("%.2f", m.OutputCostPer1M),
						humanize.Comma(int64(m.ContextWindow)),
						strconv.Itoa(m.MaxOutputTokens),
					)
				}
			})
		},
	}
}

type modelsResponse struct {
	Active string        `json:"active"`
	Models []model.Model `json:"models"`
}
