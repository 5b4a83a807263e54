// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/version"
)

func newVersionCommand(globals *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			out, err := newPrinter(command.OutOrStdout(), globals.output)
			if err != nil {
				return err
			}
			if out.json {
				return out.print(version.Current(), nil)
			}
			fmt.Fprintf(command.OutOrStdout(), "chatcore %s\n", version.Full())
			return nil
		},
	}
}
