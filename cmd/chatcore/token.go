// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/chat/httpapi"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

func newTokenCommand(globals *globalFlags) *cobra.Command {
	command := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	command.AddCommand(newTokenIssueCommand(globals))
	return command
}

func newTokenIssueCommand(globals *globalFlags) *cobra.Command {
	var (
		identity httpapi.Identity
		lifetime time.Duration
	)
	command := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			cfg, err := globals.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			if _, err := tier.Parse(identity.Tier); err != nil {
				return err
			}
			authenticator, err := httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			token, err := authenticator.Issue(identity, time.Now(), lifetime)
			if err != nil {
				return err
			}
			fmt.Fprintln(command.OutOrStdout(), token)
			return nil
		},
	}
	flags := command.Flags()
	flags.StringVar(&identity.UserID, "user", "", "user id (token subject)")
	flags.StringVar(&identity.TenantID, "tenant", "", "tenant id")
	flags.StringVar(&identity.Tier, "tier", string(tier.Basic), "subscription tier")
	flags.BoolVar(&identity.Admin, "admin", false, "grant access to the administrative endpoints")
	flags.DurationVar(&lifetime, "lifetime", 24*time.Hour, "token lifetime")
	command.MarkFlagRequired("user")
	command.MarkFlagRequired("tenant")
	return command
}
