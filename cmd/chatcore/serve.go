// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bureau-foundation/chatcore/lib/chat/httpapi"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/config"
	"github.com/bureau-foundation/chatcore/lib/kvstore"
	"github.com/bureau-foundation/chatcore/lib/service"
	"github.com/bureau-foundation/chatcore/lib/sourcewatch"
	"github.com/bureau-foundation/chatcore/lib/version"
)

func newServeCommand(globals *globalFlags) *cobra.Command {
	var address string
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			cfg, err := globals.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			logger, err := globals.logger()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return serve(command.Context(), cfg, logger)
		},
	}
	command.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	return command
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("chatcore starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"provider", cfg.Provider.Kind,
		"store", cfg.Store.Kind,
	)

	app, err := buildApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("closing stores", "error", err)
		}
	}()
	logger.Info("model selected", "model", app.service.Model().ID)

	var authenticator *httpapi.Authenticator
	if cfg.Auth.JWTSecret != "" {
		authenticator, err = httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("auth.jwt_secret is empty; request bodies are trusted for user and tenant identity")
	}

	api, err := httpapi.New(httpapi.Config{
		Service:       app.service,
		Registry:      app.registry,
		Tracker:       app.tracker,
		Cache:         app.cache,
		Limiter:       app.limiter,
		Authenticator: authenticator,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var waitGroup sync.WaitGroup
	if app.stores.sqlite != nil {
		waitGroup.Go(func() {
			sweep(ctx, app.stores.sqlite, cfg.Store.SweepInterval, clock.Real(), logger)
		})
	}

	watchErrors := make(chan error, 1)
	if cfg.Watch.Enabled {
		if app.cache == nil {
			logger.Warn("watch.enabled has no effect while the cache is disabled")
		} else {
			watcher, err := sourcewatch.New(sourcewatch.Config{
				Directory:   cfg.Watch.Directory,
				Invalidator: app.cache,
				Debounce:    cfg.Watch.Debounce,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			waitGroup.Go(func() {
				if err := watcher.Run(ctx); err != nil {
					watchErrors <- err
				}
			})
		}
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Server.Address,
		Handler:         api,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})
	serveErrors := make(chan error, 1)
	go func() { serveErrors <- server.Serve(ctx) }()

	var serveErr error
	select {
	case serveErr = <-serveErrors:
	case err := <-watchErrors:
		serveErr = fmt.Errorf("transcript watcher: %w", err)
		cancel()
		<-serveErrors
	}
	cancel()
	waitGroup.Wait()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("chatcore stopped")
	return nil
}

// sweep removes expired keys from the SQLite store until ctx is done.
func sweep(ctx context.Context, store *kvstore.SQLite, interval time.Duration, c clock.Clock, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := c.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("sweeping expired keys failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				logger.Debug("swept expired keys", "removed", removed)
			}
		}
	}
}
