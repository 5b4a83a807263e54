// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Defaults for HTTPServerConfig.
const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
)

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address, e.g. ":8080". Port 0 binds an
	// ephemeral port; read it from Addr after Ready. Required.
	Address string

	Handler http.Handler

	// ShutdownTimeout is how long in-flight requests get to finish
	// once Serve's context is done. Requests still running after that
	// (typically open answer streams) see their request context
	// cancelled, which aborts the upstream completion.
	ShutdownTimeout time.Duration

	// ReadTimeout bounds reading a request including its body.
	ReadTimeout time.Duration

	// WriteTimeout is left at zero for the chat API: a streamed answer
	// stays open for as long as generation runs and enforces its own
	// deadline.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// HTTPServer serves a handler on a TCP listener and drains it on
// shutdown.
type HTTPServer struct {
	config HTTPServerConfig
	ready  chan struct{}
	addr   net.Addr
}

// NewHTTPServer validates config and returns a server. It panics on a
// missing Address, Handler, or Logger: those are wiring mistakes, not
// runtime conditions.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	switch {
	case config.Address == "":
		panic("service.HTTPServer: Address is required")
	case config.Handler == nil:
		panic("service.HTTPServer: Handler is required")
	case config.Logger == nil:
		panic("service.HTTPServer: Logger is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	return &HTTPServer{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound address. Valid after Ready is closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is done, then stops accepting
// and waits up to ShutdownTimeout for in-flight requests before
// cancelling the ones that remain.
func (s *HTTPServer) Serve(ctx context.Context) error {
	logger := s.config.Logger

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Request contexts hang off requestBase rather than ctx so that a
	// shutdown signal lets short requests finish instead of failing
	// them immediately.
	requestBase, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	server := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requestBase },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveDone <- err
	}()

	select {
	case err := <-serveDone:
		return err
	case <-ctx.Done():
	}

	logger.Info("http server draining", "timeout", s.config.ShutdownTimeout)
	drainContext, cancelDrain := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancelDrain()

	shutdownErr := server.Shutdown(drainContext)
	if shutdownErr == nil {
		<-serveDone
		logger.Info("http server stopped")
		return nil
	}

	// Cancelling the request contexts ends open streams through their
	// normal disconnect path before the connections are torn down.
	logger.Warn("http server drain timed out, cancelling open requests", "error", shutdownErr)
	cancelRequests()
	closeErr := server.Close()
	<-serveDone
	if closeErr != nil {
		return fmt.Errorf("http server close: %w", closeErr)
	}
	return nil
}
