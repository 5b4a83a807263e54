// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/llm"
)

// DefaultMaxAttempts is the number of provider calls before giving up.
const DefaultMaxAttempts = 3

// DefaultBackoff is the wait before each retry. The wait before
// attempt n+1 is DefaultBackoff[n-1]; the last value repeats.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DefaultBufferSize is the event channel capacity for Stream.
const DefaultBufferSize = 16

// State is a step of the per-request state machine.
type State string

const (
	StatePrepared   State = "prepared"
	StateAttempting State = "attempting"
	StateStreaming  State = "streaming"
	StateFailed     State = "failed"
	StateDone       State = "done"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// ExhaustedError is returned when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (err *ExhaustedError) Error() string {
	return fmt.Sprintf("completion: exhausted %d attempts: %v", err.Attempts, err.Last)
}

func (err *ExhaustedError) Unwrap() error { return err.Last }

// errIncompleteStream is reported when the provider stream ends
// without its completion marker.
var errIncompleteStream = errors.New("completion: provider stream ended without completion")

// IsAuth reports whether err is an invalid-credentials or
// permission-denied response from the provider.
func IsAuth(err error) bool {
	var providerError *llm.ProviderError
	return errors.As(err, &providerError) && providerError.IsAuth()
}

// IsPermanent reports whether retrying err is pointless.
func IsPermanent(err error) bool {
	return IsAuth(err)
}

// Config holds the parameters for an Engine.
type Config struct {
	Provider llm.Provider

	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Backoff defaults to DefaultBackoff.
	Backoff []time.Duration

	// BufferSize is the Stream channel capacity. Defaults to
	// DefaultBufferSize.
	BufferSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine issues completion requests. Safe for concurrent use.
type Engine struct {
	provider    llm.Provider
	maxAttempts int
	backoff     []time.Duration
	bufferSize  int
	clock       clock.Clock
	logger      *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("completion: Provider is required")
	}
	engine := &Engine{
		provider:    cfg.Provider,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		bufferSize:  cfg.BufferSize,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if engine.maxAttempts <= 0 {
		engine.maxAttempts = DefaultMaxAttempts
	}
	if len(engine.backoff) == 0 {
		engine.backoff = DefaultBackoff
	}
	if engine.bufferSize <= 0 {
		engine.bufferSize = DefaultBufferSize
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	return engine, nil
}

// delay returns the wait after the given failed attempt (1-based).
func (e *Engine) delay(attempt int) time.Duration {
	index := min(attempt-1, len(e.backoff)-1)
	return e.backoff[index]
}

func (e *Engine) transition(logger *slog.Logger, state State, attrs ...any) {
	logger.Debug("completion state", append([]any{"state", state}, attrs...)...)
}

// Complete sends request and waits for the full response, retrying
// transient failures.
func (e *Engine) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	logger := e.logger.With("model", request.Model)
	e.transition(logger, StatePrepared)

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.transition(logger, StateAttempting, "attempt", attempt)
		response, err := e.provider.Complete(ctx, request)
		if err == nil {
			e.transition(logger, StateDone, "attempt", attempt)
			return response, nil
		}

		if ctx.Err() != nil {
			e.transition(logger, StateCancelled, "attempt", attempt)
			return nil, ctx.Err()
		}
		if IsPermanent(err) {
			e.transition(logger, StateError, "attempt", attempt, "error", err)
			return nil, fmt.Errorf("completion: %w", err)
		}

		lastErr = err
		e.transition(logger, StateFailed, "attempt", attempt, "error", err)
		if attempt == e.maxAttempts {
			break
		}
		if !clock.Sleep(e.clock, e.delay(attempt), ctx.Done()) {
			e.transition(logger, StateCancelled, "attempt", attempt)
			return nil, ctx.Err()
		}
	}

	e.transition(logger, StateError, "attempts", e.maxAttempts, "error", lastErr)
	return nil, &ExhaustedError{Attempts: e.maxAttempts, Last: lastErr}
}
