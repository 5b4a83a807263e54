// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/completion"
	"github.com/bureau-foundation/chatcore/lib/netutil"
)

// Defaults for Config.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultTimeout      = 120 * time.Second
)

// TimeoutMessage is the error frame text written when the overall
// timeout expires.
const TimeoutMessage = "timeout"

// ErrTimeout is reported in Result.Err when the overall timeout
// expired before a terminal event.
var ErrTimeout = errors.New("stream: timed out waiting for completion")

// errUnterminated is reported when the event channel closes without a
// terminal event.
var errUnterminated = errors.New("stream: completion ended without a terminal event")

// Outcome says how a Run ended.
type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeError        Outcome = "error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeDisconnected Outcome = "disconnected"
)

// Result summarizes a finished Run.
type Result struct {
	Outcome Outcome

	// Content is all text written in content frames.
	Content string

	// Err is the failure behind any outcome other than OutcomeDone.
	Err error
}

// Session is one streamed completion.
type Session struct {
	// Events is the completion channel. It must deliver exactly one
	// terminal event and then close.
	Events <-chan completion.Event

	// Cancel aborts the upstream provider call. Called whenever Run
	// returns before reading the terminal event.
	Cancel context.CancelFunc

	// Finish builds the done frame from the terminal event and the
	// accumulated content. It is where the caller records cost and
	// caches the result. An error becomes an error frame.
	Finish func(done completion.Event, content string) (DoneData, error)

	// Describe turns an upstream error into the user-visible error
	// frame text. Nil uses err.Error().
	Describe func(err error) string
}

// Config holds the parameters for a Multiplexer.
type Config struct {
	// PingInterval defaults to DefaultPingInterval.
	PingInterval time.Duration

	// Timeout bounds the whole stream. Zero uses DefaultTimeout; a
	// negative value disables it.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Multiplexer writes completion sessions as SSE frames. Safe for
// concurrent use; each Run is independent.
type Multiplexer struct {
	pingInterval time.Duration
	timeout      time.Duration
	clock        clock.Clock
	logger       *slog.Logger
}

// New creates a Multiplexer.
func New(cfg Config) *Multiplexer {
	multiplexer := &Multiplexer{
		pingInterval: cfg.PingInterval,
		timeout:      cfg.Timeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if multiplexer.pingInterval <= 0 {
		multiplexer.pingInterval = DefaultPingInterval
	}
	if multiplexer.timeout == 0 {
		multiplexer.timeout = DefaultTimeout
	}
	if multiplexer.clock == nil {
		multiplexer.clock = clock.Real()
	}
	if multiplexer.logger == nil {
		multiplexer.logger = slog.New(slog.DiscardHandler)
	}
	return multiplexer
}

// Run streams session to writer until a terminal frame is written, the
// timeout expires, or ctx (the client connection) is cancelled.
func (m *Multiplexer) Run(ctx context.Context, writer *Writer, session Session) (result Result) {
	if session.Cancel == nil {
		session.Cancel = func() {}
	}
	var content strings.Builder
	terminated := false

	defer func() {
		if recovered := recover(); recovered != nil {
			session.Cancel()
			m.logger.Error("stream multiplexer panic", "panic", recovered)
			if !terminated {
				m.writeError(writer, "internal error")
			}
			result = Result{
				Outcome: OutcomeError,
				Content: content.String(),
				Err:     fmt.Errorf("stream: panic: %v", recovered),
			}
		}
	}()

	ticker := m.clock.NewTicker(m.pingInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if m.timeout > 0 {
		deadline = m.clock.After(m.timeout)
	}

	disconnected := func(err error) Result {
		session.Cancel()
		if netutil.IsClientGone(err) {
			m.logger.Debug("stream client gone", "error", err)
		} else {
			m.logger.Warn("stream write failed", "error", err)
		}
		return Result{Outcome: OutcomeDisconnected, Content: content.String(), Err: err}
	}

	for {
		select {
		case event, ok := <-session.Events:
			if !ok {
				terminated = true
				m.writeError(writer, m.describe(session, errUnterminated))
				return Result{Outcome: OutcomeError, Content: content.String(), Err: errUnterminated}
			}

			switch event.Type {
			case completion.EventContent:
				content.WriteString(event.Text)
				if err := writer.WriteFrame(FrameContent, ContentData{Content: event.Text}); err != nil {
					return disconnected(err)
				}

			case completion.EventDone:
				done, err := session.Finish(event, content.String())
				terminated = true
				if err != nil {
					m.writeError(writer, m.describe(session, err))
					return Result{Outcome: OutcomeError, Content: content.String(), Err: err}
				}
				if done.Timestamp == 0 {
					done.Timestamp = m.clock.Now().UnixMilli()
				}
				if err := writer.WriteFrame(FrameDone, done); err != nil {
					m.logger.Debug("writing done frame failed", "error", err)
				}
				return Result{Outcome: OutcomeDone, Content: content.String()}

			case completion.EventError:
				terminated = true
				if ctx.Err() != nil {
					return Result{Outcome: OutcomeDisconnected, Content: content.String(), Err: event.Err}
				}
				m.writeError(writer, m.describe(session, event.Err))
				return Result{Outcome: OutcomeError, Content: content.String(), Err: event.Err}
			}

		case now := <-ticker.C:
			if err := writer.WriteFrame(FramePing, PingData{Timestamp: now.UnixMilli()}); err != nil {
				return disconnected(err)
			}

		case <-deadline:
			terminated = true
			session.Cancel()
			m.logger.Warn("stream timed out", "timeout", m.timeout)
			m.writeError(writer, TimeoutMessage)
			return Result{Outcome: OutcomeTimeout, Content: content.String(), Err: ErrTimeout}

		case <-ctx.Done():
			return disconnected(ctx.Err())
		}
	}
}

func (m *Multiplexer) describe(session Session, err error) string {
	if session.Describe != nil {
		return session.Describe(err)
	}
	return err.Error()
}

func (m *Multiplexer) writeError(writer *Writer, message string) {
	if err := writer.WriteFrame(FrameError, ErrorData{Error: message}); err != nil {
		m.logger.Debug("writing error frame failed", "error", err)
	}
}
