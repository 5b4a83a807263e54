// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/llm"
)

// EventType discriminates Event.
type EventType string

const (
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item on a Stream channel.
type Event struct {
	Type EventType

	// Text is set on EventContent.
	Text string

	// Usage and Model are set on EventDone.
	Usage llm.Usage
	Model string

	// Err is set on EventError. It is ctx.Err() when the request was
	// cancelled, an *ExhaustedError after retries, or the provider's
	// error for credential failures.
	Err error
}

// Terminal reports whether the event ends the stream.
func (event Event) Terminal() bool {
	return event.Type == EventDone || event.Type == EventError
}

// Stream starts a streaming completion. The returned channel yields
// content events followed by exactly one terminal event, then closes.
//
// The caller must either read until the channel closes or cancel ctx;
// after cancellation the terminal event is still written and the
// channel closed without blocking, but buffered content may be
// discarded to make room.
func (e *Engine) Stream(ctx context.Context, request llm.Request) <-chan Event {
	events := make(chan Event, e.bufferSize)
	logger := e.logger.With("model", request.Model)

	go func() {
		defer close(events)
		e.transition(logger, StatePrepared)
		terminal := e.runStream(ctx, request, events, logger)
		deliverTerminal(ctx, events, terminal)
	}()
	return events
}

// runStream performs the attempts and returns the terminal event. It
// writes only content events to the channel.
func (e *Engine) runStream(ctx context.Context, request llm.Request, events chan<- Event, logger *slog.Logger) Event {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		e.transition(logger, StateAttempting, "attempt", attempt)

		terminal, emitted, err := e.streamAttempt(ctx, request, events, logger)
		if err == nil {
			return terminal
		}

		if ctx.Err() != nil {
			e.transition(logger, StateCancelled, "attempt", attempt)
			return Event{Type: EventError, Err: ctx.Err()}
		}
		if IsPermanent(err) {
			e.transition(logger, StateError, "attempt", attempt, "error", err)
			return Event{Type: EventError, Err: err}
		}
		if emitted {
			// The user has already seen partial output.
			e.transition(logger, StateError, "attempt", attempt, "error", err)
			return Event{Type: EventError, Err: err}
		}

		lastErr = err
		e.transition(logger, StateFailed, "attempt", attempt, "error", err)
		if attempt == e.maxAttempts {
			break
		}
		if !clock.Sleep(e.clock, e.delay(attempt), ctx.Done()) {
			e.transition(logger, StateCancelled, "attempt", attempt)
			return Event{Type: EventError, Err: ctx.Err()}
		}
	}

	e.transition(logger, StateError, "attempts", e.maxAttempts, "error", lastErr)
	return Event{Type: EventError, Err: &ExhaustedError{Attempts: e.maxAttempts, Last: lastErr}}
}

// streamAttempt runs one provider stream. It returns the done event on
// success; otherwise the error and whether any content reached the
// channel.
func (e *Engine) streamAttempt(ctx context.Context, request llm.Request, events chan<- Event, logger *slog.Logger) (Event, bool, error) {
	stream, err := e.provider.Stream(ctx, request)
	if err != nil {
		return Event{}, false, err
	}
	defer stream.Close()

	e.transition(logger, StateStreaming)
	emitted := false
	for {
		event, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return Event{}, emitted, errIncompleteStream
		}
		if err != nil {
			return Event{}, emitted, err
		}

		switch event.Type {
		case llm.EventTextDelta:
			select {
			case events <- Event{Type: EventContent, Text: event.Text}:
				emitted = true
			case <-ctx.Done():
				return Event{}, emitted, ctx.Err()
			}

		case llm.EventError:
			return Event{}, emitted, event.Error

		case llm.EventDone:
			if ctx.Err() != nil {
				return Event{}, emitted, ctx.Err()
			}
			response := stream.Response()
			e.transition(logger, StateDone,
				"input_tokens", response.Usage.InputTokens,
				"output_tokens", response.Usage.OutputTokens,
			)
			model := response.Model
			if model == "" {
				model = request.Model
			}
			return Event{Type: EventDone, Usage: response.Usage, Model: model}, emitted, nil
		}
	}
}

// deliverTerminal writes the terminal event. If ctx is cancelled while
// the channel is full, buffered events are dropped until it fits, so
// the producer never blocks on a reader that has gone away.
func deliverTerminal(ctx context.Context, events chan Event, terminal Event) {
	select {
	case events <- terminal:
		return
	case <-ctx.Done():
	}
	for {
		select {
		case events <- terminal:
			return
		default:
		}
		select {
		case <-events:
		default:
		}
	}
}
