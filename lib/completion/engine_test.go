// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package completion

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/llm"
	"github.com/bureau-foundation/chatcore/lib/llm/llmtest"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, provider llm.Provider, fake *clock.FakeClock) *Engine {
	t.Helper()
	engine, err := New(Config{Provider: provider, Clock: fake, BufferSize: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

func TestCompleteSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	provider := &llmtest.Provider{
		CompleteFunc: llmtest.Reply("m1", "hello", llm.Usage{InputTokens: 10, OutputTokens: 2}),
	}
	engine := newEngine(t, provider, clock.Fake(epoch))

	response, err := engine.Complete(context.Background(), llm.Request{Model: "m1"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if response.Content != "hello" || response.Usage.OutputTokens != 2 {
		t.Errorf("response = %+v", response)
	}
	if provider.Calls() != 1 {
		t.Errorf("calls = %d, want 1", provider.Calls())
	}
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(epoch)
	provider := &llmtest.Provider{
		CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
			return nil, &llm.ProviderError{StatusCode: http.StatusServiceUnavailable, Message: "busy"}
		},
	}
	engine := newEngine(t, provider, fake)

	type outcome struct {
		response *llm.Response
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		response, err := engine.Complete(context.Background(), llm.Request{Model: "m1"})
		done <- outcome{response, err}
	}()

	fake.WaitForTimers(1)
	fake.Advance(1 * time.Second)
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)

	result := <-done
	var exhausted *ExhaustedError
	if !errors.As(result.err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", result.err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	var providerError *llm.ProviderError
	if !errors.As(result.err, &providerError) || providerError.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("last error not preserved: %v", result.err)
	}
	if provider.Calls() != 3 {
		t.Errorf("calls = %d, want 3", provider.Calls())
	}
}

func TestCompleteRecoversOnRetry(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(epoch)
	provider := &llmtest.Provider{
		CompleteFunc: func(ctx context.Context, call int, request llm.Request) (*llm.Response, error) {
			if call == 1 {
				return nil, errors.New("connection reset")
			}
			return llmtest.Reply("m1", "ok", llm.Usage{})(ctx, call, request)
		},
	}
	engine := newEngine(t, provider, fake)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Complete(context.Background(), llm.Request{})
		done <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(1 * time.Second)

	if err := <-done; err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if provider.Calls() != 2 {
		t.Errorf("calls = %d, want 2", provider.Calls())
	}
}

func TestCompleteAuthFailureNotRetried(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		provider := &llmtest.Provider{
			CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
				return nil, &llm.ProviderError{StatusCode: status, Message: "bad key"}
			},
		}
		engine := newEngine(t, provider, clock.Fake(epoch))

		_, err := engine.Complete(context.Background(), llm.Request{})
		if !IsAuth(err) {
			t.Errorf("status %d: IsAuth(%v) = false", status, err)
		}
		var exhausted *ExhaustedError
		if errors.As(err, &exhausted) {
			t.Errorf("status %d: auth failure reported as exhausted", status)
		}
		if provider.Calls() != 1 {
			t.Errorf("status %d: calls = %d, want 1", status, provider.Calls())
		}
	}
}

func TestCompleteCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(epoch)
	provider := &llmtest.Provider{
		CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
			return nil, errors.New("timeout")
		},
	}
	engine := newEngine(t, provider, fake)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := engine.Complete(ctx, llm.Request{})
		done <- err
	}()
	fake.WaitForTimers(1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("calls = %d, want 1", provider.Calls())
	}
}

func TestBackoffDelaysRepeatLastValue(t *testing.T) {
	t.Parallel()
	engine, err := New(Config{Provider: &llmtest.Provider{}, Backoff: []time.Duration{time.Second, 3 * time.Second}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []time.Duration{time.Second, 3 * time.Second, 3 * time.Second}
	for attempt, expected := range want {
		if got := engine.delay(attempt + 1); got != expected {
			t.Errorf("delay(%d) = %v, want %v", attempt+1, got, expected)
		}
	}
}

func TestNewRequiresProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("New without Provider succeeded")
	}
}
