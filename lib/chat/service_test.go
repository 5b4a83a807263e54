// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/chatcore/lib/chat"
	"github.com/bureau-foundation/chatcore/lib/chat/chattest"
	"github.com/bureau-foundation/chatcore/lib/llm"
	"github.com/bureau-foundation/chatcore/lib/llm/llmtest"
	"github.com/bureau-foundation/chatcore/lib/prompt"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/retrieval"
	"github.com/bureau-foundation/chatcore/lib/stream"
)

const answer = "Size every position so one loss is survivable [Intro to Trading @ 3:45]."

var answerUsage = llm.Usage{InputTokens: 1000, OutputTokens: 200}

func replying() *llmtest.Provider {
	return &llmtest.Provider{
		CompleteFunc: llmtest.Reply("gpt-4o-mini", answer, answerUsage),
		StreamFunc: func(context.Context, int, llm.Request) (*llm.EventStream, error) {
			return llmtest.Script("gpt-4o-mini", answerUsage,
				"Size every position ", "so one loss is survivable ", "[Intro to Trading @ 3:45]."), nil
		},
	}
}

func approximately(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestChatAnswersWithCitationsAndCost(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	ctx := context.Background()

	response, err := stack.Service.Chat(ctx, chattest.Request("  What is risk management? "))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if response.Content != answer || response.Cached {
		t.Errorf("response = %+v", response)
	}
	if len(response.Citations) != 1 || response.Citations[0].SourceID != "v1" ||
		response.Citations[0].OffsetSeconds != 225 {
		t.Errorf("citations = %+v", response.Citations)
	}
	// gpt-4o-mini: 1000 in at 0.15/M plus 200 out at 0.60/M.
	if !approximately(response.CostUSD, 0.00027) {
		t.Errorf("cost = %v, want 0.00027", response.CostUSD)
	}

	requests := stack.Provider.Requests()
	if len(requests) != 1 {
		t.Fatalf("provider requests = %d, want 1", len(requests))
	}
	if !strings.Contains(requests[0].System, "Intro to Trading @ 03:45") {
		t.Errorf("system prompt lacks rendered chunk:\n%s", requests[0].System)
	}
	last := requests[0].Messages[len(requests[0].Messages)-1]
	if last.Role != llm.RoleUser || last.Content != "What is risk management?" {
		t.Errorf("user turn = %+v", last)
	}

	record, _ := stack.Tracker.DailyUsage(ctx, "academy", "")
	if record.MessageCount != 1 || record.InputTokens != 1000 || !approximately(record.CostUSD, response.CostUSD) {
		t.Errorf("usage = %+v", record)
	}
}

func TestChatCacheHitIsNotBilledAgain(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	ctx := context.Background()
	request := chattest.Request("What is risk management?")

	first, err := stack.Service.Chat(ctx, request)
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	second, err := stack.Service.Chat(ctx, request)
	if err != nil {
		t.Fatalf("second Chat: %v", err)
	}

	if !second.Cached || second.Content != first.Content || second.CostUSD != 0 {
		t.Errorf("second = %+v", second)
	}
	if len(second.Citations) != 1 {
		t.Errorf("cached citations = %+v", second.Citations)
	}
	if stack.Provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", stack.Provider.Calls())
	}

	record, _ := stack.Tracker.DailyUsage(ctx, "academy", "")
	if record.MessageCount != 1 || !approximately(record.CostUSD, first.CostUSD) {
		t.Errorf("usage = %+v, want only the first request billed", record)
	}

	stats, err := stack.Cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.TotalRequests != 2 {
		t.Errorf("stats = %+v", stats)
	}
	// The served hit took the count from 0 to 1; this lookup is the second.
	entry, hit := stack.Cache.Lookup(ctx, request.Query, []retrieval.RetrievedChunk{chattest.IntroChunk})
	if !hit || entry.HitCount != 2 {
		t.Errorf("lookup = %+v, %v", entry, hit)
	}
}

func TestChatEmptyRetrievalReturnsFallbackWithoutProvider(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying(), NoChunks: true})
	ctx := context.Background()

	response, err := stack.Service.Chat(ctx, chattest.Request("Who won the 1998 World Cup?"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if response.Content != prompt.FallbackAnswer || response.CostUSD != 0 {
		t.Errorf("response = %+v", response)
	}
	if stack.Provider.Calls() != 0 {
		t.Errorf("provider calls = %d, want 0", stack.Provider.Calls())
	}
	if record, _ := stack.Tracker.DailyUsage(ctx, "academy", ""); record.MessageCount != 0 {
		t.Errorf("usage recorded for fallback: %+v", record)
	}
}

func TestChatScopeExcludingEverythingFallsBack(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	request := chattest.Request("What is risk management?")
	request.Scope = []string{"other-video"}

	response, err := stack.Service.Chat(context.Background(), request)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if response.Content != prompt.FallbackAnswer || stack.Provider.Calls() != 0 {
		t.Errorf("response = %+v, calls = %d", response, stack.Provider.Calls())
	}
}

func TestChatValidation(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})

	tests := []struct {
		name   string
		mutate func(*chat.Request)
		field  string
	}{
		{"empty query", func(r *chat.Request) { r.Query = "   " }, "query"},
		{"long query", func(r *chat.Request) { r.Query = strings.Repeat("x", chat.MaxQueryLength+1) }, "query"},
		{"missing user", func(r *chat.Request) { r.UserID = "" }, "userId"},
		{"missing tenant", func(r *chat.Request) { r.TenantID = "" }, "tenantId"},
		{"unknown tier", func(r *chat.Request) { r.Tier = "platinum" }, "tier"},
		{"bad history role", func(r *chat.Request) {
			r.ConversationHistory = []retrieval.Turn{{Role: "system", Content: "x"}}
		}, "conversationHistory"},
	}
	for _, test := range tests {
		request := chattest.Request("What is risk management?")
		test.mutate(&request)
		_, err := stack.Service.Chat(context.Background(), request)
		var validation *chat.ValidationError
		if !errors.As(err, &validation) || validation.Field != test.field {
			t.Errorf("%s: error = %v, want validation of %s", test.name, err, test.field)
		}
	}
	if stack.Provider.Calls() != 0 {
		t.Errorf("provider called for invalid requests")
	}
}

func TestChatRateLimited(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	ctx := context.Background()
	request := chattest.Request("What is risk management?")

	for i := range 10 {
		if _, err := stack.Service.Chat(ctx, request); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	_, err := stack.Service.Chat(ctx, request)
	var limited *chat.RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("11th request error = %v, want RateLimitError", err)
	}
	if limited.Decision.LimitedBy != ratelimit.SubjectUser || limited.Decision.RetryAfterSeconds < 1 {
		t.Errorf("decision = %+v", limited.Decision)
	}
	if !strings.Contains(chat.UserMessage(err), "try again in") {
		t.Errorf("message = %q", chat.UserMessage(err))
	}
}

func TestChatProviderAuthFailure(t *testing.T) {
	t.Parallel()
	provider := &llmtest.Provider{
		CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
			return nil, &llm.ProviderError{StatusCode: http.StatusUnauthorized, Message: "invalid x-api-key"}
		},
	}
	stack := chattest.New(t, chattest.Options{Provider: provider})

	_, err := stack.Service.Chat(context.Background(), chattest.Request("What is risk management?"))
	var auth *chat.ProviderAuthError
	if !errors.As(err, &auth) {
		t.Fatalf("error = %v, want ProviderAuthError", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("calls = %d, want 1", provider.Calls())
	}
	if message := chat.UserMessage(err); strings.Contains(message, "x-api-key") {
		t.Errorf("user message leaks provider detail: %q", message)
	}
}

func TestChatProviderExhausted(t *testing.T) {
	t.Parallel()
	provider := &llmtest.Provider{
		CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
			return nil, &llm.ProviderError{StatusCode: http.StatusServiceUnavailable}
		},
	}
	stack := chattest.New(t, chattest.Options{Provider: provider})

	done := make(chan error, 1)
	go func() {
		_, err := stack.Service.Chat(context.Background(), chattest.Request("What is risk management?"))
		done <- err
	}()
	stack.Clock.WaitForTimers(1)
	stack.Clock.Advance(time.Second)
	stack.Clock.WaitForTimers(1)
	stack.Clock.Advance(2 * time.Second)

	err := <-done
	var unavailable *chat.UnavailableError
	if !errors.As(err, &unavailable) || unavailable.RetryAfterSeconds != chat.DefaultRetryAfterSeconds {
		t.Fatalf("error = %v, want UnavailableError", err)
	}
	if provider.Calls() != 3 {
		t.Errorf("calls = %d, want 3", provider.Calls())
	}
	if record, _ := stack.Tracker.DailyUsage(context.Background(), "academy", ""); record.MessageCount != 0 {
		t.Errorf("failed request billed: %+v", record)
	}
}

type sessionTurns map[string][]retrieval.Turn

func (s sessionTurns) LoadRecentTurns(_ context.Context, sessionID string, maxTurns int) ([]retrieval.Turn, error) {
	turns := s[sessionID]
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return turns, nil
}

func TestChatLoadsSessionHistory(t *testing.T) {
	t.Parallel()
	turns := sessionTurns{"s1": {
		{Role: retrieval.RoleUser, Content: "What is a stop loss?"},
		{Role: retrieval.RoleAssistant, Content: "An order that exits a losing trade."},
	}}
	stack := chattest.New(t, chattest.Options{Provider: replying(), Turns: turns})

	request := chattest.Request("And how does it relate to risk?")
	request.SessionID = "s1"
	if _, err := stack.Service.Chat(context.Background(), request); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	messages := stack.Provider.Requests()[0].Messages
	if len(messages) != 3 {
		t.Fatalf("messages = %+v", messages)
	}
	if messages[0].Content != "What is a stop loss?" || messages[1].Role != llm.RoleAssistant {
		t.Errorf("history = %+v", messages[:2])
	}
}

type frame struct {
	Type string
	Data string
}

func readFrames(t *testing.T, body string) []frame {
	t.Helper()
	scanner := llm.NewSSEScanner(strings.NewReader(body))
	var frames []frame
	for scanner.Next() {
		event := scanner.Event()
		frames = append(frames, frame{Type: event.Type, Data: event.Data})
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning frames: %v", err)
	}
	return frames
}

func TestStreamChatFramesAndAccounting(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	ctx := context.Background()
	recorder := httptest.NewRecorder()

	if err := stack.Service.StreamChat(ctx, chattest.Request("What is risk management?"), recorder); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	frames := readFrames(t, recorder.Body.String())
	if len(frames) != 4 {
		t.Fatalf("frames = %+v", frames)
	}
	var text strings.Builder
	for _, content := range frames[:3] {
		if content.Type != "content" {
			t.Fatalf("frame = %+v, want content", content)
		}
		var data stream.ContentData
		json.Unmarshal([]byte(content.Data), &data)
		text.WriteString(data.Content)
	}
	if text.String() != answer {
		t.Errorf("streamed text = %q", text.String())
	}

	if frames[3].Type != "done" {
		t.Fatalf("last frame = %+v", frames[3])
	}
	var done stream.DoneData
	if err := json.Unmarshal([]byte(frames[3].Data), &done); err != nil {
		t.Fatalf("decoding done: %v", err)
	}
	if done.Usage.InputTokens != 1000 || done.Usage.OutputTokens != 200 || done.Cached {
		t.Errorf("done = %+v", done)
	}
	if len(done.Citations) != 1 || done.Citations[0].OffsetSeconds != 225 {
		t.Errorf("done citations = %+v", done.Citations)
	}
	if done.Timestamp != chattest.Epoch.UnixMilli() {
		t.Errorf("done timestamp = %d", done.Timestamp)
	}

	if record, _ := stack.Tracker.DailyUsage(ctx, "academy", ""); record.MessageCount != 1 {
		t.Errorf("usage = %+v", record)
	}

	// The streamed answer is now cached.
	second := httptest.NewRecorder()
	stack.Service.StreamChat(ctx, chattest.Request("what is risk management?"), second)
	frames = readFrames(t, second.Body.String())
	if len(frames) != 2 || frames[0].Type != "content" || frames[1].Type != "done" {
		t.Fatalf("cached frames = %+v", frames)
	}
	if !strings.Contains(frames[1].Data, `"cached":true`) {
		t.Errorf("cached done = %s", frames[1].Data)
	}
	if stack.Provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", stack.Provider.Calls())
	}
}

func TestStreamChatFallback(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying(), NoChunks: true})
	recorder := httptest.NewRecorder()

	if err := stack.Service.StreamChat(context.Background(), chattest.Request("Unrelated?"), recorder); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	frames := readFrames(t, recorder.Body.String())
	if len(frames) != 2 || frames[1].Type != "done" {
		t.Fatalf("frames = %+v", frames)
	}
	if !strings.Contains(frames[0].Data, "couldn't find anything") {
		t.Errorf("content = %s", frames[0].Data)
	}
	if stack.Provider.Calls() != 0 {
		t.Errorf("provider calls = %d", stack.Provider.Calls())
	}
}

func TestStreamChatRejectsBeforeWriting(t *testing.T) {
	t.Parallel()
	stack := chattest.New(t, chattest.Options{Provider: replying()})
	recorder := httptest.NewRecorder()

	request := chattest.Request("")
	err := stack.Service.StreamChat(context.Background(), request, recorder)
	var validation *chat.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if recorder.Body.Len() != 0 || recorder.Header().Get("Content-Type") != "" {
		t.Errorf("response written for rejected request: %q", recorder.Body.String())
	}
}

func TestStreamChatProviderFailureInBand(t *testing.T) {
	t.Parallel()
	provider := &llmtest.Provider{
		StreamFunc: func(context.Context, int, llm.Request) (*llm.EventStream, error) {
			return llmtest.Fail(errors.New("connection reset"), "Size every"), nil
		},
	}
	stack := chattest.New(t, chattest.Options{Provider: provider})
	recorder := httptest.NewRecorder()

	if err := stack.Service.StreamChat(context.Background(), chattest.Request("What is risk management?"), recorder); err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	frames := readFrames(t, recorder.Body.String())
	if len(frames) != 2 || frames[0].Type != "content" || frames[1].Type != "error" {
		t.Fatalf("frames = %+v", frames)
	}
	if !strings.Contains(frames[1].Data, "temporarily unavailable") {
		t.Errorf("error frame = %s", frames[1].Data)
	}
	if record, _ := stack.Tracker.DailyUsage(context.Background(), "academy", ""); record.MessageCount != 0 {
		t.Errorf("failed stream billed: %+v", record)
	}
}

func TestStreamChatCancelledHasNoSideEffects(t *testing.T) {
	t.Parallel()
	var started atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	provider := &llmtest.Provider{
		StreamFunc: func(streamContext context.Context, _ int, _ llm.Request) (*llm.EventStream, error) {
			started.Store(true)
			return llmtest.Hang(streamContext, "Size every"), nil
		},
	}
	stack := chattest.New(t, chattest.Options{Provider: provider})

	done := make(chan error, 1)
	go func() {
		done <- stack.Service.StreamChat(ctx, chattest.Request("What is risk management?"), httptest.NewRecorder())
	}()
	for !started.Load() {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if record, _ := stack.Tracker.DailyUsage(context.Background(), "academy", ""); record.MessageCount != 0 {
		t.Errorf("cancelled stream billed: %+v", record)
	}
	if _, hit := stack.Cache.Lookup(context.Background(), "What is risk management?",
		[]retrieval.RetrievedChunk{chattest.IntroChunk}); hit {
		t.Error("cancelled stream was cached")
	}
}
