// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/chat"
	"github.com/bureau-foundation/chatcore/lib/chat/chattest"
	"github.com/bureau-foundation/chatcore/lib/chat/httpapi"
	"github.com/bureau-foundation/chatcore/lib/llm"
	"github.com/bureau-foundation/chatcore/lib/llm/llmtest"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/tier"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

const answer = "Cut losers early [Intro to Trading @ 3:45]."

var answerUsage = llm.Usage{InputTokens: 1000, OutputTokens: 200}

func replying() *llmtest.Provider {
	return &llmtest.Provider{
		CompleteFunc: llmtest.Reply("gpt-4o-mini", answer, answerUsage),
		StreamFunc: func(context.Context, int, llm.Request) (*llm.EventStream, error) {
			return llmtest.Script("gpt-4o-mini", answerUsage, "Cut losers early ", "[Intro to Trading @ 3:45]."), nil
		},
	}
}

type harness struct {
	stack *chattest.Stack
	api   *httpapi.API
}

func newHarness(t *testing.T, provider *llmtest.Provider, authenticator *httpapi.Authenticator) *harness {
	t.Helper()
	return newHarnessWith(t, chattest.Options{Provider: provider}, authenticator)
}

func newHarnessWith(t *testing.T, options chattest.Options, authenticator *httpapi.Authenticator) *harness {
	t.Helper()
	stack := chattest.New(t, options)
	api, err := httpapi.New(httpapi.Config{
		Service:       stack.Service,
		Registry:      stack.Registry,
		Tracker:       stack.Tracker,
		Cache:         stack.Cache,
		Limiter:       stack.Limiter,
		Authenticator: authenticator,
		Clock:         stack.Clock,
	})
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return &harness{stack: stack, api: api}
}

func (h *harness) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.api.ServeHTTP(recorder, request)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("decoding %q: %v", recorder.Body.String(), err)
	}
	return value
}

type errorResponse struct {
	Error             string            `json:"error"`
	LimitedBy         ratelimit.Subject `json:"limitedBy"`
	RetryAfterSeconds int               `json:"retryAfterSeconds"`
}

func TestChatReturnsJSONResponse(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	recorder := h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}
	if recorder.Header().Get(httpapi.RequestIDHeader) == "" {
		t.Error("response lacks a request id")
	}
	response := decode[chat.Response](t, recorder)
	if response.Content != answer || response.Cached || len(response.Citations) != 1 {
		t.Errorf("response = %+v", response)
	}

	recorder = h.do("POST", "/v1/chat", chattest.Request("  WHAT is Risk Management?\n"), "")
	if cached := decode[chat.Response](t, recorder); !cached.Cached || cached.CostUSD != 0 {
		t.Errorf("second response = %+v, want cached at zero cost", cached)
	}
	if calls := h.stack.Provider.Calls(); calls != 1 {
		t.Errorf("provider calls = %d, want 1", calls)
	}
}

func TestChatStreamsFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	request := chattest.Request("What is risk management?")
	request.Stream = true
	recorder := h.do("POST", "/v1/chat", request, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if contentType := recorder.Header().Get("Content-Type"); contentType != "text/event-stream" {
		t.Errorf("Content-Type = %q", contentType)
	}
	body := recorder.Body.String()
	for _, want := range []string{
		"event: content\ndata: {\"content\":\"Cut losers early \"}\n\n",
		"event: done\n",
		`"cached":false`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream lacks %q:\n%s", want, body)
		}
	}
}

func TestChatValidationIsBadRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	recorder := h.do("POST", "/v1/chat", chattest.Request("   "), "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if body := decode[errorResponse](t, recorder); !strings.HasPrefix(body.Error, "Your question could not be processed") {
		t.Errorf("error = %q", body.Error)
	}

	request := httptest.NewRequest("POST", "/v1/chat", strings.NewReader("{not json"))
	malformed := httptest.NewRecorder()
	h.api.ServeHTTP(malformed, request)
	if malformed.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", malformed.Code)
	}
	if calls := h.stack.Provider.Calls(); calls != 0 {
		t.Errorf("provider calls = %d, want 0", calls)
	}
}

func TestChatRateLimitedSetsRetryAfter(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	var recorder *httptest.ResponseRecorder
	for range 11 {
		recorder = h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")
	}
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("11th status = %d, want 429", recorder.Code)
	}
	body := decode[errorResponse](t, recorder)
	if body.LimitedBy != ratelimit.SubjectUser || body.RetryAfterSeconds <= 0 {
		t.Errorf("body = %+v", body)
	}
	if header := recorder.Header().Get("Retry-After"); header == "" || header == "0" {
		t.Errorf("Retry-After = %q", header)
	}
}

func TestChatProviderAuthIsBadGateway(t *testing.T) {
	t.Parallel()
	provider := &llmtest.Provider{
		CompleteFunc: func(context.Context, int, llm.Request) (*llm.Response, error) {
			return nil, &llm.ProviderError{StatusCode: 401, Type: "authentication_error", Message: "bad key"}
		},
	}
	h := newHarness(t, provider, nil)

	recorder := h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", recorder.Code)
	}
	if body := decode[errorResponse](t, recorder); strings.Contains(body.Error, "bad key") {
		t.Errorf("error leaks provider detail: %q", body.Error)
	}
}

func newAuthenticator(t *testing.T) *httpapi.Authenticator {
	t.Helper()
	authenticator, err := httpapi.NewAuthenticator("test-secret-with-enough-bytes", "chatcore-test")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return authenticator
}

func issue(t *testing.T, authenticator *httpapi.Authenticator, identity httpapi.Identity) string {
	t.Helper()
	token, err := authenticator.Issue(identity, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestAuthenticationOverridesBodyIdentity(t *testing.T) {
	t.Parallel()
	authenticator := newAuthenticator(t)
	h := newHarness(t, replying(), authenticator)

	if recorder := h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", recorder.Code)
	}
	if recorder := h.do("GET", "/healthz", nil, ""); recorder.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", recorder.Code)
	}

	token := issue(t, authenticator, httpapi.Identity{UserID: "learner-9", TenantID: "guild", Tier: "pro"})
	request := chattest.Request("What is risk management?")
	request.TenantID = "someone-else"
	recorder := h.do("POST", "/v1/chat", request, token)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body)
	}

	ctx := context.Background()
	if record, _ := h.stack.Tracker.DailyUsage(ctx, "guild", ""); record.MessageCount != 1 {
		t.Errorf("guild messages = %d, want 1", record.MessageCount)
	}
	if record, _ := h.stack.Tracker.DailyUsage(ctx, "someone-else", ""); record.MessageCount != 0 {
		t.Errorf("body tenant was charged: %+v", record)
	}

	if recorder := h.do("GET", "/v1/cache/stats", nil, token); recorder.Code != http.StatusForbidden {
		t.Errorf("non-admin cache stats status = %d, want 403", recorder.Code)
	}
	admin := issue(t, authenticator, httpapi.Identity{UserID: "ops", TenantID: "guild", Admin: true})
	if recorder := h.do("GET", "/v1/cache/stats", nil, admin); recorder.Code != http.StatusOK {
		t.Errorf("admin cache stats status = %d, want 200", recorder.Code)
	}
	if recorder := h.do("GET", "/v1/models", nil, "not-a-token"); recorder.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", recorder.Code)
	}
}

func TestTokenTierOverridesBodyTier(t *testing.T) {
	t.Parallel()
	tiers := tier.Defaults()
	basic := tiers[tier.Basic]
	basic.RequestsPerDayPerTenant = 3
	tiers[tier.Basic] = basic
	authenticator := newAuthenticator(t)
	h := newHarnessWith(t, chattest.Options{Provider: replying(), Tiers: tiers}, authenticator)

	// No tier claim: the caller is basic whatever the body says.
	for i := range 4 {
		token := issue(t, authenticator, httpapi.Identity{UserID: fmt.Sprintf("learner-%d", i), TenantID: "guild"})
		request := chattest.Request("What is risk management?")
		request.Tier = "enterprise"
		recorder := h.do("POST", "/v1/chat", request, token)
		if i < 3 {
			if recorder.Code != http.StatusOK {
				t.Fatalf("request %d status = %d, body %s", i, recorder.Code, recorder.Body)
			}
			continue
		}
		if recorder.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d status = %d, want 429 from the basic tenant cap", i, recorder.Code)
		}
		if body := decode[errorResponse](t, recorder); body.LimitedBy != ratelimit.SubjectTenant {
			t.Errorf("limitedBy = %q, want tenant", body.LimitedBy)
		}
	}
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")
	h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")

	stats := decode[cache.Stats](t, h.do("GET", "/v1/cache/stats", nil, ""))
	if stats.TotalRequests != 2 || stats.Hits != 1 || stats.HitRate != 0.5 {
		t.Errorf("stats = %+v", stats)
	}

	recorder := h.do("POST", "/v1/cache/invalidate", map[string]string{"sourceId": "v1"}, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("invalidate status = %d", recorder.Code)
	}
	var invalidated struct {
		Invalidated int `json:"invalidated"`
	}
	json.Unmarshal(recorder.Body.Bytes(), &invalidated)
	if invalidated.Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", invalidated.Invalidated)
	}

	if recorder := h.do("DELETE", "/v1/cache/stats", nil, ""); recorder.Code != http.StatusNoContent {
		t.Errorf("reset status = %d, want 204", recorder.Code)
	}
	if stats := decode[cache.Stats](t, h.do("GET", "/v1/cache/stats", nil, "")); stats.TotalRequests != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}

func TestUsageEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)
	h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")

	summary := decode[usage.MonthlySummary](t, h.do("GET", "/v1/usage/academy?month=2026-03", nil, ""))
	if summary.MessageCount != 1 || summary.InputTokens != 1000 {
		t.Errorf("summary = %+v", summary)
	}
	if recorder := h.do("GET", "/v1/usage/academy?month=March", nil, ""); recorder.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d, want 400", recorder.Code)
	}

	status := decode[usage.LimitStatus](t, h.do("GET", "/v1/usage/academy/limits?tier=basic", nil, ""))
	if !status.WithinLimits || status.MessagesUsed != 1 || status.MessageLimit != 1000 {
		t.Errorf("limits = %+v", status)
	}
	if recorder := h.do("GET", "/v1/usage/academy/limits?tier=platinum", nil, ""); recorder.Code != http.StatusBadRequest {
		t.Errorf("bad tier status = %d, want 400", recorder.Code)
	}

	if recorder := h.do("POST", "/v1/usage/academy/reset", map[string]string{"date": "2026-03-10"}, ""); recorder.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", recorder.Code)
	}
	recorder := h.do("POST", "/v1/usage/academy/reset", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body %s", recorder.Code, recorder.Body)
	}
	if summary := decode[usage.MonthlySummary](t, h.do("GET", "/v1/usage/academy", nil, "")); summary.MessageCount != 0 {
		t.Errorf("summary after reset = %+v", summary)
	}
}

func TestRateLimitAndModelEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)
	h.do("POST", "/v1/chat", chattest.Request("What is risk management?"), "")

	var limits struct {
		Windows []ratelimit.WindowUsage `json:"windows"`
	}
	recorder := h.do("GET", "/v1/ratelimit/academy/learner-1", nil, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("ratelimit status = %d", recorder.Code)
	}
	json.Unmarshal(recorder.Body.Bytes(), &limits)
	var sawUser bool
	for _, window := range limits.Windows {
		if window.Subject == ratelimit.SubjectUser && window.Used == 1 {
			sawUser = true
		}
	}
	if !sawUser {
		t.Errorf("windows = %+v, want one user request counted", limits.Windows)
	}

	var models struct {
		Active string `json:"active"`
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	json.Unmarshal(h.do("GET", "/v1/models", nil, "").Body.Bytes(), &models)
	if models.Active != "gpt-4o-mini" || len(models.Models) < 2 {
		t.Errorf("models = %+v", models)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, replying(), nil)

	request := httptest.NewRequest("GET", "/healthz", nil)
	request.Header.Set(httpapi.RequestIDHeader, "trace-42")
	recorder := httptest.NewRecorder()
	h.api.ServeHTTP(recorder, request)
	if got := recorder.Header().Get(httpapi.RequestIDHeader); got != "trace-42" {
		t.Errorf("request id = %q, want trace-42", got)
	}
}
