// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bureau-foundation/chatcore/lib/cache"
	"github.com/bureau-foundation/chatcore/lib/chat"
	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/model"
	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/tier"
	"github.com/bureau-foundation/chatcore/lib/usage"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Config holds the parameters for an API. Cache, Limiter, and
// Authenticator are optional.
type Config struct {
	Service  *chat.Service
	Registry *model.Registry
	Tracker  *usage.Tracker
	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter

	// Authenticator enables bearer-token authentication. Nil trusts
	// the identity fields in the request body.
	Authenticator *Authenticator

	Clock  clock.Clock
	Logger *slog.Logger
}

// API is the HTTP handler for the chat core.
type API struct {
	service       *chat.Service
	registry      *model.Registry
	tracker       *usage.Tracker
	cache         *cache.Cache
	limiter       *ratelimit.Limiter
	authenticator *Authenticator
	clock         clock.Clock
	logger        *slog.Logger

	handler http.Handler
}

// New creates the API handler.
func New(cfg Config) (*API, error) {
	switch {
	case cfg.Service == nil:
		return nil, errors.New("httpapi: Service is required")
	case cfg.Registry == nil:
		return nil, errors.New("httpapi: Registry is required")
	case cfg.Tracker == nil:
		return nil, errors.New("httpapi: Tracker is required")
	}
	api := &API{
		service:       cfg.Service,
		registry:      cfg.Registry,
		tracker:       cfg.Tracker,
		cache:         cfg.Cache,
		limiter:       cfg.Limiter,
		authenticator: cfg.Authenticator,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
	if api.clock == nil {
		api.clock = clock.Real()
	}
	if api.logger == nil {
		api.logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", api.handleHealth)
	mux.HandleFunc("POST /v1/chat", api.handleChat)
	mux.HandleFunc("GET /v1/models", api.handleModels)
	mux.HandleFunc("GET /v1/cache/stats", api.requireAdmin(api.handleCacheStats))
	mux.HandleFunc("DELETE /v1/cache/stats", api.requireAdmin(api.handleCacheStatsReset))
	mux.HandleFunc("POST /v1/cache/invalidate", api.requireAdmin(api.handleCacheInvalidate))
	mux.HandleFunc("GET /v1/usage/{tenant}", api.requireAdmin(api.handleUsage))
	mux.HandleFunc("GET /v1/usage/{tenant}/limits", api.requireAdmin(api.handleUsageLimits))
	mux.HandleFunc("POST /v1/usage/{tenant}/reset", api.requireAdmin(api.handleUsageReset))
	mux.HandleFunc("GET /v1/ratelimit/{tenant}/{user}", api.requireAdmin(api.handleRateLimit))

	api.handler = withRequestID(api.withAccessLog(api.withRecovery(api.withAuthentication(mux))))
	return api, nil
}

func (api *API) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	api.handler.ServeHTTP(writer, request)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error             string            `json:"error"`
	LimitedBy         ratelimit.Subject `json:"limitedBy,omitempty"`
	RetryAfterSeconds int               `json:"retryAfterSeconds,omitempty"`
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}

func (api *API) badRequest(writer http.ResponseWriter, message string) {
	writeJSON(writer, http.StatusBadRequest, errorBody{Error: message})
}

// writeError maps a chat error onto a status code and user message.
func (api *API) writeError(writer http.ResponseWriter, request *http.Request, err error) {
	var validation *chat.ValidationError
	var limited *chat.RateLimitError
	var auth *chat.ProviderAuthError
	var unavailable *chat.UnavailableError

	body := errorBody{Error: chat.UserMessage(err)}
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &limited):
		status = http.StatusTooManyRequests
		body.LimitedBy = limited.Decision.LimitedBy
		body.RetryAfterSeconds = limited.Decision.RetryAfterSeconds
		writer.Header().Set("Retry-After", strconv.Itoa(limited.Decision.RetryAfterSeconds))
	case errors.As(err, &auth):
		status = http.StatusBadGateway
	case errors.As(err, &unavailable):
		status = http.StatusServiceUnavailable
		body.RetryAfterSeconds = unavailable.RetryAfterSeconds
		writer.Header().Set("Retry-After", strconv.Itoa(unavailable.RetryAfterSeconds))
	case errors.Is(err, chat.ErrStreamTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		api.logger.Debug("client went away", "request_id", RequestIDFrom(request.Context()))
		return
	default:
		api.logger.Error("unclassified chat error",
			"request_id", RequestIDFrom(request.Context()),
			"error", err,
		)
	}
	writeJSON(writer, status, body)
}

// decodeBody reads a JSON body into target. An empty body leaves
// target unchanged when allowEmpty is set.
func decodeBody(writer http.ResponseWriter, request *http.Request, target any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodySize))
	if err := decoder.Decode(target); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("request body is not valid JSON: %w", err)
	}
	return nil
}

func (api *API) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *API) handleChat(writer http.ResponseWriter, request *http.Request) {
	var chatRequest chat.Request
	if err := decodeBody(writer, request, &chatRequest, false); err != nil {
		api.writeError(writer, request, &chat.ValidationError{Field: "body", Problem: "the request could not be read"})
		return
	}
	if identity, ok := IdentityFrom(request.Context()); ok {
		chatRequest.UserID = identity.UserID
		chatRequest.TenantID = identity.TenantID
		chatRequest.Tier = identity.Tier
	}

	ctx := request.Context()
	if chatRequest.Stream {
		if err := api.service.StreamChat(ctx, chatRequest, writer); err != nil {
			api.writeError(writer, request, err)
		}
		return
	}

	response, err := api.service.Chat(ctx, chatRequest)
	if err != nil {
		api.writeError(writer, request, err)
		return
	}
	writeJSON(writer, http.StatusOK, response)
}

type modelsResponse struct {
	Active string        `json:"active"`
	Models []model.Model `json:"models"`
}

func (api *API) handleModels(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, modelsResponse{
		Active: api.service.Model().ID,
		Models: api.registry.List(),
	})
}

func (api *API) cacheEnabled(writer http.ResponseWriter) bool {
	if api.cache == nil {
		writeJSON(writer, http.StatusNotFound, errorBody{Error: "The response cache is disabled."})
		return false
	}
	return true
}

func (api *API) handleCacheStats(writer http.ResponseWriter, request *http.Request) {
	if !api.cacheEnabled(writer) {
		return
	}
	stats, err := api.cache.Stats(request.Context())
	if err != nil {
		api.logger.Warn("reading cache stats failed", "error", err)
		writeJSON(writer, http.StatusServiceUnavailable, errorBody{Error: "Cache statistics are unavailable."})
		return
	}
	writeJSON(writer, http.StatusOK, stats)
}

func (api *API) handleCacheStatsReset(writer http.ResponseWriter, request *http.Request) {
	if !api.cacheEnabled(writer) {
		return
	}
	if err := api.cache.ResetStats(request.Context()); err != nil {
		api.logger.Warn("resetting cache stats failed", "error", err)
		writeJSON(writer, http.StatusServiceUnavailable, errorBody{Error: "Cache statistics are unavailable."})
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

type invalidateRequest struct {
	SourceID string `json:"sourceId"`
}

type invalidateResponse struct {
	SourceID    string `json:"sourceId,omitempty"`
	Invalidated int    `json:"invalidated"`
}

func (api *API) handleCacheInvalidate(writer http.ResponseWriter, request *http.Request) {
	if !api.cacheEnabled(writer) {
		return
	}
	var body invalidateRequest
	if err := decodeBody(writer, request, &body, true); err != nil {
		api.badRequest(writer, "The request body is not valid JSON.")
		return
	}

	var removed int
	var err error
	if body.SourceID == "" {
		removed, err = api.cache.InvalidateAll(request.Context())
	} else {
		removed, err = api.cache.Invalidate(request.Context(), body.SourceID)
	}
	if err != nil {
		api.logger.Warn("cache invalidation failed", "source_id", body.SourceID, "error", err)
		writeJSON(writer, http.StatusServiceUnavailable, errorBody{Error: "The cache could not be invalidated, please try again."})
		return
	}
	writeJSON(writer, http.StatusOK, invalidateResponse{SourceID: body.SourceID, Invalidated: removed})
}

func (api *API) handleUsage(writer http.ResponseWriter, request *http.Request) {
	summary, err := api.tracker.MonthlyUsage(request.Context(), request.PathValue("tenant"), request.URL.Query().Get("month"))
	if err != nil {
		api.usageError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, summary)
}

func (api *API) handleUsageLimits(writer http.ResponseWriter, request *http.Request) {
	plan := tier.Basic
	if name := request.URL.Query().Get("tier"); name != "" {
		parsed, err := tier.Parse(name)
		if err != nil {
			api.badRequest(writer, "The tier is not recognized.")
			return
		}
		plan = parsed
	}
	status, err := api.tracker.CheckTierLimits(request.Context(), request.PathValue("tenant"), plan)
	if err != nil {
		api.usageError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, status)
}

type resetRequest struct {
	Date string `json:"date"`
}

type resetResponse struct {
	TenantID string `json:"tenantId"`
	Date     string `json:"date,omitempty"`
	Removed  int    `json:"removed"`
}

func (api *API) handleUsageReset(writer http.ResponseWriter, request *http.Request) {
	var body resetRequest
	if err := decodeBody(writer, request, &body, true); err != nil {
		api.badRequest(writer, "The request body is not valid JSON.")
		return
	}
	tenantID := request.PathValue("tenant")
	removed, err := api.tracker.Reset(request.Context(), tenantID, body.Date)
	if err != nil {
		api.usageError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, resetResponse{TenantID: tenantID, Date: body.Date, Removed: removed})
}

// usageError distinguishes bad arguments from store failures. The
// usage package reports bad dates and months without wrapping a
// store error.
func (api *API) usageError(writer http.ResponseWriter, err error) {
	if errors.Is(err, usage.ErrInvalidArgument) {
		api.badRequest(writer, err.Error())
		return
	}
	api.logger.Warn("usage query failed", "error", err)
	writeJSON(writer, http.StatusServiceUnavailable, errorBody{Error: "Usage data is unavailable, please try again."})
}

type rateLimitResponse struct {
	TenantID string                  `json:"tenantId"`
	UserID   string                  `json:"userId"`
	Tier     tier.Tier               `json:"tier"`
	Windows  []ratelimit.WindowUsage `json:"windows"`
}

func (api *API) handleRateLimit(writer http.ResponseWriter, request *http.Request) {
	if api.limiter == nil {
		writeJSON(writer, http.StatusNotFound, errorBody{Error: "Rate limiting is not configured."})
		return
	}
	plan := tier.Basic
	if name := request.URL.Query().Get("tier"); name != "" {
		parsed, err := tier.Parse(name)
		if err != nil {
			api.badRequest(writer, "The tier is not recognized.")
			return
		}
		plan = parsed
	}
	tenantID, userID := request.PathValue("tenant"), request.PathValue("user")
	windows, err := api.limiter.Usage(request.Context(), userID, tenantID, plan)
	if err != nil {
		api.logger.Warn("rate limit usage failed", "error", err)
		writeJSON(writer, http.StatusServiceUnavailable, errorBody{Error: "Rate limit data is unavailable."})
		return
	}
	writeJSON(writer, http.StatusOK, rateLimitResponse{TenantID: tenantID, UserID: userID, Tier: plan, Windows: windows})
}
