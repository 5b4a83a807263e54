// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the id assigned to the request.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the status code for the access log. It
// forwards Flush so streaming handlers still work through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	written, err := r.ResponseWriter.Write(data)
	r.bytes += int64(written)
	return written, err
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withRequestID assigns a ULID to each request unless the caller sent
// one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		id := strings.TrimSpace(request.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = ulid.Make().String()
		}
		writer.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(writer, request.WithContext(context.WithValue(request.Context(), requestIDKey{}, id)))
	})
}

// withAccessLog logs one line per request.
func (api *API) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := api.clock.Now()
		recorder := &statusRecorder{ResponseWriter: writer}
		next.ServeHTTP(recorder, request)
		api.logger.Info("http request",
			"request_id", RequestIDFrom(request.Context()),
			"method", request.Method,
			"path", request.URL.Path,
			"status", recorder.status,
			"bytes", recorder.bytes,
			"duration", api.clock.Now().Sub(start).Round(time.Millisecond),
		)
	})
}

// withRecovery turns a handler panic into a 500.
func (api *API) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			api.logger.Error("http handler panic",
				"request_id", RequestIDFrom(request.Context()),
				"path", request.URL.Path,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			writeJSON(writer, http.StatusInternalServerError, errorBody{Error: "Something went wrong. Please try again."})
		}()
		next.ServeHTTP(writer, request)
	})
}

// withAuthentication verifies bearer tokens on /v1 routes.
func (api *API) withAuthentication(next http.Handler) http.Handler {
	if api.authenticator == nil {
		return next
	}
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasPrefix(request.URL.Path, "/v1/") {
			next.ServeHTTP(writer, request)
			return
		}
		identity, err := api.authenticator.Verify(request.Header.Get("Authorization"))
		if err != nil {
			api.logger.Info("authentication failed",
				"request_id", RequestIDFrom(request.Context()),
				"error", err,
			)
			writer.Header().Set("WWW-Authenticate", `Bearer realm="chatcore"`)
			writeJSON(writer, http.StatusUnauthorized, errorBody{Error: "Please sign in again."})
			return
		}
		next.ServeHTTP(writer, request.WithContext(withIdentity(request.Context(), identity)))
	})
}

// requireAdmin rejects non-admin callers when authentication is on.
func (api *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if api.authenticator != nil {
			identity, ok := IdentityFrom(request.Context())
			if !ok || !identity.Admin {
				writeJSON(writer, http.StatusForbidden, errorBody{Error: "This operation requires administrator access."})
				return
			}
		}
		next(writer, request)
	}
}
