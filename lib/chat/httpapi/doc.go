// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the chat service and its admin operations
// over HTTP.
//
// Routes:
//
//	POST   /v1/chat                          answer a question (JSON or SSE)
//	GET    /v1/models                        active model and registry
//	GET    /v1/cache/stats                   cache statistics
//	DELETE /v1/cache/stats                   reset cache statistics
//	POST   /v1/cache/invalidate              {"sourceId"}; empty wipes all
//	GET    /v1/usage/{tenant}?month=YYYY-MM  monthly usage
//	GET    /v1/usage/{tenant}/limits?tier=   tier limit check
//	POST   /v1/usage/{tenant}/reset          {"date"}; empty resets all days
//	GET    /v1/ratelimit/{tenant}/{user}     current rate-limit windows
//	GET    /healthz                          liveness
//
// Every response carries an X-Request-ID. When an [Authenticator] is
// configured, /v1 routes require an HS256 bearer token: the chat
// route takes user, tenant, and tier from its claims, and the admin
// routes require the admin claim.
package httpapi
