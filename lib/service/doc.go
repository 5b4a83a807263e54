// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP server lifecycle shared by chat
// core binaries: bind, signal readiness, serve until the context is
// cancelled, then drain in-flight requests.
//
// Routing, authentication, and request handling belong to the caller's
// http.Handler.
package service
