// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Chatcore serves retrieval-augmented chat answers over HTTP and
// administers the stores behind them.
//
// Every command reads the single config file named by --config or
// CHATCORE_CONFIG. A .env file (--env-file, default ".env") is loaded
// into the environment first so ${VAR} references in the config can
// name secrets kept there.
//
// Commands:
//
//	chatcore serve                       run the HTTP API
//	chatcore models                      list the model registry
//	chatcore usage show TENANT           monthly usage summary
//	chatcore usage limits TENANT         tier limit status
//	chatcore usage reset TENANT          delete usage rows
//	chatcore cache stats                 hit/miss counters
//	chatcore cache invalidate [SOURCE]   drop cached answers
//	chatcore token issue                 mint a bearer token
//	chatcore version                     print build information
//
// The usage and cache commands operate directly on the configured
// store, so they are only meaningful with store.kind: sqlite.
package main
