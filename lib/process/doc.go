// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. Fatal reports an
// error from main() to stderr, where the structured logger may not
// exist yet, and exits.
package process
