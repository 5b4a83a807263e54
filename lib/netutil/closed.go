// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// IsClientGone reports whether err is what a handler sees when the
// HTTP client has disconnected mid-response: EOF, a closed connection,
// a broken pipe, a reset, or the request context being cancelled.
// These end a stream normally and are not logged as errors.
func IsClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, http.ErrHandlerTimeout) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
