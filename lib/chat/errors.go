// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/chatcore/lib/ratelimit"
	"github.com/bureau-foundation/chatcore/lib/stream"
)

// DefaultRetryAfterSeconds is suggested to users after a provider or
// dependency failure.
const DefaultRetryAfterSeconds = 30

// ErrStreamTimeout is reported when a streamed answer does not finish
// within the configured timeout.
var ErrStreamTimeout = stream.ErrTimeout

// ValidationError rejects a malformed request. It is never retried and
// never billed.
type ValidationError struct {
	Field   string
	Problem string
}

func (err *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid request: %s: %s", err.Field, err.Problem)
}

// RateLimitError rejects a request denied admission.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (err *RateLimitError) Error() string {
	return fmt.Sprintf("chat: rate limited by %s %s window, retry after %ds",
		err.Decision.LimitedBy, err.Decision.Window, err.Decision.RetryAfterSeconds)
}

// ProviderAuthError means the provider rejected our credentials or
// permissions. It needs operator attention.
type ProviderAuthError struct {
	Err error
}

func (err *ProviderAuthError) Error() string {
	return fmt.Sprintf("chat: provider authentication failed: %v", err.Err)
}

func (err *ProviderAuthError) Unwrap() error { return err.Err }

// UnavailableError means a dependency failed after retries.
type UnavailableError struct {
	RetryAfterSeconds int
	Err               error
}

func (err *UnavailableError) Error() string {
	return fmt.Sprintf("chat: service unavailable: %v", err.Err)
}

func (err *UnavailableError) Unwrap() error { return err.Err }

// UserMessage returns the non-technical text shown to the user for
// err.
func UserMessage(err error) string {
	var validation *ValidationError
	var limited *RateLimitError
	var auth *ProviderAuthError
	var unavailable *UnavailableError

	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("Your question could not be processed: %s.", validation.Problem)
	case errors.As(err, &limited):
		if limited.Decision.LimitedBy == ratelimit.SubjectTenant {
			return fmt.Sprintf("Your organization has reached its message limit. Please try again in %d seconds.",
				limited.Decision.RetryAfterSeconds)
		}
		return fmt.Sprintf("You're sending messages too quickly. Please try again in %d seconds.",
			limited.Decision.RetryAfterSeconds)
	case errors.As(err, &auth):
		return "The assistant is temporarily unavailable. Our team has been notified."
	case errors.As(err, &unavailable):
		return fmt.Sprintf("Service temporarily unavailable, please try again in %d seconds.",
			unavailable.RetryAfterSeconds)
	case errors.Is(err, ErrStreamTimeout):
		return "The answer took too long. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}
