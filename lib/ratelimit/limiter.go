// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
	"github.com/bureau-foundation/chatcore/lib/kvstore"
	"github.com/bureau-foundation/chatcore/lib/tier"
)

// Subject identifies which side of the limit rejected a request.
type Subject string

const (
	SubjectNone   Subject = "none"
	SubjectUser   Subject = "user"
	SubjectTenant Subject = "tenant"
)

// ErrStoreUnavailable is returned, wrapped, when the counter store
// fails and the limiter is configured to fail closed.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool    `json:"allowed"`
	LimitedBy Subject `json:"limitedBy"`

	// Window names the window that rejected the request, e.g.
	// "minute". Empty when allowed.
	Window string `json:"window,omitempty"`

	// RetryAfterSeconds is at least 1 when the request was rejected.
	RetryAfterSeconds int `json:"retryAfterSeconds"`
}

// Config holds the parameters for a Limiter.
type Config struct {
	Store kvstore.Store

	// Tiers supplies the per-minute per-user and per-day per-tenant
	// rates. Defaults to tier.Defaults().
	Tiers tier.Table

	// PerUserHour is the hourly per-user limit. Defaults to 100.
	PerUserHour int64

	// FailClosed rejects requests when the store fails. The default
	// admits them.
	FailClosed bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Limiter performs admission checks. Safe for concurrent use.
type Limiter struct {
	store       kvstore.Store
	tiers       tier.Table
	perUserHour int64
	failClosed  bool
	clock       clock.Clock
	logger      *slog.Logger
}

// New creates a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, errors.New("ratelimit: Store is required")
	}
	limiter := &Limiter{
		store:       cfg.Store,
		tiers:       cfg.Tiers,
		perUserHour: cfg.PerUserHour,
		failClosed:  cfg.FailClosed,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if limiter.tiers == nil {
		limiter.tiers = tier.Defaults()
	}
	if limiter.perUserHour <= 0 {
		limiter.perUserHour = 100
	}
	if limiter.clock == nil {
		limiter.clock = clock.Real()
	}
	if limiter.logger == nil {
		limiter.logger = slog.New(slog.DiscardHandler)
	}
	return limiter, nil
}

// window is one limit applied to one subject.
type window struct {
	subject Subject
	id      string
	name    string
	length  time.Duration
	limit   int64
}

// windows returns the checks for a request, user windows first.
func (l *Limiter) windows(userID, tenantID string, plan tier.Tier) []window {
	limits := l.tiers.Lookup(plan)
	return []window{
		{subject: SubjectUser, id: userID, name: "minute", length: time.Minute, limit: limits.RequestsPerMinutePerUser},
		{subject: SubjectUser, id: userID, name: "hour", length: time.Hour, limit: l.perUserHour},
		{subject: SubjectTenant, id: tenantID, name: "day", length: 24 * time.Hour, limit: limits.RequestsPerDayPerTenant},
	}
}

// position locates now within a window: the current bucket index and
// the fraction of that bucket already elapsed.
func (w window) position(now time.Time) (bucket int64, elapsed time.Duration) {
	nanos := now.UnixNano()
	length := w.length.Nanoseconds()
	bucket = nanos / length
	return bucket, time.Duration(nanos - bucket*length)
}

func (w window) key(bucket int64) string {
	return fmt.Sprintf("rl:%s:%s:%s:%d", w.subject, w.id, w.name, bucket)
}

// estimate is the sliding-window count: current bucket plus the
// overlapping share of the previous one.
func (w window) estimate(current, previous int64, elapsed time.Duration) float64 {
	overlap := 1 - float64(elapsed)/float64(w.length)
	return float64(current) + float64(previous)*overlap
}

func (w window) retryAfter(elapsed time.Duration) int {
	seconds := int(math.Ceil((w.length - elapsed).Seconds()))
	return max(seconds, 1)
}

// increment records one request in a window's current bucket.
type increment struct {
	key string
	ttl time.Duration
}

// Check performs admission for one request. Both user windows and the
// tenant window must have room. An admitted request stays counted; a
// rejected one is rolled back.
//
// A non-nil error is returned only when the store failed and the
// limiter fails closed; the Decision then rejects the request.
func (l *Limiter) Check(ctx context.Context, userID, tenantID string, plan tier.Tier) (Decision, error) {
	now := l.clock.Now()
	var applied []increment

	for _, w := range l.windows(userID, tenantID, plan) {
		bucket, elapsed := w.position(now)
		ttl := 2 * w.length
		current, err := l.store.IncrBy(ctx, w.key(bucket), 1, ttl)
		if err != nil {
			l.rollback(ctx, applied)
			return l.storeFailure(w, err)
		}
		applied = append(applied, increment{key: w.key(bucket), ttl: ttl})

		previous, err := l.store.Counter(ctx, w.key(bucket-1))
		if err != nil {
			l.rollback(ctx, applied)
			return l.storeFailure(w, err)
		}

		if w.estimate(current, previous, elapsed) > float64(w.limit) {
			l.rollback(ctx, applied)
			l.logger.Debug("rate limit exceeded",
				"subject", w.subject,
				"subject_id", w.id,
				"window", w.name,
				"limit", w.limit,
			)
			return Decision{
				Allowed:           false,
				LimitedBy:         w.subject,
				Window:            w.name,
				RetryAfterSeconds: w.retryAfter(elapsed),
			}, nil
		}
	}
	return Decision{Allowed: true, LimitedBy: SubjectNone}, nil
}

func (l *Limiter) rollback(ctx context.Context, applied []increment) {
	for _, inc := range applied {
		if _, err := l.store.IncrBy(ctx, inc.key, -1, inc.ttl); err != nil {
			l.logger.Warn("rate limit rollback failed", "key", inc.key, "error", err)
		}
	}
}

func (l *Limiter) storeFailure(w window, err error) (Decision, error) {
	if l.failClosed {
		l.logger.Error("rate limit store unavailable, rejecting request",
			"subject", w.subject,
			"subject_id", w.id,
			"window", w.name,
			"error", err,
		)
		return Decision{Allowed: false, LimitedBy: SubjectNone, RetryAfterSeconds: 1},
			fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	l.logger.Warn("rate limit store unavailable, admitting request",
		"subject", w.subject,
		"subject_id", w.id,
		"window", w.name,
		"error", err,
	)
	return Decision{Allowed: true, LimitedBy: SubjectNone}, nil
}

// WindowUsage reports one window's current state.
type WindowUsage struct {
	Subject         Subject `json:"subject"`
	Window          string  `json:"window"`
	Limit           int64   `json:"limit"`
	Used            int64   `json:"used"`
	ResetsInSeconds int     `json:"resetsInSeconds"`
}

// Usage reports every window for a user and tenant without counting a
// request.
func (l *Limiter) Usage(ctx context.Context, userID, tenantID string, plan tier.Tier) ([]WindowUsage, error) {
	now := l.clock.Now()
	var usage []WindowUsage
	for _, w := range l.windows(userID, tenantID, plan) {
		if w.id == "" {
			continue
		}
		bucket, elapsed := w.position(now)
		current, err := l.store.Counter(ctx, w.key(bucket))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: reading %s %s window: %w", w.subject, w.name, err)
		}
		previous, err := l.store.Counter(ctx, w.key(bucket-1))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: reading %s %s window: %w", w.subject, w.name, err)
		}
		usage = append(usage, WindowUsage{
			Subject:         w.subject,
			Window:          w.name,
			Limit:           w.limit,
			Used:            int64(math.Ceil(w.estimate(current, previous, elapsed))),
			ResetsInSeconds: w.retryAfter(elapsed),
		})
	}
	return usage, nil
}
