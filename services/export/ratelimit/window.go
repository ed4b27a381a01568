// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit provides the two throttling mechanisms used by the
// export service:
//
//   - WindowLimiter: a fixed-window request counter over a shared atomic
//     store (Redis in production). Used for abuse prevention such as login
//     attempts and export submissions. Fails open when the store is down.
//   - CallGate: a token-refill limiter composed with a fixed-size semaphore,
//     protecting paid external AI/render calls. Callers wait, they are never
//     rejected; gate failures are infrastructure bugs and propagate.
//
// # Thread Safety
//
// All types are safe for concurrent use. Window counts are resolved by the
// store's atomic increment, never by read-modify-write in this process.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CounterStore is the shared atomic backing for window counters.
//
// Implementations must make Incr a single atomic round trip: the increment
// creates the key with the given expiry when absent, and never refreshes the
// expiry of an existing key. Multiple processes may share one store.
type CounterStore interface {
	// Incr atomically increments the counter for key, creating it with the
	// window expiry on first hit, and returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// TTL returns the remaining life of key. Zero or negative means the key
	// is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Reset deletes the counter for key without waiting for expiry.
	Reset(ctx context.Context, key string) error
}

// Decision is the outcome of a window-limit check.
//
// Allowed is authoritative: it derives solely from the atomic increment and
// limit comparison. Remaining and ResetAfter come from a separate TTL fetch
// and are best-effort diagnostics; under contention they can lag the
// enforcement decision.
//
// Degraded is true when the backing store failed and the limiter allowed the
// request anyway. Availability is prioritized over strict enforcement for
// this non-critical control; callers that care can log or count it.
type Decision struct {
	Allowed    bool
	Remaining  int64
	ResetAfter time.Duration
	Degraded   bool
}

// WindowLimiter counts requests per (scope, identifier) in fixed windows.
type WindowLimiter struct {
	store  CounterStore
	logger *slog.Logger
}

// NewWindowLimiter creates a limiter over the given store.
func NewWindowLimiter(store CounterStore, logger *slog.Logger) *WindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowLimiter{store: store, logger: logger}
}

// Check counts one request against the (scope, identifier) window.
//
// # Description
//
// Atomically increments the counter and compares the post-increment count to
// limit. The overflowing request is itself counted: with limit 5, the first
// five calls in a window are allowed and the sixth is the first rejected.
//
// On store failure the limiter fails open: the returned Decision has
// Allowed=true and Degraded=true, and the failure is logged. Blocking all
// traffic because the counter store is down would be worse than briefly
// under-enforcing.
//
// # Inputs
//
//   - scope: Logical limit family, e.g. "login" or "export".
//   - identifier: The counted subject, e.g. a username or client id.
//   - limit: Maximum allowed requests per window.
//   - window: Window length; the counter expires this long after creation.
func (l *WindowLimiter) Check(ctx context.Context, scope, identifier string, limit int64, window time.Duration) Decision {
	key := windowKey(scope, identifier)

	count, err := l.store.Incr(ctx, key, window)
	if err != nil {
		l.logger.Warn("window counter store unavailable, failing open",
			"scope", scope, "error", err)
		return Decision{Allowed: true, Remaining: limit, ResetAfter: window, Degraded: true}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	// Best-effort: the TTL fetch is not atomic with the increment, so
	// ResetAfter may be momentarily inconsistent with Allowed.
	resetAfter, err := l.store.TTL(ctx, key)
	if err != nil || resetAfter <= 0 {
		resetAfter = window
	}

	return Decision{
		Allowed:    count <= limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

// Reset clears the window for (scope, identifier) immediately, e.g. after a
// successful login. Store failures are logged, not surfaced; the window will
// still expire on its own.
func (l *WindowLimiter) Reset(ctx context.Context, scope, identifier string) {
	if err := l.store.Reset(ctx, windowKey(scope, identifier)); err != nil {
		l.logger.Warn("failed to reset rate limit window",
			"scope", scope, "error", err)
	}
}

func windowKey(scope, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, identifier)
}
