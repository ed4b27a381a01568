// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// CallGate paces and bounds calls to a named downstream resource.
//
// Two independent policies compose here because they solve different
// problems: the refill limiter smooths throughput against an external
// provider's rate limit (excess callers wait rather than being rejected),
// and the semaphore caps how many calls are in flight at once regardless of
// rate, bounding memory and connection usage.
//
// There is no reject path. Acquire suspends until both a time slot and a
// concurrency slot are available, or the context ends. A failure inside the
// refill limiter is an infrastructure bug and propagates; silently bypassing
// the gate could violate a paid provider's contract.
//
// # Thread Safety
//
// Safe for concurrent use.
type CallGate struct {
	name     string
	limiter  *rate.Limiter
	slots    chan struct{}
	inFlight atomic.Int64
}

// NewCallGate creates a gate releasing at most ratePerSec permits per second
// (with the given burst) and allowing at most maxConcurrent calls in flight.
//
// # Inputs
//
//   - name: Downstream resource name, used in error messages.
//   - ratePerSec: Refill rate. Must be > 0.
//   - burst: Token bucket depth. Values < 1 are raised to 1.
//   - maxConcurrent: Concurrency cap. Values < 1 are raised to 1.
func NewCallGate(name string, ratePerSec float64, burst, maxConcurrent int) *CallGate {
	if burst < 1 {
		burst = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &CallGate{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		slots:   make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until a rate token and a concurrency slot are both held.
//
// The rate token is taken first so a caller parked on the semaphore is not
// also holding back the refill schedule. On success the caller must Release
// exactly once, regardless of how its downstream call ends.
//
// # Outputs
//
//   - error: ctx.Err() if the context ended while waiting,
//     context.DeadlineExceeded if a deadline-bounded wait cannot be served
//     by the refill schedule at all, or a wrapped limiter error
//     (infrastructure bug, not retryable policy).
func (g *CallGate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, bounded := ctx.Deadline(); bounded {
			// Wait fails fast, before the deadline passes, when the refill
			// backlog cannot produce a token in time. Callers see the same
			// outcome as an expired wait.
			return context.DeadlineExceeded
		}
		return fmt.Errorf("call gate %s: refill limiter: %w", g.name, err)
	}

	select {
	case g.slots <- struct{}{}:
		g.inFlight.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireTimeout is Acquire with a bounded wait.
func (g *CallGate) AcquireTimeout(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.Acquire(waitCtx)
}

// Release returns a concurrency slot. Must be called exactly once per
// successful Acquire.
func (g *CallGate) Release() {
	select {
	case <-g.slots:
		g.inFlight.Add(-1)
	default:
		// Release without acquire is a caller bug.
		panic("ratelimit: CallGate.Release without Acquire")
	}
}

// InFlight returns the number of slots currently held.
func (g *CallGate) InFlight() int64 {
	return g.inFlight.Load()
}

// Capacity returns the concurrency cap.
func (g *CallGate) Capacity() int {
	return cap(g.slots)
}
