// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Refill Pacing Tests
// -----------------------------------------------------------------------------

// TestCallGate_BurstThenPaced verifies that burst acquisitions are immediate
// and subsequent ones wait for the refill schedule.
func TestCallGate_BurstThenPaced(t *testing.T) {
	// 50 permits/s, burst 5, concurrency effectively unbounded.
	gate := NewCallGate("ai", 50, 5, 100)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := gate.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
		gate.Release()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("5 burst acquires took %v, want well under 100ms", elapsed)
	}

	// The bucket is drained: the next acquire waits roughly 1/rate.
	start = time.Now()
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	gate.Release()
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("post-burst acquire took %v, want >= ~20ms refill wait", elapsed)
	}
}

// TestCallGate_ThroughputBounded verifies sustained acquisition cannot beat
// the refill rate.
func TestCallGate_ThroughputBounded(t *testing.T) {
	gate := NewCallGate("ai", 100, 1, 100)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := gate.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() %d error = %v", i, err)
		}
		gate.Release()
	}
	// 10 permits at 100/s with burst 1 needs at least ~90ms of refill.
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("10 acquires took %v, want >= ~90ms", elapsed)
	}
}

// -----------------------------------------------------------------------------
// Concurrency Slot Tests
// -----------------------------------------------------------------------------

// TestCallGate_ConcurrencyCap verifies the semaphore bounds in-flight calls
// independently of the refill rate.
func TestCallGate_ConcurrencyCap(t *testing.T) {
	gate := NewCallGate("ai", 1000, 1000, 2)
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := gate.InFlight(); got != 2 {
		t.Errorf("InFlight() = %d, want 2", got)
	}

	// Third caller blocks until a slot frees.
	done := make(chan error, 1)
	go func() {
		done <- gate.Acquire(ctx)
	}()

	select {
	case <-done:
		t.Fatal("third Acquire() completed while gate was full")
	case <-time.After(50 * time.Millisecond):
	}

	gate.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("third Acquire() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("third Acquire() did not complete after Release")
	}

	gate.Release()
	gate.Release()
	if got := gate.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d, want 0 after releases", got)
	}
}

// TestCallGate_AcquireTimeout verifies the bounded wait surfaces a deadline
// error when no slot frees in time.
func TestCallGate_AcquireTimeout(t *testing.T) {
	gate := NewCallGate("ai", 1000, 1000, 1)
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer gate.Release()

	err := gate.AcquireTimeout(ctx, 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquireTimeout() error = %v, want DeadlineExceeded", err)
	}
}

// TestCallGate_AcquireTimeout_RefillBacklog verifies a bounded wait also
// expires when the semaphore is free but the refill schedule cannot produce
// a token inside the budget. rate.Limiter reports that case with an
// immediate error rather than parking until the deadline; callers must still
// see DeadlineExceeded, and promptly.
func TestCallGate_AcquireTimeout_RefillBacklog(t *testing.T) {
	// One token per 100 seconds. Draining the burst token pushes the next
	// one far beyond any reasonable wait.
	gate := NewCallGate("ai", 0.01, 1, 1)
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	gate.Release()

	start := time.Now()
	err := gate.AcquireTimeout(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquireTimeout() error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("AcquireTimeout() took %v, want prompt return", elapsed)
	}
}

// TestCallGate_CancelledContext verifies cancellation unwinds a waiter.
func TestCallGate_CancelledContext(t *testing.T) {
	gate := NewCallGate("ai", 1000, 1000, 1)

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer gate.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gate.Acquire(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled Acquire() did not return")
	}
}

// TestCallGate_ReleaseWithoutAcquire verifies the caller-bug panic.
func TestCallGate_ReleaseWithoutAcquire(t *testing.T) {
	gate := NewCallGate("ai", 1, 1, 1)

	defer func() {
		if recover() == nil {
			t.Error("Release() without Acquire did not panic")
		}
	}()
	gate.Release()
}
