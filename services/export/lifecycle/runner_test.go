// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

func TestRunner_ExecutesSubmittedTask(t *testing.T) {
	env := newTestEnv(t, nil)
	runner := NewRunner(env.controller, env.metrics, nil, RunnerConfig{WorkerCount: 2, QueueSize: 8})
	runner.Start()
	defer runner.Stop()

	ctx := context.Background()
	task := env.submit(t, "markdown")

	if err := runner.Enqueue(task.ID, "All numbers up."); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		stored, err := env.store.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if stored.Status == datatypes.StatusCompleted {
			if stored.File == nil {
				t.Error("completed task has no file reference")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never completed, status = %v", stored.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunner_QueueFull(t *testing.T) {
	env := newTestEnv(t, nil)
	// No workers started, so nothing drains the one-slot queue.
	runner := NewRunner(env.controller, env.metrics, nil, RunnerConfig{WorkerCount: 1, QueueSize: 1})

	if err := runner.Enqueue("t1", "a"); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if err := runner.Enqueue("t2", "b"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Enqueue() error = %v, want ErrQueueFull", err)
	}
	if runner.QueueDepth() != 1 {
		t.Errorf("QueueDepth = %d, want 1", runner.QueueDepth())
	}
}
