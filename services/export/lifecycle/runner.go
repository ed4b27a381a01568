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
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/HarborLine/HarborExport/services/export/observability"
)

// ErrQueueFull is returned by Enqueue when the in-memory queue has no room.
// Callers should surface it as a retryable condition.
var ErrQueueFull = errors.New("export queue is full")

// RunnerConfig holds the worker pool tunables.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent task workers.
	WorkerCount int

	// QueueSize is the buffer of the in-memory task queue.
	QueueSize int
}

// DefaultRunnerConfig returns sensible single-node defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{WorkerCount: 4, QueueSize: 128}
}

// queueItem pairs a persisted task id with the request content the renderer
// needs. Content is deliberately not persisted on the task record.
type queueItem struct {
	taskID  string
	content string
}

// Runner executes submitted tasks on a fixed worker pool.
//
// # Description
//
// Submit persists the PENDING record (via the controller) and Enqueue hands
// the work to a buffered channel. Workers drain the channel and drive the
// controller's Run pipeline. The queued-tasks gauge tracks the channel
// depth; Stop cancels the shared context and waits for in-flight tasks to
// reach a terminal state.
//
// # Thread Safety
//
// Safe for concurrent use. Enqueue after Stop returns ErrQueueFull once the
// buffer fills; items already queued at Stop are abandoned, which is
// acceptable because PENDING records survive in the store.
type Runner struct {
	controller *Controller
	metrics    *observability.ExportMetrics
	logger     *slog.Logger

	queue   chan queueItem
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewRunner creates a stopped runner; call Start to spin up workers.
func NewRunner(controller *Controller, metrics *observability.ExportMetrics, logger *slog.Logger, cfg RunnerConfig) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		controller: controller,
		metrics:    metrics,
		logger:     logger,
		queue:      make(chan queueItem, cfg.QueueSize),
		workers:    cfg.WorkerCount,
		ctx:        ctx,
		cancel:     cancel,
		group:      &errgroup.Group{},
	}
}

// Start launches the worker pool.
func (r *Runner) Start() {
	for i := 0; i < r.workers; i++ {
		worker := i
		r.group.Go(func() error {
			r.work(worker)
			return nil
		})
	}
	r.logger.Info("export runner started", "workers", r.workers, "queue_size", cap(r.queue))
}

// Enqueue hands a submitted task to the worker pool.
//
// Non-blocking: a full queue fails with ErrQueueFull rather than stalling
// the submission path.
func (r *Runner) Enqueue(taskID, content string) error {
	select {
	case r.queue <- queueItem{taskID: taskID, content: content}:
		r.metrics.TaskQueued()
		return nil
	default:
		return fmt.Errorf("%w: task %s", ErrQueueFull, taskID)
	}
}

// Stop cancels all workers and waits for in-flight tasks to unwind.
func (r *Runner) Stop() {
	r.cancel()
	_ = r.group.Wait()
	r.logger.Info("export runner stopped")
}

// QueueDepth returns the number of tasks waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

// work is one worker loop.
func (r *Runner) work(id int) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case item := <-r.queue:
			r.metrics.TaskDequeued()
			r.logger.Debug("worker picked up task", "worker", id, "task_id", item.taskID)
			r.controller.Run(r.ctx, item.taskID, item.content)
		}
	}
}
