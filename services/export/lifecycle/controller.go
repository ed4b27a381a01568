// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lifecycle orchestrates export task execution.
//
// # Description
//
// The Controller owns every status transition. It validates moves against
// the lifecycle graph before touching the store, drives the call gate and
// the storage gateway, emits events through the progress hub, and records
// metrics at the same points it performs transitions so dashboards track the
// state machine exactly.
//
// Progress notification is strictly fire-and-forget: a disconnected or
// failing subscriber never blocks, retries, or fails task execution.
//
// # Thread Safety
//
// Controller is safe for concurrent use. Each task id has a single writer
// (the worker executing it); Cancel may race that writer and wins by
// writing the terminal state first, after which the worker's late result is
// discarded.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
	"github.com/HarborLine/HarborExport/services/export/observability"
	"github.com/HarborLine/HarborExport/services/export/progress"
	"github.com/HarborLine/HarborExport/services/export/ratelimit"
	"github.com/HarborLine/HarborExport/services/export/render"
	"github.com/HarborLine/HarborExport/services/export/storage"
	"github.com/HarborLine/HarborExport/services/export/store"
)

// DefaultSlotWaitTimeout bounds how long Start waits for an execution slot.
const DefaultSlotWaitTimeout = 30 * time.Second

// Config carries the controller's tunables.
type Config struct {
	// SlotWaitTimeout bounds Start's wait for a call-gate slot. <= 0 selects
	// DefaultSlotWaitTimeout.
	SlotWaitTimeout time.Duration

	// DownloadBaseURL prefixes download references in completion events.
	// Empty means no reachable URL; the event carries null.
	DownloadBaseURL string
}

// Controller drives export tasks through their lifecycle.
type Controller struct {
	logger   *slog.Logger
	store    store.TaskStore
	hub      *progress.Hub
	gate     *ratelimit.CallGate
	gateway  *storage.Gateway
	renderer render.Renderer
	metrics  *observability.ExportMetrics
	cfg      Config

	// mu guards running. One entry per task between Start and its terminal
	// transition.
	mu      sync.Mutex
	running map[string]*taskRun
}

// taskRun is the in-memory execution state of one started task.
type taskRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	format datatypes.Format

	// slotHeld records whether the call-gate slot must be released on the
	// terminal path.
	slotHeld bool

	// started flips once PROCESSING is persisted and the active gauge was
	// incremented; the terminal path mirrors it with exactly one decrement.
	started   bool
	startedAt time.Time
}

// NewController wires the controller's collaborators together.
func NewController(
	logger *slog.Logger,
	taskStore store.TaskStore,
	hub *progress.Hub,
	gate *ratelimit.CallGate,
	gateway *storage.Gateway,
	renderer render.Renderer,
	metrics *observability.ExportMetrics,
	cfg Config,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SlotWaitTimeout <= 0 {
		cfg.SlotWaitTimeout = DefaultSlotWaitTimeout
	}
	return &Controller{
		logger:   logger,
		store:    taskStore,
		hub:      hub,
		gate:     gate,
		gateway:  gateway,
		renderer: renderer,
		metrics:  metrics,
		cfg:      cfg,
		running:  make(map[string]*taskRun),
	}
}

// =============================================================================
// Lifecycle Operations
// =============================================================================

// Submit validates a request and creates the task record as PENDING.
//
// # Outputs
//
//   - *datatypes.ExportTask: The created record, id assigned.
//   - error: ErrValidation-wrapped detail on bad input, or a store error.
func (c *Controller) Submit(ctx context.Context, req *datatypes.ExportRequest) (*datatypes.ExportTask, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	format, err := datatypes.ParseFormat(req.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	task := &datatypes.ExportTask{
		ID:      uuid.NewString(),
		Format:  format,
		Status:  datatypes.StatusPending,
		Title:   req.Title,
		Options: req.Options,
	}
	if err := c.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task record: %w", err)
	}

	c.logger.Info("export task submitted", "task_id", task.ID, "format", format)
	return task, nil
}

// Start transitions PENDING to PROCESSING and acquires an execution slot.
//
// # Description
//
// The slot wait is bounded by SlotWaitTimeout. On expiry the task is failed
// with a timeout error and Start returns ErrSlotTimeout. Cancel fired while
// Start is parked on the gate unwinds the wait; stored state is then already
// CANCELLED and Start returns ErrAlreadyTerminal.
//
// On success a per-task cancellation context is registered so Cancel can
// interrupt the render and storage phases.
func (c *Controller) Start(ctx context.Context, id string) error {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.checkTransition(id, task.Status, datatypes.StatusProcessing); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	run := &taskRun{ctx: taskCtx, cancel: cancel, format: task.Format}

	c.mu.Lock()
	if c.running[id] != nil {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: task %s is already running", ErrInvalidTransition, id)
	}
	c.running[id] = run
	c.mu.Unlock()

	if err := c.gate.AcquireTimeout(taskCtx, c.cfg.SlotWaitTimeout); err != nil {
		c.removeRun(id, run)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("no execution slot available", "task_id", id,
				"waited", c.cfg.SlotWaitTimeout)
			c.failTerminal(ctx, id, task.Format, ErrKindTimeout,
				"no execution slot became available in time")
			return fmt.Errorf("%w: task %s", ErrSlotTimeout, id)
		}
		if ctx.Err() != nil {
			// Process shutdown, not a task-level cancel.
			return ctx.Err()
		}
		// Cancelled while waiting; Cancel already wrote the terminal state.
		return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
	}

	c.mu.Lock()
	if c.running[id] != run {
		// Cancelled between acquire and here; give the slot straight back.
		c.mu.Unlock()
		c.gate.Release()
		cancel()
		return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
	}
	run.slotHeld = true
	c.mu.Unlock()

	zero := 0
	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusProcessing, store.UpdateFields{Progress: &zero}); err != nil {
		c.removeRun(id, run)
		c.gate.Release()
		cancel()
		if errors.Is(err, store.ErrTaskTerminal) {
			// Cancelled between the transition check and the write.
			return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
		}
		c.metrics.RecordError(ErrKindStore)
		return fmt.Errorf("failed to mark task processing: %w", err)
	}

	c.mu.Lock()
	run.started = true
	run.startedAt = time.Now()
	c.mu.Unlock()

	c.metrics.TaskStarted()
	c.publish(id, progress.NewProgress(id, 0, "export started"))
	c.logger.Info("task started", "task_id", id, "format", task.Format)
	return nil
}

// ReportProgress clamps and broadcasts a progress update.
//
// Never raises: a task that is not PROCESSING, a regressing percentage, or
// a store hiccup is logged and skipped, because progress reporting must not
// be able to break task execution.
func (c *Controller) ReportProgress(ctx context.Context, id string, percent int, message string) {
	percent = datatypes.ClampProgress(percent)

	task, err := c.store.Get(ctx, id)
	if err != nil {
		c.logger.Warn("progress report for unknown task", "task_id", id, "error", err)
		return
	}
	if task.Status != datatypes.StatusProcessing {
		c.logger.Debug("progress report ignored, task not processing",
			"task_id", id, "status", task.Status)
		return
	}
	if percent < task.Progress {
		c.logger.Debug("regressing progress report ignored",
			"task_id", id, "have", task.Progress, "got", percent)
		return
	}

	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusProcessing, store.UpdateFields{Progress: &percent}); err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			// The task finished between the status check and the write; the
			// subscriber already saw (or will see) the terminal event.
			c.logger.Debug("progress report raced a terminal transition", "task_id", id)
			return
		}
		c.logger.Warn("failed to persist progress", "task_id", id, "error", err)
		c.metrics.RecordError(ErrKindStore)
	}
	c.publish(id, progress.NewProgress(id, percent, message))
}

// Complete stores the artifact and transitions PROCESSING to COMPLETED.
//
// # Description
//
// The artifact is written through the gateway first; only a durable
// artifact justifies a COMPLETED record. Storage errors (including
// ErrPayloadTooLarge) are returned without changing task state so the
// caller can route them to Fail.
//
// On success the execution slot is released, the outcome counter and
// duration histogram are recorded, storage gauges refresh, and the
// subscriber receives a completion event with a download reference.
func (c *Controller) Complete(ctx context.Context, id string, artifact []byte) error {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.checkTransition(id, task.Status, datatypes.StatusCompleted); err != nil {
		return err
	}

	path, size, err := c.gateway.Save(artifact, task.Title, task.Format)
	if err != nil {
		c.metrics.RecordError(ErrKindStorage)
		return fmt.Errorf("failed to store artifact: %w", err)
	}

	file := &datatypes.FileRef{
		Path:          path,
		SizeBytes:     size,
		DownloadToken: storage.NewDownloadToken(),
	}
	full := 100
	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusCompleted, store.UpdateFields{
		Progress: &full,
		File:     file,
	}); err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			// Cancel won the race between Get and this write. The terminal
			// record stands; the just-saved artifact is an orphan.
			if _, delErr := c.gateway.Delete(path); delErr != nil {
				c.logger.Warn("failed to remove orphaned artifact",
					"task_id", id, "error", delErr)
			}
			return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
		}
		c.metrics.RecordError(ErrKindStore)
		return fmt.Errorf("failed to mark task completed: %w", err)
	}

	run := c.finishRun(id)
	c.recordTerminal(run, datatypes.StatusCompleted, task.Format)
	c.refreshStorageGauges()

	c.publish(id, progress.NewCompleted(id, c.downloadURL(id, file.DownloadToken)))
	c.logger.Info("task completed", "task_id", id, "format", task.Format,
		"artifact_bytes", size)
	return nil
}

// Fail transitions a non-terminal task to FAILED with a stable error kind.
func (c *Controller) Fail(ctx context.Context, id, kind, message string) error {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.checkTransition(id, task.Status, datatypes.StatusFailed); err != nil {
		return err
	}

	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusFailed, store.UpdateFields{
		Error: &datatypes.TaskError{Code: kind, Message: message},
	}); err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
		}
		c.metrics.RecordError(ErrKindStore)
		return fmt.Errorf("failed to mark task failed: %w", err)
	}

	run := c.finishRun(id)
	c.recordTerminal(run, datatypes.StatusFailed, task.Format)
	c.metrics.RecordError(kind)

	c.publish(id, progress.NewError(id, message))
	c.logger.Warn("task failed", "task_id", id, "kind", kind, "message", message)
	return nil
}

// Cancel transitions a PENDING or PROCESSING task to CANCELLED.
//
// The terminal state is written before the task's context is cancelled, so
// a worker unwinding from a suspension point sees CANCELLED and discards
// its late result instead of overwriting the terminal record.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	task, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := c.checkTransition(id, task.Status, datatypes.StatusCancelled); err != nil {
		return err
	}

	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusCancelled, store.UpdateFields{}); err != nil {
		if errors.Is(err, store.ErrTaskTerminal) {
			return fmt.Errorf("%w: task %s", ErrAlreadyTerminal, id)
		}
		c.metrics.RecordError(ErrKindStore)
		return fmt.Errorf("failed to mark task cancelled: %w", err)
	}

	run := c.finishRun(id)
	c.recordTerminal(run, datatypes.StatusCancelled, task.Format)

	c.publish(id, progress.NewCancelled(id))
	c.logger.Info("task cancelled", "task_id", id)
	return nil
}

// Get returns the current task record.
func (c *Controller) Get(ctx context.Context, id string) (*datatypes.ExportTask, error) {
	return c.store.Get(ctx, id)
}

// =============================================================================
// Worker Pipeline
// =============================================================================

// Run executes one task end to end: start, render with live progress, store
// the artifact, and finish with the matching terminal transition.
//
// Run never returns an error; every failure path ends in a terminal task
// state (or a discarded late result) and a log line. It is the unit of work
// the background runner hands to its workers.
func (c *Controller) Run(ctx context.Context, id, content string) {
	if err := c.Start(ctx, id); err != nil {
		if !errors.Is(err, ErrSlotTimeout) && !errors.Is(err, ErrAlreadyTerminal) {
			c.logger.Error("task could not start", "task_id", id, "error", err)
		}
		return
	}

	taskCtx := c.runContext(id)
	task, err := c.store.Get(ctx, id)
	if err != nil {
		_ = c.Fail(ctx, id, ErrKindStore, "task record unavailable")
		return
	}

	artifact, err := c.renderer.Render(taskCtx, task, content, func(percent int, message string) {
		c.ReportProgress(ctx, id, percent, message)
	})
	if err != nil {
		if taskCtx.Err() != nil {
			c.discardOrFail(ctx, id, "render interrupted")
			return
		}
		kind := ErrKindRender
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ErrKindTimeout
		}
		if failErr := c.Fail(ctx, id, kind, err.Error()); failErr != nil {
			c.logger.Error("failed to record render failure",
				"task_id", id, "error", failErr)
		}
		return
	}

	if err := c.Complete(ctx, id, artifact); err != nil {
		if errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrInvalidTransition) {
			c.logger.Info("late result discarded", "task_id", id)
			return
		}
		if failErr := c.Fail(ctx, id, ErrKindStorage, err.Error()); failErr != nil {
			c.logger.Error("failed to record storage failure",
				"task_id", id, "error", failErr)
		}
	}
}

// =============================================================================
// Internals
// =============================================================================

// checkTransition maps an illegal move to the right sentinel.
func (c *Controller) checkTransition(id string, from, to datatypes.Status) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: task %s is %s", ErrAlreadyTerminal, id, from)
	}
	if !datatypes.CanTransition(from, to) {
		return fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidTransition, id, from, to)
	}
	return nil
}

// publish pushes an event to the task's subscriber, counting transport
// failures without ever surfacing them.
func (c *Controller) publish(id string, event any) {
	watched := c.hub.Watched(id)
	if !c.hub.Publish(id, event) && watched {
		// A watcher existed and the write failed; the hub already tore the
		// subscription down.
		c.metrics.RecordError(ErrKindPublish)
	}
}

// finishRun removes the task's run entry, releases its slot, and fires its
// cancellation context. Returns nil for tasks that never started.
func (c *Controller) finishRun(id string) *taskRun {
	c.mu.Lock()
	run := c.running[id]
	delete(c.running, id)
	c.mu.Unlock()

	if run == nil {
		return nil
	}
	if run.slotHeld {
		c.gate.Release()
	}
	run.cancel()
	return run
}

// removeRun deletes the run entry only if it is still the given one.
func (c *Controller) removeRun(id string, run *taskRun) {
	c.mu.Lock()
	if c.running[id] == run {
		delete(c.running, id)
	}
	c.mu.Unlock()
}

// recordTerminal records outcome metrics for one terminal transition. Tasks
// that never reached PROCESSING count toward the outcome counter but not the
// active gauge or the duration histogram.
func (c *Controller) recordTerminal(run *taskRun, status datatypes.Status, format datatypes.Format) {
	if run != nil && run.started {
		c.metrics.TaskFinished(status, format, time.Since(run.startedAt))
		return
	}
	c.metrics.TasksTotal.WithLabelValues(string(status), string(format)).Inc()
}

// failTerminal is Fail for the start path, where the caller already holds
// the outcome (e.g. slot-wait timeout) and only needs best-effort recording.
func (c *Controller) failTerminal(ctx context.Context, id string, format datatypes.Format, kind, message string) {
	if err := c.store.UpdateStatus(ctx, id, datatypes.StatusFailed, store.UpdateFields{
		Error: &datatypes.TaskError{Code: kind, Message: message},
	}); err != nil {
		if !errors.Is(err, store.ErrTaskTerminal) {
			c.logger.Error("failed to mark task failed", "task_id", id, "error", err)
			c.metrics.RecordError(ErrKindStore)
		}
		return
	}
	c.recordTerminal(nil, datatypes.StatusFailed, format)
	c.metrics.RecordError(kind)
	c.publish(id, progress.NewError(id, message))
}

// discardOrFail handles a worker unwinding from a cancelled context: if the
// stored state is already terminal the result is simply discarded, otherwise
// (process shutdown mid-task) the task is failed so it does not stay
// PROCESSING forever.
func (c *Controller) discardOrFail(ctx context.Context, id, message string) {
	task, err := c.store.Get(ctx, id)
	if err == nil && task.Status.IsTerminal() {
		c.logger.Info("late result discarded", "task_id", id, "status", task.Status)
		return
	}
	if err := c.Fail(ctx, id, ErrKindTimeout, message); err != nil {
		c.logger.Error("failed to fail interrupted task", "task_id", id, "error", err)
	}
}

// runContext returns the task's cancellation context, or a background
// context if the run already finished.
func (c *Controller) runContext(id string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run := c.running[id]; run != nil {
		return run.ctx
	}
	return context.Background()
}

// refreshStorageGauges updates the storage gauges from a directory walk.
func (c *Controller) refreshStorageGauges() {
	used, available, err := c.gateway.Usage()
	if err != nil {
		c.logger.Warn("failed to measure storage usage", "error", err)
		return
	}
	c.metrics.SetStorageUsage(used, available)
}

// downloadURL builds the artifact download reference, or nil when no base
// URL is configured.
func (c *Controller) downloadURL(id, token string) *string {
	if c.cfg.DownloadBaseURL == "" {
		return nil
	}
	url := fmt.Sprintf("%s/v1/exports/%s/download?token=%s", c.cfg.DownloadBaseURL, id, token)
	return &url
}

// InFlight returns how many tasks are between Start and a terminal state.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}
