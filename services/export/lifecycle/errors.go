// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import "errors"

// Sentinel errors for lifecycle misuse and failure classes. Handlers map
// these to HTTP statuses; callers branch on them with errors.Is.
var (
	// ErrValidation means the submitted request was rejected before a task
	// record was created. Caller's fault.
	ErrValidation = errors.New("export request validation failed")

	// ErrInvalidTransition means the requested status change is not an edge
	// of the lifecycle graph. Stored state is untouched.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrAlreadyTerminal means the task is COMPLETED, FAILED, or CANCELLED
	// and can no longer change.
	ErrAlreadyTerminal = errors.New("task is already in a terminal state")

	// ErrSlotTimeout means no concurrency slot became available within the
	// configured wait; the task was failed with a timeout error. Retryable
	// by resubmitting.
	ErrSlotTimeout = errors.New("timed out waiting for an execution slot")
)

// Stable error kinds recorded on failed tasks and in the errors-by-kind
// counter.
const (
	ErrKindTimeout = "timeout"
	ErrKindRender  = "render_error"
	ErrKindStorage = "storage_error"
	ErrKindPublish = "publish_error"
	ErrKindStore   = "store_error"
)
