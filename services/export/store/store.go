// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists export task records.
//
// Terminal statuses are immutable at the write itself: UpdateStatus refuses
// to touch a record that is already COMPLETED, FAILED, or CANCELLED. The
// lifecycle controller checks transitions before writing, but between its
// check and its write a racing Cancel may land first; the store-level guard
// is what makes that race lose instead of resurrecting the task.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// Sentinel errors shared by all implementations.
var (
	// ErrTaskNotFound is returned when the task id does not exist.
	ErrTaskNotFound = errors.New("export task not found")

	// ErrTaskExists is returned when Create is called with an id already
	// in use.
	ErrTaskExists = errors.New("export task already exists")

	// ErrTaskTerminal is returned when UpdateStatus would overwrite a record
	// that already holds a terminal status.
	ErrTaskTerminal = errors.New("export task already in a terminal state")
)

// UpdateFields carries the optional attributes written alongside a status
// change. Nil fields are left untouched.
type UpdateFields struct {
	Progress *int
	File     *datatypes.FileRef
	Error    *datatypes.TaskError
}

// TaskStore is the narrow persistence interface the lifecycle controller
// depends on. The relational schema behind it is an external concern.
type TaskStore interface {
	// Create persists a new task record. Fails with ErrTaskExists on
	// duplicate ids.
	Create(ctx context.Context, task *datatypes.ExportTask) error

	// Get returns a copy of the task record, or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*datatypes.ExportTask, error)

	// UpdateStatus writes the status and any provided fields, stamping
	// UpdatedAt. Fails with ErrTaskNotFound for unknown ids and with
	// ErrTaskTerminal when the stored status is already terminal; the check
	// and the write are one atomic step.
	UpdateStatus(ctx context.Context, id string, status datatypes.Status, fields UpdateFields) error
}

// stamp returns the current UTC time truncated to milliseconds, matching
// what the database column stores.
func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
