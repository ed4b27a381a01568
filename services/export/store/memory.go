// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// MemoryStore is an in-process TaskStore for tests and single-node
// deployments without Postgres.
//
// # Thread Safety
//
// Safe for concurrent use. Get returns copies so callers cannot mutate
// stored state behind the lock's back.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*datatypes.ExportTask
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*datatypes.ExportTask)}
}

// Create implements TaskStore.
func (s *MemoryStore) Create(_ context.Context, task *datatypes.ExportTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	record := cloneTask(task)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = stamp()
	}
	record.UpdatedAt = record.CreatedAt
	s.tasks[task.ID] = record
	return nil
}

// Get implements TaskStore.
func (s *MemoryStore) Get(_ context.Context, id string) (*datatypes.ExportTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return cloneTask(task), nil
}

// UpdateStatus implements TaskStore.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status datatypes.Status, fields UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, task.Status)
	}

	task.Status = status
	if fields.Progress != nil {
		task.Progress = *fields.Progress
	}
	if fields.File != nil {
		file := *fields.File
		task.File = &file
	}
	if fields.Error != nil {
		taskErr := *fields.Error
		task.Error = &taskErr
	}
	task.UpdatedAt = stamp()
	return nil
}

// cloneTask deep-copies a task record.
func cloneTask(t *datatypes.ExportTask) *datatypes.ExportTask {
	c := *t
	if t.Options != nil {
		c.Options = make(map[string]string, len(t.Options))
		for k, v := range t.Options {
			c.Options[k] = v
		}
	}
	if t.File != nil {
		file := *t.File
		c.File = &file
	}
	if t.Error != nil {
		taskErr := *t.Error
		c.Error = &taskErr
	}
	return &c
}

// Compile-time interface compliance check.
var _ TaskStore = (*MemoryStore)(nil)
