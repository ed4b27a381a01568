// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// PostgresStore persists tasks in Postgres via pgx.
//
// Expected schema:
//
//	CREATE TABLE export_tasks (
//	    id             TEXT PRIMARY KEY,
//	    format         TEXT NOT NULL,
//	    status         TEXT NOT NULL,
//	    progress       INT NOT NULL DEFAULT 0,
//	    title          TEXT NOT NULL DEFAULT '',
//	    options        JSONB,
//	    file_ref       JSONB,
//	    task_error     JSONB,
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create implements TaskStore.
func (s *PostgresStore) Create(ctx context.Context, task *datatypes.ExportTask) error {
	options, err := json.Marshal(task.Options)
	if err != nil {
		return fmt.Errorf("failed to encode task options: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO export_tasks (id, format, status, progress, title, options)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		task.ID, string(task.Format), string(task.Status), task.Progress, task.Title, options,
	)
	if err != nil {
		return fmt.Errorf("failed to insert export task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	return nil
}

// Get implements TaskStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (*datatypes.ExportTask, error) {
	var (
		task       datatypes.ExportTask
		format     string
		status     string
		options    []byte
		fileRef    []byte
		taskErrRaw []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, format, status, progress, title, options, file_ref, task_error,
		       created_at, updated_at
		FROM export_tasks WHERE id = $1`, id,
	).Scan(&task.ID, &format, &status, &task.Progress, &task.Title,
		&options, &fileRef, &taskErrRaw, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to load export task: %w", err)
	}

	task.Format = datatypes.Format(format)
	task.Status = datatypes.Status(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &task.Options); err != nil {
			return nil, fmt.Errorf("failed to decode task options: %w", err)
		}
	}
	if len(fileRef) > 0 {
		task.File = &datatypes.FileRef{}
		if err := json.Unmarshal(fileRef, task.File); err != nil {
			return nil, fmt.Errorf("failed to decode file reference: %w", err)
		}
	}
	if len(taskErrRaw) > 0 {
		task.Error = &datatypes.TaskError{}
		if err := json.Unmarshal(taskErrRaw, task.Error); err != nil {
			return nil, fmt.Errorf("failed to decode task error: %w", err)
		}
	}
	return &task, nil
}

// UpdateStatus implements TaskStore.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status datatypes.Status, fields UpdateFields) error {
	var fileRef, taskErr []byte
	var err error
	if fields.File != nil {
		if fileRef, err = json.Marshal(fields.File); err != nil {
			return fmt.Errorf("failed to encode file reference: %w", err)
		}
	}
	if fields.Error != nil {
		if taskErr, err = json.Marshal(fields.Error); err != nil {
			return fmt.Errorf("failed to encode task error: %w", err)
		}
	}

	// The status predicate makes terminal immutability atomic with the
	// write; a racing cancel that committed first leaves zero rows here.
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_tasks
		SET status     = $2,
		    progress   = COALESCE($3, progress),
		    file_ref   = COALESCE($4, file_ref),
		    task_error = COALESCE($5, task_error),
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, string(status), fields.Progress, fileRef, taskErr,
	)
	if err != nil {
		return fmt.Errorf("failed to update export task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM export_tasks WHERE id = $1`, id).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			return fmt.Errorf("failed to check export task status: %w", err)
		}
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, current)
	}
	return nil
}

// Compile-time interface compliance check.
var _ TaskStore = (*PostgresStore)(nil)
