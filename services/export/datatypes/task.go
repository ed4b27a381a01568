// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the export task domain model.
//
// An ExportTask tracks one document export job through its lifecycle:
//
//	PENDING ──► PROCESSING ──► COMPLETED
//	   │             │    └──► FAILED
//	   └─────────────┴───────► CANCELLED
//
// COMPLETED, FAILED, and CANCELLED are terminal. No transition leaves a
// terminal state; CanTransition is the single source of truth for the graph
// and is enforced by the lifecycle controller before any store write.
//
// # Thread Safety
//
// Values in this package are plain data. Concurrent mutation of a shared
// ExportTask must be coordinated by the owner (the lifecycle controller).
package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Formats
// =============================================================================

// Format identifies the artifact type produced by an export task.
type Format string

const (
	// FormatWord produces a .docx document.
	FormatWord Format = "word"

	// FormatPDF produces a .pdf document.
	FormatPDF Format = "pdf"

	// FormatPPTX produces a .pptx slide deck.
	FormatPPTX Format = "pptx"

	// FormatMarkdown produces a plain .md file.
	FormatMarkdown Format = "markdown"
)

// SupportedFormats lists every format Submit accepts, in a stable order.
var SupportedFormats = []Format{FormatWord, FormatPDF, FormatPPTX, FormatMarkdown}

// ParseFormat normalizes and validates a format string.
//
// # Inputs
//
//   - s: Raw format value, case-insensitive.
//
// # Outputs
//
//   - Format: The canonical format on success.
//   - error: Non-nil if the value is not a supported format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SupportedFormats {
		if f == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q (supported: word, pdf, pptx, markdown)", s)
}

// Extension returns the canonical file extension for the format, including
// the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatWord:
		return ".docx"
	case FormatPDF:
		return ".pdf"
	case FormatPPTX:
		return ".pptx"
	case FormatMarkdown:
		return ".md"
	default:
		return ".bin"
	}
}

// Valid reports whether the format is one of the supported enum values.
func (f Format) Valid() bool {
	_, err := ParseFormat(string(f))
	return err == nil
}

// =============================================================================
// Statuses
// =============================================================================

// Status represents the lifecycle state of an export task.
type Status string

const (
	// StatusPending means the task is recorded but not yet picked up.
	StatusPending Status = "pending"

	// StatusProcessing means a worker is executing the task.
	StatusProcessing Status = "processing"

	// StatusCompleted means the artifact was produced and stored.
	StatusCompleted Status = "completed"

	// StatusFailed means execution ended with an error.
	StatusFailed Status = "failed"

	// StatusCancelled means the task was cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another is legal.
//
// The graph is intentionally small:
//
//   - pending    → processing, failed, cancelled
//   - processing → completed, failed, cancelled
//   - terminal   → (nothing)
//
// Self-transitions are not legal; idempotent writes are the store's concern,
// not the state machine's.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// =============================================================================
// Task Record
// =============================================================================

// FileRef points at a stored artifact. Present only on COMPLETED tasks.
type FileRef struct {
	// Path is the gateway-relative location of the artifact.
	Path string `json:"path"`

	// SizeBytes is the artifact size on disk.
	SizeBytes int64 `json:"size_bytes"`

	// DownloadToken is an opaque token embedded in the download URL.
	DownloadToken string `json:"download_token"`
}

// TaskError describes why a task FAILED. Present only on FAILED tasks.
type TaskError struct {
	// Code is a stable, machine-readable error kind (timeout, render_error, ...).
	Code string `json:"code"`

	// Message is human-readable detail for operators and clients.
	Message string `json:"message"`
}

// ExportTask is the persistent record of one export job.
//
// Invariants (enforced by the lifecycle controller):
//
//   - Progress is 0 while PENDING, within [0,100] while PROCESSING, and
//     exactly 100 when COMPLETED. It never decreases while PROCESSING.
//   - File and Error are mutually exclusive and both nil before a terminal
//     state.
//   - Status only ever moves along the CanTransition graph.
type ExportTask struct {
	ID        string            `json:"id"`
	Format    Format            `json:"format"`
	Status    Status            `json:"status"`
	Progress  int               `json:"progress"`
	Title     string            `json:"title"`
	Options   map[string]string `json:"options,omitempty"`
	File      *FileRef          `json:"file,omitempty"`
	Error     *TaskError        `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ClampProgress forces a reported percentage into [0,100].
func ClampProgress(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
