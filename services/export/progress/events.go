// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import "github.com/HarborLine/HarborExport/services/export/datatypes"

// Event type discriminators. These values are part of the wire contract
// with clients; do not rename.
const (
	TypeConnected = "connected"
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeError     = "error"
	TypeCancelled = "cancelled"
)

// ConnectedEvent is sent synthetically on subscribe so a reconnecting client
// resynchronizes with the task's current status without waiting for the next
// natural event.
type ConnectedEvent struct {
	Type   string           `json:"type"`
	TaskID string           `json:"task_id"`
	Status datatypes.Status `json:"status"`
}

// ProgressEvent carries a percentage and a human-readable message.
type ProgressEvent struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// CompletedEvent closes the stream with a download reference. DownloadURL is
// null when the artifact has no reachable URL.
type CompletedEvent struct {
	Type        string  `json:"type"`
	TaskID      string  `json:"task_id"`
	Status      string  `json:"status"`
	DownloadURL *string `json:"download_url"`
}

// ErrorEvent closes the stream with the task's failure message.
type ErrorEvent struct {
	Type         string `json:"type"`
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// CancelledEvent closes the stream after a cancellation.
type CancelledEvent struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// NewConnected builds the synthetic subscribe-time event.
func NewConnected(taskID string, status datatypes.Status) ConnectedEvent {
	return ConnectedEvent{Type: TypeConnected, TaskID: taskID, Status: status}
}

// NewProgress builds a progress event. The caller clamps the percentage.
func NewProgress(taskID string, percent int, message string) ProgressEvent {
	return ProgressEvent{Type: TypeProgress, TaskID: taskID, Progress: percent, Message: message}
}

// NewCompleted builds a completion event. downloadURL may be nil.
func NewCompleted(taskID string, downloadURL *string) CompletedEvent {
	return CompletedEvent{
		Type:        TypeCompleted,
		TaskID:      taskID,
		Status:      string(datatypes.StatusCompleted),
		DownloadURL: downloadURL,
	}
}

// NewError builds a failure event.
func NewError(taskID, message string) ErrorEvent {
	return ErrorEvent{
		Type:         TypeError,
		TaskID:       taskID,
		Status:       string(datatypes.StatusFailed),
		ErrorMessage: message,
	}
}

// NewCancelled builds a cancellation event.
func NewCancelled(taskID string) CancelledEvent {
	return CancelledEvent{
		Type:   TypeCancelled,
		TaskID: taskID,
		Status: string(datatypes.StatusCancelled),
	}
}
