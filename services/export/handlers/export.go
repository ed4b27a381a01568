// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the export lifecycle over HTTP.
//
// Handlers stay thin: decode, call the controller, map sentinel errors to
// statuses. Everything interesting happens in the lifecycle package.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
	"github.com/HarborLine/HarborExport/services/export/lifecycle"
	"github.com/HarborLine/HarborExport/services/export/storage"
	"github.com/HarborLine/HarborExport/services/export/store"
)

// HandleSubmitExport creates a task and enqueues it for execution.
func HandleSubmitExport(controller *lifecycle.Controller, runner *lifecycle.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		task, err := controller.Submit(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, lifecycle.ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("failed to submit export task", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create export task"})
			return
		}

		if err := runner.Enqueue(task.ID, req.Content); err != nil {
			if errors.Is(err, lifecycle.ErrQueueFull) {
				// The PENDING record stays; the client may retry or poll.
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error":   "export queue is full, try again later",
					"task_id": task.ID,
				})
				return
			}
			slog.Error("failed to enqueue export task", "task_id", task.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue export task"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"task_id": task.ID,
			"status":  task.Status,
		})
	}
}

// HandleGetExport returns the current task record.
func HandleGetExport(controller *lifecycle.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := controller.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			slog.Error("failed to load export task", "task_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// HandleCancelExport cancels a PENDING or PROCESSING task.
func HandleCancelExport(controller *lifecycle.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := controller.Cancel(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrTaskNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			case errors.Is(err, lifecycle.ErrAlreadyTerminal):
				c.JSON(http.StatusConflict, gin.H{"error": "task is already in a terminal state"})
			default:
				slog.Error("failed to cancel export task", "task_id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel task"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"task_id": id, "status": datatypes.StatusCancelled})
	}
}

// contentTypes maps formats to download content types.
var contentTypes = map[datatypes.Format]string{
	datatypes.FormatWord:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	datatypes.FormatPDF:      "application/pdf",
	datatypes.FormatPPTX:     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	datatypes.FormatMarkdown: "text/markdown; charset=utf-8",
}

// HandleDownloadExport streams a completed task's artifact.
//
// The download token from the completion event must match the stored one;
// this is possession-based access, not authentication.
func HandleDownloadExport(controller *lifecycle.Controller, gateway *storage.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		task, err := controller.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			slog.Error("failed to load export task", "task_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
			return
		}

		if task.Status != datatypes.StatusCompleted || task.File == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "task has no artifact"})
			return
		}
		if c.Query("token") != task.File.DownloadToken {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid download token"})
			return
		}

		data, err := gateway.Read(task.File.Path)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Artifact reclaimed by retention cleanup.
				c.JSON(http.StatusGone, gin.H{"error": "artifact no longer available"})
				return
			}
			slog.Error("failed to read artifact", "task_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read artifact"})
			return
		}

		contentType := contentTypes[task.Format]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Disposition", "attachment")
		c.Data(http.StatusOK, contentType, data)
	}
}

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
