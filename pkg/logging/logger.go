// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for HarborLine services.
//
// Built on log/slog with a JSON handler. Each service gets a logger tagged
// with its name so multi-service log streams stay separable:
//
//	logger := logging.New("export", "info")
//	logger.Info("task started", "task_id", id)
//
// # Log Levels
//
// Four levels, matching slog conventions: debug, info, warn, error.
// Unknown level strings fall back to info.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// keep tokens and artifact contents out of log attributes.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level. Unknown names select info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a JSON logger tagged with the service name, writing to stdout.
func New(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

// Setup creates the service logger and installs it as the process default,
// so package-level slog calls share the same handler.
func Setup(service, level string) *slog.Logger {
	logger := New(service, level)
	slog.SetDefault(logger)
	return logger
}
