// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the export service.
//
// # Description
//
// This package instruments the task lifecycle. Metrics include:
//   - Task outcome counters (by status and format)
//   - Task duration histogram (by format)
//   - Active/queued task gauges
//   - Error counters (by kind)
//   - Storage usage gauges
//
// The controller records these at the same points it performs state
// transitions, so dashboards reflect the state machine exactly: the active
// gauge rises on start and falls exactly once on the terminal path, whether
// that path is complete, fail, or cancel.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// Namespace for all metrics.
const metricsNamespace = "harborexport"

// Subsystem for export task metrics.
const exportSubsystem = "export"

// =============================================================================
// Metric Definitions
// =============================================================================

// ExportMetrics holds all Prometheus metrics for export task processing.
//
// Construct one per process with NewExportMetrics and inject it; there is no
// package-level singleton, so tests can register against private registries.
type ExportMetrics struct {
	// TasksTotal counts finished tasks by terminal status and format.
	// Labels: status (completed, failed, cancelled), format (word, pdf, ...)
	TasksTotal *prometheus.CounterVec

	// TaskDurationSeconds measures wall time from start to terminal state.
	// Labels: format
	TaskDurationSeconds *prometheus.HistogramVec

	// ActiveTasks tracks tasks currently in PROCESSING.
	ActiveTasks prometheus.Gauge

	// QueuedTasks tracks tasks waiting for a worker.
	QueuedTasks prometheus.Gauge

	// ErrorsTotal counts errors by kind.
	// Labels: kind (timeout, render_error, storage_error, publish_error, ...)
	ErrorsTotal *prometheus.CounterVec

	// StorageBytesUsed is the artifact bytes currently on disk.
	StorageBytesUsed prometheus.Gauge

	// StorageBytesAvailable is the remaining artifact quota. Negative quota
	// reporting is clamped at zero by the gateway.
	StorageBytesAvailable prometheus.Gauge
}

// NewExportMetrics creates and registers all export metrics.
//
// # Inputs
//
//   - reg: Registry to register against. Nil selects the default registry.
//
// # Limitations
//
//   - Panics if called twice against the same registry (duplicate
//     registration), matching promauto behavior.
func NewExportMetrics(reg prometheus.Registerer) *ExportMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ExportMetrics{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "tasks_total",
				Help:      "Total finished export tasks by terminal status and format",
			},
			[]string{"status", "format"},
		),

		TaskDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "task_duration_seconds",
				Help:      "Export task duration from start to terminal state",
				Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 900},
			},
			[]string{"format"},
		),

		ActiveTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "active_tasks",
				Help:      "Number of export tasks currently processing",
			},
		),

		QueuedTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "queued_tasks",
				Help:      "Number of export tasks waiting for a worker",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "errors_total",
				Help:      "Total export errors by kind",
			},
			[]string{"kind"},
		),

		StorageBytesUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "storage_bytes_used",
				Help:      "Artifact bytes currently stored",
			},
		),

		StorageBytesAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: exportSubsystem,
				Name:      "storage_bytes_available",
				Help:      "Artifact storage bytes remaining under the quota",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// TaskQueued increments the queued gauge.
func (m *ExportMetrics) TaskQueued() { m.QueuedTasks.Inc() }

// TaskDequeued decrements the queued gauge when a worker picks a task up.
func (m *ExportMetrics) TaskDequeued() { m.QueuedTasks.Dec() }

// TaskStarted increments the active gauge.
func (m *ExportMetrics) TaskStarted() { m.ActiveTasks.Inc() }

// TaskFinished records a terminal outcome: outcome counter, duration
// histogram, and the active-gauge decrement, in one place so every terminal
// path stays consistent.
func (m *ExportMetrics) TaskFinished(status datatypes.Status, format datatypes.Format, duration time.Duration) {
	m.ActiveTasks.Dec()
	m.TasksTotal.WithLabelValues(string(status), string(format)).Inc()
	m.TaskDurationSeconds.WithLabelValues(string(format)).Observe(duration.Seconds())
}

// RecordError counts an error by kind.
func (m *ExportMetrics) RecordError(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// SetStorageUsage updates both storage gauges. available < 0 (no quota)
// leaves the available gauge untouched.
func (m *ExportMetrics) SetStorageUsage(used, available int64) {
	m.StorageBytesUsed.Set(float64(used))
	if available >= 0 {
		m.StorageBytesAvailable.Set(float64(available))
	}
}
