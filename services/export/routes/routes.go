// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HarborLine/HarborExport/services/export/handlers"
	"github.com/HarborLine/HarborExport/services/export/lifecycle"
	"github.com/HarborLine/HarborExport/services/export/progress"
	"github.com/HarborLine/HarborExport/services/export/ratelimit"
	"github.com/HarborLine/HarborExport/services/export/storage"
)

// Deps bundles everything the routes need.
type Deps struct {
	Controller *lifecycle.Controller
	Runner     *lifecycle.Runner
	Hub        *progress.Hub
	Gateway    *storage.Gateway
	Limiter    *ratelimit.WindowLimiter

	// Registry backs the /metrics endpoint.
	Registry *prometheus.Registry

	// ExportLimitCount / ExportLimitWindow throttle POST /v1/exports per
	// client.
	ExportLimitCount  int64
	ExportLimitWindow time.Duration

	// LoginLimitCount / LoginLimitWindow throttle login attempts per
	// username.
	LoginLimitCount  int64
	LoginLimitWindow time.Duration

	// WSWriteTimeout bounds one progress write to a subscriber.
	WSWriteTimeout time.Duration
}

// SetupRoutes registers every endpoint of the export service.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry,
		promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/login/attempts",
			handlers.HandleLoginAttempt(deps.Limiter, deps.LoginLimitCount, deps.LoginLimitWindow))

		exports := v1.Group("/exports")
		{
			exports.POST("",
				handlers.WindowLimit(deps.Limiter, "export", deps.ExportLimitCount, deps.ExportLimitWindow),
				handlers.HandleSubmitExport(deps.Controller, deps.Runner))
			exports.GET("/:id", handlers.HandleGetExport(deps.Controller))
			exports.DELETE("/:id", handlers.HandleCancelExport(deps.Controller))
			exports.GET("/:id/ws", handlers.HandleProgressWS(deps.Controller, deps.Hub, deps.WSWriteTimeout))
			exports.GET("/:id/download", handlers.HandleDownloadExport(deps.Controller, deps.Gateway))
		}
	}
}
