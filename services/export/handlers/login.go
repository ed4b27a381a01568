// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HarborLine/HarborExport/services/export/ratelimit"
)

// loginAttempt reports one login attempt for a username. Success clears the
// window instead of counting against it.
type loginAttempt struct {
	Username string `json:"username" binding:"required"`
	Success  bool   `json:"success"`
}

// HandleLoginAttempt throttles login attempts per username.
//
// # Description
//
// Authentication itself lives in the identity layer; this endpoint is the
// shared attempt counter it consults. Each failed attempt counts against the
// username's fixed window, an over-limit attempt gets 429 with the reset
// delay, and a successful login resets the window so a legitimate user who
// fumbled a password twice is not locked out afterwards.
//
// The window is keyed by username rather than client, so a distributed
// guessing attack against one account is throttled as a whole.
func HandleLoginAttempt(limiter *ratelimit.WindowLimiter, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginAttempt
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ctx := c.Request.Context()
		if req.Success {
			limiter.Reset(ctx, "login", req.Username)
			c.JSON(http.StatusOK, gin.H{"status": "reset"})
			return
		}

		decision := limiter.Check(ctx, "login", req.Username, limit, window)
		if decision.Degraded {
			slog.Warn("rate limiter degraded, allowing login attempt",
				"username", req.Username)
		}
		if !decision.Allowed {
			resetSeconds := int(math.Ceil(decision.ResetAfter.Seconds()))
			c.Header("Retry-After", fmt.Sprintf("%d", resetSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":         "too many login attempts",
				"reset_seconds": resetSeconds,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "allowed",
			"remaining": decision.Remaining,
		})
	}
}
