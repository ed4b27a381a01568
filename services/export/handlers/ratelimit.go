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

// ClientIDHeader lets callers present a stable identity for rate limiting.
// Absent the header, the remote address is used.
const ClientIDHeader = "X-Client-ID"

// WindowLimit throttles a route group with the fixed-window counter.
//
// # Description
//
// The identifier is the X-Client-ID header or, failing that, the client IP.
// Over-limit requests get 429 with a Retry-After header and the reset delay
// in the body. A degraded decision (counter store down) lets the request
// through and logs; availability wins over strict enforcement here.
func WindowLimit(limiter *ratelimit.WindowLimiter, scope string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.GetHeader(ClientIDHeader)
		if identifier == "" {
			identifier = c.ClientIP()
		}

		decision := limiter.Check(c.Request.Context(), scope, identifier, limit, window)
		if decision.Degraded {
			slog.Warn("rate limiter degraded, allowing request",
				"scope", scope, "identifier", identifier)
		}
		if !decision.Allowed {
			resetSeconds := int(math.Ceil(decision.ResetAfter.Seconds()))
			c.Header("Retry-After", fmt.Sprintf("%d", resetSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":         "rate limit exceeded",
				"reset_seconds": resetSeconds,
			})
			return
		}
		c.Next()
	}
}
