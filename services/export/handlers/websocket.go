// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/HarborLine/HarborExport/services/export/lifecycle"
	"github.com/HarborLine/HarborExport/services/export/progress"
	"github.com/HarborLine/HarborExport/services/export/store"
)

// DefaultWSWriteTimeout bounds one progress write to a subscriber. A peer
// that cannot drain a write within this window is treated as disconnected.
const DefaultWSWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsEndpoint adapts a gorilla connection to the progress hub's Endpoint.
// Every write carries a deadline so a dead peer fails the write instead of
// parking the publisher.
type wsEndpoint struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (e *wsEndpoint) WriteJSON(v any) error {
	if err := e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout)); err != nil {
		return err
	}
	return e.conn.WriteJSON(v)
}

func (e *wsEndpoint) Close() error {
	return e.conn.Close()
}

// HandleProgressWS subscribes a websocket client to a task's progress.
//
// # Description
//
// The task must exist; 404 is decided before upgrading. After the upgrade
// the hub owns the connection: a newer subscriber for the same task evicts
// this one, and a failed write tears it down. The read loop exists only to
// notice the peer going away.
func HandleProgressWS(controller *lifecycle.Controller, hub *progress.Hub, writeTimeout time.Duration) gin.HandlerFunc {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWSWriteTimeout
	}
	return func(c *gin.Context) {
		id := c.Param("id")
		task, err := controller.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrTaskNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			slog.Error("failed to load task for subscription", "task_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade websocket", "task_id", id, "error", err)
			return
		}

		sub, err := hub.Subscribe(id, &wsEndpoint{conn: conn, writeTimeout: writeTimeout},
			progress.NewConnected(id, task.Status))
		if err != nil {
			// The endpoint is already closed by the hub.
			slog.Info("subscriber lost before connected event", "task_id", id, "error", err)
			return
		}
		slog.Info("progress subscriber connected", "task_id", id)

		// Block until the peer disconnects; inbound payloads are ignored.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unsubscribe(sub)
		slog.Info("progress subscriber disconnected", "task_id", id)
	}
}
