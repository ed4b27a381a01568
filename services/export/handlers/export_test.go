// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
	"github.com/HarborLine/HarborExport/services/export/lifecycle"
	"github.com/HarborLine/HarborExport/services/export/observability"
	"github.com/HarborLine/HarborExport/services/export/progress"
	"github.com/HarborLine/HarborExport/services/export/ratelimit"
	"github.com/HarborLine/HarborExport/services/export/render"
	"github.com/HarborLine/HarborExport/services/export/storage"
	"github.com/HarborLine/HarborExport/services/export/store"
)

type handlerEnv struct {
	router     *gin.Engine
	controller *lifecycle.Controller
	runner     *lifecycle.Runner
	store      *store.MemoryStore
	gateway    *storage.Gateway
}

func newHandlerEnv(t *testing.T, exportLimit int64) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gateway, err := storage.NewGateway(t.TempDir(), 10<<20, 0)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}

	memStore := store.NewMemoryStore()
	metrics := observability.NewExportMetrics(prometheus.NewRegistry())
	hub := progress.NewHub(nil)
	gate := ratelimit.NewCallGate("render", 1000, 1000, 4)
	controller := lifecycle.NewController(nil, memStore, hub, gate, gateway,
		&render.MarkdownRenderer{}, metrics, lifecycle.Config{SlotWaitTimeout: time.Second})
	runner := lifecycle.NewRunner(controller, metrics, nil,
		lifecycle.RunnerConfig{WorkerCount: 1, QueueSize: 8})
	limiter := ratelimit.NewWindowLimiter(ratelimit.NewMemoryCounterStore(), nil)

	router := gin.New()
	router.POST("/v1/exports",
		WindowLimit(limiter, "export", exportLimit, time.Minute),
		HandleSubmitExport(controller, runner))
	router.GET("/v1/exports/:id", HandleGetExport(controller))
	router.DELETE("/v1/exports/:id", HandleCancelExport(controller))
	router.GET("/v1/exports/:id/download", HandleDownloadExport(controller, gateway))
	router.POST("/v1/login/attempts", HandleLoginAttempt(limiter, 3, 15*time.Minute))
	router.GET("/health", HealthCheck)

	return &handlerEnv{
		router:     router,
		controller: controller,
		runner:     runner,
		store:      memStore,
		gateway:    gateway,
	}
}

func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validRequest() datatypes.ExportRequest {
	return datatypes.ExportRequest{
		Format:  "pdf",
		Title:   "Quarterly Report",
		Content: "All numbers up.",
	}
}

// -----------------------------------------------------------------------------
// Submit
// -----------------------------------------------------------------------------

func TestHandleSubmitExport(t *testing.T) {
	env := newHandlerEnv(t, 100)

	w := env.do(t, http.MethodPost, "/v1/exports", validRequest())
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.TaskID == "" || out.Status != "pending" {
		t.Errorf("response = %+v, want pending task with id", out)
	}
}

func TestHandleSubmitExport_ValidationError(t *testing.T) {
	env := newHandlerEnv(t, 100)

	req := validRequest()
	req.Format = "xlsx"
	w := env.do(t, http.MethodPost, "/v1/exports", req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleSubmitExport_RateLimited(t *testing.T) {
	env := newHandlerEnv(t, 2)

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPost, "/v1/exports", validRequest()); w.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/v1/exports", validRequest())
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	var out struct {
		ResetSeconds int `json:"reset_seconds"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if out.ResetSeconds < 1 {
		t.Errorf("reset_seconds = %d, want >= 1", out.ResetSeconds)
	}
}

// -----------------------------------------------------------------------------
// Get / Cancel
// -----------------------------------------------------------------------------

func TestHandleGetExport_NotFound(t *testing.T) {
	env := newHandlerEnv(t, 100)

	w := env.do(t, http.MethodGet, "/v1/exports/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleCancelExport(t *testing.T) {
	env := newHandlerEnv(t, 100)
	ctx := context.Background()

	task, err := env.controller.Submit(ctx, &datatypes.ExportRequest{
		Format: "pdf", Title: "t", Content: "c",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	w := env.do(t, http.MethodDelete, "/v1/exports/"+task.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// Cancelling a terminal task conflicts.
	w = env.do(t, http.MethodDelete, "/v1/exports/"+task.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", w.Code)
	}
}

// -----------------------------------------------------------------------------
// Login Throttling
// -----------------------------------------------------------------------------

func TestHandleLoginAttempt_ThrottlesPerUsername(t *testing.T) {
	env := newHandlerEnv(t, 100)

	attempt := map[string]any{"username": "jdoe"}
	for i := 0; i < 3; i++ {
		if w := env.do(t, http.MethodPost, "/v1/login/attempts", attempt); w.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, "/v1/login/attempts", attempt)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 over the limit", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}

	// Another username has its own window.
	w = env.do(t, http.MethodPost, "/v1/login/attempts", map[string]any{"username": "other"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a different username", w.Code)
	}
}

func TestHandleLoginAttempt_SuccessResetsWindow(t *testing.T) {
	env := newHandlerEnv(t, 100)

	attempt := map[string]any{"username": "jdoe"}
	for i := 0; i < 3; i++ {
		_ = env.do(t, http.MethodPost, "/v1/login/attempts", attempt)
	}
	if w := env.do(t, http.MethodPost, "/v1/login/attempts", attempt); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 before reset", w.Code)
	}

	w := env.do(t, http.MethodPost, "/v1/login/attempts",
		map[string]any{"username": "jdoe", "success": true})
	if w.Code != http.StatusOK {
		t.Fatalf("success report status = %d, want 200", w.Code)
	}

	if w := env.do(t, http.MethodPost, "/v1/login/attempts", attempt); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 after the window was reset", w.Code)
	}
}

func TestHandleLoginAttempt_MissingUsername(t *testing.T) {
	env := newHandlerEnv(t, 100)

	w := env.do(t, http.MethodPost, "/v1/login/attempts", map[string]any{"success": false})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without a username", w.Code)
	}
}

// -----------------------------------------------------------------------------
// Download
// -----------------------------------------------------------------------------

func TestHandleDownloadExport(t *testing.T) {
	env := newHandlerEnv(t, 100)
	ctx := context.Background()

	task, err := env.controller.Submit(ctx, &datatypes.ExportRequest{
		Format: "markdown", Title: "t", Content: "c",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := env.controller.Start(ctx, task.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.controller.Complete(ctx, task.ID, []byte("# t\n\nbody\n")); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	stored, _ := env.store.Get(ctx, task.ID)

	w := env.do(t, http.MethodGet,
		fmt.Sprintf("/v1/exports/%s/download?token=%s", task.ID, stored.File.DownloadToken), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "# t\n\nbody\n" {
		t.Errorf("body = %q, want artifact bytes", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/exports/"+task.ID+"/download?token=wrong", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token status = %d, want 403", w.Code)
	}
}

func TestHandleDownloadExport_NotCompleted(t *testing.T) {
	env := newHandlerEnv(t, 100)

	task, err := env.controller.Submit(context.Background(), &datatypes.ExportRequest{
		Format: "pdf", Title: "t", Content: "c",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	w := env.do(t, http.MethodGet, "/v1/exports/"+task.ID+"/download?token=x", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for pending task", w.Code)
	}
}
