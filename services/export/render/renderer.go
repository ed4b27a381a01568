// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package render turns export request content into artifact bytes.
//
// Rendering fidelity is deliberately thin: the lifecycle controller cares
// about the shape of the pipeline (progress callbacks, cancellation, bytes
// out), not about producing publication-grade documents. MarkdownRenderer
// works locally; AIRenderer delegates body generation to an OpenAI chat
// completion and therefore must be called through the lifecycle's call gate.
package render

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// ProgressFunc receives rendering progress as a percentage and a
// human-readable message. Implementations must be cheap and non-blocking;
// the renderer calls it inline.
type ProgressFunc func(percent int, message string)

// Renderer produces an artifact from a task's content.
type Renderer interface {
	// Render produces the artifact bytes for the task. It observes ctx at
	// every internal step and returns ctx.Err() promptly on cancellation.
	// report may be nil.
	Render(ctx context.Context, task *datatypes.ExportTask, content string, report ProgressFunc) ([]byte, error)
}

// =============================================================================
// Markdown Renderer
// =============================================================================

// MarkdownRenderer assembles a titled markdown document from the request
// content. It serves every format; non-markdown formats get the same bytes
// under their canonical extension.
type MarkdownRenderer struct {
	// StepDelay inserts an artificial pause between progress steps. Used by
	// tests to widen cancellation windows; zero in production.
	StepDelay time.Duration
}

// Render implements Renderer.
func (r *MarkdownRenderer) Render(ctx context.Context, task *datatypes.ExportTask, content string, report ProgressFunc) ([]byte, error) {
	steps := []struct {
		percent int
		message string
	}{
		{10, "preparing document"},
		{45, "rendering content"},
		{80, "finalizing document"},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if report != nil {
			report(step.percent, step.message)
		}
		if r.StepDelay > 0 {
			select {
			case <-time.After(r.StepDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	var doc strings.Builder
	doc.WriteString("# ")
	doc.WriteString(task.Title)
	doc.WriteString("\n\n")
	doc.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		doc.WriteString("\n")
	}
	return []byte(doc.String()), nil
}

// Compile-time interface compliance check.
var _ Renderer = (*MarkdownRenderer)(nil)

// =============================================================================
// AI Renderer
// =============================================================================

// ChatCompleter is the slice of the OpenAI client the AIRenderer uses.
// Tests substitute fakes.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIRenderer generates the document body with a chat completion and wraps it
// the same way MarkdownRenderer does. Callers are responsible for pacing:
// this renderer performs one upstream call per Render and must sit behind
// the call gate.
type AIRenderer struct {
	client ChatCompleter
	model  string
}

// NewAIRenderer wraps an OpenAI-compatible client. An empty model selects
// gpt-4o-mini.
func NewAIRenderer(client ChatCompleter, model string) *AIRenderer {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &AIRenderer{client: client, model: model}
}

// Render implements Renderer.
func (r *AIRenderer) Render(ctx context.Context, task *datatypes.ExportTask, content string, report ProgressFunc) ([]byte, error) {
	if report != nil {
		report(10, "generating document content")
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You write well-structured report documents in markdown. Respond with the document body only.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Title: %s\n\nSource material:\n%s", task.Title, content),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("content generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("content generation returned no choices")
	}

	if report != nil {
		report(70, "formatting document")
	}

	body := strings.TrimSpace(resp.Choices[0].Message.Content)
	doc := fmt.Sprintf("# %s\n\n%s\n", task.Title, body)
	return []byte(doc), nil
}

// Compile-time interface compliance check.
var _ Renderer = (*AIRenderer)(nil)
