// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

var (
	submitFormat      string
	submitTitle       string
	submitContent     string
	submitContentFile string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new export task",
	Run:   runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the current state of a task",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Stream live progress events for a task",
	Args:  cobra.ExactArgs(1),
	Run:   runWatch,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending or processing task",
	Args:  cobra.ExactArgs(1),
	Run:   runCancel,
}

func init() {
	submitCmd.Flags().StringVar(&submitFormat, "format", "pdf",
		"Artifact format: word, pdf, pptx, or markdown")
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "Document title (required)")
	submitCmd.Flags().StringVar(&submitContent, "content", "", "Inline document content")
	submitCmd.Flags().StringVar(&submitContentFile, "content-file", "",
		"File to read document content from (- for stdin)")
	_ = submitCmd.MarkFlagRequired("title")
}

func runSubmit(cmd *cobra.Command, args []string) {
	content := submitContent
	if submitContentFile != "" {
		var data []byte
		var err error
		if submitContentFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(submitContentFile)
		}
		if err != nil {
			log.Fatalf("Error reading content: %v", err)
		}
		content = string(data)
	}
	if content == "" {
		log.Fatal("Error: provide --content or --content-file")
	}

	body, _ := json.Marshal(datatypes.ExportRequest{
		Format:   submitFormat,
		Title:    submitTitle,
		Content:  content,
		ClientID: clientID,
	})

	resp := doRequest(http.MethodPost, "/v1/exports", bytes.NewReader(body))
	defer resp.Body.Close()

	var out struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	decodeBody(resp, &out)
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("Submit failed (%d): %s", resp.StatusCode, out.Error)
	}
	fmt.Printf("Task submitted: %s (%s)\n", out.TaskID, out.Status)
	fmt.Printf("Watch progress with: exportctl watch %s\n", out.TaskID)
}

func runStatus(cmd *cobra.Command, args []string) {
	resp := doRequest(http.MethodGet, "/v1/exports/"+args[0], nil)
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Fatalf("Task %s not found", args[0])
	}
	var task datatypes.ExportTask
	decodeBody(resp, &task)

	fmt.Printf("Task:     %s\n", task.ID)
	fmt.Printf("Format:   %s\n", task.Format)
	fmt.Printf("Status:   %s\n", task.Status)
	fmt.Printf("Progress: %d%%\n", task.Progress)
	if task.File != nil {
		fmt.Printf("Artifact: %s (%d bytes)\n", task.File.Path, task.File.SizeBytes)
	}
	if task.Error != nil {
		fmt.Printf("Error:    [%s] %s\n", task.Error.Code, task.Error.Message)
	}
}

func runCancel(cmd *cobra.Command, args []string) {
	resp := doRequest(http.MethodDelete, "/v1/exports/"+args[0], nil)
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	decodeBody(resp, &out)
	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("Task %s cancelled\n", args[0])
	case http.StatusConflict:
		log.Fatalf("Task %s is already finished", args[0])
	case http.StatusNotFound:
		log.Fatalf("Task %s not found", args[0])
	default:
		log.Fatalf("Cancel failed (%d): %s", resp.StatusCode, out.Error)
	}
}

// progressFrame is the union of the event shapes the service publishes.
type progressFrame struct {
	Type         string  `json:"type"`
	TaskID       string  `json:"task_id"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	Message      string  `json:"message"`
	DownloadURL  *string `json:"download_url"`
	ErrorMessage string  `json:"error_message"`
}

func runWatch(cmd *cobra.Command, args []string) {
	wsURL, err := url.Parse(serverURL)
	if err != nil {
		log.Fatalf("Invalid server URL: %v", err)
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/v1/exports/" + args[0] + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, httpResp, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		if httpResp != nil && httpResp.StatusCode == http.StatusNotFound {
			log.Fatalf("Task %s not found", args[0])
		}
		log.Fatalf("Error connecting: %v", err)
	}
	defer conn.Close()

	for {
		var frame progressFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		switch frame.Type {
		case "connected":
			fmt.Printf("Connected, task is %s\n", frame.Status)
		case "progress":
			fmt.Printf("[%3d%%] %s\n", frame.Progress, frame.Message)
		case "completed":
			if frame.DownloadURL != nil {
				fmt.Printf("Completed: %s\n", *frame.DownloadURL)
			} else {
				fmt.Println("Completed")
			}
			return
		case "error":
			log.Fatalf("Task failed: %s", frame.ErrorMessage)
		case "cancelled":
			fmt.Println("Task cancelled")
			return
		}
	}
}

// doRequest issues one API call, attaching the client id header when set.
func doRequest(method, path string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if clientID != "" {
		req.Header.Set("X-Client-ID", clientID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error contacting server: %v", err)
	}
	return resp
}

func decodeBody(resp *http.Response, v any) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Fatalf("Error decoding response (%d): %s", resp.StatusCode, string(data))
	}
}
