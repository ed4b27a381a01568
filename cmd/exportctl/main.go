// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// exportctl is the command-line client for the export service.
//
// Usage:
//
//	exportctl submit --format pdf --title "Q2 Report" --content-file report.md
//	exportctl status <task-id>
//	exportctl watch <task-id>
//	exportctl cancel <task-id>
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	clientID  string
)

var rootCmd = &cobra.Command{
	Use:   "exportctl",
	Short: "Submit and track document export tasks",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"Base URL of the export service")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "",
		"Client identity presented for rate limiting")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
}
