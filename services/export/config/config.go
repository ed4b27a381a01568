// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the export service configuration from the
// environment.
//
// Every knob has a default suitable for local development; production
// deployments override via HARBOR_-prefixed environment variables
// (HARBOR_HTTP_PORT, HARBOR_REDIS_URL, ...). Configuration is loaded once at
// startup and passed down as an explicit struct; nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the export service.
type Config struct {
	// HTTPPort is the listen port of the API server.
	HTTPPort int

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// RedisURL connects the window-counter store. Empty selects the
	// in-memory counter (single-node mode).
	RedisURL string

	// PostgresURL connects the task store. Empty selects the in-memory
	// store (single-node mode).
	PostgresURL string

	// PostgresMaxConns caps the pgx pool size.
	PostgresMaxConns int

	// StorageRoot is the artifact directory.
	StorageRoot string

	// MaxArtifactBytes caps a single artifact.
	MaxArtifactBytes int64

	// StorageQuotaBytes is the total artifact budget. 0 disables the quota.
	StorageQuotaBytes int64

	// DownloadBaseURL prefixes download references in completion events.
	DownloadBaseURL string

	// RetentionAge reclaims artifacts older than this. 0 disables cleanup.
	RetentionAge time.Duration

	// ExportLimitCount / ExportLimitWindow throttle submissions per client.
	ExportLimitCount  int
	ExportLimitWindow time.Duration

	// LoginLimitCount / LoginLimitWindow throttle login attempts.
	LoginLimitCount  int
	LoginLimitWindow time.Duration

	// AICallRate is the refill rate (permits/second) for downstream AI and
	// render calls; AICallBurst the bucket depth; AIMaxConcurrent the
	// concurrency cap.
	AICallRate      float64
	AICallBurst     int
	AIMaxConcurrent int

	// OpenAIKey enables the AI renderer when set; empty selects the local
	// markdown renderer.
	OpenAIKey   string
	OpenAIModel string

	// WorkerCount / QueueSize shape the background runner.
	WorkerCount int
	QueueSize   int

	// SlotWaitTimeout bounds a task's wait for an execution slot.
	SlotWaitTimeout time.Duration

	// WSWriteTimeout bounds a single progress write to a subscriber.
	WSWriteTimeout time.Duration
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("redis_url", "")
	v.SetDefault("postgres_url", "")
	v.SetDefault("postgres_max_conns", 10)
	v.SetDefault("storage_root", "./data/exports")
	v.SetDefault("max_artifact_bytes", int64(50<<20))
	v.SetDefault("storage_quota_bytes", int64(0))
	v.SetDefault("download_base_url", "http://localhost:8080")
	v.SetDefault("retention_age", "0")
	v.SetDefault("export_limit_count", 20)
	v.SetDefault("export_limit_window", "1m")
	v.SetDefault("login_limit_count", 5)
	v.SetDefault("login_limit_window", "15m")
	v.SetDefault("ai_call_rate", 5.0)
	v.SetDefault("ai_call_burst", 5)
	v.SetDefault("ai_max_concurrent", 4)
	v.SetDefault("openai_key", "")
	v.SetDefault("openai_model", "")
	v.SetDefault("worker_count", 4)
	v.SetDefault("queue_size", 128)
	v.SetDefault("slot_wait_timeout", "30s")
	v.SetDefault("ws_write_timeout", "10s")

	cfg := &Config{
		HTTPPort:          v.GetInt("http_port"),
		LogLevel:          v.GetString("log_level"),
		RedisURL:          v.GetString("redis_url"),
		PostgresURL:       v.GetString("postgres_url"),
		PostgresMaxConns:  v.GetInt("postgres_max_conns"),
		StorageRoot:       v.GetString("storage_root"),
		MaxArtifactBytes:  v.GetInt64("max_artifact_bytes"),
		StorageQuotaBytes: v.GetInt64("storage_quota_bytes"),
		DownloadBaseURL:   v.GetString("download_base_url"),
		RetentionAge:      v.GetDuration("retention_age"),
		ExportLimitCount:  v.GetInt("export_limit_count"),
		ExportLimitWindow: v.GetDuration("export_limit_window"),
		LoginLimitCount:   v.GetInt("login_limit_count"),
		LoginLimitWindow:  v.GetDuration("login_limit_window"),
		AICallRate:        v.GetFloat64("ai_call_rate"),
		AICallBurst:       v.GetInt("ai_call_burst"),
		AIMaxConcurrent:   v.GetInt("ai_max_concurrent"),
		OpenAIKey:         v.GetString("openai_key"),
		OpenAIModel:       v.GetString("openai_model"),
		WorkerCount:       v.GetInt("worker_count"),
		QueueSize:         v.GetInt("queue_size"),
		SlotWaitTimeout:   v.GetDuration("slot_wait_timeout"),
		WSWriteTimeout:    v.GetDuration("ws_write_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.AICallRate <= 0 {
		return fmt.Errorf("ai call rate must be positive, got %v", c.AICallRate)
	}
	if c.ExportLimitCount < 1 || c.LoginLimitCount < 1 {
		return fmt.Errorf("rate limit counts must be at least 1")
	}
	if c.ExportLimitWindow <= 0 || c.LoginLimitWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	return nil
}
