// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The export service generates document artifacts out of band and streams
// progress to watching clients. Every collaborator is constructed here and
// injected explicitly; nothing reaches for ambient singletons.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/HarborLine/HarborExport/pkg/logging"
	"github.com/HarborLine/HarborExport/services/export/config"
	"github.com/HarborLine/HarborExport/services/export/lifecycle"
	"github.com/HarborLine/HarborExport/services/export/observability"
	"github.com/HarborLine/HarborExport/services/export/progress"
	"github.com/HarborLine/HarborExport/services/export/ratelimit"
	"github.com/HarborLine/HarborExport/services/export/render"
	"github.com/HarborLine/HarborExport/services/export/routes"
	"github.com/HarborLine/HarborExport/services/export/storage"
	"github.com/HarborLine/HarborExport/services/export/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	logger := logging.Setup("export", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Window-counter store: Redis when configured, in-process otherwise.
	var counterStore ratelimit.CounterStore = ratelimit.NewMemoryCounterStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		counterStore = ratelimit.NewRedisCounterStore(redisClient)
		logger.Info("using redis window counters", "addr", opts.Addr)
	}
	limiter := ratelimit.NewWindowLimiter(counterStore, logger)

	// Task store: Postgres when configured, in-process otherwise.
	var taskStore store.TaskStore = store.NewMemoryStore()
	if cfg.PostgresURL != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("invalid postgres url: %v", err)
		}
		poolCfg.MaxConns = int32(cfg.PostgresMaxConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		taskStore = store.NewPostgresStore(pool)
		logger.Info("using postgres task store", "max_conns", cfg.PostgresMaxConns)
	}

	gateway, err := storage.NewGateway(cfg.StorageRoot, cfg.MaxArtifactBytes, cfg.StorageQuotaBytes)
	if err != nil {
		log.Fatalf("failed to initialize artifact storage: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewExportMetrics(registry)

	var renderer render.Renderer = &render.MarkdownRenderer{}
	if cfg.OpenAIKey != "" {
		renderer = render.NewAIRenderer(openai.NewClient(cfg.OpenAIKey), cfg.OpenAIModel)
		logger.Info("using AI renderer", "model", cfg.OpenAIModel)
	}

	hub := progress.NewHub(logger)
	gate := ratelimit.NewCallGate("render", cfg.AICallRate, cfg.AICallBurst, cfg.AIMaxConcurrent)

	controller := lifecycle.NewController(logger, taskStore, hub, gate, gateway, renderer, metrics,
		lifecycle.Config{
			SlotWaitTimeout: cfg.SlotWaitTimeout,
			DownloadBaseURL: cfg.DownloadBaseURL,
		})

	runner := lifecycle.NewRunner(controller, metrics, logger, lifecycle.RunnerConfig{
		WorkerCount: cfg.WorkerCount,
		QueueSize:   cfg.QueueSize,
	})
	runner.Start()

	// Seed the storage gauges and, when retention is configured, reclaim old
	// artifacts hourly.
	if used, available, err := gateway.Usage(); err == nil {
		metrics.SetStorageUsage(used, available)
	}
	if cfg.RetentionAge > 0 {
		go runRetention(ctx, logger, gateway, metrics, cfg.RetentionAge)
	}

	router := gin.Default()
	routes.SetupRoutes(router, routes.Deps{
		Controller:        controller,
		Runner:            runner,
		Hub:               hub,
		Gateway:           gateway,
		Limiter:           limiter,
		Registry:          registry,
		ExportLimitCount:  int64(cfg.ExportLimitCount),
		ExportLimitWindow: cfg.ExportLimitWindow,
		LoginLimitCount:   int64(cfg.LoginLimitCount),
		LoginLimitWindow:  cfg.LoginLimitWindow,
		WSWriteTimeout:    cfg.WSWriteTimeout,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("export service listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	runner.Stop()

	logger.Info("export service stopped")
	os.Exit(0)
}

// runRetention reclaims artifacts older than age until ctx ends.
func runRetention(ctx context.Context, logger *slog.Logger, gateway *storage.Gateway,
	metrics *observability.ExportMetrics, age time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := gateway.CleanupOlderThan(age)
			if err != nil {
				logger.Warn("artifact cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("reclaimed old artifacts", "count", removed)
			}
			if used, available, err := gateway.Usage(); err == nil {
				metrics.SetStorageUsage(used, available)
			}
		}
	}
}
