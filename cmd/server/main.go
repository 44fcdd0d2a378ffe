// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// CRM Ingest: Webhook Service
//
// Entry point for the webhook ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to Redis and the durable store (PostgreSQL or in-memory)
//  3. Serves the email webhook plus status, metrics, and health endpoints
//  4. Optionally accepts Graph change notifications when credentials exist
//  5. Drains load-shed events in the background
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bcem/crmingest/internal/app"
	"github.com/bcem/crmingest/internal/config"
	"github.com/bcem/crmingest/internal/graph"
	"github.com/bcem/crmingest/internal/webhook"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting CRM ingest webhook service",
		"internal_domains", len(cfg.InternalDomains),
		"sender_limit", cfg.SenderLimit,
		"domain_limit", cfg.DomainLimit,
		"load_shed_threshold", cfg.LoadShedThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	cacheMgr, cacheClient, err := app.ConnectCache(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer cacheMgr.Close()

	// --- Durable Store ---
	st, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	pipeline, err := app.NewPipeline(cfg, cacheClient, st)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// --- Graph Fetcher (optional) ---
	var fetcher webhook.MessageFetcher
	if cfg.Graph.Enabled() {
		client := graph.NewClient(ctx, cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.ClientSecret)
		fetcher = graph.NewFetcher(client, graph.DefaultBaseURL)
		slog.Info("graph notifications enabled", "tenant", cfg.Graph.TenantID)
	}

	handler := webhook.NewHandler(webhook.HandlerConfig{
		Orchestrator: pipeline.Orchestrator,
		Metrics:      pipeline.Metrics,
		Fetcher:      fetcher,
		Checks: map[string]webhook.Pinger{
			"redis":    cacheClient,
			"database": st,
		},
	})

	ready, err := webhook.Serve(ctx, cfg.Port, webhook.NewRouter(handler))
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Queue Drainer ---
	pipeline.Drainer.Start(ctx)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	pipeline.Drainer.Stop()
	handler.Wait()

	slog.Info("webhook service stopped")
}
