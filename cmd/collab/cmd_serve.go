// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCollab/services/collab"
	"github.com/AleutianAI/AleutianCollab/services/collab/config"
)

// serveCmd runs the server until SIGINT or SIGTERM.
//
// # Description
//
// Loads the configuration, installs the process logger and blocks in
// Service.Run. On a signal the server stops accepting connections, writes
// a final snapshot of every open document and closes its stores. When
// --config is given, edits to log.level in that file apply without a
// restart.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collaboration server",
	Long: `Starts the HTTP and WebSocket server.

Endpoints:
  GET  /v1/ws                          WebSocket editing protocol
  GET  /v1/documents                   Loaded documents
  GET  /v1/documents/:docId            One document's snapshot
  POST /v1/documents/:docId/snapshot   Force a snapshot
  GET  /health                         Liveness
  GET  /metrics                        Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Log.Level))
	logger := newLogger(os.Stderr, cfg.Log.Format, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []collab.Option{collab.WithLogger(logger)}
	if configPath != "" {
		opts = append(opts, collab.WithLevelReload(configPath, level))
	}

	logger.Info("starting collab server",
		"port", cfg.Server.Port,
		"snapshots", cfg.Storage.Snapshots,
		"operations", cfg.Storage.Operations,
		"trace_exporter", cfg.Telemetry.TraceExporter,
	)

	svc, err := collab.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	if err := svc.Run(ctx); err != nil {
		logger.Error("collab server stopped with errors", "error", err)
		return err
	}
	logger.Info("collab server stopped")
	return nil
}
