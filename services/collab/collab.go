// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collab assembles the collaborative editing server.
//
// # Description
//
// New wires the configured stores, telemetry, the DocumentManager and the
// Gin router. Run serves HTTP and WebSocket traffic until its context is
// cancelled, then drains: the listener stops accepting, every live
// session is snapshotted, open sockets are closed and stores are released.
//
// # Usage
//
//	cfg, err := config.Load("collab.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := collab.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianCollab/services/collab/config"
	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
	"github.com/AleutianAI/AleutianCollab/services/collab/routes"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage/badger"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage/postgres"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage/redis"
	"github.com/AleutianAI/AleutianCollab/services/collab/telemetry"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the collab server lifecycle.
//
// # Thread Safety
//
// Run or Serve is called at most once. Router and Manager are safe to call
// at any time after New.
type Service interface {
	// Run listens on the configured port and serves until ctx is cancelled.
	Run(ctx context.Context) error

	// Serve is Run on a caller-provided listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the Gin engine, for tests.
	Router() *gin.Engine

	// Manager returns the document manager.
	Manager() *manager.DocumentManager
}

// Option customizes New.
type Option func(*service)

// WithLogger sets the logger handed to the manager and the stores.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLevelReload hot-reloads log.level from the config file at path into
// level.
func WithLevelReload(path string, level *slog.LevelVar) Option {
	return func(s *service) {
		s.configPath = path
		s.level = level
	}
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	cfg        config.Config
	configPath string
	level      *slog.LevelVar
	logger     *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.CollabMetrics
	manager  *manager.DocumentManager
	router   *gin.Engine

	// closers run in reverse order during cleanup.
	closers []func(context.Context) error
}

// New builds a service from cfg.
//
// # Description
//
// Connects the snapshot and operation stores, installs telemetry and
// builds the router. On failure everything opened so far is released.
//
// # Inputs
//
//   - ctx: Bounds store connection and telemetry setup.
//   - cfg: A validated configuration.
//   - opts: WithLogger, WithLevelReload.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Store or telemetry initialization failure.
func New(ctx context.Context, cfg config.Config, opts ...Option) (Service, error) {
	s := &service{
		cfg:      cfg,
		logger:   slog.Default(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewCollabMetrics(s.registry)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.closers = append(s.closers, shutdownTelemetry)

	snapshots, operations, err := s.initStores(ctx)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	mgrOpts := []manager.Option{
		manager.WithMetrics(s.metrics),
		manager.WithLogger(s.logger),
	}
	if operations != nil {
		mgrOpts = append(mgrOpts, manager.WithOperationStore(operations))
	}
	s.manager = manager.New(cfg.Manager, snapshots, mgrOpts...)

	if err := s.initRouter(); err != nil {
		s.cleanup()
		return nil, err
	}
	return s, nil
}

// initStores opens the configured backends. A nil operation store means
// the operation log is disabled.
func (s *service) initStores(ctx context.Context) (storage.SnapshotStore, storage.OperationStore, error) {
	st := s.cfg.Storage

	var db *badger.DB
	if st.Snapshots == config.StoreBadger || st.Operations == config.StoreBadger {
		bcfg := st.Badger
		bcfg.Logger = s.logger.With("component", "badger")
		var err error
		db, err = badger.Open(bcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
	}

	var snapshots storage.SnapshotStore
	switch st.Snapshots {
	case config.StoreBadger:
		snapshots = badger.NewSnapshotStore(db)
	case config.StorePostgres:
		pool, store, err := postgres.Connect(ctx, st.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect snapshot store: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })
		snapshots = store
	default:
		snapshots = storage.NewMemorySnapshotStore()
	}

	var operations storage.OperationStore
	switch st.Operations {
	case config.StoreBadger:
		operations = badger.NewOperationStore(db, st.Retention)
	case config.StoreRedis:
		client, err := redis.Connect(ctx, st.Redis.Addr, st.Redis.Password, st.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect operation store: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		operations = redis.NewOperationStore(client, st.Retention)
	case config.StoreMemory:
		operations = storage.NewMemoryOperationStore(st.Retention)
	}

	s.logger.Info("stores ready", "snapshots", st.Snapshots, "operations", st.Operations)
	return snapshots, operations, nil
}

func (s *service) initRouter() error {
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter("aleutian.collab.http"))
	if err != nil {
		return fmt.Errorf("failed to create http metrics: %w", err)
	}

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.cfg.Telemetry.ServiceName),
		telemetry.HTTPMiddleware(httpMetrics),
	)
	routes.SetupRoutes(s.router, s.manager, s.cfg.WebSocket, s.metrics, s.registry)
	return nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Manager() *manager.DocumentManager {
	return s.manager
}

func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Server.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled or the HTTP server fails, then shuts
// down within cfg.Server.ShutdownTimeout.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	if err := s.manager.Start(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	if s.configPath != "" && s.level != nil {
		watcher, err := config.NewLevelWatcher(s.configPath, s.level)
		if err != nil {
			s.logger.Warn("log level hot reload disabled", "error", err)
		} else {
			go watcher.Start(ctx)
		}
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Info("collab server listening", "addr", ln.Addr().String())

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutting down collab server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("manager shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// cleanup releases stores and telemetry in reverse order of creation.
func (s *service) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("cleanup error", "error", err)
		}
	}
	s.closers = nil
}
