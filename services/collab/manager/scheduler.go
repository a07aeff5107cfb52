// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Cleanup Sweep Scheduler
// =============================================================================

// sweepScheduler runs a sweep function on a fixed interval.
//
// # Description
//
// Manages the lifecycle of one background goroutine using the ticker + done
// channel pattern. Stop blocks until the goroutine has returned, so no sweep
// runs after Stop.
//
// # Thread Safety
//
// All methods are thread-safe.
type sweepScheduler struct {
	interval time.Duration
	sweep    func(ctx context.Context) int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

func newSweepScheduler(interval time.Duration, sweep func(ctx context.Context) int, logger *slog.Logger) *sweepScheduler {
	return &sweepScheduler{
		interval: interval,
		sweep:    sweep,
		logger:   logger,
	}
}

// Start launches the loop. It fails if the loop is already running.
func (s *sweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cleanup sweep is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("cleanup sweep starting", "interval", s.interval.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for it to exit. Safe to call repeatedly.
func (s *sweepScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
}

// RunNow performs one sweep immediately and returns the number of evicted
// sessions.
func (s *sweepScheduler) RunNow(ctx context.Context) int {
	return s.sweep(ctx)
}

func (s *sweepScheduler) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cleanup sweep stopped (context cancelled)")
			return
		case <-done:
			s.logger.Info("cleanup sweep stopped (stop requested)")
			return
		case <-ticker.C:
			if n := s.sweep(ctx); n > 0 {
				s.logger.Info("cleanup sweep evicted idle sessions", "evicted", n)
			} else {
				s.logger.Debug("cleanup sweep completed (nothing idle)")
			}
		}
	}
}
