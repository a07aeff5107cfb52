// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// LevelWatcher reloads the log level when the config file changes.
//
// # Description
//
// Only the log level is hot-reloaded; every other setting needs a restart.
// The parent directory is watched rather than the file so that editors
// which replace the file on save are still seen. A file that fails to
// parse or validate leaves the level unchanged.
//
// # Thread Safety
//
// Start must be called once. slog.LevelVar is safe for concurrent use.
type LevelWatcher struct {
	path    string
	level   *slog.LevelVar
	watcher *fsnotify.Watcher
}

// NewLevelWatcher creates a watcher for path that drives level.
func NewLevelWatcher(path string, level *slog.LevelVar) (*LevelWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &LevelWatcher{path: abs, level: level, watcher: watcher}, nil
}

// Start processes events until ctx is cancelled. Run it in a goroutine.
func (w *LevelWatcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	slog.Debug("watching config for log level changes", "path", w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("config watcher stopping")
			return
		}
	}
}

func (w *LevelWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	cfg := DefaultConfig()
	if err := readFile(w.path, &cfg); err != nil {
		slog.Warn("ignoring unreadable config change", "path", w.path, "error", err)
		return
	}
	if err := validate.Var(cfg.Log.Level, "oneof=debug info warn error"); err != nil {
		slog.Warn("ignoring invalid log level", "level", cfg.Log.Level)
		return
	}

	next := ParseLevel(cfg.Log.Level)
	if next == w.level.Level() {
		return
	}
	w.level.Set(next)
	slog.Info("log level changed", "level", next.String())
}
