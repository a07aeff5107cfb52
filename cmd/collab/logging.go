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
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianCollab/services/collab/telemetry"
)

// newLogger builds the process logger.
//
// # Description
//
// Format "auto" writes text when w is a terminal and JSON otherwise, so
// containers get machine-readable logs and developers get readable ones.
// Records logged with a traced context carry trace_id and span_id.
//
// # Inputs
//
//   - w: Destination, usually os.Stderr.
//   - format: "auto", "json" or "text".
//   - level: Shared with the config watcher for hot reload.
func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	text := format == "text"
	if format == "auto" {
		if f, ok := w.(*os.File); ok {
			text = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(telemetry.NewTraceHandler(handler))
}
