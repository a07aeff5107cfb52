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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.collab.manager")

// startLoadSpan creates a span for loading or recovering a session.
func startLoadSpan(ctx context.Context, docID string, explicit bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "collab.session.load",
		trace.WithAttributes(
			attribute.String("collab.document_id", docID),
			attribute.Bool("collab.initial_content", explicit),
		),
	)
}

// setLoadSpanResult records where the session state came from.
func setLoadSpanResult(span trace.Span, version, recovered int, err error) {
	span.SetAttributes(
		attribute.Int("collab.version", version),
		attribute.Int("collab.recovered_operations", recovered),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
