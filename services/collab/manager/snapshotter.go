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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/observability"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

// snapshotter serializes snapshot writes per document.
//
// # Description
//
// Writes for one document never overlap, and a snapshot older than the
// last one written is skipped, so a slow background save cannot overwrite
// a newer leave or shutdown save. Writes at the same version go through:
// geometry changes do not bump the version.
//
// # Thread Safety
//
// Safe for concurrent use.
type snapshotter struct {
	store   storage.SnapshotStore
	metrics *observability.CollabMetrics
	logger  *slog.Logger

	mu   sync.Mutex
	docs map[string]*docSaveState
}

type docSaveState struct {
	mu      sync.Mutex
	saved   bool
	version int
}

func newSnapshotter(store storage.SnapshotStore, metrics *observability.CollabMetrics, logger *slog.Logger) *snapshotter {
	return &snapshotter{
		store:   store,
		metrics: metrics,
		logger:  logger,
		docs:    make(map[string]*docSaveState),
	}
}

func (s *snapshotter) state(docID string) *docSaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.docs[docID]
	if !ok {
		st = &docSaveState{}
		s.docs[docID] = st
	}
	return st
}

// markLoaded records that the store already holds version for docID.
func (s *snapshotter) markLoaded(docID string, version int) {
	st := s.state(docID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.saved || version > st.version {
		st.saved = true
		st.version = version
	}
}

func (s *snapshotter) forget(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
}

// save writes snap unless a newer snapshot of docID was already written.
// TriggerSeed always writes: it replaces the document with new content at
// version 0.
//
// # Outputs
//
//   - bool: False if the write was skipped as stale.
//   - error: The store error, wrapped.
func (s *snapshotter) save(ctx context.Context, docID string, snap datatypes.Snapshot, trigger observability.SnapshotTrigger) (bool, error) {
	ctx, span := tracer.Start(ctx, "collab.snapshot.save",
		trace.WithAttributes(
			attribute.String("collab.document_id", docID),
			attribute.Int("collab.version", snap.Version),
			attribute.String("collab.trigger", string(trigger)),
		),
	)
	defer span.End()

	st := s.state(docID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if trigger != observability.TriggerSeed && st.saved && snap.Version < st.version {
		s.metrics.RecordSnapshot(trigger, observability.StatusSkipped, 0)
		span.SetAttributes(attribute.Bool("collab.skipped", true))
		s.logger.Debug("skipping stale snapshot",
			"document_id", docID,
			"version", snap.Version,
			"saved_version", st.version)
		return false, nil
	}

	start := time.Now()
	err := s.store.Save(ctx, docID, snap)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.RecordSnapshot(trigger, observability.StatusError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("save snapshot %s@%d: %w", docID, snap.Version, err)
	}

	st.saved = true
	st.version = snap.Version
	s.metrics.RecordSnapshot(trigger, observability.StatusSuccess, elapsed)
	s.logger.Debug("snapshot saved",
		"document_id", docID,
		"version", snap.Version,
		"trigger", string(trigger))
	return true, nil
}
