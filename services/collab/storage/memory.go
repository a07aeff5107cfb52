// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
)

// =============================================================================
// Snapshots
// =============================================================================

// MemorySnapshotStore is a SnapshotStore backed by a map.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]datatypes.Snapshot
	saves int
}

// NewMemorySnapshotStore returns an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]datatypes.Snapshot)}
}

func (s *MemorySnapshotStore) Save(ctx context.Context, docID string, snap datatypes.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[docID] = cloneSnapshot(snap)
	s.saves++
	return nil
}

func (s *MemorySnapshotStore) Load(ctx context.Context, docID string) (*datatypes.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[docID]
	if !ok {
		return nil, nil
	}
	out := cloneSnapshot(snap)
	return &out, nil
}

func (s *MemorySnapshotStore) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, docID)
	return nil
}

// SaveCount returns how many saves succeeded, for tests.
func (s *MemorySnapshotStore) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func cloneSnapshot(snap datatypes.Snapshot) datatypes.Snapshot {
	snap.Targets = maps.Clone(snap.Targets)
	snap.Notes = maps.Clone(snap.Notes)
	return snap
}

// =============================================================================
// Operations
// =============================================================================

// MemoryOperationStore is an OperationStore backed by per-document slices.
type MemoryOperationStore struct {
	mu        sync.Mutex
	ops       map[string][]datatypes.StoredOperation
	touched   map[string]time.Time
	retention Retention
	now       func() time.Time
}

// NewMemoryOperationStore returns an empty store enforcing retention.
func NewMemoryOperationStore(retention Retention) *MemoryOperationStore {
	return &MemoryOperationStore{
		ops:       make(map[string][]datatypes.StoredOperation),
		touched:   make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryOperationStore) Save(ctx context.Context, op datatypes.StoredOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(op.DocumentID)
	list := append(s.ops[op.DocumentID], op)
	if limit := s.retention.MaxOperations; limit > 0 && len(list) > limit {
		list = append([]datatypes.StoredOperation(nil), list[len(list)-limit:]...)
	}
	s.ops[op.DocumentID] = list
	s.touched[op.DocumentID] = s.now()
	return nil
}

func (s *MemoryOperationStore) GetOperationsSince(ctx context.Context, docID string, version int) ([]datatypes.StoredOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(docID)
	out := []datatypes.StoredOperation{}
	for _, op := range s.ops[docID] {
		if op.Version > version {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryOperationStore) GetCount(ctx context.Context, docID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(docID)
	return len(s.ops[docID]), nil
}

func (s *MemoryOperationStore) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, docID)
	delete(s.touched, docID)
	return nil
}

// expireLocked drops a document's log once it has gone TTL without writes.
func (s *MemoryOperationStore) expireLocked(docID string) {
	if s.retention.TTL <= 0 {
		return
	}
	if t, ok := s.touched[docID]; ok && s.now().Sub(t) >= s.retention.TTL {
		delete(s.ops, docID)
		delete(s.touched, docID)
	}
}
