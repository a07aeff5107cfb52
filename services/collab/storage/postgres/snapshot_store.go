// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgres stores document snapshots in a PostgreSQL table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

// Schema creates the snapshots table.
const Schema = `CREATE TABLE IF NOT EXISTS snapshots (
	document_id TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	targets     JSONB,
	notes       JSONB,
	version     INTEGER NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

const (
	upsertSQL = `INSERT INTO snapshots (document_id, content, targets, notes, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (document_id) DO UPDATE SET
	content = EXCLUDED.content,
	targets = EXCLUDED.targets,
	notes = EXCLUDED.notes,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at`

	selectSQL = `SELECT content, targets, notes, version, updated_at FROM snapshots WHERE document_id = $1`

	deleteSQL = `DELETE FROM snapshots WHERE document_id = $1`
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SnapshotStore implements storage.SnapshotStore with an upsert per document.
type SnapshotStore struct {
	db Querier
}

// NewSnapshotStore wraps a pool or any other Querier.
func NewSnapshotStore(db Querier) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Connect opens a pool for databaseURL, pings it and ensures the schema.
//
// # Outputs
//
//   - *pgxpool.Pool: The pool. Caller must Close it.
//   - *SnapshotStore: A store on that pool.
//   - error: Non-nil if the database is unreachable or the schema fails.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, *SnapshotStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewSnapshotStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store, nil
}

// EnsureSchema creates the snapshots table if it is missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

// Save upserts the document's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, docID string, snap datatypes.Snapshot) error {
	targets, err := jsonOrNil(snap.Targets)
	if err != nil {
		return err
	}
	notes, err := jsonOrNil(snap.Notes)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, upsertSQL, docID, snap.Content, targets, notes, snap.Version, snap.Timestamp); err != nil {
		return fmt.Errorf("save snapshot %s: %w", docID, err)
	}
	return nil
}

// Load returns (nil, nil) when the document has no row.
func (s *SnapshotStore) Load(ctx context.Context, docID string) (*datatypes.Snapshot, error) {
	var (
		snap           datatypes.Snapshot
		targets, notes []byte
	)
	err := s.db.QueryRow(ctx, selectSQL, docID).Scan(&snap.Content, &targets, &notes, &snap.Version, &snap.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", docID, err)
	}

	if len(targets) > 0 {
		if err := json.Unmarshal(targets, &snap.Targets); err != nil {
			return nil, fmt.Errorf("decode targets: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &snap.Notes); err != nil {
			return nil, fmt.Errorf("decode notes: %w", err)
		}
	}
	return &snap, nil
}

// Delete removes the document's row.
func (s *SnapshotStore) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.Exec(ctx, deleteSQL, docID); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", docID, err)
	}
	return nil
}

func jsonOrNil[M ~map[string]V, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot field: %w", err)
	}
	return data, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
