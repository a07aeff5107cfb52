// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence collaborators of the document
// manager and provides in-memory implementations.
//
// Durable backends live in the badger, postgres and redis subpackages.
package storage

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
)

// SnapshotStore keeps the latest full-content checkpoint per document.
//
// # Description
//
// Last-write-wins, keyed by document ID. Load returns (nil, nil) when the
// document has never been saved.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	Save(ctx context.Context, docID string, snap datatypes.Snapshot) error
	Load(ctx context.Context, docID string) (*datatypes.Snapshot, error)
	Delete(ctx context.Context, docID string) error
}

// OperationStore is a bounded mirror of accepted edits, used for audit and
// for recovering edits made after the last snapshot.
//
// # Description
//
// Each implementation enforces its own Retention. GetOperationsSince returns
// retained operations with Version > version in ascending version order, and
// an empty slice for unknown documents.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type OperationStore interface {
	Save(ctx context.Context, op datatypes.StoredOperation) error
	GetOperationsSince(ctx context.Context, docID string, version int) ([]datatypes.StoredOperation, error)
	GetCount(ctx context.Context, docID string) (int, error)
	Delete(ctx context.Context, docID string) error
}

// Retention bounds an operation log.
type Retention struct {
	// MaxOperations keeps only the newest N operations per document.
	// Zero disables the count bound.
	MaxOperations int `yaml:"max_operations" validate:"min=0"`

	// TTL expires a document's log after this long without writes.
	// Zero disables expiry.
	TTL time.Duration `yaml:"ttl" validate:"min=0"`
}

// DefaultRetention keeps the last 200 operations for 24 hours.
func DefaultRetention() Retention {
	return Retention{
		MaxOperations: 200,
		TTL:           24 * time.Hour,
	}
}
