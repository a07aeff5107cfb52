// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

func snapshotKey(docID string) []byte {
	return []byte("snap/" + docID)
}

func opsPrefix(docID string) []byte {
	return []byte("ops/" + docID + "/")
}

func opKey(docID string, version int) []byte {
	return fmt.Appendf(opsPrefix(docID), "%020d", version)
}

// =============================================================================
// SnapshotStore
// =============================================================================

// SnapshotStore implements storage.SnapshotStore on BadgerDB.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore wraps an opened database.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save overwrites the document's snapshot.
func (s *SnapshotStore) Save(ctx context.Context, docID string, snap datatypes.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(docID), data)
	})
}

// Load returns (nil, nil) when no snapshot exists.
func (s *SnapshotStore) Load(ctx context.Context, docID string) (*datatypes.Snapshot, error) {
	var snap *datatypes.Snapshot
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(docID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snap = &datatypes.Snapshot{}
			return json.Unmarshal(val, snap)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", docID, err)
	}
	return snap, nil
}

// Delete removes the document's snapshot.
func (s *SnapshotStore) Delete(ctx context.Context, docID string) error {
	return s.db.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(docID))
	})
}

// =============================================================================
// OperationStore
// =============================================================================

// OperationStore implements storage.OperationStore on BadgerDB.
//
// # Description
//
// Operations are keyed by zero-padded version so prefix iteration yields
// them in version order. Retention.TTL is applied per operation through
// Badger's entry TTL. Retention.MaxOperations is enforced on every Save by
// deleting the oldest keys past the bound.
type OperationStore struct {
	db        *DB
	retention storage.Retention
}

// NewOperationStore wraps an opened database.
func NewOperationStore(db *DB, retention storage.Retention) *OperationStore {
	return &OperationStore{db: db, retention: retention}
}

// Save appends op and trims the document's log to the retention bound.
func (s *OperationStore) Save(ctx context.Context, op datatypes.StoredOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}

	return s.db.withTxn(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry(opKey(op.DocumentID, op.Version), data)
		if s.retention.TTL > 0 {
			e = e.WithTTL(s.retention.TTL)
		}
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		if s.retention.MaxOperations <= 0 {
			return nil
		}

		keys := keysWithPrefix(txn, opsPrefix(op.DocumentID))
		for i := 0; i < len(keys)-s.retention.MaxOperations; i++ {
			if err := txn.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOperationsSince returns retained operations newer than version.
func (s *OperationStore) GetOperationsSince(ctx context.Context, docID string, version int) ([]datatypes.StoredOperation, error) {
	out := []datatypes.StoredOperation{}
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := opsPrefix(docID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()

		for it.Seek(opKey(docID, version+1)); it.ValidForPrefix(prefix); it.Next() {
			var op datatypes.StoredOperation
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			}); err != nil {
				return err
			}
			out = append(out, op)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read operations %s: %w", docID, err)
	}
	return out, nil
}

// GetCount returns the number of retained operations.
func (s *OperationStore) GetCount(ctx context.Context, docID string) (int, error) {
	n := 0
	err := s.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		n = len(keysWithPrefix(txn, opsPrefix(docID)))
		return nil
	})
	return n, err
}

// Delete drops the document's whole log.
func (s *OperationStore) Delete(ctx context.Context, docID string) error {
	return s.db.withTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range keysWithPrefix(txn, opsPrefix(docID)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// keysWithPrefix lists keys in ascending order without fetching values.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

var (
	_ storage.SnapshotStore  = (*SnapshotStore)(nil)
	_ storage.OperationStore = (*OperationStore)(nil)
)
