// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redis keeps the recent operation log of each document in a Redis
// list, so several collab nodes can share it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

// KeyPrefix namespaces the per-document lists.
const KeyPrefix = "ops:"

// OperationStore implements storage.OperationStore on Redis lists.
//
// # Description
//
// Save appends with RPUSH, then trims to Retention.MaxOperations with LTRIM
// and refreshes the key's Retention.TTL with EXPIRE, all in one MULTI. An
// idle document's whole log therefore expires TTL after its last write.
//
// # Thread Safety
//
// Safe for concurrent use; redis.Client is.
type OperationStore struct {
	client    redis.UniversalClient
	retention storage.Retention
}

// NewOperationStore wraps a connected client.
func NewOperationStore(client redis.UniversalClient, retention storage.Retention) *OperationStore {
	return &OperationStore{client: client, retention: retention}
}

// Connect creates a client for addr and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func key(docID string) string {
	return KeyPrefix + docID
}

// Save appends op and applies retention.
func (s *OperationStore) Save(ctx context.Context, op datatypes.StoredOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation: %w", err)
	}

	k := key(op.DocumentID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, data)
		if n := s.retention.MaxOperations; n > 0 {
			pipe.LTrim(ctx, k, int64(-n), -1)
		}
		if s.retention.TTL > 0 {
			pipe.Expire(ctx, k, s.retention.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save operation %s@%d: %w", op.DocumentID, op.Version, err)
	}
	return nil
}

// GetOperationsSince returns retained operations newer than version, sorted
// by version. Unknown documents yield an empty slice.
func (s *OperationStore) GetOperationsSince(ctx context.Context, docID string, version int) ([]datatypes.StoredOperation, error) {
	raw, err := s.client.LRange(ctx, key(docID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read operations %s: %w", docID, err)
	}

	out := make([]datatypes.StoredOperation, 0, len(raw))
	for i, r := range raw {
		var op datatypes.StoredOperation
		if err := json.Unmarshal([]byte(r), &op); err != nil {
			return nil, fmt.Errorf("decode operation %s[%d]: %w", docID, i, err)
		}
		if op.Version > version {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetCount returns the length of the document's list.
func (s *OperationStore) GetCount(ctx context.Context, docID string) (int, error) {
	n, err := s.client.LLen(ctx, key(docID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count operations %s: %w", docID, err)
	}
	return int(n), nil
}

// Delete removes the document's list.
func (s *OperationStore) Delete(ctx context.Context, docID string) error {
	if err := s.client.Del(ctx, key(docID)).Err(); err != nil {
		return fmt.Errorf("delete operations %s: %w", docID, err)
	}
	return nil
}

var _ storage.OperationStore = (*OperationStore)(nil)
