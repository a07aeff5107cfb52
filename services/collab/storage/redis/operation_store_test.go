// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
)

func newTestStore(t *testing.T, retention storage.Retention) (*OperationStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOperationStore(client, retention), mr
}

func storedOp(version int) datatypes.StoredOperation {
	return datatypes.StoredOperation{
		DocumentID: "doc",
		Version:    version,
		Delta:      delta.New(delta.Insert{Text: "x"}),
		Author:     "alice",
		Timestamp:  time.Unix(int64(version), 0).UTC(),
	}
}

func TestOperationStore_SaveAndRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.Retention{})

	for v := 1; v <= 4; v++ {
		require.NoError(t, s.Save(ctx, storedOp(v)))
	}

	ops, err := s.GetOperationsSince(ctx, "doc", 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, 3, ops[0].Version)
	assert.Equal(t, "alice", ops[0].Author)
	assert.True(t, delta.Equal(storedOp(3).Delta, ops[0].Delta))

	n, err := s.GetCount(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	ops, err = s.GetOperationsSince(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestOperationStore_Retention(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, storage.Retention{MaxOperations: 3, TTL: time.Hour})

	for v := 1; v <= 10; v++ {
		require.NoError(t, s.Save(ctx, storedOp(v)))
	}

	n, err := s.GetCount(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ops, err := s.GetOperationsSince(ctx, "doc", 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, 8, ops[0].Version)

	assert.Equal(t, time.Hour, mr.TTL(KeyPrefix+"doc"))

	mr.FastForward(2 * time.Hour)
	n, err = s.GetCount(ctx, "doc")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOperationStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, storage.DefaultRetention())

	require.NoError(t, s.Save(ctx, storedOp(1)))
	assert.True(t, mr.Exists(KeyPrefix+"doc"))

	require.NoError(t, s.Delete(ctx, "doc"))
	assert.False(t, mr.Exists(KeyPrefix+"doc"))
}

func TestOperationStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, storage.DefaultRetention())
	mr.Close()

	err := s.Save(ctx, storedOp(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save operation doc@1")
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
