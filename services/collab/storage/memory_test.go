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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	snap, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, s.Save(ctx, "doc", datatypes.Snapshot{Content: "v1", Version: 1}))
	require.NoError(t, s.Save(ctx, "doc", datatypes.Snapshot{
		Content: "v2", Version: 2, Targets: map[string]string{"n": "note"},
	}))
	assert.Equal(t, 2, s.SaveCount())

	snap, err = s.Load(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "v2", snap.Content)
	assert.Equal(t, 2, snap.Version)

	// the returned snapshot is a copy
	snap.Targets["n"] = "changed"
	again, _ := s.Load(ctx, "doc")
	assert.Equal(t, "note", again.Targets["n"])

	require.NoError(t, s.Delete(ctx, "doc"))
	snap, err = s.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func op(doc string, version int) datatypes.StoredOperation {
	return datatypes.StoredOperation{
		DocumentID: doc,
		Version:    version,
		Delta:      delta.New(delta.Insert{Text: "x"}),
		Author:     "alice",
		Timestamp:  time.Unix(int64(version), 0),
	}
}

func TestMemoryOperationStore(t *testing.T) {
	ctx := context.Background()

	t.Run("since and count", func(t *testing.T) {
		s := NewMemoryOperationStore(Retention{})
		for v := 1; v <= 5; v++ {
			require.NoError(t, s.Save(ctx, op("doc", v)))
		}
		require.NoError(t, s.Save(ctx, op("other", 1)))

		ops, err := s.GetOperationsSince(ctx, "doc", 3)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, 4, ops[0].Version)
		assert.Equal(t, 5, ops[1].Version)

		n, err := s.GetCount(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		ops, err = s.GetOperationsSince(ctx, "unknown", 0)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("count retention keeps newest", func(t *testing.T) {
		s := NewMemoryOperationStore(Retention{MaxOperations: 3})
		for v := 1; v <= 10; v++ {
			require.NoError(t, s.Save(ctx, op("doc", v)))
		}
		ops, err := s.GetOperationsSince(ctx, "doc", 0)
		require.NoError(t, err)
		require.Len(t, ops, 3)
		assert.Equal(t, 8, ops[0].Version)
	})

	t.Run("ttl expires idle logs", func(t *testing.T) {
		now := time.Unix(1000, 0)
		s := NewMemoryOperationStore(Retention{TTL: time.Minute})
		s.now = func() time.Time { return now }

		require.NoError(t, s.Save(ctx, op("doc", 1)))
		now = now.Add(30 * time.Second)
		n, _ := s.GetCount(ctx, "doc")
		assert.Equal(t, 1, n)

		now = now.Add(time.Minute)
		n, _ = s.GetCount(ctx, "doc")
		assert.Zero(t, n)
	})

	t.Run("delete", func(t *testing.T) {
		s := NewMemoryOperationStore(DefaultRetention())
		require.NoError(t, s.Save(ctx, op("doc", 1)))
		require.NoError(t, s.Delete(ctx, "doc"))
		n, _ := s.GetCount(ctx, "doc")
		assert.Zero(t, n)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := NewMemoryOperationStore(DefaultRetention())
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, s.Save(cctx, op("doc", 1)), context.Canceled)
	})
}
