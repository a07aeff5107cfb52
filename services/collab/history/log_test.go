// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

func entry(version int, author, target string) Entry {
	d := delta.New(delta.Insert{Text: "x"})
	return NewEntry(d, delta.New(delta.Delete{Count: 1}), version, author, target, time.Unix(int64(version), 0))
}

func versions(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Version
	}
	return out
}

func TestLog_AppendAndEvict(t *testing.T) {
	l := NewLog(3)
	assert.Equal(t, 3, l.Cap())

	_, ok := l.Oldest()
	assert.False(t, ok)

	for v := 1; v <= 3; v++ {
		assert.False(t, l.Append(entry(v, "u", "")))
	}
	assert.True(t, l.Append(entry(4, "u", "")))
	assert.True(t, l.Append(entry(5, "u", "")))

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []int{3, 4, 5}, versions(l.Entries()))

	oldest, ok := l.Oldest()
	require.True(t, ok)
	assert.Equal(t, 3, oldest.Version)

	newest, ok := l.Newest()
	require.True(t, ok)
	assert.Equal(t, 5, newest.Version)
}

func TestLog_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewLog(0).Cap())
}

func TestLog_Since(t *testing.T) {
	l := NewLog(10)
	l.Append(entry(1, "alice", ""))
	l.Append(entry(2, "bob", "note-1"))
	l.Append(entry(3, "alice", ""))
	l.Append(entry(4, "bob", ""))

	assert.Equal(t, []int{3, 4}, versions(l.Since(2)))
	assert.Empty(t, l.Since(4))
	assert.Equal(t, []int{3, 4}, versions(l.SinceOnTarget(1, "")))
	assert.Equal(t, []int{2}, versions(l.SinceOnTarget(0, "note-1")))
	assert.Len(t, Deltas(l.Since(0)), 4)
}

func TestLog_LastBy(t *testing.T) {
	l := NewLog(10)
	l.Append(entry(1, "alice", ""))
	l.Append(entry(2, "alice", "note-1"))
	l.Append(entry(3, "bob", ""))

	e, ok := l.LastBy("alice", "")
	require.True(t, ok)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, delta.New(delta.Delete{Count: 1}), e.Inverse())

	_, ok = l.LastBy("carol", "")
	assert.False(t, ok)
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(2)
	l.Append(entry(1, "u", ""))
	l.Append(entry(2, "u", ""))
	l.Append(entry(3, "u", ""))
	l.Clear()

	assert.Zero(t, l.Len())
	assert.Nil(t, l.Entries())

	l.Append(entry(7, "u", ""))
	assert.Equal(t, []int{7}, versions(l.Entries()))
}
