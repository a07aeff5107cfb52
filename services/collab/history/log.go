// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history holds the bounded, version-ordered log of accepted edits a
// document session rebases incoming deltas against.
package history

import (
	"time"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

// DefaultCapacity is used when a log is created with a non-positive size.
const DefaultCapacity = 100

// Entry is one accepted edit. Entries are immutable once appended.
type Entry struct {
	// Delta is the rebased delta that was applied to the target.
	Delta delta.Delta `json:"delta"`

	// Version is the session version this edit produced.
	Version int `json:"version"`

	// Author is the user who submitted the edit.
	Author string `json:"author"`

	// TargetID is the content key edited. Empty means the main body.
	TargetID string `json:"targetId,omitempty"`

	// Timestamp is when the session accepted the edit.
	Timestamp time.Time `json:"timestamp"`

	inverse delta.Delta
}

// NewEntry builds an entry. inverse undoes d against the target text as it
// was before d was applied.
func NewEntry(d, inverse delta.Delta, version int, author, targetID string, ts time.Time) Entry {
	return Entry{
		Delta:     d,
		Version:   version,
		Author:    author,
		TargetID:  targetID,
		Timestamp: ts,
		inverse:   inverse,
	}
}

// Inverse returns the delta that reverts this entry.
func (e Entry) Inverse() delta.Delta {
	return e.inverse
}

// Log is a fixed-capacity circular log of entries.
//
// # Description
//
// Append is O(1). When full, the oldest entry is evicted. Versions in the log
// are contiguous and increasing, so the oldest retained version is always
// newest - Len() + 1.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning session serializes access.
type Log struct {
	data  []Entry
	head  int // next write position
	tail  int // oldest entry
	count int
}

// NewLog creates a log holding at most capacity entries.
//
// # Inputs
//
//   - capacity: Maximum retained entries. Non-positive uses DefaultCapacity.
//
// # Outputs
//
//   - *Log: Ready-to-use log.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{data: make([]Entry, capacity)}
}

// Append adds an entry, evicting the oldest when the log is full.
//
// # Outputs
//
//   - bool: True if an older entry was evicted.
func (l *Log) Append(e Entry) bool {
	l.data[l.head] = e
	l.head = (l.head + 1) % len(l.data)

	if l.count == len(l.data) {
		l.tail = (l.tail + 1) % len(l.data)
		return true
	}
	l.count++
	return false
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return l.count
}

// Cap returns the maximum number of retained entries.
func (l *Log) Cap() int {
	return len(l.data)
}

// Oldest returns the oldest retained entry.
func (l *Log) Oldest() (Entry, bool) {
	if l.count == 0 {
		return Entry{}, false
	}
	return l.data[l.tail], true
}

// Newest returns the most recent entry.
func (l *Log) Newest() (Entry, bool) {
	if l.count == 0 {
		return Entry{}, false
	}
	return l.at(l.count - 1), true
}

// at returns the i-th retained entry, oldest first.
func (l *Log) at(i int) Entry {
	return l.data[(l.tail+i)%len(l.data)]
}

// Entries returns a copy of every retained entry, oldest first.
func (l *Log) Entries() []Entry {
	if l.count == 0 {
		return nil
	}
	out := make([]Entry, l.count)
	for i := range out {
		out[i] = l.at(i)
	}
	return out
}

// ForEach visits entries oldest first until fn returns false.
func (l *Log) ForEach(fn func(e Entry) bool) {
	for i := 0; i < l.count; i++ {
		if !fn(l.at(i)) {
			return
		}
	}
}

// Since returns entries with Version > version, oldest first.
func (l *Log) Since(version int) []Entry {
	var out []Entry
	l.ForEach(func(e Entry) bool {
		if e.Version > version {
			out = append(out, e)
		}
		return true
	})
	return out
}

// SinceOnTarget returns entries with Version > version that edited targetID,
// oldest first.
func (l *Log) SinceOnTarget(version int, targetID string) []Entry {
	var out []Entry
	l.ForEach(func(e Entry) bool {
		if e.Version > version && e.TargetID == targetID {
			out = append(out, e)
		}
		return true
	})
	return out
}

// LastBy returns the newest entry by author on targetID.
func (l *Log) LastBy(author, targetID string) (Entry, bool) {
	for i := l.count - 1; i >= 0; i-- {
		e := l.at(i)
		if e.Author == author && e.TargetID == targetID {
			return e, true
		}
	}
	return Entry{}, false
}

// Deltas extracts the deltas of entries in order.
func Deltas(entries []Entry) []delta.Delta {
	out := make([]delta.Delta, len(entries))
	for i, e := range entries {
		out[i] = e.Delta
	}
	return out
}

// Clear drops every entry.
func (l *Log) Clear() {
	clear(l.data)
	l.head, l.tail, l.count = 0, 0, 0
}
