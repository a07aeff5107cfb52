// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"encoding/json"
	"sync"

	"github.com/AleutianAI/AleutianCollab/services/collab/datatypes"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
)

// ClientConnection is the capability a session needs to reach one client.
//
// # Description
//
// Sessions reference connections but never own them. Implementations must
// not block the caller: sessions send while holding their lock, so a slow
// client has to be buffered or dropped by the transport.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Every send on a closed
// connection is a silent no-op.
type ClientConnection interface {
	Send(v any)
	SendError(msg string)
	SendDelta(d delta.Delta, version int, author, targetID string)
	SendUserJoined(userID string)
	SendUserLeft(userID string)
	SendCursorUpdate(userID string, cursor datatypes.Cursor)
	Close()
	IsOpen() bool
}

// MemoryConnection is a ClientConnection that records every message it is
// sent. It backs in-process clients and tests.
type MemoryConnection struct {
	mu       sync.Mutex
	closed   bool
	messages []any
}

// NewMemoryConnection returns an open connection with no messages.
func NewMemoryConnection() *MemoryConnection {
	return &MemoryConnection{}
}

func (c *MemoryConnection) Send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.messages = append(c.messages, v)
}

func (c *MemoryConnection) SendError(msg string) {
	c.Send(datatypes.ErrorMessage{Type: datatypes.TypeError, Error: msg})
}

func (c *MemoryConnection) SendDelta(d delta.Delta, version int, author, targetID string) {
	c.Send(datatypes.DeltaMessage{
		Type:     datatypes.TypeDelta,
		Delta:    d,
		Version:  version,
		Author:   author,
		TargetID: targetID,
	})
}

func (c *MemoryConnection) SendUserJoined(userID string) {
	c.Send(datatypes.PresenceMessage{Type: datatypes.TypeUserJoined, UserID: userID})
}

func (c *MemoryConnection) SendUserLeft(userID string) {
	c.Send(datatypes.PresenceMessage{Type: datatypes.TypeUserLeft, UserID: userID})
}

func (c *MemoryConnection) SendCursorUpdate(userID string, cursor datatypes.Cursor) {
	c.Send(datatypes.CursorMessage{Type: datatypes.TypeCursor, UserID: userID, Cursor: cursor})
}

func (c *MemoryConnection) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *MemoryConnection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Messages returns a copy of everything received so far.
func (c *MemoryConnection) Messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.messages...)
}

// OfType returns the received messages whose "type" tag equals t.
func (c *MemoryConnection) OfType(t string) []any {
	var out []any
	for _, m := range c.Messages() {
		if messageType(m) == t {
			out = append(out, m)
		}
	}
	return out
}

// Deltas returns every delta broadcast received, in order.
func (c *MemoryConnection) Deltas() []datatypes.DeltaMessage {
	var out []datatypes.DeltaMessage
	for _, m := range c.Messages() {
		if dm, ok := m.(datatypes.DeltaMessage); ok {
			out = append(out, dm)
		}
	}
	return out
}

// Reset discards recorded messages.
func (c *MemoryConnection) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}

func messageType(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return ""
	}
	return tag.Type
}
