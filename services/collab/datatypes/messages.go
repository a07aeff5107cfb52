// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/geometry"
	"github.com/AleutianAI/AleutianCollab/services/collab/history"
)

// Message type tags, shared by inbound and outbound frames.
const (
	TypeInit       = "init"
	TypeDelta      = "delta"
	TypeAck        = "ack"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
	TypeCursor     = "cursor"
	TypeError      = "error"
	TypeTransform  = "transform"
	TypeNote       = "note-created"
	TypeSync       = "sync"

	TypeJoin       = "join"
	TypeEdit       = "edit"
	TypeCreateNote = "create-note"
	TypeUndo       = "undo"
	TypeLeave      = "leave"
)

// Cursor is a caret position in line/column form.
type Cursor struct {
	Line int `json:"line" validate:"min=0"`
	Ch   int `json:"ch" validate:"min=0"`
}

// =============================================================================
// Outbound
// =============================================================================

// InitMessage is sent once to a user when they join a document.
type InitMessage struct {
	Type     string                   `json:"type"`
	Content  string                   `json:"content"`
	Targets  map[string]string        `json:"targets,omitempty"`
	Notes    map[string]geometry.Note `json:"notes,omitempty"`
	Version  int                      `json:"version"`
	Users    []string                 `json:"users"`
	Resynced bool                     `json:"resynced,omitempty"`
}

// DeltaMessage broadcasts an accepted, rebased edit.
type DeltaMessage struct {
	Type     string      `json:"type"`
	Delta    delta.Delta `json:"delta"`
	Version  int         `json:"version"`
	Author   string      `json:"author"`
	TargetID string      `json:"targetId,omitempty"`
}

// AckMessage confirms an accepted edit to its author.
type AckMessage struct {
	Type     string      `json:"type"`
	Delta    delta.Delta `json:"delta"`
	Version  int         `json:"version"`
	TargetID string      `json:"targetId,omitempty"`
}

// PresenceMessage announces a user joining or leaving.
type PresenceMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// CursorMessage relays a user's caret.
type CursorMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Cursor Cursor `json:"cursor"`
}

// ErrorMessage reports a recoverable protocol error. The connection stays open.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// TransformMessage broadcasts a spatial edit and the resulting note box.
type TransformMessage struct {
	Type      string             `json:"type"`
	UserID    string             `json:"userId"`
	TargetID  string             `json:"targetId"`
	Transform geometry.Transform `json:"transform"`
	Note      geometry.Note      `json:"note"`
}

// NoteCreatedMessage broadcasts a new sticky note.
type NoteCreatedMessage struct {
	Type     string        `json:"type"`
	TargetID string        `json:"targetId"`
	Text     string        `json:"text"`
	Note     geometry.Note `json:"note"`
	Version  int           `json:"version"`
	Author   string        `json:"author"`
}

// SyncMessage answers a catch-up request, either as the raw entries or as a
// single composed delta.
type SyncMessage struct {
	Type     string          `json:"type"`
	Version  int             `json:"version"`
	TargetID string          `json:"targetId,omitempty"`
	Entries  []history.Entry `json:"entries,omitempty"`
	Delta    *delta.Delta    `json:"delta,omitempty"`
}

// =============================================================================
// Inbound
// =============================================================================

// ClientMessage is the envelope of every inbound frame. Which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type string `json:"type" validate:"required,oneof=join delta edit cursor transform create-note undo sync leave"`

	// join
	DocID          string  `json:"docId,omitempty" validate:"required_if=Type join,max=256"`
	UserID         string  `json:"userId,omitempty" validate:"max=256"`
	InitialContent *string `json:"initialContent,omitempty"`

	// delta, edit, transform, create-note, undo, sync
	TargetID    string          `json:"targetId,omitempty" validate:"max=256"`
	BaseVersion int             `json:"baseVersion" validate:"min=0"`
	Ops         json.RawMessage `json:"ops,omitempty"`

	// edit
	Position int    `json:"position" validate:"min=0"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length" validate:"min=0"`

	// cursor
	Cursor *Cursor `json:"cursor,omitempty"`

	// create-note
	Note *geometry.Note `json:"note,omitempty"`

	// sync
	SinceVersion int  `json:"sinceVersion" validate:"min=0"`
	Compact      bool `json:"compact,omitempty"`
}

// DeltaRequest is a client's optimistic text edit and the version it was
// composed against.
type DeltaRequest struct {
	TargetID    string
	BaseVersion int
	Ops         []delta.Op
}

// TransformRequest is a spatial edit of one sticky note.
type TransformRequest struct {
	TargetID  string
	Transform geometry.Transform
}

// DeltaRequest decodes the ops of a delta frame.
func (m ClientMessage) DeltaRequest() (DeltaRequest, error) {
	var ops delta.OpList
	if len(m.Ops) > 0 {
		if err := json.Unmarshal(m.Ops, &ops); err != nil {
			return DeltaRequest{}, fmt.Errorf("decoding ops: %w", err)
		}
	}
	return DeltaRequest{TargetID: m.TargetID, BaseVersion: m.BaseVersion, Ops: ops}, nil
}

// TransformRequest decodes the ops of a transform frame.
func (m ClientMessage) TransformRequest() (TransformRequest, error) {
	var ops geometry.OpList
	if len(m.Ops) > 0 {
		if err := json.Unmarshal(m.Ops, &ops); err != nil {
			return TransformRequest{}, fmt.Errorf("decoding transform ops: %w", err)
		}
	}
	return TransformRequest{TargetID: m.TargetID, Transform: geometry.Transform{Ops: ops}}, nil
}

// EditOp returns the positional op of an edit frame: an insert when Text is
// set, otherwise a delete of Length runes.
func (m ClientMessage) EditOp() delta.Op {
	if m.Text != "" {
		return delta.Insert{Text: m.Text}
	}
	return delta.Delete{Count: m.Length}
}
