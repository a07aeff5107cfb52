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
	"time"

	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/geometry"
)

// Snapshot is a full-content checkpoint of a document at one version.
type Snapshot struct {
	// Content is the main document body.
	Content string `json:"content"`

	// Targets holds sticky-note texts keyed by target ID.
	Targets map[string]string `json:"targets,omitempty"`

	// Notes holds sticky-note geometry keyed by target ID.
	Notes map[string]geometry.Note `json:"notes,omitempty"`

	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredOperation is one accepted edit mirrored to the operation log.
type StoredOperation struct {
	DocumentID string      `json:"documentId"`
	Version    int         `json:"version"`
	Delta      delta.Delta `json:"delta"`
	Author     string      `json:"author"`
	TargetID   string      `json:"targetId,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`

	// Note is set when the operation created a sticky note.
	Note *geometry.Note `json:"note,omitempty"`
}
