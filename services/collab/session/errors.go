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

import "errors"

// Sentinel errors for session operations.
var (
	// ErrInvalidUser is returned when an operation names a user that has not
	// joined the session.
	ErrInvalidUser = errors.New("user is not a member of this session")

	// ErrInvalidTarget is returned when an edit names a content target that
	// does not exist.
	ErrInvalidTarget = errors.New("target does not exist")

	// ErrTargetExists is returned when creating a note whose ID is taken.
	ErrTargetExists = errors.New("target already exists")

	// ErrVersionAhead is returned when a client claims a base version newer
	// than the session's.
	ErrVersionAhead = errors.New("base version is ahead of the document")

	// ErrStaleBase is returned when the base version is older than the oldest
	// retained history entry. The client must resync from a fresh init.
	ErrStaleBase = errors.New("base version is older than retained history")

	// ErrMalformedDelta is returned when ops fail validation or do not fit
	// the target text.
	ErrMalformedDelta = errors.New("malformed delta")

	// ErrMalformedTransform is returned when spatial ops fail validation.
	ErrMalformedTransform = errors.New("malformed transform")

	// ErrNothingToUndo is returned when the user has no retained edit on the
	// target.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrOutOfOrder is returned when a replayed operation does not carry the
	// next version.
	ErrOutOfOrder = errors.New("operation version out of order")
)
