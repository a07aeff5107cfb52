// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"errors"

	"github.com/AleutianAI/AleutianCollab/pkg/validation"
	"github.com/AleutianAI/AleutianCollab/services/collab/delta"
	"github.com/AleutianAI/AleutianCollab/services/collab/session"
)

// Sentinel errors for manager operations.
var (
	// ErrNotInSession is returned when a user who has not joined any
	// document sends an edit.
	ErrNotInSession = errors.New("user has not joined a document")

	// ErrManagerClosed is returned once Shutdown has begun.
	ErrManagerClosed = errors.New("document manager is shut down")
)

// Reason maps an edit error to a short, stable label for metrics and logs.
// A nil error maps to the empty string.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInSession):
		return "not_in_session"
	case errors.Is(err, ErrManagerClosed):
		return "closed"
	case errors.Is(err, validation.ErrInvalidIdentifier):
		return "invalid_id"
	case errors.Is(err, session.ErrInvalidUser):
		return "invalid_user"
	case errors.Is(err, session.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, session.ErrTargetExists):
		return "target_exists"
	case errors.Is(err, session.ErrVersionAhead):
		return "version_ahead"
	case errors.Is(err, session.ErrStaleBase):
		return "stale_base"
	case errors.Is(err, session.ErrMalformedDelta), errors.Is(err, delta.ErrPositionOutOfRange):
		return "malformed_delta"
	case errors.Is(err, session.ErrMalformedTransform):
		return "malformed_transform"
	case errors.Is(err, session.ErrNothingToUndo):
		return "nothing_to_undo"
	default:
		return "internal"
	}
}
