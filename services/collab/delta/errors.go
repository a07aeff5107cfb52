// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package delta

import (
	"errors"
	"fmt"
)

// Sentinel errors for delta operations.
var (
	// ErrNegativeCount is returned when a retain or delete has a count below zero.
	ErrNegativeCount = errors.New("negative op count")

	// ErrEmptyInsert is returned when an insert carries no text.
	ErrEmptyInsert = errors.New("insert text is empty")

	// ErrUnknownOp is returned for op types outside retain/insert/delete.
	ErrUnknownOp = errors.New("unknown op type")

	// ErrRetainOutOfRange is returned when a retain runs past the end of the text.
	ErrRetainOutOfRange = errors.New("retain exceeds remaining text")

	// ErrDeleteOutOfRange is returned when a delete runs past the end of the text.
	ErrDeleteOutOfRange = errors.New("delete exceeds remaining text")

	// ErrPositionOutOfRange is returned when a positional edit falls outside the document.
	ErrPositionOutOfRange = errors.New("position out of range")
)

// ApplyError describes where a delta failed to fit its source text.
type ApplyError struct {
	// OpIndex is the index of the op that overran the text.
	OpIndex int

	// Cursor is the rune offset reached before the failing op.
	Cursor int

	// TextLen is the rune length of the source text.
	TextLen int

	// Err is ErrRetainOutOfRange or ErrDeleteOutOfRange.
	Err error
}

// Error implements the error interface.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("op %d at cursor %d of %d: %v", e.OpIndex, e.Cursor, e.TextLen, e.Err)
}

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *ApplyError) Unwrap() error {
	return e.Err
}
