// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that end up
// in storage keys.
//
// Document IDs become BadgerDB key prefixes, Redis key suffixes and
// Postgres primary keys. An ID containing the key separator could alias
// another document's keys, so every ID is checked against one strict
// pattern before it reaches a store.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxIdentifierLength bounds document and user IDs.
const MaxIdentifierLength = 128

// ErrInvalidIdentifier is wrapped by every validation failure.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// identifierPattern allows letters, digits and . _ : @ - with an
// alphanumeric first character. '/' is excluded since it separates key
// segments.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)

// ValidateDocumentID checks a document ID.
//
// Example:
//
//	if err := validation.ValidateDocumentID(docID); err != nil {
//	    return nil, err
//	}
//	// Safe to use as a storage key
func ValidateDocumentID(id string) error {
	return validateIdentifier("document id", id)
}

// ValidateUserID checks a user ID. Users pick their own IDs on join, so
// the same rules as document IDs apply.
func ValidateUserID(id string) error {
	return validateIdentifier("user id", id)
}

func validateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidIdentifier, kind)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidIdentifier, kind, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q (letters, digits and . _ : @ - only)", ErrInvalidIdentifier, kind, id)
	}
	return nil
}
