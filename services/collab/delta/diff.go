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
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff computes a delta that turns oldText into newText.
//
// # Description
//
// Runs a character diff and maps equal runs to retains, inserted runs to
// inserts and removed runs to deletes. A trailing retain is dropped since
// Apply copies the remainder anyway.
//
// # Outputs
//
//   - Delta: Normalized delta with Apply(oldText, d) == newText.
func Diff(oldText, newText string) Delta {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)

	ops := make([]Op, 0, len(diffs))
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			ops = append(ops, Retain{Count: utf8.RuneCountInString(d.Text)})
		case diffmatchpatch.DiffInsert:
			ops = append(ops, Insert{Text: d.Text})
		case diffmatchpatch.DiffDelete:
			ops = append(ops, Delete{Count: utf8.RuneCountInString(d.Text)})
		}
	}

	out := Normalize(Delta{Ops: ops})
	if n := len(out.Ops); n > 0 && out.Ops[n-1].Kind() == KindRetain {
		out.Ops = out.Ops[:n-1]
	}
	return out
}
