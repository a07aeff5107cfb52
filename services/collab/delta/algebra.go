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
	"fmt"
	"strings"
)

// Priority decides insert/insert ties in Transform.
type Priority int

const (
	// PriorityRight treats the other delta's insert as already present, so the
	// transformed insert lands after it. This is the server-side default.
	PriorityRight Priority = iota

	// PriorityLeft lets the transformed delta's insert win the tie.
	PriorityLeft
)

// Apply executes d against text.
//
// # Description
//
// Walks ops left to right: retain copies runes, insert appends its text,
// delete skips runes. Any text past the last op is appended verbatim.
//
// # Inputs
//
//   - text: The source text.
//   - d: The delta to apply.
//
// # Outputs
//
//   - string: The edited text.
//   - error: *ApplyError wrapping ErrRetainOutOfRange or ErrDeleteOutOfRange
//     when a run exceeds the remaining text. Runs are never clamped.
func Apply(text string, d Delta) (string, error) {
	src := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0

	for i, op := range d.Ops {
		switch o := op.(type) {
		case Retain:
			if o.Count < 0 {
				return "", fmt.Errorf("op %d: %w", i, ErrNegativeCount)
			}
			if cursor+o.Count > len(src) {
				return "", &ApplyError{OpIndex: i, Cursor: cursor, TextLen: len(src), Err: ErrRetainOutOfRange}
			}
			b.WriteString(string(src[cursor : cursor+o.Count]))
			cursor += o.Count
		case Insert:
			b.WriteString(o.Text)
		case Delete:
			if o.Count < 0 {
				return "", fmt.Errorf("op %d: %w", i, ErrNegativeCount)
			}
			if cursor+o.Count > len(src) {
				return "", &ApplyError{OpIndex: i, Cursor: cursor, TextLen: len(src), Err: ErrDeleteOutOfRange}
			}
			cursor += o.Count
		default:
			return "", fmt.Errorf("op %d: %T: %w", i, op, ErrUnknownOp)
		}
	}

	b.WriteString(string(src[cursor:]))
	return b.String(), nil
}

// Transform rewrites a so that it applies after b.
//
// # Description
//
// Both deltas must have been composed against the same text. The result a'
// satisfies Apply(Apply(t, b), a') == Apply(Apply(t, a), b') where b' is
// Transform(b, a) with the opposite priority. The two streams are walked in
// lockstep:
//
//   - insert vs insert: PriorityRight emits retain(len b) first,
//     PriorityLeft emits a's insert first.
//   - insert vs retain/delete: the insert is emitted, only its side advances.
//   - retain/delete vs insert: retain(len b) is emitted.
//   - retain vs retain: retain(min).
//   - retain vs delete, delete vs delete: nothing, b already removed the text.
//   - delete vs retain: delete(min).
//
// Once a is exhausted the rest of a' is an implicit retain and is omitted.
//
// # Outputs
//
//   - Delta: The normalized a'.
func Transform(a, b Delta, priority Priority) Delta {
	ia := newIterator(Normalize(a).Ops)
	ib := newIterator(Normalize(b).Ops)
	out := make([]Op, 0, len(a.Ops)+1)

	for ia.hasNext() {
		if !ib.hasNext() {
			out = append(out, ia.next(all))
			continue
		}

		ka, kb := ia.peekKind(), ib.peekKind()
		if ka == KindInsert && (kb != KindInsert || priority == PriorityLeft) {
			out = append(out, ia.next(all))
			continue
		}
		if kb == KindInsert {
			out = append(out, Retain{Count: ib.next(all).Len()})
			continue
		}

		n := min(ia.peekLen(), ib.peekLen())
		opA := ia.next(n)
		if ib.next(n).Kind() == KindDelete {
			continue
		}
		out = append(out, opA)
	}

	return Normalize(Delta{Ops: out})
}

// TransformAgainstSequence rebases d over each delta in seq, in order. It is
// used to bring a client edit forward past every committed edit the client
// had not yet seen.
func TransformAgainstSequence(d Delta, seq []Delta) Delta {
	result := d
	for _, committed := range seq {
		result = Transform(result, committed, PriorityRight)
	}
	return result
}

// Compose returns a single delta equivalent to applying a then b.
//
// # Description
//
// b's inserts pass straight through and a's deletes pass straight through.
// Otherwise the streams are consumed in matching lengths: a retain or insert
// under a b retain is kept, a retain under a b delete becomes a delete, and an
// insert under a b delete disappears.
//
// # Outputs
//
//   - Delta: The normalized composition.
func Compose(a, b Delta) Delta {
	ia := newIterator(Normalize(a).Ops)
	ib := newIterator(Normalize(b).Ops)
	out := make([]Op, 0, len(a.Ops)+len(b.Ops))

	for ia.hasNext() || ib.hasNext() {
		switch {
		case ib.hasNext() && ib.peekKind() == KindInsert:
			out = append(out, ib.next(all))
		case ia.hasNext() && ia.peekKind() == KindDelete:
			out = append(out, ia.next(all))
		case !ia.hasNext():
			out = append(out, ib.next(all))
		case !ib.hasNext():
			out = append(out, ia.next(all))
		default:
			n := min(ia.peekLen(), ib.peekLen())
			opA, opB := ia.next(n), ib.next(n)
			if opB.Kind() == KindRetain {
				out = append(out, opA)
			} else if opA.Kind() == KindRetain {
				out = append(out, Delete{Count: n})
			}
		}
	}

	return Normalize(Delta{Ops: out})
}

// Invert builds the delta that undoes d when applied to Apply(base, d).
//
// # Inputs
//
//   - d: The forward delta.
//   - base: The text d was applied to. Deleted runs are recovered from it.
//
// # Outputs
//
//   - Delta: The normalized inverse.
//   - error: *ApplyError when d does not fit base.
func Invert(d Delta, base string) (Delta, error) {
	src := []rune(base)
	out := make([]Op, 0, len(d.Ops))
	cursor := 0

	for i, op := range d.Ops {
		switch o := op.(type) {
		case Retain:
			if cursor+o.Count > len(src) {
				return Delta{}, &ApplyError{OpIndex: i, Cursor: cursor, TextLen: len(src), Err: ErrRetainOutOfRange}
			}
			out = append(out, o)
			cursor += o.Count
		case Insert:
			out = append(out, Delete{Count: o.Len()})
		case Delete:
			if cursor+o.Count > len(src) {
				return Delta{}, &ApplyError{OpIndex: i, Cursor: cursor, TextLen: len(src), Err: ErrDeleteOutOfRange}
			}
			out = append(out, Insert{Text: string(src[cursor : cursor+o.Count])})
			cursor += o.Count
		default:
			return Delta{}, fmt.Errorf("op %d: %T: %w", i, op, ErrUnknownOp)
		}
	}

	return Normalize(Delta{Ops: out}), nil
}
