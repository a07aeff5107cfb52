// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delta implements the text edit algebra used by collaborative sessions.
//
// # Description
//
// A Delta is an ordered list of retain/insert/delete operations that, walked
// left to right over a source text, describes one atomic edit. The package
// provides the pure functions the session layer is built on:
//
//   - Apply: execute a delta against text.
//   - Transform: rebase one delta over a concurrent one.
//   - Compose: collapse two sequential deltas into one.
//   - Invert: build the undo of a delta against its base text.
//
// # Units
//
// All counts and positions are measured in Unicode code points (runes), not
// bytes, so that multi-byte characters are never split.
//
// # Thread Safety
//
// Deltas are values. None of the functions mutate their inputs.
package delta

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"unicode/utf8"
)

// =============================================================================
// Operation Types
// =============================================================================

// Kind identifies the variant of an Op.
type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Op is one atomic edit primitive. The concrete types are Retain, Insert and
// Delete; the interface is sealed.
type Op interface {
	// Kind reports which variant the op is.
	Kind() Kind

	// Len is the number of runes the op covers.
	Len() int

	isOp()
}

// Retain copies Count runes of the source unchanged.
type Retain struct {
	Count int
}

// Insert splices Text in at the cursor. Attributes are opaque to the algebra.
type Insert struct {
	Text       string
	Attributes map[string]any
}

// Delete removes Count runes of the source.
type Delete struct {
	Count int
}

func (Retain) Kind() Kind { return KindRetain }
func (Insert) Kind() Kind { return KindInsert }
func (Delete) Kind() Kind { return KindDelete }

func (r Retain) Len() int { return r.Count }
func (i Insert) Len() int { return utf8.RuneCountInString(i.Text) }
func (d Delete) Len() int { return d.Count }

func (Retain) isOp() {}
func (Insert) isOp() {}
func (Delete) isOp() {}

// Delta is an ordered sequence of ops describing one edit.
type Delta struct {
	Ops []Op
}

// New builds a normalized delta from ops. It does not validate them; use
// Parse for untrusted input.
func New(ops ...Op) Delta {
	return Normalize(Delta{Ops: ops})
}

// =============================================================================
// Normalization and Validation
// =============================================================================

// Normalize merges adjacent ops of the same kind and drops zero-length ops.
//
// # Description
//
// Consecutive retains and deletes add their counts. Consecutive inserts
// concatenate their text when their attribute maps are equal; inserts with
// different attributes stay separate since attributes are never merged.
// The input is not modified.
//
// # Outputs
//
//   - Delta: The normalized delta. Normalize(Normalize(d)) == Normalize(d).
func Normalize(d Delta) Delta {
	out := make([]Op, 0, len(d.Ops))
	for _, op := range d.Ops {
		if op == nil || op.Len() == 0 {
			continue
		}
		if len(out) == 0 {
			out = append(out, op)
			continue
		}
		last := out[len(out)-1]
		switch cur := op.(type) {
		case Retain:
			if prev, ok := last.(Retain); ok {
				out[len(out)-1] = Retain{Count: prev.Count + cur.Count}
				continue
			}
		case Delete:
			if prev, ok := last.(Delete); ok {
				out[len(out)-1] = Delete{Count: prev.Count + cur.Count}
				continue
			}
		case Insert:
			if prev, ok := last.(Insert); ok && sameAttributes(prev.Attributes, cur.Attributes) {
				out[len(out)-1] = Insert{Text: prev.Text + cur.Text, Attributes: prev.Attributes}
				continue
			}
		}
		out = append(out, op)
	}
	return Delta{Ops: out}
}

// Validate checks every op for malformed counts or text.
//
// # Outputs
//
//   - error: ErrNegativeCount, ErrEmptyInsert or ErrUnknownOp wrapped with the
//     offending op index, or nil.
func (d Delta) Validate() error {
	for i, op := range d.Ops {
		switch o := op.(type) {
		case Retain:
			if o.Count < 0 {
				return fmt.Errorf("op %d: retain(%d): %w", i, o.Count, ErrNegativeCount)
			}
		case Delete:
			if o.Count < 0 {
				return fmt.Errorf("op %d: delete(%d): %w", i, o.Count, ErrNegativeCount)
			}
		case Insert:
			if o.Text == "" {
				return fmt.Errorf("op %d: %w", i, ErrEmptyInsert)
			}
		default:
			return fmt.Errorf("op %d: %T: %w", i, op, ErrUnknownOp)
		}
	}
	return nil
}

// Parse validates ops and returns them as a normalized delta. This is the
// entry point for ops received from clients.
func Parse(ops []Op) (Delta, error) {
	d := Delta{Ops: ops}
	if err := d.Validate(); err != nil {
		return Delta{}, err
	}
	return Normalize(d), nil
}

// =============================================================================
// Utilities
// =============================================================================

// IsNoop reports whether applying d cannot change any text.
func IsNoop(d Delta) bool {
	for _, op := range d.Ops {
		if op.Kind() != KindRetain && op.Len() > 0 {
			return false
		}
	}
	return true
}

// GetLengthChange returns the rune length difference produced by applying d.
func GetLengthChange(d Delta) int {
	change := 0
	for _, op := range d.Ops {
		switch o := op.(type) {
		case Insert:
			change += o.Len()
		case Delete:
			change -= o.Count
		}
	}
	return change
}

// BaseLength is the number of source runes d explicitly consumes.
func BaseLength(d Delta) int {
	n := 0
	for _, op := range d.Ops {
		if op.Kind() != KindInsert {
			n += op.Len()
		}
	}
	return n
}

// PositionToDelta converts a positional insert or delete into a delta.
//
// # Inputs
//
//   - pos: Rune offset of the edit.
//   - op: An Insert or a Delete.
//   - docLength: Rune length of the document the edit targets. When the
//     remainder after the edit is positive a trailing retain is emitted.
//
// # Outputs
//
//   - Delta: retain(pos), op, retain(rest), normalized.
//   - error: ErrPositionOutOfRange or ErrUnknownOp.
func PositionToDelta(pos int, op Op, docLength int) (Delta, error) {
	if pos < 0 || pos > docLength {
		return Delta{}, fmt.Errorf("position %d of %d: %w", pos, docLength, ErrPositionOutOfRange)
	}
	ops := []Op{Retain{Count: pos}}
	switch o := op.(type) {
	case Insert:
		if o.Text == "" {
			return Delta{}, ErrEmptyInsert
		}
		ops = append(ops, o, Retain{Count: docLength - pos})
	case Delete:
		if o.Count < 0 {
			return Delta{}, ErrNegativeCount
		}
		rest := docLength - pos - o.Count
		if rest < 0 {
			return Delta{}, fmt.Errorf("delete(%d) at %d of %d: %w", o.Count, pos, docLength, ErrPositionOutOfRange)
		}
		ops = append(ops, o, Retain{Count: rest})
	default:
		return Delta{}, fmt.Errorf("%T: %w", op, ErrUnknownOp)
	}
	return New(ops...), nil
}

// Equal reports whether two deltas normalize to the same ops.
func Equal(a, b Delta) bool {
	na, nb := Normalize(a), Normalize(b)
	if len(na.Ops) != len(nb.Ops) {
		return false
	}
	for i := range na.Ops {
		if !reflect.DeepEqual(na.Ops[i], nb.Ops[i]) {
			return false
		}
	}
	return true
}

func sameAttributes(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.EqualFunc(a, b, func(x, y any) bool { return reflect.DeepEqual(x, y) })
}

// =============================================================================
// JSON
// =============================================================================

// wireOp is the tagged JSON form of an Op.
type wireOp struct {
	Type       Kind           `json:"type"`
	Count      *int           `json:"count,omitempty"`
	Text       *string        `json:"text,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// opToWire converts an op into its tagged wire form.
func opToWire(op Op) wireOp {
	switch o := op.(type) {
	case Retain:
		n := o.Count
		return wireOp{Type: KindRetain, Count: &n}
	case Delete:
		n := o.Count
		return wireOp{Type: KindDelete, Count: &n}
	case Insert:
		s := o.Text
		return wireOp{Type: KindInsert, Text: &s, Attributes: o.Attributes}
	}
	return wireOp{}
}

func opFromWire(w wireOp) (Op, error) {
	switch w.Type {
	case KindRetain, KindDelete:
		if w.Count == nil {
			return nil, fmt.Errorf("%s without count: %w", w.Type, ErrUnknownOp)
		}
		if w.Type == KindRetain {
			return Retain{Count: *w.Count}, nil
		}
		return Delete{Count: *w.Count}, nil
	case KindInsert:
		if w.Text == nil {
			return nil, fmt.Errorf("insert without text: %w", ErrEmptyInsert)
		}
		return Insert{Text: *w.Text, Attributes: w.Attributes}, nil
	}
	return nil, fmt.Errorf("op type %q: %w", w.Type, ErrUnknownOp)
}

// OpList is a JSON-decodable list of ops, used for inbound messages that
// carry bare ops rather than a full delta.
type OpList []Op

// MarshalJSON encodes the list as tagged ops.
func (l OpList) MarshalJSON() ([]byte, error) {
	wire := make([]wireOp, len(l))
	for i, op := range l {
		wire[i] = opToWire(op)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes tagged ops. Unknown op types are rejected.
func (l *OpList) UnmarshalJSON(data []byte) error {
	var wire []wireOp
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ops := make([]Op, len(wire))
	for i, w := range wire {
		op, err := opFromWire(w)
		if err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		ops[i] = op
	}
	*l = ops
	return nil
}

// MarshalJSON encodes the delta as {"ops":[...]}.
func (d Delta) MarshalJSON() ([]byte, error) {
	ops := OpList(d.Ops)
	if ops == nil {
		ops = OpList{}
	}
	return json.Marshal(struct {
		Ops OpList `json:"ops"`
	}{Ops: ops})
}

// UnmarshalJSON decodes {"ops":[...]}. The result is not validated.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var aux struct {
		Ops OpList `json:"ops"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.Ops = aux.Ops
	return nil
}

// String renders the delta compactly, e.g. "[r6 i\"Beautiful \" d2]".
func (d Delta) String() string {
	s := "["
	for i, op := range d.Ops {
		if i > 0 {
			s += " "
		}
		switch o := op.(type) {
		case Retain:
			s += fmt.Sprintf("r%d", o.Count)
		case Insert:
			s += fmt.Sprintf("i%q", o.Text)
		case Delete:
			s += fmt.Sprintf("d%d", o.Count)
		}
	}
	return s + "]"
}
