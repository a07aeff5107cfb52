// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package geometry is the spatial counterpart of the delta package: move and
// resize operations folded over a sticky note's box.
//
// There is no concurrent transform here. Competing geometry edits are
// resolved last-writer-wins by the session.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownOp is returned for op types other than move and resize.
var ErrUnknownOp = errors.New("unknown transform op")

// Kind identifies the variant of an Op.
type Kind string

const (
	KindMove   Kind = "move"
	KindResize Kind = "resize"
)

// Op is a single spatial edit. Concrete types are Move and Resize.
type Op interface {
	Kind() Kind
	isOp()
}

// Move displaces the note center by a relative amount.
type Move struct {
	DX float64
	DY float64
}

// Resize grows or shrinks the note by a relative amount.
type Resize struct {
	DW float64
	DH float64
}

func (Move) Kind() Kind   { return KindMove }
func (Resize) Kind() Kind { return KindResize }
func (Move) isOp()        {}
func (Resize) isOp()      {}

// Transform is an ordered list of spatial ops.
type Transform struct {
	Ops []Op
}

// Note is the box a sticky note occupies on the canvas.
type Note struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// ApplyTransform folds t over note. Moves add to the center and resizes add
// to the size. Width and height are floored at zero once, after the whole
// transform, so t and Normalize(t) always give the same note.
func ApplyTransform(note Note, t Transform) Note {
	for _, op := range t.Ops {
		switch o := op.(type) {
		case Move:
			note.CenterX += o.DX
			note.CenterY += o.DY
		case Resize:
			note.Width += o.DW
			note.Height += o.DH
		}
	}
	note.Width = max(note.Width, 0)
	note.Height = max(note.Height, 0)
	return note
}

// Normalize accumulates runs of consecutive same-kind ops.
func Normalize(t Transform) Transform {
	out := make([]Op, 0, len(t.Ops))
	for _, op := range t.Ops {
		if op == nil {
			continue
		}
		if n := len(out); n > 0 {
			switch cur := op.(type) {
			case Move:
				if prev, ok := out[n-1].(Move); ok {
					out[n-1] = Move{DX: prev.DX + cur.DX, DY: prev.DY + cur.DY}
					continue
				}
			case Resize:
				if prev, ok := out[n-1].(Resize); ok {
					out[n-1] = Resize{DW: prev.DW + cur.DW, DH: prev.DH + cur.DH}
					continue
				}
			}
		}
		out = append(out, op)
	}
	return Transform{Ops: out}
}

// Validate rejects nil or foreign op types.
func (t Transform) Validate() error {
	for i, op := range t.Ops {
		switch op.(type) {
		case Move, Resize:
		default:
			return fmt.Errorf("op %d: %T: %w", i, op, ErrUnknownOp)
		}
	}
	return nil
}

// IsNoop reports whether t leaves every note unchanged.
func IsNoop(t Transform) bool {
	for _, op := range Normalize(t).Ops {
		switch o := op.(type) {
		case Move:
			if o.DX != 0 || o.DY != 0 {
				return false
			}
		case Resize:
			if o.DW != 0 || o.DH != 0 {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// JSON
// =============================================================================

type wireOp struct {
	Type Kind     `json:"type"`
	DX   *float64 `json:"dx,omitempty"`
	DY   *float64 `json:"dy,omitempty"`
	DW   *float64 `json:"dw,omitempty"`
	DH   *float64 `json:"dh,omitempty"`
}

// OpList is the JSON form of a list of spatial ops.
type OpList []Op

// MarshalJSON encodes ops as {"type":"move","dx":..,"dy":..}.
func (l OpList) MarshalJSON() ([]byte, error) {
	wire := make([]wireOp, 0, len(l))
	for _, op := range l {
		switch o := op.(type) {
		case Move:
			dx, dy := o.DX, o.DY
			wire = append(wire, wireOp{Type: KindMove, DX: &dx, DY: &dy})
		case Resize:
			dw, dh := o.DW, o.DH
			wire = append(wire, wireOp{Type: KindResize, DW: &dw, DH: &dh})
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes tagged ops. Missing components default to zero.
func (l *OpList) UnmarshalJSON(data []byte) error {
	var wire []wireOp
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ops := make([]Op, len(wire))
	for i, w := range wire {
		switch w.Type {
		case KindMove:
			ops[i] = Move{DX: deref(w.DX), DY: deref(w.DY)}
		case KindResize:
			ops[i] = Resize{DW: deref(w.DW), DH: deref(w.DH)}
		default:
			return fmt.Errorf("op %d: type %q: %w", i, w.Type, ErrUnknownOp)
		}
	}
	*l = ops
	return nil
}

// MarshalJSON encodes the transform as {"ops":[...]}.
func (t Transform) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Ops OpList `json:"ops"`
	}{Ops: OpList(t.Ops)})
}

// UnmarshalJSON decodes {"ops":[...]}.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var aux struct {
		Ops OpList `json:"ops"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Ops = aux.Ops
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
