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

import "math"

// all asks the iterator for whatever remains of the current op.
const all = math.MaxInt

// iterator walks an op list and hands out prefixes of the current op, so
// that two streams can be consumed in lockstep by matching lengths.
type iterator struct {
	ops    []Op
	index  int
	offset int // runes of ops[index] already consumed
}

func newIterator(ops []Op) *iterator {
	return &iterator{ops: ops}
}

func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

// peekKind returns the kind of the current op. Only valid when hasNext.
func (it *iterator) peekKind() Kind {
	return it.ops[it.index].Kind()
}

// peekLen returns the unconsumed length of the current op, or all when the
// stream is exhausted.
func (it *iterator) peekLen() int {
	if !it.hasNext() {
		return all
	}
	return it.ops[it.index].Len() - it.offset
}

// next consumes up to n runes of the current op and returns them as an op of
// the same kind.
func (it *iterator) next(n int) Op {
	op := it.ops[it.index]
	start := it.offset
	remaining := op.Len() - start
	if n >= remaining {
		n = remaining
		it.index++
		it.offset = 0
	} else {
		it.offset += n
	}

	switch o := op.(type) {
	case Retain:
		return Retain{Count: n}
	case Delete:
		return Delete{Count: n}
	case Insert:
		if start == 0 && n == remaining {
			return o
		}
		runes := []rune(o.Text)
		return Insert{Text: string(runes[start : start+n]), Attributes: o.Attributes}
	}
	return op
}
