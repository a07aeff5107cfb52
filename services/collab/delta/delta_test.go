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
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Normalize / Validate
// =============================================================================

func TestNormalize(t *testing.T) {
	bold := map[string]any{"bold": true}

	tests := []struct {
		name string
		in   Delta
		want []Op
	}{
		{
			name: "merges retains and deletes",
			in:   Delta{Ops: []Op{Retain{2}, Retain{3}, Delete{1}, Delete{4}}},
			want: []Op{Retain{5}, Delete{5}},
		},
		{
			name: "drops zero length ops",
			in:   Delta{Ops: []Op{Retain{0}, Insert{Text: ""}, Delete{0}, Insert{Text: "a"}}},
			want: []Op{Insert{Text: "a"}},
		},
		{
			name: "merges inserts with equal attributes",
			in:   Delta{Ops: []Op{Insert{Text: "ab", Attributes: bold}, Insert{Text: "c", Attributes: map[string]any{"bold": true}}}},
			want: []Op{Insert{Text: "abc", Attributes: bold}},
		},
		{
			name: "keeps inserts with different attributes apart",
			in:   Delta{Ops: []Op{Insert{Text: "ab", Attributes: bold}, Insert{Text: "c"}}},
			want: []Op{Insert{Text: "ab", Attributes: bold}, Insert{Text: "c"}},
		},
		{
			name: "empty stays empty",
			in:   Delta{},
			want: []Op{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got.Ops)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("negative retain", func(t *testing.T) {
		err := Delta{Ops: []Op{Retain{-1}}}.Validate()
		assert.ErrorIs(t, err, ErrNegativeCount)
	})

	t.Run("negative delete", func(t *testing.T) {
		_, err := Parse([]Op{Retain{1}, Delete{-3}})
		assert.ErrorIs(t, err, ErrNegativeCount)
	})

	t.Run("empty insert", func(t *testing.T) {
		_, err := Parse([]Op{Insert{}})
		assert.ErrorIs(t, err, ErrEmptyInsert)
	})

	t.Run("nil op", func(t *testing.T) {
		_, err := Parse([]Op{nil})
		assert.ErrorIs(t, err, ErrUnknownOp)
	})

	t.Run("valid ops normalize", func(t *testing.T) {
		d, err := Parse([]Op{Retain{1}, Retain{1}, Insert{Text: "x"}})
		require.NoError(t, err)
		assert.Equal(t, []Op{Retain{2}, Insert{Text: "x"}}, d.Ops)
	})
}

// =============================================================================
// Apply
// =============================================================================

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		text string
		d    Delta
		want string
	}{
		{"insert in middle", "Hello World", New(Retain{6}, Insert{Text: "Beautiful "}), "Hello Beautiful World"},
		{"delete tail", "Hello World", New(Retain{6}, Delete{5}), "Hello "},
		{"insert at start", "abc", New(Insert{Text: "X"}), "Xabc"},
		{"insert at end", "abc", New(Retain{3}, Insert{Text: "X"}), "abcX"},
		{"empty delta", "abc", Delta{}, "abc"},
		{"replace", "abc", New(Retain{1}, Delete{1}, Insert{Text: "B"}), "aBc"},
		{"multibyte runes", "héllo", New(Retain{1}, Delete{1}, Insert{Text: "e"}), "hello"},
		{"emoji counts as one", "a😀b", New(Retain{2}, Insert{Text: "!"}), "a😀!b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.text, tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_OutOfRange(t *testing.T) {
	t.Run("retain past end", func(t *testing.T) {
		_, err := Apply("abc", New(Retain{4}, Insert{Text: "x"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetainOutOfRange)

		var applyErr *ApplyError
		require.True(t, errors.As(err, &applyErr))
		assert.Equal(t, 0, applyErr.OpIndex)
		assert.Equal(t, 3, applyErr.TextLen)
	})

	t.Run("delete past end", func(t *testing.T) {
		_, err := Apply("abc", New(Retain{2}, Delete{2}))
		assert.ErrorIs(t, err, ErrDeleteOutOfRange)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := Apply("abc", Delta{Ops: []Op{Retain{-1}}})
		assert.ErrorIs(t, err, ErrNegativeCount)
	})
}

// =============================================================================
// Transform
// =============================================================================

// converge checks that both application orders of two concurrent deltas give
// the same text and returns it.
func converge(t *testing.T, text string, a, b Delta, pa, pb Priority) string {
	t.Helper()

	afterA, err := Apply(text, a)
	require.NoError(t, err)
	afterB, err := Apply(text, b)
	require.NoError(t, err)

	left, err := Apply(afterA, Transform(b, a, pb))
	require.NoError(t, err)
	right, err := Apply(afterB, Transform(a, b, pa))
	require.NoError(t, err)

	require.Equal(t, left, right, "a=%s b=%s", a, b)
	return left
}

func TestTransform_Convergence(t *testing.T) {
	tests := []struct {
		name string
		text string
		a, b Delta
		want string
	}{
		{
			name: "inserts at different positions",
			text: "abc",
			a:    New(Retain{1}, Insert{Text: "X"}),
			b:    New(Retain{2}, Insert{Text: "Y"}),
			want: "aXbYc",
		},
		{
			name: "insert inside deleted range",
			text: "abcdef",
			a:    New(Retain{3}, Insert{Text: "X"}),
			b:    New(Retain{1}, Delete{4}),
			want: "aXf",
		},
		{
			name: "overlapping deletes",
			text: "abcdef",
			a:    New(Retain{1}, Delete{3}),
			b:    New(Retain{2}, Delete{3}),
			want: "af",
		},
		{
			name: "identical deletes",
			text: "abcdef",
			a:    New(Retain{2}, Delete{2}),
			b:    New(Retain{2}, Delete{2}),
			want: "abef",
		},
		{
			name: "delete and retain past",
			text: "hello world",
			a:    New(Delete{6}),
			b:    New(Retain{11}, Insert{Text: "!"}),
			want: "world!",
		},
		{
			name: "empty against edit",
			text: "abc",
			a:    Delta{},
			b:    New(Retain{1}, Delete{1}),
			want: "ac",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converge(t, tt.text, tt.a, tt.b, PriorityLeft, PriorityRight)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransform_InsertTie(t *testing.T) {
	a := New(Retain{1}, Insert{Text: "X"})
	b := New(Retain{1}, Insert{Text: "Y"})

	t.Run("a has priority", func(t *testing.T) {
		assert.Equal(t, "aXYbc", converge(t, "abc", a, b, PriorityLeft, PriorityRight))
	})

	t.Run("b has priority", func(t *testing.T) {
		assert.Equal(t, "aYXbc", converge(t, "abc", a, b, PriorityRight, PriorityLeft))
	})

	t.Run("right priority shifts past the other insert", func(t *testing.T) {
		got := Transform(b, a, PriorityRight)
		assert.Equal(t, []Op{Retain{2}, Insert{Text: "Y"}}, got.Ops)
	})
}

func TestTransform_ImplicitTail(t *testing.T) {
	a := New(Retain{2}, Delete{1}, Retain{5})
	b := New(Insert{Text: "zz"})
	got := Transform(a, b, PriorityRight)
	assert.Equal(t, []Op{Retain{4}, Delete{1}, Retain{5}}, got.Ops)

	// once a is exhausted nothing more is emitted
	got = Transform(New(Insert{Text: "q"}), New(Retain{3}, Insert{Text: "tail"}), PriorityRight)
	assert.Equal(t, []Op{Insert{Text: "q"}}, got.Ops)
}

func TestTransformAgainstSequence(t *testing.T) {
	text := "abc"
	x := New(Retain{1}, Insert{Text: "X"})
	y := New(Retain{1}, Insert{Text: "Y"})
	z := New(Retain{1}, Insert{Text: "Z"})

	// server order: x, then y rebased over x, then z rebased over both
	yPrime := TransformAgainstSequence(y, []Delta{x})
	zPrime := TransformAgainstSequence(z, []Delta{x, yPrime})

	got := text
	for _, d := range []Delta{x, yPrime, zPrime} {
		var err error
		got, err = Apply(got, d)
		require.NoError(t, err)
	}
	assert.Equal(t, "aXYZbc", got)
}

// =============================================================================
// Compose / Invert
// =============================================================================

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		text string
		a, b Delta
	}{
		{"insert then delete part", "hello", New(Retain{5}, Insert{Text: " world"}), New(Retain{3}, Delete{5})},
		{"delete then insert", "hello", New(Delete{2}), New(Insert{Text: "J"})},
		{"two inserts", "", New(Insert{Text: "ab"}), New(Retain{1}, Insert{Text: "X"})},
		{"retain past both", "abcdef", New(Retain{1}, Delete{1}), New(Retain{3}, Delete{1})},
		{"delete own insert", "abc", New(Retain{1}, Insert{Text: "XYZ"}), New(Retain{2}, Delete{1})},
		{"empty a", "abc", Delta{}, New(Retain{1}, Insert{Text: "q"})},
		{"empty b", "abc", New(Delete{1}), Delta{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			afterA, err := Apply(tt.text, tt.a)
			require.NoError(t, err)
			sequential, err := Apply(afterA, tt.b)
			require.NoError(t, err)

			composed, err := Apply(tt.text, Compose(tt.a, tt.b))
			require.NoError(t, err)
			assert.Equal(t, sequential, composed)
		})
	}
}

func TestCompose_Ops(t *testing.T) {
	got := Compose(New(Retain{1}, Insert{Text: "XYZ"}), New(Retain{2}, Delete{1}))
	assert.Equal(t, []Op{Retain{1}, Insert{Text: "XZ"}}, got.Ops)
}

func TestInvert_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
		d    Delta
	}{
		{"insert", "Hello World", New(Retain{6}, Insert{Text: "Beautiful "})},
		{"delete", "Hello World", New(Retain{6}, Delete{5})},
		{"replace", "abcdef", New(Retain{1}, Delete{2}, Insert{Text: "XY"}, Retain{1}, Delete{1})},
		{"multibyte", "naïve café", New(Retain{2}, Delete{1}, Insert{Text: "i"}, Retain{6}, Delete{1})},
		{"noop", "abc", Delta{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after, err := Apply(tt.text, tt.d)
			require.NoError(t, err)

			inv, err := Invert(tt.d, tt.text)
			require.NoError(t, err)

			restored, err := Apply(after, inv)
			require.NoError(t, err)
			assert.Equal(t, tt.text, restored)
		})
	}
}

func TestInvert_DoesNotFit(t *testing.T) {
	_, err := Invert(New(Retain{2}, Delete{5}), "abc")
	assert.ErrorIs(t, err, ErrDeleteOutOfRange)
}

// =============================================================================
// Utilities
// =============================================================================

func TestLengthHelpers(t *testing.T) {
	d := New(Retain{3}, Insert{Text: "héllo"}, Delete{2})
	assert.Equal(t, 3, GetLengthChange(d))
	assert.Equal(t, 5, BaseLength(d))
	assert.False(t, IsNoop(d))
	assert.True(t, IsNoop(New(Retain{10})))
	assert.True(t, IsNoop(Delta{}))
}

func TestPositionToDelta(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		d, err := PositionToDelta(2, Insert{Text: "X"}, 5)
		require.NoError(t, err)
		assert.Equal(t, []Op{Retain{2}, Insert{Text: "X"}, Retain{3}}, d.Ops)
	})

	t.Run("delete at end has no trailing retain", func(t *testing.T) {
		d, err := PositionToDelta(3, Delete{2}, 5)
		require.NoError(t, err)
		assert.Equal(t, []Op{Retain{3}, Delete{2}}, d.Ops)
	})

	t.Run("position past end", func(t *testing.T) {
		_, err := PositionToDelta(6, Insert{Text: "X"}, 5)
		assert.ErrorIs(t, err, ErrPositionOutOfRange)
	})

	t.Run("delete past end", func(t *testing.T) {
		_, err := PositionToDelta(4, Delete{2}, 5)
		assert.ErrorIs(t, err, ErrPositionOutOfRange)
	})
}

func TestDiff(t *testing.T) {
	pairs := [][2]string{
		{"", "hello"},
		{"hello", ""},
		{"hello world", "hello brave new world"},
		{"the cat sat", "the bat sat down"},
		{"naïve", "naive"},
	}

	for _, p := range pairs {
		d := Diff(p[0], p[1])
		got, err := Apply(p[0], d)
		require.NoError(t, err)
		assert.Equal(t, p[1], got, "diff %q -> %q", p[0], p[1])
	}

	assert.Empty(t, Diff("same", "same").Ops)
}

func TestJSON(t *testing.T) {
	d := New(Retain{5}, Insert{Text: "x", Attributes: map[string]any{"bold": true}}, Delete{2})

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"ops":[{"type":"retain","count":5},{"type":"insert","text":"x","attributes":{"bold":true}},{"type":"delete","count":2}]}`,
		string(data))

	var back Delta
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(d, back))

	t.Run("empty delta encodes an empty list", func(t *testing.T) {
		data, err := json.Marshal(Delta{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ops":[]}`, string(data))
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		var l OpList
		err := json.Unmarshal([]byte(`[{"type":"format","count":1}]`), &l)
		assert.ErrorIs(t, err, ErrUnknownOp)
	})

	t.Run("retain without count rejected", func(t *testing.T) {
		var l OpList
		err := json.Unmarshal([]byte(`[{"type":"retain"}]`), &l)
		assert.Error(t, err)
	})
}

func TestString(t *testing.T) {
	assert.Equal(t, `[r6 i"Beautiful " d2]`, New(Retain{6}, Insert{Text: "Beautiful "}, Delete{2}).String())
}

// =============================================================================
// Randomized properties
// =============================================================================

const propertyRounds = 2000

var randomAlphabet = []rune("abcXYZ é✓")

func randomText(r *rand.Rand, maxLen int) string {
	n := r.IntN(maxLen + 1)
	out := make([]rune, n)
	for i := range out {
		out[i] = randomAlphabet[r.IntN(len(randomAlphabet))]
	}
	return string(out)
}

// randomOps returns raw ops that fit a text of textLen runes. Adjacent ops
// of the same kind and zero-length ops are allowed.
func randomOps(r *rand.Rand, textLen int) []Op {
	var ops []Op
	cursor := 0
	for range r.IntN(6) {
		remaining := textLen - cursor
		switch r.IntN(3) {
		case 0:
			n := r.IntN(remaining + 1)
			ops = append(ops, Retain{n})
			cursor += n
		case 1:
			n := r.IntN(remaining + 1)
			ops = append(ops, Delete{n})
			cursor += n
		default:
			if text := randomText(r, 3); text != "" {
				ops = append(ops, Insert{Text: text})
			}
		}
	}
	return ops
}

func randomDelta(r *rand.Rand, text string) Delta {
	return Normalize(Delta{Ops: randomOps(r, len([]rune(text)))})
}

func TestProperty_TransformConverges(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 7))
	for range propertyRounds {
		text := randomText(r, 8)
		a := randomDelta(r, text)
		b := randomDelta(r, text)

		converge(t, text, a, b, PriorityLeft, PriorityRight)
		converge(t, text, a, b, PriorityRight, PriorityLeft)
	}
}

func TestProperty_ComposeMatchesSequentialApply(t *testing.T) {
	r := rand.New(rand.NewPCG(2, 7))
	for range propertyRounds {
		text := randomText(r, 8)
		a := randomDelta(r, text)
		mid, err := Apply(text, a)
		require.NoError(t, err)
		b := randomDelta(r, mid)

		want, err := Apply(mid, b)
		require.NoError(t, err)
		got, err := Apply(text, Compose(a, b))
		require.NoError(t, err, "a=%s b=%s", a, b)
		require.Equal(t, want, got, "text=%q a=%s b=%s", text, a, b)
	}
}

func TestProperty_InvertRestoresText(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 7))
	for range propertyRounds {
		text := randomText(r, 8)
		d := randomDelta(r, text)
		after, err := Apply(text, d)
		require.NoError(t, err)

		inv, err := Invert(d, text)
		require.NoError(t, err, "text=%q d=%s", text, d)
		back, err := Apply(after, inv)
		require.NoError(t, err)
		require.Equal(t, text, back, "d=%s inverse=%s", d, inv)
	}
}

func TestProperty_NormalizeIsIdempotentAndPreservesApply(t *testing.T) {
	r := rand.New(rand.NewPCG(4, 7))
	for range propertyRounds {
		text := randomText(r, 8)
		raw := Delta{Ops: randomOps(r, len([]rune(text)))}
		norm := Normalize(raw)

		require.Equal(t, norm, Normalize(norm))
		want, err := Apply(text, raw)
		require.NoError(t, err)
		got, err := Apply(text, norm)
		require.NoError(t, err)
		require.Equal(t, want, got, "raw=%v", raw.Ops)
	}
}
