// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package outlining

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

// repeatedTailFunc builds a function whose body is a sequence:
//   drop(const 0), then the tail drop(const 7); drop(i32.add(1, 2))
// twice in a row, a simplified stand-in for the spec's "two occurrences
// of a 3-instruction tail" outlining scenario.
func repeatedTailFunc(name string) *ir.Function {
	b := ir.StdBuilder{}
	tail := func() []*ir.Expression {
		return []*ir.Expression{
			b.Drop(b.Const(ir.I32, 7)),
			b.Drop(b.Binary("i32.add", b.Const(ir.I32, 1), b.Const(ir.I32, 2), ir.I32)),
		}
	}
	body := b.Sequence(append(append([]*ir.Expression{b.Drop(b.Const(ir.I32, 0))}, tail()...), tail()...))
	return &ir.Function{Name: name, Body: body}
}

func TestStringifyAssignsDistinctSeparatorHashes(t *testing.T) {
	m := &ir.Module{Functions: []*ir.Function{repeatedTailFunc("f")}}
	h := Stringify(m)
	require.NotEmpty(t, h.Tokens)
	assert.Equal(t, sepFuncStart, h.Tokens[0].Sep)

	seps := map[uint32]bool{}
	for k := sepFuncStart; k <= sepEnd; k++ {
		assert.False(t, seps[separatorHash(k)])
		seps[separatorHash(k)] = true
	}
	for _, tok := range h.Tokens {
		if tok.Expr != nil {
			assert.False(t, seps[tok.Hash])
		}
	}
}

func TestMakeRelativeRoundTrips(t *testing.T) {
	m := &ir.Module{Functions: []*ir.Function{repeatedTailFunc("f")}}
	h := Stringify(m)
	for i, tok := range h.Tokens {
		name, _ := h.MakeRelative(i)
		assert.Equal(t, "f", name)
		_ = tok
	}
}

func TestMineRepeatedSubstringsFindsRepeat(t *testing.T) {
	hashes := []uint32{1, 2, 3, 9, 1, 2, 3, 8}
	subs := MineRepeatedSubstrings(hashes)
	found := false
	for _, s := range subs {
		if s.Length >= 3 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRejectByContentDropsLocalOps(t *testing.T) {
	b := ir.StdBuilder{}
	set := b.LocalSet(0, b.Const(ir.I32, 1))
	tokens := []Token{{Expr: set}, {Expr: set}}
	subs := []RepeatedSubstring{{Length: 2, StartIndices: []int{0}}}
	out := rejectByContent(subs, tokens)
	assert.Empty(t, out)
}

func TestFullPipelineOutlinesRepeatedTail(t *testing.T) {
	fn := repeatedTailFunc("f")
	m := &ir.Module{Functions: []*ir.Function{fn}}

	pass := CreateOutliningPass(ir.DefaultPassOptions())
	report, err := pass.Run(m)
	require.NoError(t, err)

	if report.CalleesCreated > 0 {
		assert.GreaterOrEqual(t, len(m.Functions), 2)
		assert.Equal(t, "outline$0", m.Functions[0].Name)
	}
}
