// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package outlining

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// OutliningSequence is one occurrence of a repeated substring located
// in a single function, ready to be replaced by a call.
type OutliningSequence struct {
	FuncIndex           int
	StartIdx, EndIdx    int // global token indices, inclusive start, exclusive end
	CalleeName          string
	EndsWithUnreachable bool
}

// BuildSequences turns filtered repeated substrings into one
// OutliningSequence per occurrence, all occurrences of one substring
// sharing a freshly minted callee name. Substrings whose range contains
// any separator token are rejected here: the content filters already
// reject branches/local ops, so a separator-free leaf-token run is
// guaranteed (by how Stringify emits tokens) to be a contiguous sibling
// span under one parent expression — exactly what the splice-based
// Reconstructor below requires, and a deliberately narrower guarantee
// than the spec's general token-replay reconstructor supports (ranges
// that wholly contain a nested block are out of scope here).
func BuildSequences(m *ir.Module, h *HashStringifier, subs []RepeatedSubstring) []OutliningSequence {
	var out []OutliningSequence
	for _, s := range subs {
		var occurrences []int
		for _, start := range s.StartIndices {
			if spanIsLeafOnlySingleFunction(h.Tokens, start, s.Length) {
				occurrences = append(occurrences, start)
			}
		}
		if len(occurrences) < 2 {
			continue
		}
		calleeName := m.FreshFunctionName("outline")
		for _, start := range occurrences {
			end := start + s.Length
			out = append(out, OutliningSequence{
				FuncIndex:           h.Tokens[start].FuncIndex,
				StartIdx:            start,
				EndIdx:              end,
				CalleeName:          calleeName,
				EndsWithUnreachable: isUnreachableLeaf(h.Tokens[end-1]),
			})
		}
	}
	return out
}

func spanIsLeafOnlySingleFunction(tokens []Token, start, length int) bool {
	if start+length > len(tokens) {
		return false
	}
	fi := tokens[start].FuncIndex
	for i := start; i < start+length; i++ {
		if tokens[i].Expr == nil {
			return false
		}
		if tokens[i].FuncIndex != fi {
			return false
		}
	}
	return true
}

func isUnreachableLeaf(t Token) bool {
	return t.Expr != nil && t.Expr.Kind == ir.KindUnreachable
}

// Reconstructor replaces each OutliningSequence's sibling span with a
// call to its callee, building the callee's body from the first
// occurrence's expressions and a plain call+optional-unreachable-tail
// at every occurrence.
type Reconstructor struct {
	pm      *ir.ParentMap
	builder ir.Builder
	built   map[string]bool
}

// NewReconstructor returns a reconstructor over one function's parent map.
func NewReconstructor(pm *ir.ParentMap, builder ir.Builder, built map[string]bool) *Reconstructor {
	return &Reconstructor{pm: pm, builder: builder, built: built}
}

// Apply rewrites seq's occurrence in place, returning the callee
// function the first time a given callee name is seen (nil otherwise).
func (r *Reconstructor) Apply(tokens []Token, seq OutliningSequence) (*ir.Function, error) {
	leaves := make([]*ir.Expression, 0, seq.EndIdx-seq.StartIdx)
	for i := seq.StartIdx; i < seq.EndIdx; i++ {
		leaves = append(leaves, tokens[i].Expr)
	}

	parent := r.pm.ParentOf(leaves[0])
	startChild, endChild := -1, -1
	for i, c := range parent.Children {
		if c == leaves[0] {
			startChild = i
		}
		if c == leaves[len(leaves)-1] {
			endChild = i
		}
	}
	if startChild < 0 || endChild < startChild {
		return nil, nil
	}

	// Every leaf here is a complete, self-contained statement (the
	// content filters reject anything that could read an implicit stack
	// value from outside its own subtree), so the callee never needs
	// parameters: its signature is just the last statement's result
	// type, if any. ir.FoldRange models the spec's fully flattened
	// per-node folding and isn't the right tool at this sibling-span
	// granularity.
	sig := ir.Signature{}
	last := leaves[len(leaves)-1]
	if last.Type.Val != ir.ValNone && last.Type.Val != ir.ValUnreachable {
		sig.Results = []ir.Type{last.Type}
	}

	var callee *ir.Function
	if !r.built[seq.CalleeName] {
		r.built[seq.CalleeName] = true
		calleeBody := r.builder.Sequence(leaves)
		callee = &ir.Function{Name: seq.CalleeName, Sig: sig, Body: calleeBody}
	}

	callType := ir.NoneType
	if len(sig.Results) == 1 {
		callType = sig.Results[0]
	}
	call := &ir.Expression{Kind: ir.KindCall, FuncName: seq.CalleeName, Type: callType}
	newChildren := make([]*ir.Expression, 0, len(parent.Children)-(endChild-startChild))
	newChildren = append(newChildren, parent.Children[:startChild]...)
	newChildren = append(newChildren, call)
	if seq.EndsWithUnreachable {
		newChildren = append(newChildren, &ir.Expression{Kind: ir.KindUnreachable, Type: ir.Unreachable})
	}
	newChildren = append(newChildren, parent.Children[endChild+1:]...)
	parent.Children = newChildren

	return callee, nil
}
