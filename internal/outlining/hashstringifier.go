// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package outlining implements the Outlining optimization: find
// repeated instruction subsequences across a whole module, promote
// each unique repeat to a freshly-synthesized function, and replace
// each occurrence with a call.
package outlining

import (
	"hash/fnv"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

// sepKind distinguishes the different control-flow separator symbols
// from each other and from any real expression's hash.
type sepKind int

const (
	sepNone sepKind = iota
	sepFuncStart
	sepBlockStart
	sepLoopStart
	sepIfStart
	sepElse
	sepTryStart
	sepCatch
	sepCatchAll
	sepTryTableStart
	sepEnd
)

// Token is one position of the module's hash sequence: either the hash
// of a leaf expression together with its operand subtree, or a
// control-flow separator.
type Token struct {
	Hash uint32
	Expr *ir.Expression // nil for a separator
	Sep  sepKind

	Label        string
	Tag          string
	Type         ir.Type
	SwitchLabels []string

	FuncIndex int
	LocalIdx  int // 0-based count of non-separator tokens seen so far in this function
}

// HashStringifier holds the module-wide hash sequence produced by
// Stringify, plus enough bookkeeping to map a global position back to
// its owning function.
type HashStringifier struct {
	Tokens    []Token
	funcNames []string
}

// Stringify linearizes every function body in m into a single hash
// sequence. Scopes are visited sequentially, never nested: a block's
// children are walked, then its End separator, so a linear substring
// match can never span a nested-control-flow boundary implicitly.
func Stringify(m *ir.Module) *HashStringifier {
	h := &HashStringifier{}
	for fi, fn := range m.Functions {
		h.funcNames = append(h.funcNames, fn.Name)
		if fn.Imported || fn.Body == nil {
			continue
		}
		local := 0
		h.emit(Token{Sep: sepFuncStart, FuncIndex: fi, LocalIdx: local})
		local = h.walk(fn.Body, fi, local)
	}
	return h
}

func (h *HashStringifier) emit(t Token) {
	if t.Expr != nil {
		t.Hash = subtreeHash(t.Expr)
		if t.Hash>>24 == 0xFF {
			t.Hash &^= 0x01000000
		}
	} else if t.Hash == 0 {
		t.Hash = separatorHash(t.Sep)
	}
	h.Tokens = append(h.Tokens, t)
}

// walk emits tokens for e and its nested scopes, returning the updated
// function-local non-separator count.
func (h *HashStringifier) walk(e *ir.Expression, fi int, local int) int {
	switch e.Kind {
	case ir.KindBlock, ir.KindLoop, ir.KindTryTable:
		sep := sepBlockStart
		if e.Kind == ir.KindLoop {
			sep = sepLoopStart
		} else if e.Kind == ir.KindTryTable {
			sep = sepTryTableStart
		}
		h.emit(Token{Sep: sep, Label: e.Label, Type: e.Type, FuncIndex: fi, LocalIdx: local})
		for _, c := range e.Children {
			local = h.walk(c, fi, local)
		}
		h.emit(Token{Sep: sepEnd, FuncIndex: fi, LocalIdx: local})
		return local

	case ir.KindIf:
		h.emit(Token{Sep: sepIfStart, Type: e.Type, FuncIndex: fi, LocalIdx: local})
		if len(e.Children) > 0 {
			local = h.walk(e.Children[0], fi, local)
		}
		if len(e.Children) > 1 {
			h.emit(Token{Sep: sepElse, FuncIndex: fi, LocalIdx: local})
			local = h.walk(e.Children[1], fi, local)
		}
		h.emit(Token{Sep: sepEnd, FuncIndex: fi, LocalIdx: local})
		return local

	case ir.KindTry:
		h.emit(Token{Sep: sepTryStart, Label: e.Label, Type: e.Type, FuncIndex: fi, LocalIdx: local})
		if len(e.Children) > 0 {
			local = h.walk(e.Children[0], fi, local)
		}
		for _, catch := range e.Children[1:] {
			if catch.Kind == ir.KindCatchAll {
				h.emit(Token{Sep: sepCatchAll, FuncIndex: fi, LocalIdx: local})
			} else {
				h.emit(Token{Sep: sepCatch, Tag: catch.Label, FuncIndex: fi, LocalIdx: local})
			}
			for _, c := range catch.Children {
				local = h.walk(c, fi, local)
			}
		}
		h.emit(Token{Sep: sepEnd, FuncIndex: fi, LocalIdx: local})
		return local

	case ir.KindSequence:
		for _, c := range e.Children {
			local = h.walk(c, fi, local)
		}
		return local

	default:
		h.emit(Token{Expr: e, FuncIndex: fi, LocalIdx: local})
		return local + 1
	}
}

// MakeRelative returns the owning function name and function-local
// expression index for a position in the hash sequence.
func (h *HashStringifier) MakeRelative(globalIdx int) (string, int) {
	if globalIdx < 0 || globalIdx >= len(h.Tokens) {
		return "", -1
	}
	t := h.Tokens[globalIdx]
	if t.FuncIndex < 0 || t.FuncIndex >= len(h.funcNames) {
		return "", -1
	}
	return h.funcNames[t.FuncIndex], t.LocalIdx
}

// subtreeHash hashes a leaf token's whole expression: its shallow hash
// followed by each child's subtree hash. A leaf token stands for the
// entire statement, operands included, so two leaves hash equal only
// when their operand subtrees match too.
func subtreeHash(e *ir.Expression) uint32 {
	f := fnv.New32a()
	writeInt := func(n uint32) { f.Write([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}) }
	writeInt(shallowHash(e))
	writeInt(uint32(len(e.Children)))
	for _, c := range e.Children {
		if c != nil {
			writeInt(subtreeHash(c))
		}
	}
	return f.Sum32()
}

// shallowHash hashes an expression's opcode and immediate operands,
// excluding its children.
func shallowHash(e *ir.Expression) uint32 {
	f := fnv.New32a()
	write := func(b byte) { f.Write([]byte{b}) }
	writeInt := func(n int) { f.Write([]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}) }
	writeStr := func(s string) { f.Write([]byte(s)) }

	write(byte(e.Kind))
	writeInt(e.LocalIndex)
	writeInt(e.FieldIndex)
	writeInt(int(e.RMWOp))
	writeInt(int(e.ConstValue))
	writeStr(e.FuncName)
	if e.IsReturn {
		write(1)
	}
	if e.Signed {
		write(1)
	}
	writeStr(e.Label)
	for _, l := range e.SwitchLabels {
		writeStr(l)
	}
	writeStr(e.BinOp)
	if e.HeapType != nil {
		writeStr(e.HeapType.Name)
	}
	if e.Index != nil {
		writeInt(int(*e.Index))
	}
	return f.Sum32()
}

// separatorHash reserves the 0xFF top byte for separator symbols; emit
// moves any expression hash that lands in that band out of it.
func separatorHash(s sepKind) uint32 {
	return 0xFF000000 | uint32(s)
}
