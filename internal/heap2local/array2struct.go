// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package heap2local

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// Array2Struct normalizes a non-escaping, small, const-indexed array
// allocation into an equivalent struct allocation, then delegates the
// actual local-ification to Struct2Local.
type Array2Struct struct {
	fn      *ir.Function
	pm      *ir.ParentMap
	builder ir.Builder
	opts    ir.PassOptions

	Refinalize bool
}

// NewArray2Struct returns a rewriter bound to one function.
func NewArray2Struct(fn *ir.Function, pm *ir.ParentMap, builder ir.Builder, opts ir.PassOptions) *Array2Struct {
	return &Array2Struct{fn: fn, pm: pm, builder: builder, opts: opts}
}

// Candidate reports whether a is an array allocation Array2Struct can
// normalize: a literal size strictly less than opts.MaxArraySize, with
// every array.get/set reached from it using a constant index.
func (r *Array2Struct) Candidate(a *ir.Expression, reached map[*ir.Expression]Interaction) bool {
	if a.Kind != ir.KindArrayNew && a.Kind != ir.KindArrayNewFixed {
		return false
	}
	if a.ArraySize <= 0 || a.ArraySize >= int64(r.opts.MaxArraySize) {
		return false
	}
	for expr := range reached {
		switch expr.Kind {
		case ir.KindArrayGet, ir.KindArraySet, ir.KindArrayRMW, ir.KindArrayCmpxchg:
			if expr.Index == nil {
				return false
			}
		}
	}
	return true
}

// Normalize builds an equivalent struct.new for array allocation a: N
// fields all of the array element type, N from the literal size or the
// operand count of an array.new_fixed.
func (r *Array2Struct) Normalize(a *ir.Expression) *ir.Expression {
	elem := a.HeapType.ArrayElem()
	n := int(a.ArraySize)
	if a.Kind == ir.KindArrayNewFixed {
		n = len(a.Children)
	}
	structHeap := &ir.HeapType{
		Name: "$h2l.a2s",
		Kind: ir.HeapStruct,
	}
	for i := 0; i < n; i++ {
		structHeap.Fields = append(structHeap.Fields, elem)
	}

	var operands []*ir.Expression
	var stageFill *ir.Expression
	switch a.Kind {
	case ir.KindArrayNewFixed:
		operands = append(operands, a.Children...)
	case ir.KindArrayNew:
		if len(a.Children) > 0 {
			fill := a.Children[0]
			fillLocal := r.builder.AddVar(r.fn, elem.Type)
			stageFill = r.builder.LocalSet(fillLocal, fill)
			for i := 0; i < n; i++ {
				operands = append(operands, r.builder.LocalGet(fillLocal, elem.Type))
			}
		}
	}

	structNew := r.builder.StructNew(structHeap, operands, nil)
	structNew.Type = ir.Ref(structHeap, a.Type.Nullable)

	if stageFill != nil {
		return r.builder.Sequence([]*ir.Expression{stageFill, structNew})
	}
	return structNew
}

// RetypeReached walks the allocation's reached set and retypes every
// expression whose type names the original array heap type to the new
// struct heap type, and rewrites const-indexed array ops into the
// equivalent struct ops so Struct2Local can process them uniformly.
func (r *Array2Struct) RetypeReached(reached map[*ir.Expression]Interaction, origHeap, newHeap *ir.HeapType) {
	for expr := range reached {
		if expr.Type.IsRef() && expr.Type.Heap == origHeap {
			expr.Type = ir.Ref(newHeap, expr.Type.Nullable)
			r.Refinalize = true
		}
		switch expr.Kind {
		case ir.KindArrayGet:
			r.rewriteArrayAccess(expr, origHeap, newHeap, ir.KindStructGet)
		case ir.KindArraySet:
			r.rewriteArrayAccess(expr, origHeap, newHeap, ir.KindStructSet)
		}
	}
}

// rewriteArrayAccess converts a const-indexed array.get/set into the
// equivalent struct.get/set at the same field index, or into
// drop-then-unreachable if the index is out of the normalized struct's
// bounds.
func (r *Array2Struct) rewriteArrayAccess(expr *ir.Expression, origHeap, newHeap *ir.HeapType, target ir.Kind) {
	idx := int(*expr.Index)
	if idx >= len(newHeap.Fields) {
		var drops []*ir.Expression
		for _, c := range expr.Children {
			drops = append(drops, r.builder.Drop(c))
		}
		replacement := r.builder.Sequence(append(drops, &ir.Expression{Kind: ir.KindUnreachable, Type: ir.Unreachable}))
		r.replaceInParent(expr, replacement)
		r.Refinalize = true
		return
	}

	expr.Kind = target
	expr.FieldIndex = idx
	expr.HeapType = newHeap
	r.Refinalize = true
}

func (r *Array2Struct) replaceInParent(old, replacement *ir.Expression) {
	parent := r.pm.ParentOf(old)
	if parent == nil {
		return
	}
	for i, c := range parent.Children {
		if c == old {
			parent.ReplaceChild(i, replacement)
			return
		}
	}
}
