// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package heap2local

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// LocalTable is the per-allocation local-index table (§3): one fresh
// local per struct field, plus one more if the allocation carries a
// descriptor.
type LocalTable struct {
	Fields     []int
	Descriptor int
	HasDesc    bool
}

// Struct2Local rewrites a single non-escaping struct allocation into
// field locals, given the EscapeAnalyzer state recorded for it.
type Struct2Local struct {
	fn      *ir.Function
	pm      *ir.ParentMap
	builder ir.Builder
	opts    ir.PassOptions

	// Refinalize is set when the rewrite changed a subexpression's
	// type such that ancestor types must be recomputed.
	Refinalize bool
}

// NewStruct2Local returns a rewriter bound to one function.
func NewStruct2Local(fn *ir.Function, pm *ir.ParentMap, builder ir.Builder, opts ir.PassOptions) *Struct2Local {
	return &Struct2Local{fn: fn, pm: pm, builder: builder, opts: opts}
}

// Rewrite performs the full §4.2 rewrite for allocation a, given the
// EscapeAnalyzer's Reached/Sets maps. Returns the LocalTable so a
// caller (Array2Struct) can reuse field locals.
func (s *Struct2Local) Rewrite(a *ir.Expression, ea *EscapeAnalyzer) *LocalTable {
	return s.rewrite(a, ea, a.HeapType)
}

// RewriteArrayDerived is Rewrite for a struct Array2Struct normalized
// from an array allocation. origHeap is the array's original heap
// type: per §4.3, ref.test/ref.cast in the reached set must be
// evaluated against it rather than against a's own heap type, since
// a's type is the synthetic struct Array2Struct built for the rewrite,
// not a type any cast in the source module ever named.
func (s *Struct2Local) RewriteArrayDerived(a *ir.Expression, ea *EscapeAnalyzer, origHeap *ir.HeapType) *LocalTable {
	return s.rewrite(a, ea, origHeap)
}

func (s *Struct2Local) rewrite(a *ir.Expression, ea *EscapeAnalyzer, testHeap *ir.HeapType) *LocalTable {
	ht := a.HeapType
	table := &LocalTable{}
	for _, field := range ht.Fields {
		table.Fields = append(table.Fields, s.builder.AddVar(s.fn, field.Type))
	}
	if a.HasDescriptor && ht.Descriptor != nil {
		table.HasDesc = true
		table.Descriptor = s.builder.AddVar(s.fn, ir.Ref(ht.Descriptor, true))
	}

	allocSite := s.buildAllocationSite(a, ht, table)
	s.replaceInParent(a, allocSite)

	for expr, interaction := range ea.Reached {
		switch interaction {
		case Flows:
			s.rewriteFlow(expr, ht, table)
		case FullyConsumes:
			s.rewriteConsumer(expr, allocSite, ea, testHeap, ht, table)
		}
	}

	for set := range ea.Sets {
		s.rewriteLocalSet(set)
	}

	return table
}

// buildAllocationSite implements §4.2's allocation-site rewrite: stage
// operands into temps, copy temps into field locals (or zero for
// defaults), optionally stage and store a descriptor, and terminate
// with a typed null so the replaced expression still has A's reference
// type for any Flows edge.
func (s *Struct2Local) buildAllocationSite(a *ir.Expression, ht *ir.HeapType, table *LocalTable) *ir.Expression {
	b := s.builder
	var kids []*ir.Expression

	operands := a.Children
	if a.HasDescriptor {
		operands = operands[:len(operands)-1]
	}

	if len(operands) == 0 {
		for i, field := range ht.Fields {
			kids = append(kids, b.LocalSet(table.Fields[i], b.Const(field.Type, 0)))
		}
	} else {
		for i, operand := range operands {
			temp := b.AddVar(s.fn, operand.Type)
			kids = append(kids, b.LocalSet(temp, operand))
			kids = append(kids, b.LocalSet(table.Fields[i], b.LocalGet(temp, operand.Type)))
		}
	}

	if a.HasDescriptor && table.HasDesc {
		descExpr := a.Children[len(a.Children)-1]
		temp := b.AddVar(s.fn, descExpr.Type)
		kids = append(kids, b.LocalSet(temp, descExpr))
		val := b.LocalGet(temp, descExpr.Type)
		if descExpr.Type.Nullable {
			val = b.RefAs(val, descExpr.Type.AsNonNull())
		}
		kids = append(kids, b.LocalSet(table.Descriptor, val))
	}

	kids = append(kids, b.RefNull(ht, true))
	return b.Block("$h2l.alloc", kids, ir.Ref(ht, true))
}

// replaceInParent swaps old for replacement at old's parent's child slot.
func (s *Struct2Local) replaceInParent(old, replacement *ir.Expression) {
	parent := s.pm.ParentOf(old)
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

// rewriteFlow implements the Flows-interaction rewrites: most
// forwarders (block, loop, break) are kept in place with their type
// widened to nullable, but ref.as_non_null and a subtype ref.cast are
// themselves eliminated in favor of their inner operand, since the
// allocation they'd assert non-null on no longer exists as a value.
// ref.cast_desc still needs its descriptor operand checked at runtime
// (§4.2), so it gets its own rewrite rather than joining ref.cast here.
func (s *Struct2Local) rewriteFlow(expr *ir.Expression, ht *ir.HeapType, table *LocalTable) {
	switch expr.Kind {
	case ir.KindRefCastDesc:
		s.rewriteCastDescFlow(expr, ht, table)
	case ir.KindRefAsNonNull, ir.KindRefCast:
		inner := expr.Ref()
		s.Refinalize = true
		s.replaceInParent(expr, inner)
	default:
		if expr.Type.IsRef() {
			expr.Type = expr.Type.AsNullable()
			s.Refinalize = true
		}
	}
}

// rewriteCastDescFlow rewrites a ref.cast_desc whose reference operand
// flows from the allocation (§4.2): the cast target is a supertype, so
// the static part of the check always succeeds, but ref.cast_desc also
// compares descriptors at runtime. That comparison survives the
// rewrite as a ref.eq against the descriptor local, selecting the
// (already-nulled) reference operand on a match and trapping on a
// mismatch, matching the trap behavior a real cast_desc would have had.
func (s *Struct2Local) rewriteCastDescFlow(expr *ir.Expression, ht *ir.HeapType, table *LocalTable) {
	b := s.builder
	ref := expr.Ref()
	desc := expr.Operand(1)
	cond := b.RefEq(desc, b.LocalGet(table.Descriptor, ir.Ref(ht.Descriptor, true)))
	replacement := b.If(cond, ref, unreachable(b), expr.Type.AsNullable())
	s.Refinalize = true
	s.replaceInParent(expr, replacement)
}

// rewriteConsumer rewrites a single FullyConsumes expression per §4.2's
// per-opcode table: reference predicates, struct accessors. testHeap is
// the heap type ref.test resolves its subtype check against: a's own
// heap type, unless a was normalized from an array by Array2Struct, in
// which case the array's original heap type (see RewriteArrayDerived).
func (s *Struct2Local) rewriteConsumer(expr, site *ir.Expression, ea *EscapeAnalyzer, testHeap, ht *ir.HeapType, table *LocalTable) {
	b := s.builder
	var replacement *ir.Expression

	switch expr.Kind {
	case ir.KindRefIsNull:
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.Const(ir.I32, 0)})
	case ir.KindRefEq:
		lhs, rhs := expr.Operand(0), expr.Operand(1)
		val := int64(0)
		if isFlowOf(lhs, site, ea) && isFlowOf(rhs, site, ea) {
			val = 1
		}
		replacement = b.Sequence([]*ir.Expression{b.Drop(lhs), b.Drop(rhs), b.Const(ir.I32, val)})
	case ir.KindRefTest:
		val := int64(0)
		if testHeap.IsSubtypeOf(expr.HeapType) {
			val = 1
		}
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.Const(ir.I32, val)})
	case ir.KindRefGetDesc:
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.LocalGet(table.Descriptor, ir.Ref(ht.Descriptor, true))})
	case ir.KindStructGet:
		field := ht.Fields[expr.FieldIndex]
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.LocalGet(table.Fields[expr.FieldIndex], field.Type)})
	case ir.KindStructSet:
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.LocalSet(table.Fields[expr.FieldIndex], expr.Operand(1))})
	case ir.KindStructRMW:
		replacement = s.buildRMW(expr, ht, table)
	case ir.KindStructCmpxchg:
		replacement = s.buildCmpxchg(expr, ht, table)
	case ir.KindArrayGet:
		field := ht.ArrayElem()
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.LocalGet(table.Fields[*expr.Index], field.Type)})
	case ir.KindArraySet:
		replacement = b.Sequence([]*ir.Expression{b.Drop(expr.Ref()), b.LocalSet(table.Fields[*expr.Index], expr.Operand(1))})
	case ir.KindRefCast:
		drops := []*ir.Expression{b.Drop(expr.Ref())}
		replacement = b.Sequence(append(drops, unreachable(b)))
	case ir.KindRefCastDesc:
		var drops []*ir.Expression
		for _, c := range expr.Children {
			drops = append(drops, b.Drop(c))
		}
		replacement = b.Sequence(append(drops, unreachable(b)))
	default:
		return
	}

	if expr.Kind != ir.KindRefCast && expr.Kind != ir.KindRefCastDesc {
		replacement.Type = expr.Type
	}
	s.Refinalize = true
	s.replaceInParent(expr, replacement)
}

func (s *Struct2Local) buildRMW(expr *ir.Expression, ht *ir.HeapType, table *LocalTable) *ir.Expression {
	b := s.builder
	field := ht.Fields[expr.FieldIndex]
	localIdx := table.Fields[expr.FieldIndex]
	oldTemp := b.AddVar(s.fn, field.Type)
	value := expr.Operand(1)

	var newVal *ir.Expression
	oldGet := b.LocalGet(oldTemp, field.Type)
	switch expr.RMWOp {
	case ir.RMWXchg:
		newVal = value
	default:
		newVal = b.Binary(rmwOpName(expr.RMWOp), oldGet, value, field.Type)
	}

	return b.Sequence([]*ir.Expression{
		b.Drop(expr.Ref()),
		b.LocalSet(oldTemp, b.LocalGet(localIdx, field.Type)),
		b.LocalSet(localIdx, newVal),
		b.LocalGet(oldTemp, field.Type),
	})
}

func (s *Struct2Local) buildCmpxchg(expr *ir.Expression, ht *ir.HeapType, table *LocalTable) *ir.Expression {
	b := s.builder
	field := ht.Fields[expr.FieldIndex]
	localIdx := table.Fields[expr.FieldIndex]
	expected := expr.Operand(1)
	replacement := expr.Operand(2)

	oldTemp := b.AddVar(s.fn, field.Type)
	cond := b.Binary("eq", b.LocalGet(oldTemp, field.Type), expected, ir.I32)
	assign := b.If(cond, b.LocalSet(localIdx, replacement), nil, ir.NoneType)

	return b.Sequence([]*ir.Expression{
		b.Drop(expr.Ref()),
		b.LocalSet(oldTemp, b.LocalGet(localIdx, field.Type)),
		assign,
		b.LocalGet(oldTemp, field.Type),
	})
}

func unreachable(_ ir.Builder) *ir.Expression {
	return &ir.Expression{Kind: ir.KindUnreachable, Type: ir.Unreachable}
}

func rmwOpName(op ir.RMWOp) string {
	switch op {
	case ir.RMWAdd:
		return "add"
	case ir.RMWSub:
		return "sub"
	case ir.RMWAnd:
		return "and"
	case ir.RMWOr:
		return "or"
	case ir.RMWXor:
		return "xor"
	default:
		return "xchg"
	}
}

// rewriteLocalSet implements §4.2's local-operation rule: a local.set
// receiving A becomes a drop of its value; a local.tee becomes just
// its value.
func (s *Struct2Local) rewriteLocalSet(set *ir.Expression) {
	b := s.builder
	value := set.Operand(0)
	var replacement *ir.Expression
	if set.Kind == ir.KindLocalTee {
		replacement = value
	} else {
		replacement = b.Drop(value)
	}
	s.replaceInParent(set, replacement)
}

// isFlowOf is used by ref.eq handling: whether expr carries the
// allocation, as opposed to an unrelated reference. That holds for the
// rewritten allocation site, for a forwarder the analyzer marked Flows,
// and for a local.get that a set receiving the allocation reaches.
func isFlowOf(expr, site *ir.Expression, ea *EscapeAnalyzer) bool {
	if expr == nil {
		return false
	}
	if expr == site || ea.Reached[expr] == Flows {
		return true
	}
	if expr.Kind == ir.KindLocalGet {
		for _, set := range ea.lg.SetsReaching(expr) {
			if ea.Sets[set] {
				return true
			}
		}
	}
	return false
}
