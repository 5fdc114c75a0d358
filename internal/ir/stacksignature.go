// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

// StackSignature computes the (params -> results) type of a straight-line
// sequence of expressions taken as a block: the deficit (values it
// consumes from an implicit incoming stack) becomes Params, and the
// surplus it leaves behind becomes Results. This is folded left to
// right over the sequence, the same way Binaryen's StackSignature
// accumulates over a span of instructions.
type StackSignature struct {
	Params  []Type
	Results []Type
}

// arity reports how many stack values an expression's own opcode
// consumes and produces, independent of its children (which are
// separate sequence entries, not folded operands, in a stringified
// outlining range).
func arity(e *Expression) (consumes int, produces []Type) {
	switch e.Kind {
	case KindConst, KindLocalGet, KindRefNull:
		return 0, []Type{e.Type}
	case KindLocalSet:
		return 1, nil
	case KindLocalTee:
		return 1, []Type{e.Type}
	case KindDrop:
		return 1, nil
	case KindBinary:
		return 2, []Type{e.Type}
	case KindRefIsNull, KindRefTest:
		return 1, []Type{I32}
	case KindRefEq:
		return 2, []Type{I32}
	case KindRefAsNonNull, KindRefCast, KindRefCastDesc:
		return 1, []Type{e.Type}
	case KindRefGetDesc:
		return 1, []Type{e.Type}
	case KindStructGet:
		return 1, []Type{e.Type}
	case KindStructSet:
		return 2, nil
	case KindStructNew:
		n := len(e.Children)
		return n, []Type{e.Type}
	case KindArrayGet:
		if e.Index != nil {
			return 1, []Type{e.Type}
		}
		return 2, []Type{e.Type}
	case KindArraySet:
		if e.Index != nil {
			return 2, nil
		}
		return 3, nil
	case KindUnreachable:
		return 0, nil
	case KindCall:
		return len(e.Children), nil
	default:
		return 0, nil
	}
}

// Fold accumulates one expression's stack effect into sig, treating sig
// as the running signature of everything folded so far.
func (sig *StackSignature) Fold(e *Expression) {
	consumes, produces := arity(e)

	for i := 0; i < consumes; i++ {
		if len(sig.Results) > 0 {
			sig.Results = sig.Results[:len(sig.Results)-1]
		} else {
			// Consuming past what's been produced so far means this
			// value must come from the range's caller: it's a param.
			sig.Params = append([]Type{ValueTypeOf(e, i)}, sig.Params...)
		}
	}
	sig.Results = append(sig.Results, produces...)
}

// ValueTypeOf is used when Fold cannot recover the exact type of a
// value consumed from outside the folded range: it returns the type of
// e's child at operandIndex when there is one, and falls back to e's
// own result type otherwise.
func ValueTypeOf(e *Expression, operandIndex int) Type {
	if operandIndex < len(e.Children) {
		return e.Children[operandIndex].Type
	}
	return e.Type
}

// FoldRange computes the stack signature of a contiguous range of
// stringified expressions, the type outlining assigns to a newly
// synthesized callee.
func FoldRange(exprs []*Expression) Signature {
	var sig StackSignature
	for _, e := range exprs {
		if e == nil {
			continue
		}
		sig.Fold(e)
	}
	return Signature{Params: sig.Params, Results: sig.Results}
}
