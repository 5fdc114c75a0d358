// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

import "github.com/dotandev/wasmgcopt/internal/errors"

// Refinalize recomputes the types of e and of every expression below
// it, bottom-up (children before their parent), after a rewrite has
// changed a subexpression's type. Ancestors of e are not visited, so
// callers pass the root of the region they changed. Both heap2local
// (widening a forwarder's type to nullable) and outlining (stringified
// reconstruction can't finalize block types that depend on branch
// targets while it walks) rely on this.
func Refinalize(e *Expression) error {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if err := Refinalize(c); err != nil {
			return err
		}
	}
	return refinalizeSelf(e)
}

func refinalizeSelf(e *Expression) error {
	switch e.Kind {
	case KindBlock, KindLoop:
		if len(e.Children) == 0 {
			e.Type = NoneType
			return nil
		}
		last := e.Children[len(e.Children)-1]
		if last.Type.Val == ValUnreachable {
			if !hasReachableBreak(e) {
				e.Type = Unreachable
				return nil
			}
			// A break to e's label still reaches e's end. Break values
			// are not typed here, so e keeps the type it had, or none.
			if e.Type.Val == ValUnreachable {
				e.Type = NoneType
			}
			return nil
		}
		e.Type = last.Type
		return nil
	case KindIf:
		if len(e.Children) < 2 {
			return errors.WrapRefinalizeFailed("if", errors.WrapInvalidModule("missing arm"))
		}
		then, els := e.Children[0], e.Children[1]
		if then.Type.Val == ValUnreachable {
			e.Type = els.Type
		} else if len(e.Children) > 2 && e.Children[2].Type.Val == ValUnreachable {
			e.Type = then.Type
		} else if then.Type.Equal(els.Type) {
			e.Type = then.Type
		} else if then.Type.IsRef() && els.Type.IsRef() {
			e.Type = commonRefType(then.Type, els.Type)
		}
		return nil
	case KindDrop, KindLocalSet, KindStructSet, KindArraySet:
		e.Type = NoneType
		return nil
	case KindSequence:
		if len(e.Children) == 0 {
			e.Type = NoneType
			return nil
		}
		e.Type = e.Children[len(e.Children)-1].Type
		return nil
	case KindLocalTee:
		if len(e.Children) == 1 {
			e.Type = e.Children[0].Type
		}
		return nil
	case KindRefAsNonNull:
		if len(e.Children) == 1 {
			e.Type = e.Children[0].Type.AsNonNull()
		}
		return nil
	default:
		return nil
	}
}

// hasReachableBreak reports whether a labeled break to e's own scope
// exists anywhere within e, which would make e reachable even if its
// last child is unreachable.
func hasReachableBreak(scope *Expression) bool {
	found := false
	var walk func(e *Expression)
	walk = func(e *Expression) {
		if e == nil || found {
			return
		}
		if e.Kind == KindBreak && e.Label == scope.Label {
			found = true
			return
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	for _, c := range scope.Children {
		walk(c)
	}
	return found
}

// commonRefType returns the widened reference type that both a and b
// can be assigned to, defaulting to a's heap type marked nullable when
// no common supertype is known.
func commonRefType(a, b Type) Type {
	if a.Heap == b.Heap {
		return Ref(a.Heap, a.Nullable || b.Nullable)
	}
	if a.Heap != nil && b.Heap != nil {
		if a.Heap.IsSubtypeOf(b.Heap) {
			return Ref(b.Heap, a.Nullable || b.Nullable)
		}
		if b.Heap.IsSubtypeOf(a.Heap) {
			return Ref(a.Heap, a.Nullable || b.Nullable)
		}
	}
	return Ref(a.Heap, true)
}
