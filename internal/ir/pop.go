// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

// RelocateNestedPops makes sure that, in every catch/catch_all in body,
// the first pop among the catch's direct statements sits in the leading
// position the EH encoding requires, swapping it with whatever
// statement a Heap2Local rewrite left at the front. It returns nothing.
//
// This is a narrow fixup, not a general code-motion pass: it only
// reorders within the immediate statement list of the catch body and
// does not attempt to hoist a pop out of nested control flow (an
// allocation rewrite never introduces one there).
func RelocateNestedPops(body *Expression) {
	var walk func(e *Expression)
	walk = func(e *Expression) {
		if e == nil {
			return
		}
		if e.Kind == KindCatch || e.Kind == KindCatchAll {
			relocateInCatch(e)
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(body)
}

func relocateInCatch(catch *Expression) {
	for i, stmt := range catch.Children {
		if stmt.Kind == KindPop {
			if i != 0 {
				catch.Children[0], catch.Children[i] = catch.Children[i], catch.Children[0]
			}
			return
		}
	}
}
