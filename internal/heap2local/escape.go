// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package heap2local implements the Heap-to-Local optimization: it
// finds struct and array allocations that never escape their function
// and rewrites them into scalar locals, eliminating the heap object.
package heap2local

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// Interaction is a parent-child interaction classification for a
// candidate allocation flowing into parent through the edge child.
type Interaction int

const (
	// None is the absence of a recorded interaction (default/zero).
	None Interaction = iota
	// Escapes means the parent may leak the allocation to callers,
	// memory, or other values.
	Escapes
	// Mixes means the parent forwards a value that may or may not be
	// the allocation.
	Mixes
	// FullyConsumes means the parent reads the allocation and nothing
	// of it flows further.
	FullyConsumes
	// Flows means the allocation is exactly the value flowing out of
	// the parent.
	Flows
)

// pair is a deduplicated (child, parent) worklist entry.
type pair struct {
	child, parent *ir.Expression
}

// EscapeAnalyzer decides whether a candidate allocation escapes its
// function, and on success records the interaction and observed-sets
// state Struct2Local/Array2Struct need to perform the rewrite.
type EscapeAnalyzer struct {
	pm   *ir.ParentMap
	bt   *ir.BranchTargets
	lg   *ir.LocalGraph
	opts ir.PassOptions

	// Reached is the per-allocation Reached map (§3): expression ->
	// interaction. Populated as a side effect of Analyze.
	Reached map[*ir.Expression]Interaction

	// Sets is the per-allocation Sets map: every local.set/tee observed
	// to receive the allocation.
	Sets map[*ir.Expression]bool

	visited map[pair]bool
}

// NewEscapeAnalyzer builds an analyzer over one function's collaborator
// structures. Fresh per function, per the concurrency model: no shared
// mutable state across functions analyzed in parallel.
func NewEscapeAnalyzer(pm *ir.ParentMap, bt *ir.BranchTargets, lg *ir.LocalGraph, opts ir.PassOptions) *EscapeAnalyzer {
	return &EscapeAnalyzer{
		pm:      pm,
		bt:      bt,
		lg:      lg,
		opts:    opts,
		Reached: make(map[*ir.Expression]Interaction),
		Sets:    make(map[*ir.Expression]bool),
		visited: make(map[pair]bool),
	}
}

// Analyze runs the worklist algorithm for allocation A and reports
// whether A escapes. On escape, Reached/Sets may be partial; on success
// they are complete enough for the rewriter.
func (ea *EscapeAnalyzer) Analyze(a *ir.Expression) bool {
	type item struct{ child, parent *ir.Expression }
	worklist := []item{{a, ea.pm.ParentOf(a)}}

	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]

		key := pair{cur.child, cur.parent}
		if ea.visited[key] {
			continue
		}
		ea.visited[key] = true

		interaction, forward := ea.classify(a, cur.child, cur.parent)
		switch interaction {
		case Escapes, Mixes:
			ea.Reached[cur.parent] = interaction
			return true
		case FullyConsumes:
			ea.Reached[cur.parent] = FullyConsumes
		case Flows:
			ea.Reached[cur.parent] = Flows
			if forward.parent != nil || forward.child != nil {
				worklist = append(worklist, item{forward.child, forward.parent})
			}
		}

		// local.set/tee: fan out to every influenced get.
		if cur.parent != nil && (cur.parent.Kind == ir.KindLocalSet || cur.parent.Kind == ir.KindLocalTee) {
			ea.Sets[cur.parent] = true
			for _, get := range ea.lg.GetsInfluencedBy(cur.parent) {
				gp := ea.pm.ParentOf(get)
				worklist = append(worklist, item{get, gp})
			}
		}

		// break/switch: fan out to the branch target scope for every
		// label the value is sent to.
		if cur.parent != nil && (cur.parent.Kind == ir.KindBreak || cur.parent.Kind == ir.KindSwitch) {
			labels := sentLabels(cur.parent)
			for _, label := range labels {
				target := ea.bt.TargetOf(label)
				if target == nil {
					continue
				}
				worklist = append(worklist, item{cur.parent, target})
			}
		}
	}

	if !ea.checkGetExclusivity() {
		return true
	}
	return false
}

func sentLabels(e *ir.Expression) []string {
	if e.Kind == ir.KindBreak {
		if e.Label != "" {
			return []string{e.Label}
		}
		return nil
	}
	return e.SwitchLabels
}

// classify implements the per-parent-kind table in spec §4.1. forward
// is the next (child, parent) pair to enqueue for a Flows result; its
// fields are both nil when there is nothing further to enqueue (the
// caller for local.set/break fan-out handles those separately).
func (ea *EscapeAnalyzer) classify(a, child, parent *ir.Expression) (Interaction, pair) {
	if parent == nil {
		return Escapes, pair{}
	}

	switch parent.Kind {
	case ir.KindBlock, ir.KindLoop:
		if ea.isCleanFlow(parent, child) {
			return Flows, pair{parent, ea.pm.ParentOf(parent)}
		}
		return Mixes, pair{}

	case ir.KindIf:
		return Mixes, pair{}

	case ir.KindDrop, ir.KindRefIsNull, ir.KindRefEq, ir.KindRefTest, ir.KindRefGetDesc:
		return FullyConsumes, pair{}

	case ir.KindStructGet:
		return FullyConsumes, pair{}

	case ir.KindArrayGet:
		if parent.Index == nil {
			return Escapes, pair{}
		}
		return FullyConsumes, pair{}

	case ir.KindRefAsNonNull:
		return Flows, pair{parent, ea.pm.ParentOf(parent)}

	case ir.KindRefCast:
		if a.Type.Heap != nil && a.Type.Heap.IsSubtypeOf(parent.HeapType) {
			return Flows, pair{parent, ea.pm.ParentOf(parent)}
		}
		return FullyConsumes, pair{}

	case ir.KindRefCastDesc:
		if parent.Operand(0) == child {
			if a.Type.Heap != nil && a.Type.Heap.IsSubtypeOf(parent.HeapType) {
				return Flows, pair{parent, ea.pm.ParentOf(parent)}
			}
			return FullyConsumes, pair{}
		}
		// child is the descriptor operand.
		return FullyConsumes, pair{}

	case ir.KindStructSet, ir.KindStructRMW:
		if parent.Operand(0) == child {
			return FullyConsumes, pair{}
		}
		return Escapes, pair{}

	case ir.KindArraySet, ir.KindArrayRMW:
		if parent.Index == nil {
			return Escapes, pair{}
		}
		if parent.Operand(0) == child {
			return FullyConsumes, pair{}
		}
		return Escapes, pair{}

	case ir.KindStructCmpxchg, ir.KindArrayCmpxchg:
		if len(parent.Children) >= 3 && parent.Operand(2) == child {
			return Escapes, pair{}
		}
		return FullyConsumes, pair{}

	case ir.KindBreak, ir.KindSwitch:
		// Handled by the caller's fan-out over sent labels; record Flows
		// so the value is known consumed cleanly at this site.
		return Flows, pair{}

	case ir.KindLocalSet, ir.KindLocalTee:
		// Handled by the caller's fan-out over influenced gets.
		return Flows, pair{}

	default:
		return Escapes, pair{}
	}
}

// isCleanFlow implements the Mix-detection rule (§4.1): child must be
// the immediate fallthrough of parent, or the sole branching
// contributor with no competing fallthrough value.
func (ea *EscapeAnalyzer) isCleanFlow(parent, child *ir.Expression) bool {
	if ir.ImmediateFallthrough(parent, ea.opts) == child {
		return true
	}
	// Sole branching contributor: parent's fallthrough is unreachable
	// and exactly one sender to parent's own label carries a value.
	fallthrough_ := ir.ImmediateFallthrough(parent, ea.opts)
	if fallthrough_ != nil && fallthrough_.Type.Val != ir.ValUnreachable {
		return false
	}
	senders := ea.bt.SendersTo(parent.Label)
	valueSenders := 0
	for _, s := range senders {
		if ir.SendsValue(s) {
			valueSenders++
		}
	}
	return valueSenders == 1
}

// checkGetExclusivity implements §4.1's get-exclusivity check: every
// local.get influenced by a recorded set must have every reaching set
// also recorded.
func (ea *EscapeAnalyzer) checkGetExclusivity() bool {
	influenced := make(map[*ir.Expression]bool)
	for set := range ea.Sets {
		for _, get := range ea.lg.GetsInfluencedBy(set) {
			influenced[get] = true
		}
	}
	for get := range influenced {
		for _, reachingSet := range ea.lg.SetsReaching(get) {
			if !ea.Sets[reachingSet] {
				return false
			}
		}
	}
	return true
}
