// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package heap2local

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
	"github.com/dotandev/wasmgcopt/internal/logging"
)

// MaxArraySize is the array-size heuristic named in the spec's Open
// Questions: arrays of this size or larger are never candidates for
// Array2Struct, on the (undocumented in the upstream source) theory
// that a struct with this many fields stops paying for itself.
const MaxArraySize = 20

// Report summarizes what one function's Heap2Local run did, consumed
// by internal/metrics and the CLI's report output.
type Report struct {
	FunctionName      string
	AllocationsSeen   int
	StructsToLocal    int
	ArraysToLocal     int
	AllocationsKept   int
	Refinalized       bool
	PopFixupNeeded    bool
}

// Pass is a single function-level Heap2Local job: find allocation
// candidates, run escape analysis on each, and rewrite the ones that
// don't escape.
type Pass struct {
	opts    ir.PassOptions
	builder ir.Builder
}

// CreateHeap2LocalPass returns the pass value the pass manager runs
// over a Module; opts are bound here, at construction, per §6's factory
// contract.
func CreateHeap2LocalPass(opts ir.PassOptions) *Pass {
	return &Pass{opts: opts, builder: ir.StdBuilder{}}
}

// RunFunction runs Heap2Local over one function's body and returns a
// report of what it did. Mutates only fn's body and locals table, per
// the concurrency model's function-isolation guarantee.
func (p *Pass) RunFunction(fn *ir.Function) Report {
	report := Report{FunctionName: fn.Name}
	if fn.Imported || fn.Body == nil {
		return report
	}

	if hasPop(fn.Body) {
		report.PopFixupNeeded = true
	}

	// Re-derive collaborator structures after every successful rewrite,
	// since a rewrite changes the tree shape subsequent allocations'
	// analysis depends on.
	for {
		candidates := findAllocations(fn.Body)
		rewroteAny := false

		for _, a := range candidates {
			report.AllocationsSeen++
			pm := ir.BuildParentMap(fn.Body)
			bt := ir.BuildBranchTargets(fn.Body)
			lg := ir.BuildLocalGraph(fn.Body)
			ea := NewEscapeAnalyzer(pm, bt, lg, p.opts)

			if ea.Analyze(a) {
				report.AllocationsKept++
				continue
			}

			if a.Kind == ir.KindArrayNew || a.Kind == ir.KindArrayNewFixed {
				a2s := NewArray2Struct(fn, pm, p.builder, p.opts)
				if !a2s.Candidate(a, ea.Reached) {
					report.AllocationsKept++
					continue
				}
				origHeap := a.HeapType
				normalized := a2s.Normalize(a)
				a2s.replaceInParent(a, normalized)
				structExpr := normalized
				if structExpr.Kind == ir.KindSequence {
					structExpr = structExpr.Children[len(structExpr.Children)-1]
				}
				a2s.RetypeReached(ea.Reached, origHeap, structExpr.HeapType)

				s2l := NewStruct2Local(fn, pm, p.builder, p.opts)
				s2l.RewriteArrayDerived(structExpr, ea, origHeap)
				report.ArraysToLocal++
				if s2l.Refinalize || a2s.Refinalize {
					report.Refinalized = true
				}
			} else {
				s2l := NewStruct2Local(fn, pm, p.builder, p.opts)
				s2l.Rewrite(a, ea)
				report.StructsToLocal++
				if s2l.Refinalize {
					report.Refinalized = true
				}
			}
			rewroteAny = true
			break // tree shape changed; restart candidate discovery
		}

		if !rewroteAny {
			break
		}
	}

	if report.Refinalized {
		if err := ir.Refinalize(fn.Body); err != nil {
			logging.Logger.Warn("refinalize failed after heap2local rewrite", "function", fn.Name, "error", err)
		}
		if report.PopFixupNeeded {
			ir.RelocateNestedPops(fn.Body)
		}
	}

	return report
}

// Run executes RunFunction over every function in m, function-parallel
// per §5, using a worker pool bounded by GOMAXPROCS-equivalent
// concurrency supplied by the caller (see internal/passmanager).
func (p *Pass) Run(m *ir.Module, workers int) []Report {
	return runParallel(m.Functions, workers, p.RunFunction)
}

// findAllocations returns every struct.new/array.new/array.new_fixed
// expression in body that qualifies as an allocation candidate per §3:
// a struct whose fields are all representable as locals, or an array
// whose size is a literal below MaxArraySize with every access
// const-indexed (the const-index check happens later, once escape
// analysis has enumerated the reached set).
func findAllocations(body *ir.Expression) []*ir.Expression {
	var found []*ir.Expression
	var walk func(e *ir.Expression)
	walk = func(e *ir.Expression) {
		if e == nil {
			return
		}
		switch e.Kind {
		case ir.KindStructNew:
			if e.Type.Val != ir.ValUnreachable {
				found = append(found, e)
			}
		case ir.KindArrayNew, ir.KindArrayNewFixed:
			if e.Type.Val != ir.ValUnreachable && e.ArraySize > 0 && e.ArraySize < MaxArraySize {
				found = append(found, e)
			}
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(body)
	return found
}

// hasPop reports whether body contains an EH pop expression, tracked so
// a caller can decide whether the nested-pop fixup pass needs to run.
func hasPop(body *ir.Expression) bool {
	found := false
	var walk func(e *ir.Expression)
	walk = func(e *ir.Expression) {
		if e == nil || found {
			return
		}
		if e.Kind == ir.KindPop {
			found = true
			return
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(body)
	return found
}
