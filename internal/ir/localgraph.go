// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

// LocalGraph is the local-variable data-flow graph within one function:
// for each local.set/tee, which local.get expressions it may influence,
// and for each local.get, which sets may have produced the value it
// reads. Built conservatively (same-index reachability along the
// control-flow-insensitive dominance-free approximation used by the
// escape analyzer), which is sound for get-exclusivity checks even
// though it may over-approximate influence.
type LocalGraph struct {
	setsToGets map[*Expression][]*Expression
	getsToSets map[*Expression][]*Expression
}

// BuildLocalGraph indexes every local.set/tee/get in body by local
// index and links each get to every set of the same index that
// precedes it in some execution order, and vice versa.
func BuildLocalGraph(body *Expression) *LocalGraph {
	lg := &LocalGraph{
		setsToGets: make(map[*Expression][]*Expression),
		getsToSets: make(map[*Expression][]*Expression),
	}

	var sets []*Expression
	var gets []*Expression
	byIndex := make(map[int][]*Expression)

	var collect func(e *Expression)
	collect = func(e *Expression) {
		if e == nil {
			return
		}
		switch e.Kind {
		case KindLocalSet, KindLocalTee:
			sets = append(sets, e)
			byIndex[e.LocalIndex] = append(byIndex[e.LocalIndex], e)
		case KindLocalGet:
			gets = append(gets, e)
		}
		for _, c := range e.Children {
			collect(c)
		}
	}
	collect(body)

	for _, g := range gets {
		for _, s := range byIndex[g.LocalIndex] {
			lg.getsToSets[g] = append(lg.getsToSets[g], s)
			lg.setsToGets[s] = append(lg.setsToGets[s], g)
		}
	}

	return lg
}

// GetsInfluencedBy returns every local.get that may read a value
// written by set.
func (lg *LocalGraph) GetsInfluencedBy(set *Expression) []*Expression {
	return lg.setsToGets[set]
}

// SetsReaching returns every local.set/tee that may have produced the
// value get reads.
func (lg *LocalGraph) SetsReaching(get *Expression) []*Expression {
	return lg.getsToSets[get]
}
