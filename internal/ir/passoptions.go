// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package ir

// FallthroughBehavior names a fallthrough-folding setting carried in
// PassOptions. ImmediateFallthrough receives it but does not consult
// it: both values give the same result.
type FallthroughBehavior int

const (
	// FallthroughAllowMultiValue is the permissive setting and the
	// default.
	FallthroughAllowMultiValue FallthroughBehavior = iota
	// FallthroughNoMultiValue is the setting for a host without the
	// multi-value proposal. No code path treats it differently from
	// FallthroughAllowMultiValue.
	FallthroughNoMultiValue
)

// PassOptions is the subset of pass-manager configuration the two
// passes consume. The rest of a real pass manager's option surface
// (optimization level, shrink level, debug info handling) belongs to
// the pass manager itself and is out of scope here.
type PassOptions struct {
	Fallthrough  FallthroughBehavior
	MaxArraySize int
}

// DefaultPassOptions matches the spec's documented Open Question
// resolution: an array-size ceiling of 20, and permissive fallthrough
// folding.
func DefaultPassOptions() PassOptions {
	return PassOptions{
		Fallthrough:  FallthroughAllowMultiValue,
		MaxArraySize: 20,
	}
}

// ImmediateFallthrough returns the child of e that provides its value
// when e is used as an expression: the last child of a block or loop
// (nil if there are no children or the last one has no value), the
// last child of a sequence (nil if empty), and e itself for any other
// kind. It looks through one level only, and opts is not consulted.
func ImmediateFallthrough(e *Expression, opts PassOptions) *Expression {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case KindBlock, KindLoop:
		if len(e.Children) == 0 {
			return nil
		}
		last := e.Children[len(e.Children)-1]
		if last.Type.Val == ValNone {
			return nil
		}
		return last
	case KindSequence:
		if len(e.Children) == 0 {
			return nil
		}
		return e.Children[len(e.Children)-1]
	default:
		return e
	}
}
