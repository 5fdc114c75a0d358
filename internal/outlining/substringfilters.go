// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package outlining

import (
	"sort"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

// FilterSubstrings runs the outlineability precondition pipeline in
// spec order: dedupe before overlaps before content filters, since
// running content filters first can throw away a start index that a
// later, shorter substring still needed.
func FilterSubstrings(subs []RepeatedSubstring, tokens []Token) []RepeatedSubstring {
	subs = dedupe(subs)
	subs = filterOverlaps(subs)
	subs = rejectByContent(subs, tokens)
	return subs
}

// dedupe removes any substring that is a subrange of a strictly longer
// one reported at the same offsets.
func dedupe(subs []RepeatedSubstring) []RepeatedSubstring {
	byStart := make(map[int]RepeatedSubstring)
	for _, s := range subs {
		for _, start := range s.StartIndices {
			if existing, ok := byStart[start]; !ok || s.Length > existing.Length {
				byStart[start] = s
			}
		}
	}

	seen := make(map[int]bool)
	var out []RepeatedSubstring
	for _, s := range subs {
		keep := false
		for _, start := range s.StartIndices {
			if byStart[start].Length == s.Length && !seen[start] {
				keep = true
			}
		}
		if !keep {
			continue
		}
		for _, start := range s.StartIndices {
			seen[start] = true
		}
		out = append(out, s)
	}
	return out
}

// filterOverlaps keeps, for each substring, a non-overlapping subset of
// its start indices chosen greedily by ascending start.
func filterOverlaps(subs []RepeatedSubstring) []RepeatedSubstring {
	var out []RepeatedSubstring
	for _, s := range subs {
		starts := append([]int{}, s.StartIndices...)
		sort.Ints(starts)

		var kept []int
		lastEnd := -1
		for _, start := range starts {
			if start > lastEnd {
				kept = append(kept, start)
				lastEnd = start + s.Length - 1
			}
		}
		if len(kept) >= 2 {
			out = append(out, RepeatedSubstring{Length: s.Length, StartIndices: kept})
		}
	}
	return out
}

// rejectByContent drops substrings containing any branch/return/
// try_table, any local.set/tee, or any local.get, per §4.5: outlining
// across a branch/return boundary or through local-variable state isn't
// supported (explicit Non-goal).
func rejectByContent(subs []RepeatedSubstring, tokens []Token) []RepeatedSubstring {
	var out []RepeatedSubstring
	for _, s := range subs {
		if len(s.StartIndices) == 0 {
			continue
		}
		start := s.StartIndices[0]
		if containsRejectedContent(tokens, start, s.Length) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func containsRejectedContent(tokens []Token, start, length int) bool {
	var rejected func(e *ir.Expression) bool
	rejected = func(e *ir.Expression) bool {
		switch e.Kind {
		case ir.KindBreak, ir.KindSwitch, ir.KindLocalSet, ir.KindLocalTee, ir.KindLocalGet:
			return true
		}
		if e.Kind == ir.KindCall && e.IsReturn {
			return true
		}
		for _, c := range e.Children {
			if c != nil && rejected(c) {
				return true
			}
		}
		return false
	}
	for i := start; i < start+length && i < len(tokens); i++ {
		t := tokens[i]
		if t.Sep == sepTryTableStart {
			return true
		}
		if t.Expr != nil && rejected(t.Expr) {
			return true
		}
	}
	return false
}
