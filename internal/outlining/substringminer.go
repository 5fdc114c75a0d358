// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package outlining

import "sort"

// RepeatedSubstring is a length-≥2 run of the hash sequence occurring
// at ≥2 positions.
type RepeatedSubstring struct {
	Length      int
	StartIndices []int
}

// MineRepeatedSubstrings finds repeated substrings of hashes using a
// suffix array and its Kasai LCP array, the from-scratch substitute
// this module uses in place of a generalized suffix tree.
//
// Each run of adjacent suffix-array entries whose LCP is at least 2 is
// reported once, with Length set to the run's smallest LCP and one
// start index per suffix in the run. A longer repeat shared by only
// part of a run is not reported as a separate substring.
//
// Construction is a straightforward O(n^2 log n) comparison sort of
// suffixes rather than a doubling/SA-IS algorithm: correctness over
// asymptotic performance, since module sizes here are a single
// compilation unit's hash sequence, not a corpus.
func MineRepeatedSubstrings(hashes []uint32) []RepeatedSubstring {
	n := len(hashes)
	if n < 2 {
		return nil
	}

	sa := suffixArray(hashes)
	lcp := kasaiLCP(hashes, sa)

	var out []RepeatedSubstring
	i := 1
	for i < len(lcp) {
		if lcp[i] < 2 {
			i++
			continue
		}
		// Extend the plateau of consecutive LCP entries, tracking the
		// minimum shared prefix length across the run.
		minLCP := lcp[i]
		j := i
		for j+1 < len(lcp) && lcp[j+1] >= 2 {
			j++
			if lcp[j] < minLCP {
				minLCP = lcp[j]
			}
		}
		starts := make([]int, 0, j-i+2)
		for k := i - 1; k <= j; k++ {
			starts = append(starts, sa[k])
		}
		sort.Ints(starts)
		out = append(out, RepeatedSubstring{Length: minLCP, StartIndices: starts})
		i = j + 1
	}
	return out
}

// suffixArray returns the permutation of [0,n) that sorts hashes'
// suffixes lexicographically.
func suffixArray(hashes []uint32) []int {
	n := len(hashes)
	sa := make([]int, n)
	for i := range sa {
		sa[i] = i
	}
	less := func(a, b int) bool {
		for a < n && b < n {
			if hashes[a] != hashes[b] {
				return hashes[a] < hashes[b]
			}
			a++
			b++
		}
		return a >= n && b < n
	}
	sort.Slice(sa, func(i, j int) bool { return less(sa[i], sa[j]) })
	return sa
}

// kasaiLCP computes, for each i>0, the length of the longest common
// prefix between suffix sa[i-1] and suffix sa[i]. lcp[0] is unused.
func kasaiLCP(hashes []uint32, sa []int) []int {
	n := len(hashes)
	rank := make([]int, n)
	for i, s := range sa {
		rank[s] = i
	}

	lcp := make([]int, n)
	h := 0
	for i := 0; i < n; i++ {
		if rank[i] == 0 {
			h = 0
			continue
		}
		j := sa[rank[i]-1]
		if h > 0 {
			h--
		}
		for i+h < n && j+h < n && hashes[i+h] == hashes[j+h] {
			h++
		}
		lcp[rank[i]] = h
	}
	return lcp
}
