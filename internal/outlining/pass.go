// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package outlining

import (
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// Report summarizes one module-wide Outlining run, consumed by
// internal/metrics and the CLI's report output.
type Report struct {
	SubstringsFound   int
	FunctionsOutlined int
	CalleesCreated    int
}

// Pass is the module-level Outlining job: mine repeats across every
// function, filter them down to safe candidates, and reconstruct each
// affected function.
type Pass struct {
	opts    ir.PassOptions
	builder ir.Builder
}

// CreateOutliningPass returns the pass value the pass manager runs over
// a Module; opts are bound here, at construction, per §6's factory
// contract.
func CreateOutliningPass(opts ir.PassOptions) *Pass {
	return &Pass{opts: opts, builder: ir.StdBuilder{}}
}

// Run mines, filters, and reconstructs m in place, per §4.6's post-pass
// contract: callees are moved to the front of the function list and
// the whole module is refinalized afterward, since reconstruction can
// leave block types that depended on branch targets unresolved.
func (p *Pass) Run(m *ir.Module) (Report, error) {
	report := Report{}

	h := Stringify(m)
	hashes := make([]uint32, len(h.Tokens))
	for i, t := range h.Tokens {
		hashes[i] = t.Hash
	}

	mined := MineRepeatedSubstrings(hashes)
	report.SubstringsFound = len(mined)
	filtered := FilterSubstrings(mined, h.Tokens)

	seqs := BuildSequences(m, h, filtered)
	if len(seqs) == 0 {
		return report, nil
	}

	byFunc := make(map[int][]OutliningSequence)
	for _, s := range seqs {
		byFunc[s.FuncIndex] = append(byFunc[s.FuncIndex], s)
	}

	built := make(map[string]bool)
	var newCallees []*ir.Function
	outlinedFuncs := make(map[int]bool)

	for fi, fn := range m.Functions {
		fseqs := byFunc[fi]
		if len(fseqs) == 0 {
			continue
		}
		sortByStart(fseqs)

		pm := ir.BuildParentMap(fn.Body)
		rc := NewReconstructor(pm, p.builder, built)
		for _, seq := range fseqs {
			callee, err := rc.Apply(h.Tokens, seq)
			if err != nil {
				return report, err
			}
			if callee != nil {
				newCallees = append(newCallees, callee)
				report.CalleesCreated++
			}
		}
		outlinedFuncs[fi] = true
	}
	report.FunctionsOutlined = len(outlinedFuncs)

	m.Functions = append(newCallees, m.Functions...)

	for _, fn := range m.Functions {
		if fn.Body != nil {
			if err := ir.Refinalize(fn.Body); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func sortByStart(seqs []OutliningSequence) {
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j-1].StartIdx > seqs[j].StartIdx; j-- {
			seqs[j-1], seqs[j] = seqs[j], seqs[j-1]
		}
	}
}
