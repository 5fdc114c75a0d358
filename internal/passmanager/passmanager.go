// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package passmanager composes Heap2Local and Outlining into a single
// module-level run: the out-of-scope "pass manager" collaborator named
// in spec.md §1, made concrete for this repository's CLI and tests.
package passmanager

import (
	"context"
	"runtime"

	"github.com/dotandev/wasmgcopt/internal/errors"
	"github.com/dotandev/wasmgcopt/internal/heap2local"
	"github.com/dotandev/wasmgcopt/internal/ir"
	"github.com/dotandev/wasmgcopt/internal/outlining"
	"github.com/dotandev/wasmgcopt/internal/telemetry"
)

// Options configures one Run. Workers <= 0 uses GOMAXPROCS.
type Options struct {
	ir.PassOptions
	Workers int

	// DeclaredGCVersion/DeclaredEHVersion are the module's self-reported
	// feature versions, checked against the configured floor before any
	// pass runs.
	DeclaredGCVersion string
	DeclaredEHVersion string
}

// Report aggregates both passes' per-run statistics, the shape
// internal/metrics.RunStats and the CLI report are built from.
type Report struct {
	Heap2Local []heap2local.Report
	Outlining  outlining.Report
}

// Run validates the module's declared revision, then runs Heap2Local to
// a fixed point followed by a single Outlining pass, per spec.md's
// Non-goal excluding multi-round interleaving of the two passes.
func Run(ctx context.Context, m *ir.Module, opts Options, minGC, minEH string) (Report, error) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.Start(ctx, "passmanager.Run")
	defer span.End()

	if err := checkRevision(opts.DeclaredGCVersion, minGC); err != nil {
		return Report{}, err
	}
	if err := checkRevision(opts.DeclaredEHVersion, minEH); err != nil {
		return Report{}, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	_, h2lSpan := tracer.Start(ctx, "passmanager.heap2local")
	h2l := heap2local.CreateHeap2LocalPass(opts.PassOptions)
	h2lReports := h2l.Run(m, workers)
	h2lSpan.End()

	_, outSpan := tracer.Start(ctx, "passmanager.outlining")
	out := outlining.CreateOutliningPass(opts.PassOptions)
	outReport, err := out.Run(m)
	outSpan.End()
	if err != nil {
		return Report{Heap2Local: h2lReports}, err
	}

	return Report{Heap2Local: h2lReports, Outlining: outReport}, nil
}

// checkRevision rejects a module whose declared version is older than
// floor, using the same semver comparison internal/config uses for its
// MinGCVersion/MinEHVersion floors.
func checkRevision(declared, floor string) error {
	if declared == "" || floor == "" {
		return nil
	}
	ok, err := versionAtLeast(declared, floor)
	if err != nil {
		return errors.WrapInvalidConfig("could not parse declared module version", err)
	}
	if !ok {
		return errors.WrapIncompatibleTarget(declared, floor)
	}
	return nil
}
