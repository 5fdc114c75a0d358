// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package passmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

func boxedCounterModule() *ir.Module {
	b := ir.StdBuilder{}
	ht := &ir.HeapType{Name: "$Counter", Kind: ir.HeapStruct, Fields: []ir.Field{{Type: ir.I32, Mutable: true}}}
	fn := &ir.Function{Name: "f"}
	alloc := &ir.Expression{Kind: ir.KindStructNew, HeapType: ht, Children: []*ir.Expression{b.Const(ir.I32, 0)}, Type: ir.Ref(ht, false)}
	xLocal := fn.AddLocal(ir.Ref(ht, true))
	set := b.LocalSet(xLocal, alloc)
	get := b.LocalGet(xLocal, ir.Ref(ht, true))
	structGet := &ir.Expression{Kind: ir.KindStructGet, FieldIndex: 0, Children: []*ir.Expression{get}, Type: ir.I32}
	fn.Body = b.Sequence([]*ir.Expression{set, b.Drop(structGet)})
	return &ir.Module{Functions: []*ir.Function{fn}}
}

func TestRunRewritesBoxedCounter(t *testing.T) {
	m := boxedCounterModule()
	report, err := Run(context.Background(), m, Options{PassOptions: ir.DefaultPassOptions(), Workers: 1}, "", "")
	require.NoError(t, err)
	require.Len(t, report.Heap2Local, 1)
	assert.Equal(t, 1, report.Heap2Local[0].StructsToLocal)
}

func TestRunRejectsModuleBelowVersionFloor(t *testing.T) {
	m := boxedCounterModule()
	opts := Options{PassOptions: ir.DefaultPassOptions(), Workers: 1, DeclaredGCVersion: "0.5.0"}
	_, err := Run(context.Background(), m, opts, "1.0.0", "")
	require.Error(t, err)
}

func TestRunAcceptsModuleAtOrAboveVersionFloor(t *testing.T) {
	m := boxedCounterModule()
	opts := Options{PassOptions: ir.DefaultPassOptions(), Workers: 1, DeclaredGCVersion: "2.0.0"}
	_, err := Run(context.Background(), m, opts, "1.0.0", "")
	require.NoError(t, err)
}
