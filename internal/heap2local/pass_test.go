// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package heap2local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

func TestRunFunctionRewritesBoxedCounter(t *testing.T) {
	b := ir.StdBuilder{}
	fn := &ir.Function{Name: "f"}
	body, _ := boxedCounter(b, fn)
	fn.Body = body

	pass := CreateHeap2LocalPass(ir.DefaultPassOptions())
	report := pass.RunFunction(fn)

	assert.Equal(t, 1, report.AllocationsSeen)
	assert.Equal(t, 1, report.StructsToLocal)
	assert.Equal(t, 0, report.AllocationsKept)
}

func TestRunFunctionSkipsImportedFunctions(t *testing.T) {
	fn := &ir.Function{Name: "imported", Imported: true}
	pass := CreateHeap2LocalPass(ir.DefaultPassOptions())
	report := pass.RunFunction(fn)
	assert.Equal(t, 0, report.AllocationsSeen)
}

func TestRunFunctionLeavesEscapingAllocationAlone(t *testing.T) {
	b := ir.StdBuilder{}
	ht := counterHeap()
	fn := &ir.Function{Name: "f"}
	alloc := &ir.Expression{Kind: ir.KindStructNew, HeapType: ht, Children: []*ir.Expression{b.Const(ir.I32, 0)}, Type: ir.Ref(ht, false)}
	call := &ir.Expression{Kind: ir.KindCall, FuncName: "sink", Children: []*ir.Expression{alloc}, Type: ir.NoneType}
	fn.Body = call

	pass := CreateHeap2LocalPass(ir.DefaultPassOptions())
	report := pass.RunFunction(fn)

	assert.Equal(t, 1, report.AllocationsSeen)
	assert.Equal(t, 1, report.AllocationsKept)
	assert.Equal(t, 0, report.StructsToLocal)
	require.Equal(t, ir.KindStructNew, fn.Body.Children[0].Kind)
}

func TestRunFunctionArrayOfFourBecomesLocals(t *testing.T) {
	b := ir.StdBuilder{}
	ht := i32ArrayHeap()
	fn := &ir.Function{Name: "f"}

	alloc := &ir.Expression{Kind: ir.KindArrayNewFixed, HeapType: ht, ArraySize: 4,
		Children: []*ir.Expression{b.Const(ir.I32, 1), b.Const(ir.I32, 2), b.Const(ir.I32, 3), b.Const(ir.I32, 4)},
		Type:     ir.Ref(ht, false)}

	arrLocal := fn.AddLocal(ir.Ref(ht, true))
	set := b.LocalSet(arrLocal, alloc)

	idx2 := int64(2)
	get := &ir.Expression{Kind: ir.KindArrayGet, Index: &idx2, Children: []*ir.Expression{b.LocalGet(arrLocal, ir.Ref(ht, true)), b.Const(ir.I32, 2)}, Type: ir.I32}
	drop := b.Drop(get)

	fn.Body = b.Sequence([]*ir.Expression{set, drop})

	pass := CreateHeap2LocalPass(ir.DefaultPassOptions())
	report := pass.RunFunction(fn)

	assert.Equal(t, 1, report.ArraysToLocal)
	assert.Equal(t, 0, report.AllocationsKept)
}

func TestRunReportsPerFunction(t *testing.T) {
	b := ir.StdBuilder{}
	fn1 := &ir.Function{Name: "a"}
	body1, _ := boxedCounter(b, fn1)
	fn1.Body = body1

	fn2 := &ir.Function{Name: "b"}
	body2, _ := boxedCounter(b, fn2)
	fn2.Body = body2

	m := &ir.Module{Functions: []*ir.Function{fn1, fn2}}
	pass := CreateHeap2LocalPass(ir.DefaultPassOptions())
	reports := pass.Run(m, 2)

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].StructsToLocal)
	assert.Equal(t, 1, reports[1].StructsToLocal)
}
