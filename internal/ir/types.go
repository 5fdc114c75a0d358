// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package ir is the module's own small Wasm GC/EH intermediate
// representation: a typed expression tree, module/function containers,
// and the collaborator structures (ParentMap, BranchTargets,
// LocalGraph, Builder, IRBuilder) that heap2local and outlining consume.
//
// It is deliberately not a general-purpose Wasm toolkit. It models just
// enough of the type system and instruction set for escape analysis and
// outlining to operate on; a real host tool would sit between a full
// binary parser/printer and this package.
package ir

import "fmt"

// ValType is a Wasm value type.
type ValType int

const (
	ValNone ValType = iota
	ValUnreachable
	ValI32
	ValI64
	ValF32
	ValF64
	ValRef
)

func (v ValType) String() string {
	switch v {
	case ValNone:
		return "none"
	case ValUnreachable:
		return "unreachable"
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValRef:
		return "ref"
	default:
		return fmt.Sprintf("valtype(%d)", int(v))
	}
}

// Packing describes how a struct/array field narrower than i32 is stored.
type Packing int

const (
	PackNone Packing = iota
	PackI8Signed
	PackI8Unsigned
	PackI16Signed
	PackI16Unsigned
)

// Field is one element of a struct heap type, or the sole element type
// of an array heap type.
type Field struct {
	Type     Type
	Packing  Packing
	Mutable  bool
}

// HeapTypeKind distinguishes struct and array heap types.
type HeapTypeKind int

const (
	HeapStruct HeapTypeKind = iota
	HeapArray
	HeapFunc
	HeapExtern
	HeapAny
	HeapNone
)

// HeapType is a nominal GC type: a struct with ordered fields, an array
// with one element field, or a builtin/abstract heap type used as a
// supertype in casts.
type HeapType struct {
	Name string
	Kind HeapTypeKind

	// Fields holds the struct's ordered fields, or the array's single
	// element field at index 0.
	Fields []Field

	// Descriptor, if non-nil, names the struct heap type carried as an
	// extra reference on allocations of this type (Wasm GC descriptors
	// proposal). Only meaningful when Kind == HeapStruct.
	Descriptor *HeapType

	// Super is the heap type this one is declared as a subtype of, or
	// nil for a type with no explicit supertype. Used by subtyping
	// checks in ref.test/ref.cast.
	Super *HeapType
}

// IsSubtypeOf reports whether h is h itself or a (transitive) subtype
// of other. Two abstract heap types with the same Kind and no Super
// chain relating them are not considered related.
func (h *HeapType) IsSubtypeOf(other *HeapType) bool {
	if h == nil || other == nil {
		return false
	}
	for t := h; t != nil; t = t.Super {
		if t == other || t.Name == other.Name {
			return true
		}
	}
	return false
}

// ArrayElem returns the array heap type's single field.
func (h *HeapType) ArrayElem() Field {
	if h.Kind != HeapArray || len(h.Fields) == 0 {
		return Field{}
	}
	return h.Fields[0]
}

// Type is a Wasm value type: either a plain numeric type or a reference
// type with a heap type and nullability.
type Type struct {
	Val        ValType
	Heap       *HeapType
	Nullable   bool
}

// I32, I64, F32, F64, None and Unreachable are the non-reference types.
var (
	I32         = Type{Val: ValI32}
	I64         = Type{Val: ValI64}
	F32         = Type{Val: ValF32}
	F64         = Type{Val: ValF64}
	NoneType    = Type{Val: ValNone}
	Unreachable = Type{Val: ValUnreachable}
)

// Ref builds a (possibly nullable) reference type over a heap type.
func Ref(h *HeapType, nullable bool) Type {
	return Type{Val: ValRef, Heap: h, Nullable: nullable}
}

// IsRef reports whether t is a reference type.
func (t Type) IsRef() bool {
	return t.Val == ValRef
}

// AsNullable returns t widened to its nullable variant. Non-reference
// types are returned unchanged.
func (t Type) AsNullable() Type {
	if !t.IsRef() {
		return t
	}
	t.Nullable = true
	return t
}

// AsNonNull returns t narrowed to its non-nullable variant. Non-reference
// types are returned unchanged.
func (t Type) AsNonNull() Type {
	if !t.IsRef() {
		return t
	}
	t.Nullable = false
	return t
}

func (t Type) String() string {
	if !t.IsRef() {
		return t.Val.String()
	}
	name := "?"
	if t.Heap != nil {
		name = t.Heap.Name
	}
	if t.Nullable {
		return "(ref null " + name + ")"
	}
	return "(ref " + name + ")"
}

// Equal reports whether t and other name the same value type.
func (t Type) Equal(other Type) bool {
	if t.Val != other.Val {
		return false
	}
	if !t.IsRef() {
		return true
	}
	return t.Heap == other.Heap && t.Nullable == other.Nullable
}

// Signature is a function or callee (params -> results) type.
type Signature struct {
	Params  []Type
	Results []Type
}

func (s Signature) String() string {
	return fmt.Sprintf("%v -> %v", s.Params, s.Results)
}
