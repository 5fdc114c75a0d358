// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package fixture loads a small YAML/JSON description of a Wasm GC/EH
// module into internal/ir types, standing in for the full binary
// module parser spec.md treats as an external collaborator. It covers
// enough of the instruction set to describe the scenarios this
// repository's tests and CLI examples need, not the full Wasm GC/EH
// grammar.
package fixture

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotandev/wasmgcopt/internal/errors"
	"github.com/dotandev/wasmgcopt/internal/ir"
)

// Module is the on-disk shape of a module fixture.
type Module struct {
	GCVersion string     `yaml:"gcVersion"`
	EHVersion string     `yaml:"ehVersion"`
	Types     []TypeDecl `yaml:"types"`
	Functions []FuncDecl `yaml:"functions"`
}

// TypeDecl declares one struct or array heap type by name.
type TypeDecl struct {
	Name   string      `yaml:"name"`
	Kind   string      `yaml:"kind"` // "struct" or "array"
	Fields []FieldDecl `yaml:"fields"`
	Super  string      `yaml:"super"`
}

// FieldDecl declares one struct field or an array's element type.
type FieldDecl struct {
	Type    string `yaml:"type"`
	Mutable bool   `yaml:"mutable"`
}

// FuncDecl declares one function.
type FuncDecl struct {
	Name     string   `yaml:"name"`
	Params   []string `yaml:"params"`
	Results  []string `yaml:"results"`
	Locals   []string `yaml:"locals"`
	Imported bool     `yaml:"imported"`
	Body     []Node   `yaml:"body"`
}

// Node is one expression in the fixture's s-expression-like encoding:
// Op names the operation, the rest of the fields are interpreted
// according to Op.
type Node struct {
	Op       string `yaml:"op"`
	Local    int    `yaml:"local"`
	Type     string `yaml:"type"`
	Value    int64  `yaml:"value"`
	Heap     string `yaml:"heap"`
	Field    int    `yaml:"field"`
	Index    *int64 `yaml:"index"`
	Size     int64  `yaml:"size"`
	FuncName string `yaml:"func"`
	BinOp    string `yaml:"binop"`
	Nullable bool   `yaml:"nullable"`
	Kids     []Node `yaml:"kids"`
}

// Load reads a YAML (or JSON, which is a YAML subset) module fixture
// from path and builds an *ir.Module from it.
func Load(path string) (*ir.Module, string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", errors.WrapInvalidModule("reading fixture: " + err.Error())
	}
	var fx Module
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, "", "", errors.WrapInvalidModule("parsing fixture: " + err.Error())
	}
	m, err := build(&fx)
	if err != nil {
		return nil, "", "", err
	}
	return m, fx.GCVersion, fx.EHVersion, nil
}

func build(fx *Module) (*ir.Module, error) {
	heaps := make(map[string]*ir.HeapType)
	for _, td := range fx.Types {
		heaps[td.Name] = &ir.HeapType{Name: td.Name}
	}
	for _, td := range fx.Types {
		ht := heaps[td.Name]
		if td.Kind == "array" {
			ht.Kind = ir.HeapArray
		} else {
			ht.Kind = ir.HeapStruct
		}
		for _, f := range td.Fields {
			ht.Fields = append(ht.Fields, ir.Field{Type: parseType(f.Type, heaps), Mutable: f.Mutable})
		}
		if td.Super != "" {
			ht.Super = heaps[td.Super]
		}
	}

	m := &ir.Module{}
	for _, ht := range heaps {
		m.HeapTypes = append(m.HeapTypes, ht)
	}

	for _, fd := range fx.Functions {
		fn := &ir.Function{Name: fd.Name, Imported: fd.Imported}
		for _, p := range fd.Params {
			t := parseType(p, heaps)
			fn.Sig.Params = append(fn.Sig.Params, t)
			fn.Locals = append(fn.Locals, t)
		}
		for _, r := range fd.Results {
			fn.Sig.Results = append(fn.Sig.Results, parseType(r, heaps))
		}
		for _, l := range fd.Locals {
			fn.Locals = append(fn.Locals, parseType(l, heaps))
		}
		m.Functions = append(m.Functions, fn)
	}

	for i, fd := range fx.Functions {
		if fd.Imported {
			continue
		}
		fn := m.Functions[i]
		kids := make([]*ir.Expression, 0, len(fd.Body))
		for _, n := range fd.Body {
			e, err := buildNode(n, heaps)
			if err != nil {
				return nil, err
			}
			kids = append(kids, e)
		}
		fn.Body = &ir.Expression{Kind: ir.KindSequence, Children: kids}
	}

	return m, nil
}

func parseType(s string, heaps map[string]*ir.HeapType) ir.Type {
	switch s {
	case "i32":
		return ir.I32
	case "i64":
		return ir.I64
	case "f32":
		return ir.F32
	case "f64":
		return ir.F64
	case "none":
		return ir.NoneType
	default:
		// "$Name" or "$Name?" (nullable)
		name := s
		nullable := false
		if len(name) > 0 && name[len(name)-1] == '?' {
			nullable = true
			name = name[:len(name)-1]
		}
		return ir.Ref(heaps[name], nullable)
	}
}

func buildNode(n Node, heaps map[string]*ir.HeapType) (*ir.Expression, error) {
	t := parseType(n.Type, heaps)
	var kids []*ir.Expression
	for _, k := range n.Kids {
		ke, err := buildNode(k, heaps)
		if err != nil {
			return nil, err
		}
		kids = append(kids, ke)
	}

	switch n.Op {
	case "const":
		return &ir.Expression{Kind: ir.KindConst, Type: t, ConstValue: n.Value}, nil
	case "local.get":
		return &ir.Expression{Kind: ir.KindLocalGet, LocalIndex: n.Local, Type: t}, nil
	case "local.set":
		return &ir.Expression{Kind: ir.KindLocalSet, LocalIndex: n.Local, Children: kids, Type: ir.NoneType}, nil
	case "local.tee":
		return &ir.Expression{Kind: ir.KindLocalTee, LocalIndex: n.Local, Children: kids, Type: t}, nil
	case "drop":
		return &ir.Expression{Kind: ir.KindDrop, Children: kids, Type: ir.NoneType}, nil
	case "ref.null":
		return &ir.Expression{Kind: ir.KindRefNull, HeapType: heaps[n.Heap], Type: ir.Ref(heaps[n.Heap], true)}, nil
	case "struct.new":
		ht := heaps[n.Heap]
		return &ir.Expression{Kind: ir.KindStructNew, HeapType: ht, Children: kids, Type: ir.Ref(ht, n.Nullable)}, nil
	case "struct.get":
		return &ir.Expression{Kind: ir.KindStructGet, FieldIndex: n.Field, Children: kids, Type: t}, nil
	case "struct.set":
		return &ir.Expression{Kind: ir.KindStructSet, FieldIndex: n.Field, Children: kids, Type: ir.NoneType}, nil
	case "array.new_fixed":
		ht := heaps[n.Heap]
		return &ir.Expression{Kind: ir.KindArrayNewFixed, HeapType: ht, ArraySize: n.Size, Children: kids, Type: ir.Ref(ht, n.Nullable)}, nil
	case "array.new":
		ht := heaps[n.Heap]
		return &ir.Expression{Kind: ir.KindArrayNew, HeapType: ht, ArraySize: n.Size, Children: kids, Type: ir.Ref(ht, n.Nullable)}, nil
	case "array.get":
		return &ir.Expression{Kind: ir.KindArrayGet, Index: n.Index, Children: kids, Type: t}, nil
	case "array.set":
		return &ir.Expression{Kind: ir.KindArraySet, Index: n.Index, Children: kids, Type: ir.NoneType}, nil
	case "binary":
		return &ir.Expression{Kind: ir.KindBinary, BinOp: n.BinOp, Children: kids, Type: t}, nil
	case "call":
		return &ir.Expression{Kind: ir.KindCall, FuncName: n.FuncName, Children: kids, Type: t}, nil
	case "unreachable":
		return &ir.Expression{Kind: ir.KindUnreachable, Type: ir.Unreachable}, nil
	case "sequence":
		return &ir.Expression{Kind: ir.KindSequence, Children: kids, Type: t}, nil
	default:
		return nil, errors.WrapUnsupportedOpcode(n.Op)
	}
}
