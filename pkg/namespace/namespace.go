// Package namespace builds the name registry the linker resolves against:
// every field and function declared by a parsed program, keyed by name,
// with enough parameter metadata to drive call-site binding.
//
// Grounded on the teacher's compiler symbol table (kristofer/smog,
// pkg/compiler/compiler.go: Compiler.symbols maps a declared name to a
// slot before any code referencing it is compiled) generalised from "one
// flat map of locals" to "one registry of top-level fields and functions,
// built in a pass over the whole program before the function bodies are
// linked" -- the two-pass shape spec.md's linker section calls for so
// forward references (a function calling one declared later in the file)
// resolve correctly.
package namespace

import (
	"fmt"

	"github.com/buildgraph/don/pkg/ast"
)

// ParamInfo mirrors ast.Param plus its resolved position, used by the
// linker's call-site binding algorithm.
type ParamInfo struct {
	Name     string
	Default  ast.Expression
	IsVararg bool
	Index    int
}

// FunctionInfo describes one declared function/target.
type FunctionInfo struct {
	Name     string
	Params   []ParamInfo
	VarargAt int // index into Params, or -1
	Decl     *ast.FunctionDecl
}

// FieldInfo describes one declared global field.
type FieldInfo struct {
	Name  string
	Index int
	Decl  *ast.FieldDecl
}

// Namespace is the resolved registry for a single parsed program.
type Namespace struct {
	Functions map[string]*FunctionInfo
	Fields    map[string]*FieldInfo
	// FieldOrder preserves declaration order so the synthetic init
	// function runs initialisers in source order.
	FieldOrder []string
}

// Build scans prog's top-level declarations and produces a Namespace.
// Duplicate declarations are reported but do not stop the scan, matching
// the parser's "collect every diagnostic" policy.
func Build(prog *ast.Program) (*Namespace, []string) {
	ns := &Namespace{
		Functions: make(map[string]*FunctionInfo),
		Fields:    make(map[string]*FieldInfo),
	}
	var errs []string

	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *ast.FieldDecl:
			if _, exists := ns.Fields[d.Name]; exists {
				errs = append(errs, fmt.Sprintf("line %d: field %q redeclared", d.Line, d.Name))
				continue
			}
			ns.Fields[d.Name] = &FieldInfo{Name: d.Name, Index: len(ns.FieldOrder), Decl: d}
			ns.FieldOrder = append(ns.FieldOrder, d.Name)

		case *ast.FunctionDecl:
			if _, exists := ns.Functions[d.Name]; exists {
				errs = append(errs, fmt.Sprintf("line %d: function %q redeclared", d.Line, d.Name))
				continue
			}
			info := &FunctionInfo{Name: d.Name, VarargAt: -1, Decl: d}
			for i, p := range d.Params {
				info.Params = append(info.Params, ParamInfo{
					Name:     p.Name,
					Default:  p.Default,
					IsVararg: p.IsVararg,
					Index:    i,
				})
				if p.IsVararg {
					info.VarargAt = i
				}
			}
			ns.Functions[d.Name] = info

		default:
			errs = append(errs, fmt.Sprintf("unexpected top-level declaration %T", decl))
		}
	}

	return ns, errs
}

// Lookup resolves a call-site function reference. namespace is the
// explicit qualifier a call used (`ns.name(...)`), empty when unqualified.
//
// This single-file implementation never produces more than one namespace,
// so an explicit qualifier other than "" always fails to resolve; the
// branch exists for fidelity with spec.md's "resolve by explicit
// namespace first" algorithm and is exercised directly by a namespace
// test that calls Lookup with a qualifier. See DESIGN.md.
func (ns *Namespace) Lookup(qualifier, name string) (*FunctionInfo, bool) {
	if qualifier != "" {
		return nil, false
	}
	fn, ok := ns.Functions[name]
	return fn, ok
}
