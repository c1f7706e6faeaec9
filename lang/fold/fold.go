// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package fold is the compile-time folder: it reduces the AST so the prover
// sees concrete constants wherever possible, and it executes `comptime { }`
// blocks, surfacing every `inject("name", "type", value)` call observed as
// an Injected binding. Package abi's compile pipeline (parse, prove, emit,
// verify) does not call Fold. Fold never rejects a program outright — a compile-time
// failure downgrades to a Finding and folding continues on a best-effort
// basis, leaving later passes to surface any error it could not resolve.
package fold

import (
	"fmt"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/token"
)

// Finding is one compile-time-folder diagnostic: always advisory, since the
// folder itself never aborts compilation (spec: "any compile-time VM
// failure is downgraded to a diagnostic").
type Finding struct {
	Pos     token.Position
	Message string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d:%d: %s", f.Pos.File, f.Pos.Line, f.Pos.Column, f.Message)
}

// Injected is one `inject("name", "type", value)` call observed while
// executing a comptime block, captured as the terminal value reachable
// under that name. Injected values are returned as a side table rather
// than spliced back into prog.Declarations (for example as ast.GlobalDecl
// nodes); see DESIGN.md for this Open Question's resolution.
type Injected struct {
	Name     string
	TypeName string
	Value    Value
}

// Fold walks every function body in prog (free functions, object methods,
// object destructors, impl methods) folding literal operators in place,
// then evaluates every top-level comptime block, returning whatever it
// injected and any diagnostics raised along the way.
func Fold(prog *ast.Program) ([]Injected, []Finding) {
	var findings []Finding
	var injected []Injected

	for _, decl := range prog.Declarations {
		switch d := decl.(type) {
		case *ast.FnDecl:
			foldBlock(d.Body)
		case *ast.ObjectDecl:
			for _, m := range d.Methods {
				foldBlock(m.Body)
			}
			if d.Destructor != nil {
				foldBlock(d.Destructor.Body)
			}
		case *ast.ImplDecl:
			for _, m := range d.Methods {
				foldBlock(m.Body)
			}
		case *ast.ComptimeDecl:
			inj, errs := evaluateComptime(d.Body)
			injected = append(injected, inj...)
			for _, err := range errs {
				findings = append(findings, Finding{Pos: d.Token.Pos, Message: err.Error()})
			}
		}
	}

	return injected, findings
}
