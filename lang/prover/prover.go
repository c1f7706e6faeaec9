// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package prover performs the safety prover's AST-level pass: abstract
// interpretation over interval lattices with disjunctive refinement for
// `or`, nil/initialization/unused-variable tracking, function contracts
// memoized across a compile, and the `compiles{}` probe. Its bytecode-level
// counterpart, Verify, runs later and independently, after
// lang/emit has produced a Program.
package prover

import (
	"fmt"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/token"
)

// Finding is one safety-prover diagnostic. Severity "error" means the
// function is rejected (an unused variable is one such error); "warning" is
// advisory (imprecise index/divisor/overflow ranges, imprecise
// exhaustiveness).
type Finding struct {
	Pos      token.Position
	Severity string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", f.Pos.File, f.Pos.Line, f.Pos.Column, f.Severity, f.Message)
}

// Prover holds state threaded across a whole program's worth of functions:
// the memoized per-callee Contract cache and the findings accumulated so
// far.
type Prover struct {
	contracts *contractCache
	findings  []Finding

	// curFn is the function currently under evaluation, consulted by
	// TryExpr to check the enclosing function's return type.
	curFn *ast.FnDecl
}

// New creates a Prover with a fresh contract cache.
func New() *Prover {
	return &Prover{contracts: newContractCache()}
}

// Prove runs the AST-level safety pass over every function, object method,
// and impl method in prog and returns every Finding produced. It never
// mutates prog.
func Prove(prog *ast.Program) []Finding {
	p := New()
	for _, decl := range prog.Declarations {
		switch d := decl.(type) {
		case *ast.FnDecl:
			p.checkFunction(d.Name, d)
		case *ast.ObjectDecl:
			for _, m := range d.Methods {
				p.checkFunction(d.Name+"::"+m.Name, m)
			}
			if d.Destructor != nil {
				p.checkFunction(d.Name+"::drop", d.Destructor)
			}
		case *ast.ImplDecl:
			for _, m := range d.Methods {
				p.checkFunction(d.TypeName+"::"+m.Name, m)
			}
		case *ast.GlobalDecl:
			p.checkGlobal(d)
		}
	}
	return p.findings
}

// checkGlobal evaluates a top-level binding's initializer expression with an
// empty Env, so the same interval/division/index/overflow checks that guard
// function bodies also guard global initializers.
func (p *Prover) checkGlobal(d *ast.GlobalDecl) {
	if d.Value == nil {
		return
	}
	p.evalExpr(make(Env), d.Value)
}

func (p *Prover) report(pos token.Position, severity, format string, args ...interface{}) {
	p.findings = append(p.findings, Finding{Pos: pos, Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// checkFunction builds the entry Env from fn's parameters, walks its body,
// flags any parameter or local that was never Used (other than a
// destructor's self receiver), and memoizes the resulting Contract under
// name for later callers.
func (p *Prover) checkFunction(name string, fn *ast.FnDecl) *Contract {
	if ct, ok := p.contracts.get(name); ok {
		return ct
	}

	outerFn := p.curFn
	p.curFn = fn
	defer func() { p.curFn = outerFn }()

	env := make(Env, len(fn.Params))
	pre := make([]*Info, len(fn.Params))
	for i, param := range fn.Params {
		info := paramInfo(param.Type)
		env[param.Name] = info
		pre[i] = info.clone()
	}

	result, finalEnv := p.evalBlock(env, fn.Body)

	// A destructor's self receiver has a destructor-bearing type, which
	// exempts it from the unused-variable check. Every other binding is
	// checked whatever its type.
	isDestructor := len(name) > len("::drop") && name[len(name)-len("::drop"):] == "::drop"
	for varName, info := range finalEnv {
		if !info.Used && varName != "_" && !(isDestructor && varName == "self") {
			p.report(fn.Body.Token.Pos, "error", "variable %q declared but never used", varName)
		}
	}

	ct := &Contract{Pre: pre, Post: result}
	p.contracts.put(name, ct)
	return ct
}

// paramInfo derives the entry-point abstract value for a parameter from its
// declared type: options may be nil, every other type is assumed non-nil on
// entry (Etch has no null references outside option[T]).
func paramInfo(t ast.TypeExpr) *Info {
	info := topInfo()
	if t == nil {
		// Untyped parameters are only the bare `self` receiver, which is
		// always a live reference to the method's own object.
		info.NonNil = true
		return info
	}
	switch tt := t.(type) {
	case *ast.OptionType:
		info.NonNil = false
	case *ast.NamedType:
		info.NonNil = true
		info.IsBool = tt.Name == "bool"
	default:
		info.NonNil = true
	}
	return info
}

// evalBlock threads env through a block's statements in order and, if
// present, evaluates the tail expression for the block's result Info.
func (p *Prover) evalBlock(env Env, block *ast.BlockExpr) (*Info, Env) {
	cur := env
	for _, stmt := range block.Statements {
		cur = p.evalStmt(cur, stmt)
	}
	if block.Tail != nil {
		info, next := p.evalExpr(cur, block.Tail)
		return info, next
	}
	return topInfo(), cur
}

func (p *Prover) evalStmt(env Env, stmt ast.Statement) Env {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		var info *Info
		cur := env
		if s.Value != nil {
			info, cur = p.evalExpr(env, s.Value)
			info = info.clone()
			info.Initialized = true
		} else {
			info = topInfo()
			info.Initialized = false
		}
		info.Used = false
		cur = cur.copyEnv()
		cur[s.Name.Value] = info
		return cur

	case *ast.AssignStmt:
		_, cur := p.evalExpr(env, s.Value)
		if id, ok := s.Target.(*ast.Ident); ok {
			cur = cur.copyEnv()
			if existing, found := cur[id.Value]; found {
				updated := existing.clone()
				updated.Initialized = true
				cur[id.Value] = updated
			}
		}
		return cur

	case *ast.ReturnStmt:
		if s.Value != nil {
			_, cur := p.evalExpr(env, s.Value)
			return cur
		}
		return env

	case *ast.ExprStmt:
		_, cur := p.evalExpr(env, s.Expression)
		return cur

	case *ast.ForStmt:
		_, iterEnv := p.evalExpr(env, s.Iterable)
		bodyEnv := iterEnv.copyEnv()
		bodyEnv[s.Binding.Value] = topInfo()
		_, after := p.evalBlock(bodyEnv, s.Body)
		return joinEnv(iterEnv, after)

	case *ast.WhileStmt:
		condTrue := applyConstraints(env, s.Condition, true)
		_, after := p.evalBlock(condTrue, s.Body)
		condFalse := applyConstraints(env, s.Condition, false)
		return joinEnv(condFalse, after)

	case *ast.BreakStmt, *ast.ContinueStmt, *ast.DeferStmt:
		return env

	default:
		return env
	}
}
