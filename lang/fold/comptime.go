// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package fold

import (
	"fmt"
	"os"

	"github.com/etch-lang/etch/lang/ast"
)

// Value is a comptime-evaluated value: a small tagged union over the
// literal kinds a comptime block can produce or pass to inject().
type Value struct {
	Kind  string // "int", "float", "bool", "string", or "nil"
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

func (v Value) String() string {
	switch v.Kind {
	case "int":
		return fmt.Sprintf("%d", v.Int)
	case "float":
		return fmt.Sprintf("%g", v.Float)
	case "bool":
		return fmt.Sprintf("%t", v.Bool)
	case "string":
		return v.Str
	default:
		return "nil"
	}
}

// evaluateComptime tree-walks body as an isolated program, with its own
// local environment, and returns every binding surfaced by a call to
// inject(name, type, value) along with any evaluation errors encountered.
// It deliberately executes directly over the AST rather than through
// lang/emit+lang/vm: lang/emit has no ExternDecl wiring yet and lang/vm's
// OpCallExtern is fixed at a two-argument calling convention, neither of
// which can host inject's three-argument or readFile's file-system builtin
// today. See DESIGN.md for this simplification's rationale.
func evaluateComptime(body *ast.BlockExpr) ([]Injected, []error) {
	interp := &comptimeInterp{env: ctEnv{}}
	if _, _, err := interp.runBlock(body); err != nil {
		interp.errs = append(interp.errs, err)
	}
	return interp.injected, interp.errs
}

type ctEnv map[string]Value

type comptimeInterp struct {
	env      ctEnv
	injected []Injected
	errs     []error
}

// runBlock executes block's statements in order, returning the tail
// expression's Value (or the Value passed to an early return), whether a
// return was hit, and the first error encountered.
func (it *comptimeInterp) runBlock(block *ast.BlockExpr) (Value, bool, error) {
	if block == nil {
		return Value{Kind: "nil"}, false, nil
	}
	for _, stmt := range block.Statements {
		v, returned, err := it.execStmt(stmt)
		if err != nil {
			return Value{}, false, err
		}
		if returned {
			return v, true, nil
		}
	}
	if block.Tail != nil {
		v, err := it.evalExpr(block.Tail)
		if err != nil {
			return Value{}, false, err
		}
		return v, false, nil
	}
	return Value{Kind: "nil"}, false, nil
}

func (it *comptimeInterp) execStmt(stmt ast.Statement) (Value, bool, error) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		v := Value{Kind: "nil"}
		if s.Value != nil {
			var err error
			v, err = it.evalExpr(s.Value)
			if err != nil {
				return Value{}, false, err
			}
		}
		it.env[s.Name.Value] = v
		return Value{}, false, nil

	case *ast.AssignStmt:
		v, err := it.evalExpr(s.Value)
		if err != nil {
			return Value{}, false, err
		}
		id, ok := s.Target.(*ast.Ident)
		if !ok {
			return Value{}, false, fmt.Errorf("comptime: only simple identifiers can be assigned to")
		}
		it.env[id.Value] = v
		return Value{}, false, nil

	case *ast.ReturnStmt:
		if s.Value == nil {
			return Value{Kind: "nil"}, true, nil
		}
		v, err := it.evalExpr(s.Value)
		return v, true, err

	case *ast.ExprStmt:
		_, err := it.evalExpr(s.Expression)
		return Value{}, false, err

	case *ast.WhileStmt:
		for {
			cond, err := it.evalExpr(s.Condition)
			if err != nil {
				return Value{}, false, err
			}
			if cond.Kind != "bool" {
				return Value{}, false, fmt.Errorf("comptime: while condition must be a bool")
			}
			if !cond.Bool {
				return Value{}, false, nil
			}
			v, returned, err := it.runBlock(s.Body)
			if err != nil {
				return Value{}, false, err
			}
			if returned {
				return v, true, nil
			}
		}

	case *ast.ForStmt:
		rng, ok := s.Iterable.(*ast.RangeExpr)
		if !ok {
			return Value{}, false, fmt.Errorf("comptime: for-loops may only iterate over a range")
		}
		var lo, hi int64
		if rng.Start != nil {
			sv, err := it.evalExpr(rng.Start)
			if err != nil {
				return Value{}, false, err
			}
			lo = sv.Int
		}
		if rng.End != nil {
			ev, err := it.evalExpr(rng.End)
			if err != nil {
				return Value{}, false, err
			}
			hi = ev.Int
		}
		for i := lo; i < hi; i++ {
			it.env[s.Binding.Value] = Value{Kind: "int", Int: i}
			v, returned, err := it.runBlock(s.Body)
			if err != nil {
				return Value{}, false, err
			}
			if returned {
				return v, true, nil
			}
		}
		return Value{}, false, nil

	case *ast.DeferStmt:
		_, err := it.evalExpr(s.Call)
		return Value{}, false, err

	case *ast.BreakStmt, *ast.ContinueStmt:
		return Value{}, false, fmt.Errorf("comptime: break/continue are not supported inside a comptime block")

	default:
		return Value{}, false, nil
	}
}

func (it *comptimeInterp) evalExpr(expr ast.Expression) (Value, error) {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		return Value{Kind: "int", Int: e.Value}, nil

	case *ast.FloatLiteral:
		return Value{Kind: "float", Float: e.Value}, nil

	case *ast.BoolLiteral:
		return Value{Kind: "bool", Bool: e.Value}, nil

	case *ast.StringLiteral:
		return Value{Kind: "string", Str: e.Value}, nil

	case *ast.NilLiteral:
		return Value{Kind: "nil"}, nil

	case *ast.Ident:
		v, ok := it.env[e.Value]
		if !ok {
			return Value{}, fmt.Errorf("comptime: undefined identifier %q", e.Value)
		}
		return v, nil

	case *ast.PrefixExpr:
		rv, err := it.evalExpr(e.Right)
		if err != nil {
			return Value{}, err
		}
		switch e.Operator {
		case "-":
			if rv.Kind == "int" {
				return Value{Kind: "int", Int: -rv.Int}, nil
			}
			if rv.Kind == "float" {
				return Value{Kind: "float", Float: -rv.Float}, nil
			}
		case "!":
			if rv.Kind == "bool" {
				return Value{Kind: "bool", Bool: !rv.Bool}, nil
			}
		}
		return Value{}, fmt.Errorf("comptime: operator %q not defined for a %s", e.Operator, rv.Kind)

	case *ast.InfixExpr:
		return it.evalInfix(e)

	case *ast.IfExpr:
		cond, err := it.evalExpr(e.Condition)
		if err != nil {
			return Value{}, err
		}
		if cond.Kind != "bool" {
			return Value{}, fmt.Errorf("comptime: if condition must be a bool")
		}
		if cond.Bool {
			v, _, err := it.runBlock(e.Consequence)
			return v, err
		}
		if e.Alternative != nil {
			return it.evalExpr(e.Alternative)
		}
		return Value{Kind: "nil"}, nil

	case *ast.BlockExpr:
		v, _, err := it.runBlock(e)
		return v, err

	case *ast.CallExpr:
		return it.evalCall(e)

	default:
		return Value{}, fmt.Errorf("comptime: unsupported expression in a comptime block")
	}
}

func (it *comptimeInterp) evalInfix(e *ast.InfixExpr) (Value, error) {
	l, err := it.evalExpr(e.Left)
	if err != nil {
		return Value{}, err
	}
	r, err := it.evalExpr(e.Right)
	if err != nil {
		return Value{}, err
	}

	switch {
	case l.Kind == "int" && r.Kind == "int":
		return it.evalIntInfix(e.Operator, l.Int, r.Int)
	case l.Kind == "float" && r.Kind == "float":
		return it.evalFloatInfix(e.Operator, l.Float, r.Float)
	case l.Kind == "bool" && r.Kind == "bool":
		return it.evalBoolInfix(e.Operator, l.Bool, r.Bool)
	case l.Kind == "string" && r.Kind == "string":
		return it.evalStringInfix(e.Operator, l.Str, r.Str)
	default:
		return Value{}, fmt.Errorf("comptime: operator %q not defined between a %s and a %s", e.Operator, l.Kind, r.Kind)
	}
}

func (it *comptimeInterp) evalIntInfix(op string, l, r int64) (Value, error) {
	switch op {
	case "+":
		return Value{Kind: "int", Int: l + r}, nil
	case "-":
		return Value{Kind: "int", Int: l - r}, nil
	case "*":
		return Value{Kind: "int", Int: l * r}, nil
	case "/":
		if r == 0 {
			return Value{}, fmt.Errorf("comptime: division by zero")
		}
		return Value{Kind: "int", Int: l / r}, nil
	case "%":
		if r == 0 {
			return Value{}, fmt.Errorf("comptime: division by zero")
		}
		return Value{Kind: "int", Int: l % r}, nil
	case "==":
		return Value{Kind: "bool", Bool: l == r}, nil
	case "!=":
		return Value{Kind: "bool", Bool: l != r}, nil
	case "<":
		return Value{Kind: "bool", Bool: l < r}, nil
	case "<=":
		return Value{Kind: "bool", Bool: l <= r}, nil
	case ">":
		return Value{Kind: "bool", Bool: l > r}, nil
	case ">=":
		return Value{Kind: "bool", Bool: l >= r}, nil
	}
	return Value{}, fmt.Errorf("comptime: unsupported integer operator %q", op)
}

func (it *comptimeInterp) evalFloatInfix(op string, l, r float64) (Value, error) {
	switch op {
	case "+":
		return Value{Kind: "float", Float: l + r}, nil
	case "-":
		return Value{Kind: "float", Float: l - r}, nil
	case "*":
		return Value{Kind: "float", Float: l * r}, nil
	case "/":
		if r == 0 {
			return Value{}, fmt.Errorf("comptime: division by zero")
		}
		return Value{Kind: "float", Float: l / r}, nil
	case "==":
		return Value{Kind: "bool", Bool: l == r}, nil
	case "!=":
		return Value{Kind: "bool", Bool: l != r}, nil
	case "<":
		return Value{Kind: "bool", Bool: l < r}, nil
	case "<=":
		return Value{Kind: "bool", Bool: l <= r}, nil
	case ">":
		return Value{Kind: "bool", Bool: l > r}, nil
	case ">=":
		return Value{Kind: "bool", Bool: l >= r}, nil
	}
	return Value{}, fmt.Errorf("comptime: unsupported float operator %q", op)
}

func (it *comptimeInterp) evalBoolInfix(op string, l, r bool) (Value, error) {
	switch op {
	case "&&":
		return Value{Kind: "bool", Bool: l && r}, nil
	case "||":
		return Value{Kind: "bool", Bool: l || r}, nil
	case "==":
		return Value{Kind: "bool", Bool: l == r}, nil
	case "!=":
		return Value{Kind: "bool", Bool: l != r}, nil
	}
	return Value{}, fmt.Errorf("comptime: unsupported bool operator %q", op)
}

func (it *comptimeInterp) evalStringInfix(op string, l, r string) (Value, error) {
	switch op {
	case "+":
		return Value{Kind: "string", Str: l + r}, nil
	case "==":
		return Value{Kind: "bool", Bool: l == r}, nil
	case "!=":
		return Value{Kind: "bool", Bool: l != r}, nil
	}
	return Value{}, fmt.Errorf("comptime: unsupported string operator %q", op)
}

// evalCall dispatches a call expression to one of the two builtins a
// comptime block may invoke: inject, which records a binding that Fold
// returns to its caller as an Injected value, and readFile, which pulls file contents into the
// comptime environment (e.g. to embed a generated table or version string).
// Any other callee is rejected: comptime blocks cannot call ordinary
// functions in this implementation.
func (it *comptimeInterp) evalCall(e *ast.CallExpr) (Value, error) {
	ident, ok := e.Function.(*ast.Ident)
	if !ok {
		return Value{}, fmt.Errorf("comptime: only direct calls to inject/readFile are supported")
	}

	switch ident.Value {
	case "inject":
		if len(e.Arguments) != 3 {
			return Value{}, fmt.Errorf("comptime: inject expects 3 arguments (name, type, value), got %d", len(e.Arguments))
		}
		nameV, err := it.evalExpr(e.Arguments[0])
		if err != nil {
			return Value{}, err
		}
		typeV, err := it.evalExpr(e.Arguments[1])
		if err != nil {
			return Value{}, err
		}
		val, err := it.evalExpr(e.Arguments[2])
		if err != nil {
			return Value{}, err
		}
		if nameV.Kind != "string" || typeV.Kind != "string" {
			return Value{}, fmt.Errorf("comptime: inject's name and type arguments must be strings")
		}
		it.injected = append(it.injected, Injected{Name: nameV.Str, TypeName: typeV.Str, Value: val})
		return Value{Kind: "nil"}, nil

	case "readFile":
		if len(e.Arguments) != 1 {
			return Value{}, fmt.Errorf("comptime: readFile expects 1 argument, got %d", len(e.Arguments))
		}
		pathV, err := it.evalExpr(e.Arguments[0])
		if err != nil {
			return Value{}, err
		}
		if pathV.Kind != "string" {
			return Value{}, fmt.Errorf("comptime: readFile's path argument must be a string")
		}
		data, err := os.ReadFile(pathV.Str)
		if err != nil {
			return Value{}, fmt.Errorf("comptime: readFile(%q): %w", pathV.Str, err)
		}
		return Value{Kind: "string", Str: string(data)}, nil

	default:
		return Value{}, fmt.Errorf("comptime: call to %q is not supported inside a comptime block", ident.Value)
	}
}
