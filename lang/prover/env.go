// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package prover

import "github.com/etch-lang/etch/lang/ast"

// Env maps a live variable name to its current abstract Info. Every Info in
// an Env obeys Min <= Max, and when Intervals is non-empty its endpoints
// equal Min and Max.
type Env map[string]*Info

// copyEnv produces an independent copy so that branching control flow can
// refine each successor without one mutating the other.
func (e Env) copyEnv() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v.clone()
	}
	return out
}

// joinEnv merges two successor environments at a control-flow merge point.
// A binding missing from either side (introduced only inside one branch,
// e.g. a shadowed let) is dropped: it does not survive past the branch.
func joinEnv(a, b Env) Env {
	out := make(Env, len(a))
	for k, av := range a {
		if bv, ok := b[k]; ok {
			out[k] = union(av, bv)
		}
	}
	return out
}

// applyConstraints refines env along one branch of a condition: truthy
// selects the "cond is true" successor, false the "cond is false" one.
// Only comparisons of an identifier against an integer literal and
// nil-checks are refined;
// anything else leaves env unchanged, which is always sound (just less
// precise).
func applyConstraints(env Env, cond ast.Expression, truthy bool) Env {
	out := env.copyEnv()

	infix, ok := cond.(*ast.InfixExpr)
	if !ok {
		return out
	}

	switch infix.Operator {
	case "&&", "and":
		if truthy {
			out = applyConstraints(applyConstraints(out, infix.Left, true), infix.Right, true)
		}
		return out
	case "||", "or":
		if !truthy {
			out = applyConstraints(applyConstraints(out, infix.Left, false), infix.Right, false)
			return out
		}
		leftTrue := applyConstraints(env, infix.Left, true)
		rightTrue := applyConstraints(env, infix.Right, true)
		return joinDisjunctive(leftTrue, rightTrue, env)
	}

	if name, isEq := nilComparisonTarget(infix); name != "" {
		if info, ok := out[name]; ok {
			refined := info.clone()
			// "x == nil" true means x may be nil; "x != nil" true means
			// x is definitely non-nil. Negate for the false successor.
			nonNilHere := !isEq
			if !truthy {
				nonNilHere = !nonNilHere
			}
			if nonNilHere {
				refined.NonNil = true
			}
			out[name] = refined
		}
		return out
	}

	name, lit, swapped := splitComparison(infix)
	if name == "" {
		return out
	}
	info, ok := out[name]
	if !ok {
		return out
	}

	op := infix.Operator
	if swapped {
		op = flipComparison(op)
	}
	if !truthy {
		op = negateComparison(op)
	}

	refined := refineComparison(info, op, lit)
	out[name] = refined
	return out
}

// nilComparisonTarget recognizes "ident == nil" / "ident != nil" (in either
// operand order) and reports the identifier name and whether the operator
// was equality (as opposed to inequality).
func nilComparisonTarget(infix *ast.InfixExpr) (name string, isEq bool) {
	if infix.Operator != "==" && infix.Operator != "!=" {
		return "", false
	}
	isEq = infix.Operator == "=="
	if id, ok := infix.Left.(*ast.Ident); ok {
		if _, ok := infix.Right.(*ast.NilLiteral); ok {
			return id.Value, isEq
		}
	}
	if id, ok := infix.Right.(*ast.Ident); ok {
		if _, ok := infix.Left.(*ast.NilLiteral); ok {
			return id.Value, isEq
		}
	}
	return "", false
}

// joinDisjunctive merges two single-branch refinements of an `or` by
// interval-union rather than widening, preserving the precision of each
// disjunct; bindings absent from the base env are left untouched.
func joinDisjunctive(a, b, base Env) Env {
	out := base.copyEnv()
	for k := range out {
		av, aok := a[k]
		bv, bok := b[k]
		switch {
		case aok && bok:
			out[k] = unionDisjunctive(av, bv)
		case aok:
			out[k] = av
		case bok:
			out[k] = bv
		}
	}
	return out
}

// splitComparison recognizes "ident OP literal" or "literal OP ident" and
// returns the identifier name, the literal's integer value, and whether the
// operands were swapped (literal first).
func splitComparison(infix *ast.InfixExpr) (name string, lit int64, swapped bool) {
	if id, ok := infix.Left.(*ast.Ident); ok {
		if v, ok := literalValue(infix.Right); ok {
			return id.Value, v, false
		}
	}
	if id, ok := infix.Right.(*ast.Ident); ok {
		if v, ok := literalValue(infix.Left); ok {
			return id.Value, v, true
		}
	}
	return "", 0, false
}

func literalValue(e ast.Expression) (int64, bool) {
	if lit, ok := e.(*ast.IntLiteral); ok {
		return lit.Value, true
	}
	return 0, false
}

func flipComparison(op string) string {
	switch op {
	case "<":
		return ">"
	case ">":
		return "<"
	case "<=":
		return ">="
	case ">=":
		return "<="
	}
	return op
}

func negateComparison(op string) string {
	switch op {
	case "==":
		return "!="
	case "!=":
		return "=="
	case "<":
		return ">="
	case ">=":
		return "<"
	case ">":
		return "<="
	case "<=":
		return ">"
	}
	return op
}

// refineComparison narrows info's bounds given "info OP lit" holds.
func refineComparison(info *Info, op string, lit int64) *Info {
	out := info.clone()
	lo, hi := out.bounds()

	switch op {
	case "==":
		out.Known = true
		out.CVal = lit
		lo, hi = lit, lit
	case "!=":
		if lit == 0 {
			out.NonZero = true
		}
		return out
	case "<":
		hi = min64(hi, lit-1)
	case "<=":
		hi = min64(hi, lit)
	case ">":
		lo = max64(lo, lit+1)
	case ">=":
		lo = max64(lo, lit)
	default:
		return out
	}

	out.Min, out.Max = lo, hi
	out.Intervals = nil
	if lo > 0 || hi < 0 {
		out.NonZero = true
	}
	return out
}
