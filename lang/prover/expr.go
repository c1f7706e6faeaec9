// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package prover

import "github.com/etch-lang/etch/lang/ast"

// evalExpr folds expr through the abstract transfer function, returning its
// resulting Info and the (possibly refined) Env. Any unsafe operation it
// notices along the way — a dereference of a possibly-nil value, a division
// whose divisor may be zero, a use of an uninitialized binding — is
// recorded as a Finding on p, not raised as a Go error: the prover's job is
// to collect every violation in one pass, not to stop at the first.
func (p *Prover) evalExpr(env Env, expr ast.Expression) (*Info, Env) {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		return constInfo(e.Value), env

	case *ast.BoolLiteral:
		return boolInfo(e.Value), env

	case *ast.NilLiteral:
		info := topInfo()
		info.NonNil = false
		return info, env

	case *ast.Ident:
		info, ok := env[e.Value]
		if !ok {
			return topInfo(), env
		}
		if !info.Initialized {
			p.report(e.Token.Pos, "error", "use of %q before it is initialized", e.Value)
		}
		updated := info.clone()
		updated.Used = true
		next := env.copyEnv()
		next[e.Value] = updated
		return updated, next

	case *ast.PrefixExpr:
		info, next := p.evalExpr(env, e.Right)
		if e.Operator == "-" && info.Known {
			return constInfo(-info.CVal), next
		}
		if e.Operator == "!" && info.IsBool && info.Known {
			return boolInfo(info.CVal == 0), next
		}
		return topInfo(), next

	case *ast.InfixExpr:
		return p.evalInfix(env, e)

	case *ast.IndexExpr:
		leftInfo, next := p.evalExpr(env, e.Left)
		indexInfo, next := p.evalExpr(next, e.Index)
		if leftInfo.IsArray && leftInfo.ArraySizeKnown {
			size := leftInfo.ArraySize
			lo, hi := indexInfo.bounds()
			switch {
			case indexInfo.Known && (indexInfo.CVal < 0 || indexInfo.CVal >= size):
				p.report(e.Token.Pos, "error", "index %d is outside [0, %d)", indexInfo.CVal, size)
			case lo < 0 || hi >= size:
				p.report(e.Token.Pos, "warning", "index range [%d, %d] may fall outside [0, %d)", lo, hi, size)
			}
		}
		info := topInfo()
		info.NonNil = true
		return info, next

	case *ast.FieldExpr:
		objInfo, next := p.evalExpr(env, e.Object)
		if !objInfo.NonNil {
			p.report(e.Token.Pos, "error", "field access %q on a possibly-nil value", e.Field)
		}
		info := topInfo()
		info.NonNil = true
		return info, next

	case *ast.CallExpr:
		next := env
		for _, a := range e.Arguments {
			_, next = p.evalExpr(next, a)
		}
		info := topInfo()
		info.NonNil = true
		return info, next

	case *ast.MethodCallExpr:
		objInfo, next := p.evalExpr(env, e.Receiver)
		if !objInfo.NonNil {
			p.report(e.Token.Pos, "error", "method call %q on a possibly-nil value", e.Method)
		}
		for _, a := range e.Arguments {
			_, next = p.evalExpr(next, a)
		}
		info := topInfo()
		info.NonNil = true
		return info, next

	case *ast.BlockExpr:
		info, _ := p.evalBlock(env, e)
		return info, env

	case *ast.IfExpr:
		return p.evalIf(env, e)

	case *ast.MatchExpr:
		return p.evalMatch(env, e)

	case *ast.RangeExpr:
		next := env
		if e.Start != nil {
			_, next = p.evalExpr(next, e.Start)
		}
		if e.End != nil {
			_, next = p.evalExpr(next, e.End)
		}
		return topInfo(), next

	case *ast.TryExpr:
		if p.curFn != nil {
			if _, ok := p.curFn.ReturnType.(*ast.ResultType); !ok {
				p.report(e.Token.Pos, "error", "result-propagation operator \"?\" used in a function whose return type is not result[T,E]")
			}
		}
		return p.evalExpr(env, e.Value)

	case *ast.SomeExpr:
		_, next := p.evalExpr(env, e.Value)
		info := topInfo()
		info.NonNil = true
		return info, next

	case *ast.NoneExpr:
		info := topInfo()
		info.NonNil = false
		return info, env

	case *ast.OkExpr:
		return p.evalExpr(env, e.Value)

	case *ast.ErrExpr:
		return p.evalExpr(env, e.Value)

	case *ast.CompilesExpr:
		ok := p.evalCompiles(env, e.Body)
		return boolInfo(ok), env

	case *ast.ArrayExpr:
		next := env
		for _, el := range e.Elements {
			_, next = p.evalExpr(next, el)
		}
		info := topInfo()
		info.IsArray = true
		info.ArraySizeKnown = true
		info.ArraySize = int64(len(e.Elements))
		return info, next

	case *ast.TupleExpr:
		next := env
		for _, el := range e.Elements {
			_, next = p.evalExpr(next, el)
		}
		return topInfo(), next

	case *ast.ObjectLiteral:
		next := env
		for _, v := range e.FieldVals {
			_, next = p.evalExpr(next, v)
		}
		info := topInfo()
		info.NonNil = true
		return info, next

	default:
		return topInfo(), env
	}
}

func (p *Prover) evalInfix(env Env, e *ast.InfixExpr) (*Info, Env) {
	left, next := p.evalExpr(env, e.Left)
	right, next := p.evalExpr(next, e.Right)

	switch e.Operator {
	case "/", "%":
		lo, hi := right.bounds()
		switch {
		case right.Known && right.CVal == 0:
			p.report(e.Token.Pos, "error", "division by zero: divisor is always 0")
		case !right.NonZero && lo <= 0 && hi >= 0:
			p.report(e.Token.Pos, "warning", "possible division by zero: divisor's range %v includes 0", [2]int64{lo, hi})
		}
		return topInfo(), next

	case "+":
		if left.Known && right.Known {
			if wouldOverflowAdd(left.CVal, right.CVal) {
				p.report(e.Token.Pos, "error", "integer overflow: %d + %d overflows int64", left.CVal, right.CVal)
			}
			return constInfo(saturatingAdd(left.CVal, right.CVal)), next
		}
		lLo, lHi := left.bounds()
		rLo, rHi := right.bounds()
		if wouldOverflowAdd(lHi, rHi) || wouldOverflowAdd(lLo, rLo) {
			p.report(e.Token.Pos, "warning", "possible integer overflow: %v + %v may overflow int64", [2]int64{lLo, lHi}, [2]int64{rLo, rHi})
		}
		return &Info{Min: saturatingAdd(lLo, rLo), Max: saturatingAdd(lHi, rHi), Initialized: true}, next

	case "-":
		if left.Known && right.Known {
			if wouldOverflowSub(left.CVal, right.CVal) {
				p.report(e.Token.Pos, "error", "integer overflow: %d - %d overflows int64", left.CVal, right.CVal)
			}
			return constInfo(saturatingSub(left.CVal, right.CVal)), next
		}
		lLo, lHi := left.bounds()
		rLo, rHi := right.bounds()
		if wouldOverflowSub(lLo, rHi) || wouldOverflowSub(lHi, rLo) {
			p.report(e.Token.Pos, "warning", "possible integer overflow: %v - %v may overflow int64", [2]int64{lLo, lHi}, [2]int64{rLo, rHi})
		}
		return &Info{Min: saturatingSub(lLo, rHi), Max: saturatingSub(lHi, rLo), Initialized: true}, next

	case "*":
		if left.Known && right.Known {
			if wouldOverflowMul(left.CVal, right.CVal) {
				p.report(e.Token.Pos, "error", "integer overflow: %d * %d overflows int64", left.CVal, right.CVal)
			}
			return constInfo(saturatingMul(left.CVal, right.CVal)), next
		}
		lLo, lHi := left.bounds()
		rLo, rHi := right.bounds()
		for _, combo := range [4][2]int64{{lLo, rLo}, {lLo, rHi}, {lHi, rLo}, {lHi, rHi}} {
			if wouldOverflowMul(combo[0], combo[1]) {
				p.report(e.Token.Pos, "warning", "possible integer overflow: %v * %v may overflow int64", [2]int64{lLo, lHi}, [2]int64{rLo, rHi})
				break
			}
		}
		return topInfo(), next

	case "==", "!=", "<", "<=", ">", ">=":
		return boolInfo(false), next

	case "&&", "||":
		return boolInfo(false), next

	default:
		return topInfo(), next
	}
}

func (p *Prover) evalIf(env Env, e *ast.IfExpr) (*Info, Env) {
	_, condEnv := p.evalExpr(env, e.Condition)

	thenEnv := applyConstraints(condEnv, e.Condition, true)
	thenInfo, thenAfter := p.evalExpr(thenEnv, e.Consequence)

	if e.Alternative == nil {
		return thenInfo, joinEnv(condEnv, thenAfter)
	}

	elseEnv := applyConstraints(condEnv, e.Condition, false)
	elseInfo, elseAfter := p.evalExpr(elseEnv, e.Alternative)

	return union(thenInfo, elseInfo), joinEnv(thenAfter, elseAfter)
}

// evalMatch evaluates a match's subject and every arm's body, folding the
// arms' result Infos together, and separately checks exhaustiveness.
func (p *Prover) evalMatch(env Env, e *ast.MatchExpr) (*Info, Env) {
	_, subjEnv := p.evalExpr(env, e.Subject)

	p.checkExhaustiveness(e)

	var result *Info
	armEnv := subjEnv
	for _, arm := range e.Arms {
		armInfo, after := p.evalExpr(subjEnv, arm.Body)
		result = union(result, armInfo)
		armEnv = joinEnv(armEnv, after)
	}
	if result == nil {
		result = topInfo()
	}
	return result, armEnv
}

// checkExhaustiveness flags a match that neither has a catch-all binding
// arm nor visibly covers both sides of an option (Some/None) or result
// (Ok/Err) pattern family.
func (p *Prover) checkExhaustiveness(e *ast.MatchExpr) {
	var hasWildcard, hasSome, hasNone, hasOk, hasErr bool
	for _, arm := range e.Arms {
		switch arm.Pattern.(type) {
		case *ast.Ident:
			hasWildcard = true
		case *ast.SomeExpr:
			hasSome = true
		case *ast.NoneExpr:
			hasNone = true
		case *ast.OkExpr:
			hasOk = true
		case *ast.ErrExpr:
			hasErr = true
		}
	}
	if hasWildcard {
		return
	}

	switch {
	case (hasSome || hasNone) && !(hasSome && hasNone):
		missing := "Some"
		if hasSome {
			missing = "None"
		}
		p.report(e.Token.Pos, "error", "match over an option is not exhaustive: missing %s arm", missing)
	case (hasOk || hasErr) && !(hasOk && hasErr):
		missing := "Ok"
		if hasOk {
			missing = "Err"
		}
		p.report(e.Token.Pos, "error", "match over a result is not exhaustive: missing %s arm", missing)
	case !hasSome && !hasNone && !hasOk && !hasErr:
		p.report(e.Token.Pos, "warning", "match has no wildcard arm; exhaustiveness over its value set could not be confirmed")
	}
}

// evalCompiles runs the transfer function over body in a scratch copy of
// env and reports it as compiling iff no error-severity Finding was
// produced while doing so — the probe's own findings never leak into the
// enclosing function's diagnostics.
func (p *Prover) evalCompiles(env Env, body *ast.BlockExpr) bool {
	scratch := &Prover{contracts: p.contracts}
	scratch.evalBlock(env.copyEnv(), body)
	for _, f := range scratch.findings {
		if f.Severity == "error" {
			return false
		}
	}
	return true
}
