// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package emit

import "github.com/etch-lang/etch/lang/ast"
import "github.com/etch-lang/etch/lang/vm"

// emitExpr compiles expr and returns the register holding its value.
func (e *Emitter) emitExpr(expr ast.Expression) uint8 {
	switch ex := expr.(type) {
	case *ast.IntLiteral:
		r := e.alloc()
		e.emitWide(vm.OpLoadConst, r, e.internConst(vm.IntValue(ex.Value)))
		return r
	case *ast.FloatLiteral:
		r := e.alloc()
		e.emitWide(vm.OpLoadConst, r, e.internConst(vm.FloatValue(ex.Value)))
		return r
	case *ast.CharLiteral:
		r := e.alloc()
		e.emitWide(vm.OpLoadConst, r, e.internConst(vm.CharValue(ex.Value)))
		return r
	case *ast.BoolLiteral:
		r := e.alloc()
		if ex.Value {
			e.emitOp(vm.OpLoadTrue, r, 0, 0)
		} else {
			e.emitOp(vm.OpLoadFalse, r, 0, 0)
		}
		return r
	case *ast.NilLiteral, *ast.VoidLiteral:
		r := e.alloc()
		e.emitOp(vm.OpLoadNil, r, 0, 0)
		return r
	case *ast.StringLiteral:
		r := e.alloc()
		e.emitWide(vm.OpLoadStr, r, e.internString(ex.Value))
		return r
	case *ast.Ident:
		return e.emitIdentRead(ex)
	case *ast.PrefixExpr:
		return e.emitPrefix(ex)
	case *ast.InfixExpr:
		return e.emitInfix(ex)
	case *ast.IndexExpr:
		arrReg := e.emitExpr(ex.Left)
		idxReg := e.emitExpr(ex.Index)
		r := e.alloc()
		e.emitOp(vm.OpArrayGet, r, arrReg, idxReg)
		return r
	case *ast.FieldExpr:
		objReg := e.emitExpr(ex.Object)
		idx, ok := e.fieldIndex(ex.Object, ex.Field)
		if !ok {
			e.fail("emit: cannot statically resolve field %q", ex.Field)
			return e.alloc()
		}
		r := e.alloc()
		e.emitOp(vm.OpFieldGet, r, objReg, uint8(idx))
		return r
	case *ast.CallExpr:
		return e.emitCall(ex)
	case *ast.MethodCallExpr:
		return e.emitMethodCall(ex)
	case *ast.BlockExpr:
		return e.emitBlock(ex)
	case *ast.IfExpr:
		return e.emitIf(ex)
	case *ast.MatchExpr:
		return e.emitMatch(ex)
	case *ast.ArrayExpr:
		return e.emitArray(ex)
	case *ast.TupleExpr:
		return e.emitArray(&ast.ArrayExpr{Token: ex.Token, Elements: ex.Elements})
	case *ast.ObjectLiteral:
		return e.emitObjectLiteral(ex)
	case *ast.SomeExpr:
		inner := e.emitExpr(ex.Value)
		r := e.alloc()
		e.emitOp(vm.OpMakeSome, r, inner, 0)
		return r
	case *ast.NoneExpr:
		r := e.alloc()
		e.emitOp(vm.OpLoadNil, r, 0, 0)
		return r
	case *ast.OkExpr:
		inner := e.emitExpr(ex.Value)
		r := e.alloc()
		e.emitOp(vm.OpMakeOk, r, inner, 0)
		return r
	case *ast.ErrExpr:
		inner := e.emitExpr(ex.Value)
		r := e.alloc()
		e.emitOp(vm.OpMakeErr, r, inner, 0)
		return r
	case *ast.TryExpr:
		return e.emitTry(ex)
	case *ast.SpawnExpr:
		return e.emitSpawn(ex)
	case *ast.YieldExpr:
		return e.emitYield(ex)
	case *ast.ResumeExpr:
		return e.emitResume(ex)
	case *ast.RangeExpr:
		// A bare range outside a for-loop binding has no runtime
		// representation yet; only for-in consumes RangeExpr directly.
		e.fail("emit: range expression used outside a for-loop")
		return e.alloc()
	case *ast.CompilesExpr:
		// compiles{} is resolved entirely at the type-checking stage
		// (lang/prover); by the time code reaches emit it has already been
		// replaced with its compile-time true/false literal.
		r := e.alloc()
		e.emitOp(vm.OpLoadTrue, r, 0, 0)
		return r
	default:
		e.fail("emit: unsupported expression %T", expr)
		return e.alloc()
	}
}

func (e *Emitter) emitIdentRead(id *ast.Ident) uint8 {
	b, ok := e.lookup(id.Value)
	if !ok {
		if slot, ok := e.globalIndex[id.Value]; ok {
			r := e.alloc()
			e.emitWide(vm.OpLoadGlobal, r, uint16(slot))
			return r
		}
		e.fail("emit: reference to undeclared variable %q", id.Value)
		return e.alloc()
	}
	if !b.isRef {
		return b.reg
	}
	r := e.alloc()
	e.emitOp(vm.OpCopy, r, b.reg, 0)
	return r
}

func (e *Emitter) emitPrefix(px *ast.PrefixExpr) uint8 {
	operand := e.emitExpr(px.Right)
	r := e.alloc()
	switch px.Operator {
	case "-":
		e.emitOp(vm.OpNeg, r, operand, 0)
	case "!":
		e.emitOp(vm.OpEq, r, operand, zeroConstReg(e, false))
	case "~":
		e.emitOp(vm.OpNot, r, operand, 0)
	default:
		e.fail("emit: unsupported prefix operator %q", px.Operator)
	}
	return r
}

// zeroConstReg materializes a boolean-false register for use in !x lowering
// (NOT is bitwise on ints; logical not on a bool compares against false).
func zeroConstReg(e *Emitter, v bool) uint8 {
	r := e.alloc()
	if v {
		e.emitOp(vm.OpLoadTrue, r, 0, 0)
	} else {
		e.emitOp(vm.OpLoadFalse, r, 0, 0)
	}
	return r
}

func (e *Emitter) emitInfix(ix *ast.InfixExpr) uint8 {
	switch ix.Operator {
	case "&&":
		return e.emitShortCircuit(ix, true)
	case "||":
		return e.emitShortCircuit(ix, false)
	}

	lhs := e.emitExpr(ix.Left)
	rhs := e.emitExpr(ix.Right)
	r := e.alloc()
	isFloat := e.isFloatExpr(ix.Left) || e.isFloatExpr(ix.Right)
	switch ix.Operator {
	case "+":
		if e.isStringExpr(ix.Left) {
			e.emitOp(vm.OpStrConcat, r, lhs, rhs)
		} else if isFloat {
			e.emitOp(vm.OpFAdd, r, lhs, rhs)
		} else {
			e.emitOp(vm.OpAdd, r, lhs, rhs)
		}
	case "-":
		if isFloat {
			e.emitOp(vm.OpFSub, r, lhs, rhs)
		} else {
			e.emitOp(vm.OpSub, r, lhs, rhs)
		}
	case "*":
		if isFloat {
			e.emitOp(vm.OpFMul, r, lhs, rhs)
		} else {
			e.emitOp(vm.OpMul, r, lhs, rhs)
		}
	case "/":
		if isFloat {
			e.emitOp(vm.OpFDiv, r, lhs, rhs)
		} else {
			e.emitOp(vm.OpDiv, r, lhs, rhs)
		}
	case "%":
		e.emitOp(vm.OpMod, r, lhs, rhs)
	case "&":
		e.emitOp(vm.OpAnd, r, lhs, rhs)
	case "|":
		e.emitOp(vm.OpOr, r, lhs, rhs)
	case "^":
		e.emitOp(vm.OpXor, r, lhs, rhs)
	case "<<":
		e.emitOp(vm.OpShl, r, lhs, rhs)
	case ">>":
		e.emitOp(vm.OpShr, r, lhs, rhs)
	case "==":
		e.emitOp(vm.OpEq, r, lhs, rhs)
	case "!=":
		e.emitOp(vm.OpNeq, r, lhs, rhs)
	case "<":
		e.emitOp(vm.OpLt, r, lhs, rhs)
	case "<=":
		e.emitOp(vm.OpLte, r, lhs, rhs)
	case ">":
		e.emitOp(vm.OpGt, r, lhs, rhs)
	case ">=":
		e.emitOp(vm.OpGte, r, lhs, rhs)
	default:
		e.fail("emit: unsupported infix operator %q", ix.Operator)
	}
	return r
}

// isFloatExpr and isStringExpr make a best-effort static guess at operand
// kind from literal shape only, since the emitter does not carry a full type
// checker: a variable never counts as float or string. Arithmetic on a
// wrongly-guessed operand simply falls back to integer ops.
func (e *Emitter) isFloatExpr(expr ast.Expression) bool {
	switch ex := expr.(type) {
	case *ast.FloatLiteral:
		return true
	case *ast.Ident:
		_ = ex
		return false
	}
	return false
}

func (e *Emitter) isStringExpr(expr ast.Expression) bool {
	switch expr.(type) {
	case *ast.StringLiteral:
		return true
	}
	return false
}

// emitShortCircuit lowers && and || without evaluating the right operand
// unless necessary.
func (e *Emitter) emitShortCircuit(ix *ast.InfixExpr, isAnd bool) uint8 {
	result := e.alloc()
	lhs := e.emitExpr(ix.Left)
	e.emitOp(vm.OpMove, result, lhs, 0)

	var skip int
	if isAnd {
		skip = e.emitJump(vm.OpJumpIfNot, result)
	} else {
		skip = e.emitJump(vm.OpJumpIf, result)
	}
	rhs := e.emitExpr(ix.Right)
	e.emitOp(vm.OpMove, result, rhs, 0)
	e.patchJump(skip)
	return result
}

func (e *Emitter) emitArray(arr *ast.ArrayExpr) uint8 {
	n := e.internConst(vm.IntValue(int64(len(arr.Elements))))
	countReg := e.alloc()
	e.emitWide(vm.OpLoadConst, countReg, n)
	r := e.alloc()
	e.emitOp(vm.OpArrayNew, r, countReg, 0)
	for i, el := range arr.Elements {
		valReg := e.emitExpr(el)
		idxConst := e.internConst(vm.IntValue(int64(i)))
		idxReg := e.alloc()
		e.emitWide(vm.OpLoadConst, idxReg, idxConst)
		e.emitOp(vm.OpArraySet, r, idxReg, valReg)
	}
	return r
}

func (e *Emitter) emitObjectLiteral(ol *ast.ObjectLiteral) uint8 {
	typeIdx, ok := e.typeIndex[ol.TypeName]
	if !ok {
		e.fail("emit: unknown object type %q", ol.TypeName)
		return e.alloc()
	}
	r := e.alloc()
	e.emitWide(vm.OpObjectNew, r, uint16(typeIdx))
	fields := e.objFields[ol.TypeName]
	for i, name := range ol.FieldNames {
		idx := indexOf(fields, name)
		if idx < 0 {
			e.fail("emit: type %q has no field %q", ol.TypeName, name)
			continue
		}
		valReg := e.emitExpr(ol.FieldVals[i])
		e.emitOp(vm.OpFieldSet, r, uint8(idx), valReg)
	}
	return r
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func (e *Emitter) emitTry(tx *ast.TryExpr) uint8 {
	val := e.emitExpr(tx.Value)
	okReg := e.alloc()
	e.emitOp(vm.OpIsOk, okReg, val, 0)
	isSomeReg := e.alloc()
	e.emitOp(vm.OpIsSome, isSomeReg, val, 0)
	// A value is "present" for ? purposes if it is Some(..) or Ok(..);
	// OpIsOk is false for option cells, so OR the two probes together.
	presentReg := e.alloc()
	e.emitOp(vm.OpOr, presentReg, okReg, isSomeReg)
	skip := e.emitJump(vm.OpJumpIf, presentReg)
	e.emitOp(vm.OpReturn, val, 0, 0)
	e.patchJump(skip)
	r := e.alloc()
	e.emitOp(vm.OpUnwrap, r, val, 0)
	return r
}

func (e *Emitter) emitSpawn(sx *ast.SpawnExpr) uint8 {
	fn, ok := calleeFuncName(sx.Call.Function)
	if !ok {
		e.fail("emit: spawn target must be a direct function call")
		return e.alloc()
	}
	idx, ok := e.funcIndex[fn]
	if !ok {
		e.fail("emit: spawn of unknown function %q", fn)
		return e.alloc()
	}
	idxReg := e.alloc()
	e.emitWide(vm.OpLoadConst, idxReg, e.internConst(vm.IntValue(int64(idx))))
	r := e.alloc()
	e.emitOp(vm.OpSpawn, r, idxReg, 0)
	return r
}

func (e *Emitter) emitYield(yx *ast.YieldExpr) uint8 {
	var valReg uint8
	if yx.Value != nil {
		valReg = e.emitExpr(yx.Value)
	} else {
		valReg = e.alloc()
		e.emitOp(vm.OpLoadNil, valReg, 0, 0)
	}
	r := e.alloc()
	e.emitOp(vm.OpYield, r, valReg, 0)
	return r
}

func (e *Emitter) emitResume(rx *ast.ResumeExpr) uint8 {
	coReg := e.emitExpr(rx.Co)
	var valReg uint8
	if rx.Value != nil {
		valReg = e.emitExpr(rx.Value)
	} else {
		valReg = e.alloc()
		e.emitOp(vm.OpLoadNil, valReg, 0, 0)
	}
	r := e.alloc()
	e.emitOp(vm.OpResume, r, coReg, valReg)
	return r
}

func calleeFuncName(callee ast.Expression) (string, bool) {
	if id, ok := callee.(*ast.Ident); ok {
		return id.Value, true
	}
	return "", false
}

func (e *Emitter) emitCall(cx *ast.CallExpr) uint8 {
	name, ok := calleeFuncName(cx.Function)
	if !ok {
		e.fail("emit: indirect/extern calls are not yet supported by the emitter")
		return e.alloc()
	}
	idx, ok := e.funcIndex[name]
	if !ok {
		e.fail("emit: call to undeclared function %q", name)
		return e.alloc()
	}
	return e.emitCallByIndex(idx, cx.Arguments)
}

func (e *Emitter) emitMethodCall(mx *ast.MethodCallExpr) uint8 {
	typeName := e.exprObjectType(mx.Receiver)
	if typeName == "" {
		e.fail("emit: cannot statically resolve receiver type for method %q", mx.Method)
		return e.alloc()
	}
	idx, ok := e.funcIndex[typeName+"::"+mx.Method]
	if !ok {
		e.fail("emit: unknown method %s::%s", typeName, mx.Method)
		return e.alloc()
	}
	args := append([]ast.Expression{mx.Receiver}, mx.Arguments...)
	return e.emitCallByIndex(idx, args)
}

// emitCallByIndex implements the emitter's calling convention: arguments are
// copied into a contiguous register run at the caller's current high-water
// mark (stageArgs), CALL_PREP records where that run begins, and the CALL
// that follows gives the callee a register window of its own sized for its
// own locals (see lang/vm.VM.pushCall). Unlike a flat shared register file,
// nothing here needs to save or restore the caller's live registers around
// the call, and a function is free to call itself.
func (e *Emitter) emitCallByIndex(idx int, args []ast.Expression) uint8 {
	argRegs := make([]uint8, len(args))
	for i, a := range args {
		argRegs[i] = e.emitExpr(a)
	}
	e.stageArgs(argRegs)
	result := e.alloc()
	e.emitWide(vm.OpCall, result, uint16(idx))
	return result
}

// stageArgs copies argRegs into a fresh contiguous register run starting at
// the caller's current high-water mark and emits the CALL_PREP that tells
// the CALL or DEFER immediately following it where that run begins.
func (e *Emitter) stageArgs(argRegs []uint8) uint8 {
	argBase := e.nextReg
	for _, r := range argRegs {
		dest := e.alloc()
		if dest != r {
			e.emitOp(vm.OpMove, dest, r, 0)
		}
	}
	e.emitOp(vm.OpCallPrep, argBase, uint8(len(argRegs)), 0)
	return argBase
}

func (e *Emitter) emitMatch(mx *ast.MatchExpr) uint8 {
	subject := e.emitExpr(mx.Subject)
	result := e.alloc()
	var endJumps []int

	for _, arm := range mx.Arms {
		e.pushScope()
		matched, bound := e.emitPatternTest(arm.Pattern, subject)
		if arm.Guard != nil {
			guardVal := e.emitExpr(arm.Guard)
			combined := e.alloc()
			e.emitOp(vm.OpAnd, combined, matched, guardVal)
			matched = combined
		}
		failJump := e.emitJump(vm.OpJumpIfNot, matched)
		if bound != "" {
			e.bind(bound, subject, false, "")
		}
		bodyReg := e.emitExpr(arm.Body)
		e.emitOp(vm.OpMove, result, bodyReg, 0)
		endJumps = append(endJumps, e.emitJump(vm.OpJump, 0))
		e.patchJump(failJump)
		e.popScope()
	}

	for _, j := range endJumps {
		e.patchJump(j)
	}
	return result
}

// emitPatternTest compiles a single match pattern against subject, returning
// a boolean register for whether it matched and, for simple binding
// patterns, the name that should be bound to subject within the arm body.
func (e *Emitter) emitPatternTest(pattern ast.Expression, subject uint8) (uint8, string) {
	switch p := pattern.(type) {
	case *ast.Ident:
		if p.Value == "_" {
			return zeroConstReg(e, true), ""
		}
		return zeroConstReg(e, true), p.Value
	case *ast.IntLiteral, *ast.FloatLiteral, *ast.StringLiteral, *ast.CharLiteral, *ast.BoolLiteral:
		val := e.emitExpr(p)
		r := e.alloc()
		e.emitOp(vm.OpEq, r, subject, val)
		return r, ""
	case *ast.SomeExpr:
		r := e.alloc()
		e.emitOp(vm.OpIsSome, r, subject, 0)
		if name, ok := calleeFuncName(p.Value); ok {
			unwrapped := e.alloc()
			e.emitOp(vm.OpUnwrap, unwrapped, subject, 0)
			e.bind(name, unwrapped, false, "")
		}
		return r, ""
	case *ast.NoneExpr:
		r := e.alloc()
		e.emitOp(vm.OpIsSome, r, subject, 0)
		neg := e.alloc()
		e.emitOp(vm.OpEq, neg, r, zeroConstReg(e, false))
		return neg, ""
	case *ast.OkExpr:
		r := e.alloc()
		e.emitOp(vm.OpIsOk, r, subject, 0)
		if name, ok := calleeFuncName(p.Value); ok {
			unwrapped := e.alloc()
			e.emitOp(vm.OpUnwrap, unwrapped, subject, 0)
			e.bind(name, unwrapped, false, "")
		}
		return r, ""
	case *ast.ErrExpr:
		isOk := e.alloc()
		e.emitOp(vm.OpIsOk, isOk, subject, 0)
		r := e.alloc()
		e.emitOp(vm.OpEq, r, isOk, zeroConstReg(e, false))
		return r, ""
	default:
		e.fail("emit: unsupported match pattern %T", pattern)
		return zeroConstReg(e, false), ""
	}
}
