// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package emit

import "github.com/etch-lang/etch/lang/ast"
import "github.com/etch-lang/etch/lang/token"
import "github.com/etch-lang/etch/lang/vm"

// emitBlock compiles a block's statements followed by its optional tail
// expression, returning the register holding the block's value (0 if the
// block is value-less, since register 0 is always the hard-wired zero
// register and can never hold a real binding).
func (e *Emitter) emitBlock(b *ast.BlockExpr) uint8 {
	e.pushScope()
	for _, stmt := range b.Statements {
		e.emitStmt(stmt)
	}
	var result uint8
	if b.Tail != nil {
		result = e.emitExpr(b.Tail)
	}
	e.popScope()
	return result
}

// stmtPos returns the source position a statement's first emitted
// instruction should be attributed to in the line table, so a debugger can
// map a running program counter back to the statement that produced it.
func stmtPos(s ast.Statement) token.Position {
	switch st := s.(type) {
	case *ast.LetStmt:
		return st.Token.Pos
	case *ast.AssignStmt:
		return st.Token.Pos
	case *ast.ReturnStmt:
		return st.Token.Pos
	case *ast.ExprStmt:
		return st.Token.Pos
	case *ast.IfExpr:
		return st.Token.Pos
	case *ast.WhileStmt:
		return st.Token.Pos
	case *ast.ForStmt:
		return st.Token.Pos
	case *ast.BreakStmt:
		return st.Token.Pos
	case *ast.ContinueStmt:
		return st.Token.Pos
	case *ast.DeferStmt:
		return st.Token.Pos
	default:
		return token.Position{}
	}
}

func (e *Emitter) emitStmt(s ast.Statement) {
	e.recordLine(stmtPos(s))
	switch st := s.(type) {
	case *ast.LetStmt:
		e.emitLet(st)
	case *ast.AssignStmt:
		e.emitAssign(st)
	case *ast.ReturnStmt:
		var reg uint8
		if st.Value != nil {
			reg = e.emitExpr(st.Value)
		}
		e.emitOp(vm.OpReturn, reg, 0, 0)
	case *ast.ExprStmt:
		e.emitExpr(st.Expression)
	case *ast.IfExpr:
		e.emitIf(st)
	case *ast.WhileStmt:
		e.emitWhile(st)
	case *ast.ForStmt:
		e.emitFor(st)
	case *ast.BreakStmt:
		if len(e.loops) == 0 {
			e.fail("emit: break outside of a loop")
			return
		}
		lp := e.loops[len(e.loops)-1]
		pos := e.emitJump(vm.OpJump, 0)
		lp.breakPatches = append(lp.breakPatches, pos)
	case *ast.ContinueStmt:
		if len(e.loops) == 0 {
			e.fail("emit: continue outside of a loop")
			return
		}
		lp := e.loops[len(e.loops)-1]
		pos := e.emitJump(vm.OpJump, 0)
		lp.continuePatches = append(lp.continuePatches, pos)
	case *ast.DeferStmt:
		e.emitDefer(st)
	default:
		e.fail("emit: unsupported statement %T", s)
	}
}

// emitDefer stages the deferred call's arguments and emits DEFER, which
// pushes the call onto the current frame's defer stack instead of running it
// immediately; OpReturn runs the stack in reverse declaration order, and an
// unwinding error runs it too (see lang/vm.VM.runDefers/unwindDefers).
func (e *Emitter) emitDefer(st *ast.DeferStmt) {
	cx, ok := st.Call.(*ast.CallExpr)
	if !ok {
		e.fail("emit: defer target must be a direct function call")
		return
	}
	name, ok := calleeFuncName(cx.Function)
	if !ok {
		e.fail("emit: defer target must be a direct function call")
		return
	}
	idx, ok := e.funcIndex[name]
	if !ok {
		e.fail("emit: defer of undeclared function %q", name)
		return
	}
	argRegs := make([]uint8, len(cx.Arguments))
	for i, a := range cx.Arguments {
		argRegs[i] = e.emitExpr(a)
	}
	e.stageArgs(argRegs)
	e.emitWide(vm.OpDefer, 0, uint16(idx))
}

func (e *Emitter) emitLet(st *ast.LetStmt) {
	var reg uint8
	var isRef bool
	var typeName string
	if st.Value != nil {
		reg = e.emitExpr(st.Value)
		isRef = e.exprIsRef(st.Value)
		typeName = e.exprObjectType(st.Value)
	} else {
		reg = e.alloc()
	}
	if st.Type != nil {
		isRef = typeIsRefCounted(st.Type)
		if n, ok := objectTypeName(st.Type); ok {
			typeName = n
		}
	}
	e.bind(st.Name.Value, reg, isRef, typeName)
}

func (e *Emitter) emitAssign(st *ast.AssignStmt) {
	ident, ok := st.Target.(*ast.Ident)
	if !ok {
		// Field/index assignment targets are handled by their own
		// expression forms below.
		e.emitCompoundAssign(st)
		return
	}
	b, ok := e.lookup(ident.Value)
	if !ok {
		e.fail("emit: assignment to undeclared variable %q", ident.Value)
		return
	}
	valueExpr := st.Value
	if st.Operator != "=" {
		valueExpr = &ast.InfixExpr{Left: ident, Operator: arithOpFromAssign(st.Operator), Right: st.Value}
	}
	newReg := e.emitExpr(valueExpr)
	if b.isRef {
		e.emitOp(vm.OpRefDec, b.reg, 0, 0)
	}
	e.emitOp(vm.OpMove, b.reg, newReg, 0)
	b.isRef = e.exprIsRef(valueExpr)
	b.typeName = e.exprObjectType(valueExpr)
}

func arithOpFromAssign(op string) string {
	switch op {
	case "+=":
		return "+"
	case "-=":
		return "-"
	case "*=":
		return "*"
	case "/=":
		return "/"
	case "%=":
		return "%"
	}
	return "+"
}

func (e *Emitter) emitCompoundAssign(st *ast.AssignStmt) {
	switch target := st.Target.(type) {
	case *ast.FieldExpr:
		objReg := e.emitExpr(target.Object)
		idx, ok := e.fieldIndex(target.Object, target.Field)
		if !ok {
			e.fail("emit: cannot resolve field %q for assignment", target.Field)
			return
		}
		valReg := e.emitExpr(st.Value)
		e.emitOp(vm.OpFieldSet, objReg, uint8(idx), valReg)
	case *ast.IndexExpr:
		arrReg := e.emitExpr(target.Left)
		idxReg := e.emitExpr(target.Index)
		valReg := e.emitExpr(st.Value)
		e.emitOp(vm.OpArraySet, arrReg, idxReg, valReg)
	default:
		e.fail("emit: unsupported assignment target %T", st.Target)
	}
}

func (e *Emitter) emitIf(ie *ast.IfExpr) uint8 {
	condReg := e.emitExpr(ie.Condition)
	jumpToElse := e.emitJump(vm.OpJumpIfNot, condReg)

	result := e.alloc()
	thenReg := e.emitBlock(ie.Consequence)
	if thenReg != 0 {
		e.emitOp(vm.OpMove, result, thenReg, 0)
	}
	jumpToEnd := e.emitJump(vm.OpJump, 0)

	e.patchJump(jumpToElse)
	if ie.Alternative != nil {
		switch alt := ie.Alternative.(type) {
		case *ast.BlockExpr:
			elseReg := e.emitBlock(alt)
			if elseReg != 0 {
				e.emitOp(vm.OpMove, result, elseReg, 0)
			}
		case ast.Expression:
			elseReg := e.emitExpr(alt)
			e.emitOp(vm.OpMove, result, elseReg, 0)
		}
	}
	e.patchJump(jumpToEnd)
	return result
}

func (e *Emitter) emitWhile(ws *ast.WhileStmt) {
	top := e.here()
	condReg := e.emitExpr(ws.Condition)
	exitJump := e.emitJump(vm.OpJumpIfNot, condReg)

	lp := &loopCtx{}
	e.loops = append(e.loops, lp)
	e.emitBlock(ws.Body)
	e.loops = e.loops[:len(e.loops)-1]

	// continue jumps straight back to the condition re-check, which is
	// exactly what the unconditional back-jump below does too.
	for _, p := range lp.continuePatches {
		e.patchJumpTo(p, top)
	}
	back := e.emitJump(vm.OpJump, 0)
	e.patchJumpTo(back, top)
	e.patchJump(exitJump)
	for _, p := range lp.breakPatches {
		e.patchJump(p)
	}
}

// emitFor lowers a for-in loop over either a numeric range or an array into
// an index-counted while loop: `let __i = start; while __i < end { let
// binding = ...; body; __i = __i + 1 }`.
func (e *Emitter) emitFor(fs *ast.ForStmt) {
	e.pushScope()
	defer e.popScope()

	switch it := fs.Iterable.(type) {
	case *ast.RangeExpr:
		startReg := e.emitExpr(it.Start)
		idxReg := e.alloc()
		e.emitOp(vm.OpMove, idxReg, startReg, 0)
		endReg := e.emitExpr(it.End)

		top := e.here()
		condReg := e.alloc()
		e.emitOp(vm.OpLt, condReg, idxReg, endReg)
		exitJump := e.emitJump(vm.OpJumpIfNot, condReg)

		e.pushScope()
		e.bind(fs.Binding.Value, idxReg, false, "")
		lp := &loopCtx{}
		e.loops = append(e.loops, lp)
		e.emitBlock(fs.Body)
		e.loops = e.loops[:len(e.loops)-1]
		e.popScope()

		incrAt := e.here()
		for _, p := range lp.continuePatches {
			e.patchJumpTo(p, incrAt)
		}
		one := e.internConst(vm.IntValue(1))
		oneReg := e.alloc()
		e.emitWide(vm.OpLoadConst, oneReg, one)
		e.emitOp(vm.OpAdd, idxReg, idxReg, oneReg)

		back := e.emitJump(vm.OpJump, 0)
		e.patchJumpTo(back, top)
		e.patchJump(exitJump)
		for _, p := range lp.breakPatches {
			e.patchJump(p)
		}

	default:
		arrReg := e.emitExpr(fs.Iterable)
		lenReg := e.alloc()
		e.emitOp(vm.OpArrayLen, lenReg, arrReg, 0)

		idxReg := e.alloc()
		zero := e.internConst(vm.IntValue(0))
		e.emitWide(vm.OpLoadConst, idxReg, zero)

		top := e.here()
		condReg := e.alloc()
		e.emitOp(vm.OpLt, condReg, idxReg, lenReg)
		exitJump := e.emitJump(vm.OpJumpIfNot, condReg)

		e.pushScope()
		elemReg := e.alloc()
		e.emitOp(vm.OpArrayGet, elemReg, arrReg, idxReg)
		e.bind(fs.Binding.Value, elemReg, true, "")
		lp := &loopCtx{}
		e.loops = append(e.loops, lp)
		e.emitBlock(fs.Body)
		e.loops = e.loops[:len(e.loops)-1]
		e.popScope()

		incrAt := e.here()
		for _, p := range lp.continuePatches {
			e.patchJumpTo(p, incrAt)
		}
		one := e.internConst(vm.IntValue(1))
		oneReg := e.alloc()
		e.emitWide(vm.OpLoadConst, oneReg, one)
		e.emitOp(vm.OpAdd, idxReg, idxReg, oneReg)

		back := e.emitJump(vm.OpJump, 0)
		e.patchJumpTo(back, top)
		e.patchJump(exitJump)
		for _, p := range lp.breakPatches {
			e.patchJump(p)
		}
	}
}

// exprIsRef conservatively reports whether the value produced by expr lives
// in a heap cell, based on the expression's static shape. Identifiers
// propagate their binding's tracked flag; calls are assumed non-ref since
// most helpers in practice return primitives, a simplification that a full
// type-checked emitter (once lang/prover feeds it signatures) will replace.
func (e *Emitter) exprIsRef(expr ast.Expression) bool {
	switch ex := expr.(type) {
	case *ast.Ident:
		if b, ok := e.lookup(ex.Value); ok {
			return b.isRef
		}
		return false
	case *ast.StringLiteral, *ast.ArrayExpr, *ast.ObjectLiteral, *ast.SomeExpr,
		*ast.OkExpr, *ast.ErrExpr, *ast.TupleExpr, *ast.SpawnExpr:
		return true
	default:
		return false
	}
}

func (e *Emitter) exprObjectType(expr ast.Expression) string {
	switch ex := expr.(type) {
	case *ast.Ident:
		if b, ok := e.lookup(ex.Value); ok {
			return b.typeName
		}
	case *ast.ObjectLiteral:
		return ex.TypeName
	}
	return ""
}

// fieldIndex resolves field name to its layout position for the static
// object type of objExpr, when known.
func (e *Emitter) fieldIndex(objExpr ast.Expression, field string) (int, bool) {
	typeName := e.exprObjectType(objExpr)
	if typeName == "" {
		return 0, false
	}
	fields, ok := e.objFields[typeName]
	if !ok {
		return 0, false
	}
	for i, f := range fields {
		if f == field {
			return i, true
		}
	}
	return 0, false
}
