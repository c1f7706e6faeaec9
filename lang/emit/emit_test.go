// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package emit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/token"
	"github.com/etch-lang/etch/lang/vm"
)

func fn(name string, params []ast.Param, body *ast.BlockExpr) *ast.FnDecl {
	return &ast.FnDecl{Name: name, Params: params, Body: body}
}

func block(stmts []ast.Statement, tail ast.Expression) *ast.BlockExpr {
	return &ast.BlockExpr{Statements: stmts, Tail: tail}
}

func ident(name string) *ast.Ident { return &ast.Ident{Value: name} }

func intLit(v int64) *ast.IntLiteral { return &ast.IntLiteral{Value: v} }

func TestEmitSimpleAdd(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("add", []ast.Param{
			{Name: "a", Type: &ast.NamedType{Name: "int"}},
			{Name: "b", Type: &ast.NamedType{Name: "int"}},
		}, block(nil, &ast.InfixExpr{Left: ident("a"), Operator: "+", Right: ident("b")})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	require.Len(t, out.Functions, 1)
	require.Equal(t, "add", out.Functions[0].Name)

	// add(a,b) then return: first instruction word is ADD.
	require.Equal(t, byte(vm.OpAdd), out.Code[0])
}

func TestEmitRecordsAscendingLineTable(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("add", []ast.Param{
			{Name: "a", Type: &ast.NamedType{Name: "int"}},
			{Name: "b", Type: &ast.NamedType{Name: "int"}},
		}, block([]ast.Statement{
			&ast.ExprStmt{Token: token.Token{Pos: token.Position{Line: 2}}, Expression: intLit(1)},
			&ast.ExprStmt{Token: token.Token{Pos: token.Position{Line: 3}}, Expression: intLit(2)},
		}, nil)),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.NotEmpty(t, out.Lines)

	for i := 1; i < len(out.Lines); i++ {
		require.Less(t, out.Lines[i-1].PC, out.Lines[i].PC, "line table must be strictly ascending by PC")
	}
	require.Equal(t, 2, out.Lines[0].Pos.Line)
}

func TestEmitConstantPoolInterning(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("two41s", nil, block(nil, &ast.InfixExpr{
			Left:     intLit(41),
			Operator: "+",
			Right:    intLit(41),
		})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	// Both operands are the literal 41: fastcache-backed interning should
	// collapse them to a single constant-pool slot.
	require.Len(t, out.Constants, 1)
	require.Equal(t, vm.IntValue(41), out.Constants[0])
}

func TestEmitIfElseProducesJumps(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("choose", []ast.Param{{Name: "x", Type: &ast.NamedType{Name: "bool"}}},
			block(nil, &ast.IfExpr{
				Condition:   ident("x"),
				Consequence: block(nil, intLit(1)),
				Alternative: block(nil, intLit(0)),
			})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)

	hasJump := false
	for i := 0; i < len(out.Code); i += 4 {
		op := vm.Opcode(out.Code[i])
		if op == vm.OpJump || op == vm.OpJumpIf || op == vm.OpJumpIfNot {
			hasJump = true
			break
		}
	}
	require.True(t, hasJump, "expected at least one jump instruction in the compiled branch")
}

func TestEmitWhileLoopBranchesBackward(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("countdown", []ast.Param{{Name: "n", Type: &ast.NamedType{Name: "int"}}},
			block([]ast.Statement{
				&ast.WhileStmt{
					Condition: &ast.InfixExpr{Left: ident("n"), Operator: ">", Right: intLit(0)},
					Body: block([]ast.Statement{
						&ast.AssignStmt{Target: ident("n"), Operator: "=",
							Value: &ast.InfixExpr{Left: ident("n"), Operator: "-", Right: intLit(1)}},
					}, nil),
				},
			}, nil)),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)

	foundBackwardJump := false
	for i := 0; i < len(out.Code); i += 4 {
		op := vm.Opcode(out.Code[i])
		if op == vm.OpJump {
			target := int(out.Code[i+2])<<8 | int(out.Code[i+3])
			if target*4 <= i {
				foundBackwardJump = true
			}
		}
	}
	require.True(t, foundBackwardJump, "expected the loop to backpatch a jump to its condition check")
}

func TestEmitObjectFieldAccess(t *testing.T) {
	intField := func(name string) ast.Field { return ast.Field{Name: name, Type: &ast.NamedType{Name: "int"}} }
	prog := &ast.Program{Declarations: []ast.Declaration{
		&ast.ObjectDecl{Name: "Point", Fields: []ast.Field{intField("x"), intField("y")}},
		fn("makeAndRead", nil, block(nil, &ast.FieldExpr{
			Object: &ast.ObjectLiteral{
				TypeName:   "Point",
				FieldNames: []string{"x", "y"},
				FieldVals:  []ast.Expression{intLit(3), intLit(4)},
			},
			Field: "x",
		})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)

	hasObjectNew, hasFieldGet := false, false
	for i := 0; i < len(out.Code); i += 4 {
		switch vm.Opcode(out.Code[i]) {
		case vm.OpObjectNew:
			hasObjectNew = true
		case vm.OpFieldGet:
			hasFieldGet = true
		}
	}
	require.True(t, hasObjectNew)
	require.True(t, hasFieldGet)
	require.Len(t, out.Types, 1)
	require.Equal(t, 2, out.Types[0].FieldCount)
}

func TestEmitFunctionCallRoundTrips(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("double", []ast.Param{{Name: "x", Type: &ast.NamedType{Name: "int"}}},
			block(nil, &ast.InfixExpr{Left: ident("x"), Operator: "+", Right: ident("x")})),
		fn("main", nil, block(nil, &ast.CallExpr{
			Function:  ident("double"),
			Arguments: []ast.Expression{intLit(21)},
		})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.Len(t, out.Functions, 2)

	hasCall := false
	for i := 0; i < len(out.Code); i += 4 {
		if vm.Opcode(out.Code[i]) == vm.OpCall {
			hasCall = true
		}
	}
	require.True(t, hasCall)
}

func TestEmitStringLiteralUsesStringPool(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("greeting", nil, block(nil, &ast.StringLiteral{Value: "hello"})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.Len(t, out.Strings, 1)
	require.Equal(t, "hello", string(out.Strings[0]))
}

func TestEmitUnknownFunctionCallFails(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("caller", nil, block(nil, &ast.CallExpr{Function: ident("missing")})),
	}}

	_, err := Emit(prog)
	require.Error(t, err)
}

func TestEmitCallStagesArgsBeforeCalling(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("double", []ast.Param{{Name: "x", Type: &ast.NamedType{Name: "int"}}},
			block(nil, &ast.InfixExpr{Left: ident("x"), Operator: "+", Right: ident("x")})),
		fn("main", nil, block(nil, &ast.CallExpr{
			Function:  ident("double"),
			Arguments: []ast.Expression{intLit(21)},
		})),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)

	var sawPrep bool
	for i := 0; i < len(out.Code); i += 4 {
		switch vm.Opcode(out.Code[i]) {
		case vm.OpCallPrep:
			sawPrep = true
		case vm.OpCall:
			require.True(t, sawPrep, "OpCallPrep must precede OpCall")
		}
	}
	require.True(t, sawPrep)
}

func TestEmitGlobalDeclProducesInitializerAndSlot(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		&ast.GlobalDecl{Name: ident("counter"), Value: intLit(7)},
		fn("main", nil, block(nil, ident("counter"))),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)
	require.Equal(t, []string{"counter"}, out.Globals)

	var initIdx = -1
	for i, f := range out.Functions {
		if f.Name == GlobalInitFuncName {
			initIdx = i
		}
	}
	require.GreaterOrEqual(t, initIdx, 0, "expected a synthetic <global> initializer function")

	var sawStore, sawLoad bool
	for i := 0; i < len(out.Code); i += 4 {
		switch vm.Opcode(out.Code[i]) {
		case vm.OpStoreGlobal:
			sawStore = true
		case vm.OpLoadGlobal:
			sawLoad = true
		}
	}
	require.True(t, sawStore, "expected the <global> initializer to store counter's initial value")
	require.True(t, sawLoad, "expected main's read of counter to fall back to OpLoadGlobal")
}

func TestEmitDeferStagesArgsAndEmitsDefer(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		fn("cleanup", []ast.Param{{Name: "x", Type: &ast.NamedType{Name: "int"}}}, block(nil, nil)),
		fn("main", nil, block([]ast.Statement{
			&ast.DeferStmt{Call: &ast.CallExpr{Function: ident("cleanup"), Arguments: []ast.Expression{intLit(1)}}},
		}, nil)),
	}}

	out, err := Emit(prog)
	require.NoError(t, err)

	var sawPrep, sawDefer bool
	for i := 0; i < len(out.Code); i += 4 {
		switch vm.Opcode(out.Code[i]) {
		case vm.OpCallPrep:
			sawPrep = true
		case vm.OpDefer:
			require.True(t, sawPrep, "OpCallPrep must precede OpDefer")
			sawDefer = true
		}
	}
	require.True(t, sawDefer)
}
