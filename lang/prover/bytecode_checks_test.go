// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package prover

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

func TestVerifyValidBytecode(t *testing.T) {
	prog := &ast.Program{Declarations: []ast.Declaration{
		&ast.FnDecl{Name: "add", Params: []ast.Param{
			{Name: "a", Type: &ast.NamedType{Name: "int"}},
			{Name: "b", Type: &ast.NamedType{Name: "int"}},
		}, Body: &ast.BlockExpr{Tail: &ast.InfixExpr{
			Left:     &ast.Ident{Value: "a"},
			Operator: "+",
			Right:    &ast.Ident{Value: "b"},
		}}},
	}}

	out, err := emit.Emit(prog)
	require.NoError(t, err)

	errs := Verify(out)
	require.Empty(t, errs)
}

func TestVerifyInvalidConstant(t *testing.T) {
	bc := &emit.Program{
		Code:      []byte{byte(vm.OpLoadConst), 2, 0xFF, 0xFF, byte(vm.OpReturn), 2, 0, 0},
		Constants: []vm.Value{vm.IntValue(42)},
		Functions: []emit.FuncEntry{{Name: "f", Offset: 0}},
	}

	errs := Verify(bc)
	require.NotEmpty(t, errs)
}

func TestVerifyTruncatedInstruction(t *testing.T) {
	bc := &emit.Program{
		Code:      []byte{byte(vm.OpAdd), 2, 0, 1},
		Functions: []emit.FuncEntry{{Name: "f", Offset: 0}},
	}
	// Append a stray partial instruction to trigger the truncation check.
	bc.Code = append(bc.Code, byte(vm.OpReturn), 2, 0)

	errs := Verify(bc)
	require.NotEmpty(t, errs)
}

func TestVerifyMissingTerminatorFlagged(t *testing.T) {
	bc := &emit.Program{
		Code:      []byte{byte(vm.OpAdd), 2, 0, 1},
		Functions: []emit.FuncEntry{{Name: "f", Offset: 0}},
	}

	errs := Verify(bc)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Message == `function "f" does not end with return, halt, or jump` {
			found = true
		}
	}
	require.True(t, found)
}

func TestVerifyOutOfBoundsJump(t *testing.T) {
	bc := &emit.Program{
		Code:      []byte{byte(vm.OpJump), 0, 0xFF, 0xFF},
		Functions: []emit.FuncEntry{{Name: "f", Offset: 0}},
	}

	errs := Verify(bc)
	require.NotEmpty(t, errs)
}
