// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package fold

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/parser"
)

func TestFoldConstantIntegerArithmetic(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `fn f() -> int { 1 + 2 * 3 }`)
	require.Empty(t, errs)

	_, findings := Fold(prog)
	require.Empty(t, findings)

	fn := prog.Declarations[0].(*ast.FnDecl)
	lit, ok := fn.Body.Tail.(*ast.IntLiteral)
	require.True(t, ok, "expected tail to fold to an IntLiteral, got %T", fn.Body.Tail)
	require.Equal(t, int64(7), lit.Value)
}

func TestFoldLeavesDivisionByZeroUnfolded(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `fn f() -> int { 1 / 0 }`)
	require.Empty(t, errs)

	_, findings := Fold(prog)
	require.Empty(t, findings)

	fn := prog.Declarations[0].(*ast.FnDecl)
	_, ok := fn.Body.Tail.(*ast.InfixExpr)
	require.True(t, ok, "division by a literal zero must not be folded away")
}

func TestFoldLeavesOverflowingAdditionUnfolded(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `fn f() -> int { 9223372036854775807 + 1 }`)
	require.Empty(t, errs)

	_, findings := Fold(prog)
	require.Empty(t, findings)

	fn := prog.Declarations[0].(*ast.FnDecl)
	_, ok := fn.Body.Tail.(*ast.InfixExpr)
	require.True(t, ok, "an overflowing addition must be left for the prover, not folded")
}

func TestFoldStringConcatenation(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `fn f() -> string { "foo" + "bar" }`)
	require.Empty(t, errs)

	_, findings := Fold(prog)
	require.Empty(t, findings)

	fn := prog.Declarations[0].(*ast.FnDecl)
	lit, ok := fn.Body.Tail.(*ast.StringLiteral)
	require.True(t, ok, "expected tail to fold to a StringLiteral, got %T", fn.Body.Tail)
	require.Equal(t, "foobar", lit.Value)
}

func TestFoldComptimeInjectsBinding(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		comptime {
			let version = 1 + 2;
			inject("buildVersion", "int", version);
		}
	`)
	require.Empty(t, errs)

	injected, findings := Fold(prog)
	require.Empty(t, findings)
	require.Len(t, injected, 1)
	require.Equal(t, "buildVersion", injected[0].Name)
	require.Equal(t, "int", injected[0].TypeName)
	require.Equal(t, int64(3), injected[0].Value.Int)
}

func TestFoldComptimeLoopInjectsEachIteration(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		comptime {
			for i in 0..3 {
				inject("unused", "int", i);
			}
		}
	`)
	require.Empty(t, errs)

	injected, findings := Fold(prog)
	require.Empty(t, findings)
	require.Len(t, injected, 3)
	require.Equal(t, int64(0), injected[0].Value.Int)
	require.Equal(t, int64(2), injected[2].Value.Int)
}

func TestFoldComptimeErrorBecomesFinding(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		comptime {
			let x = 1 / 0;
		}
	`)
	require.Empty(t, errs)

	injected, findings := Fold(prog)
	require.Empty(t, injected)
	require.Len(t, findings, 1)
}

func TestFoldRecursesIntoObjectAndImplMethods(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		object Point {
			x: int,
			y: int,
		}

		impl Point {
			fn sum(self) -> int { 2 + 3 }
		}
	`)
	require.Empty(t, errs)

	_, findings := Fold(prog)
	require.Empty(t, findings)

	impl := prog.Declarations[1].(*ast.ImplDecl)
	lit, ok := impl.Methods[0].Body.Tail.(*ast.IntLiteral)
	require.True(t, ok, "expected method tail to fold to an IntLiteral, got %T", impl.Methods[0].Body.Tail)
	require.Equal(t, int64(5), lit.Value)
}
