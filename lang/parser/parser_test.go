// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/ast"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, errs := Parse("test.etch", src)
	require.Empty(t, errs)
	return prog
}

func firstDecl(t *testing.T, prog *ast.Program) ast.Declaration {
	t.Helper()
	require.NotEmpty(t, prog.Declarations)
	return prog.Declarations[0]
}

func TestParseFnDecl(t *testing.T) {
	prog := mustParse(t, `fn add(a: int, b: int) -> int { a + b }`)

	fn, ok := firstDecl(t, prog).(*ast.FnDecl)
	require.True(t, ok)
	require.Equal(t, "add", fn.Name)
	require.False(t, fn.Public)
	require.Len(t, fn.Params, 2)
	require.Equal(t, "a", fn.Params[0].Name)
	require.Equal(t, "b", fn.Params[1].Name)
	require.NotNil(t, fn.Body.Tail)
}

func TestParsePubFnDecl(t *testing.T) {
	prog := mustParse(t, `pub fn main() { return; }`)
	fn, ok := firstDecl(t, prog).(*ast.FnDecl)
	require.True(t, ok)
	require.True(t, fn.Public)
}

func TestParseObjectDeclWithDestructor(t *testing.T) {
	prog := mustParse(t, `
		object Handle {
			id: int,
			fn close(self) { return; }
			fn drop(self) { return; }
		}
	`)

	obj, ok := firstDecl(t, prog).(*ast.ObjectDecl)
	require.True(t, ok)
	require.Equal(t, "Handle", obj.Name)
	require.Len(t, obj.Fields, 1)
	require.Equal(t, "id", obj.Fields[0].Name)
	require.Len(t, obj.Methods, 1)
	require.Equal(t, "close", obj.Methods[0].Name)
	require.NotNil(t, obj.Destructor)
	require.Equal(t, "drop", obj.Destructor.Name)
}

func TestParseStructDeclIsSugarForObject(t *testing.T) {
	prog := mustParse(t, `struct Point { x: int, y: int }`)
	obj, ok := firstDecl(t, prog).(*ast.ObjectDecl)
	require.True(t, ok)
	require.Len(t, obj.Fields, 2)
	require.Nil(t, obj.Destructor)
}

func TestParseEnumDecl(t *testing.T) {
	prog := mustParse(t, `
		enum Shape {
			Circle(float),
			Square(float, float),
			Point,
		}
	`)
	en, ok := firstDecl(t, prog).(*ast.EnumDecl)
	require.True(t, ok)
	require.Len(t, en.Variants, 3)
	require.Equal(t, "Circle", en.Variants[0].Name)
	require.Len(t, en.Variants[0].Fields, 1)
	require.Len(t, en.Variants[2].Fields, 0)
}

func TestParseImplDecl(t *testing.T) {
	prog := mustParse(t, `
		impl Point {
			fn sum(self) -> int { self.x + self.y }
		}
	`)
	impl, ok := firstDecl(t, prog).(*ast.ImplDecl)
	require.True(t, ok)
	require.Equal(t, "Point", impl.TypeName)
	require.Len(t, impl.Methods, 1)
	require.Equal(t, "sum", impl.Methods[0].Name)
}

func TestParseIfElseExpr(t *testing.T) {
	prog := mustParse(t, `fn choose(x: bool) -> int { if x { 1 } else { 0 } }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	ifExpr, ok := fn.Body.Tail.(*ast.IfExpr)
	require.True(t, ok)
	require.NotNil(t, ifExpr.Consequence)
	require.NotNil(t, ifExpr.Alternative)
}

func TestParseMatchExpr(t *testing.T) {
	prog := mustParse(t, `
		fn describe(x: option[int]) -> int {
			match x {
				Some(v) => v,
				None => 0,
			}
		}
	`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	m, ok := fn.Body.Tail.(*ast.MatchExpr)
	require.True(t, ok)
	require.Len(t, m.Arms, 2)
}

func TestParseTryExprPostfix(t *testing.T) {
	prog := mustParse(t, `fn f() -> result[int, string] { Ok(g()?) }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	ok, isOk := fn.Body.Tail.(*ast.OkExpr)
	require.True(t, isOk)
	_, isTry := ok.Value.(*ast.TryExpr)
	require.True(t, isTry)
}

func TestParseSpawnYieldResume(t *testing.T) {
	prog := mustParse(t, `
		fn worker() -> int {
			let co = spawn producer();
			yield 1;
			resume(co, 2)
		}
	`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	require.Len(t, fn.Body.Statements, 2)

	letStmt := fn.Body.Statements[0].(*ast.LetStmt)
	_, ok := letStmt.Value.(*ast.SpawnExpr)
	require.True(t, ok)

	exprStmt := fn.Body.Statements[1].(*ast.ExprStmt)
	_, ok = exprStmt.Expression.(*ast.YieldExpr)
	require.True(t, ok)

	_, ok = fn.Body.Tail.(*ast.ResumeExpr)
	require.True(t, ok)
}

func TestParseObjectLiteralAndFieldAccess(t *testing.T) {
	prog := mustParse(t, `fn origin() -> int { Point { x: 0, y: 0 }.x }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	field, ok := fn.Body.Tail.(*ast.FieldExpr)
	require.True(t, ok)
	lit, ok := field.Object.(*ast.ObjectLiteral)
	require.True(t, ok)
	require.Equal(t, "Point", lit.TypeName)
	require.Equal(t, []string{"x", "y"}, lit.FieldNames)
}

func TestParseWhileAndForLoops(t *testing.T) {
	prog := mustParse(t, `
		fn loops() {
			let mut i = 0;
			while i < 10 {
				i += 1;
			}
			for x in 0..10 {
				break;
			}
			for y in xs {
				continue;
			}
		}
	`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	require.Len(t, fn.Body.Statements, 4)
	_, ok := fn.Body.Statements[2].(*ast.ForStmt)
	require.True(t, ok)
}

func TestParseCompilesExpr(t *testing.T) {
	prog := mustParse(t, `fn can_add() -> bool { compiles { 1 + 1 } }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	_, ok := fn.Body.Tail.(*ast.CompilesExpr)
	require.True(t, ok)
}

func TestParseTypesArrayOptionResultRef(t *testing.T) {
	prog := mustParse(t, `
		fn sig(a: array[int], b: option[int], c: result[int, string], d: ref[int]) {
			return;
		}
	`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	require.IsType(t, &ast.ArrayType{}, fn.Params[0].Type)
	require.IsType(t, &ast.OptionType{}, fn.Params[1].Type)
	require.IsType(t, &ast.ResultType{}, fn.Params[2].Type)
	require.IsType(t, &ast.RefType{}, fn.Params[3].Type)
}

func TestParseGenericType(t *testing.T) {
	prog := mustParse(t, `fn f(b: Box[int]) { return; }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	gt, ok := fn.Params[0].Type.(*ast.GenericType)
	require.True(t, ok)
	require.Equal(t, "Box", gt.Name)
	require.Len(t, gt.Args, 1)
}

func TestParseStringAndCharEscapes(t *testing.T) {
	prog := mustParse(t, "fn f() { \"a\\nb\"; 'x'; }")
	fn := firstDecl(t, prog).(*ast.FnDecl)
	exprStmt := fn.Body.Statements[0].(*ast.ExprStmt)
	str, ok := exprStmt.Expression.(*ast.StringLiteral)
	require.True(t, ok)
	require.Equal(t, "a\nb", str.Value)
}

func TestParseTupleExpr(t *testing.T) {
	prog := mustParse(t, `fn f() -> int { let t = (1, 2, 3); 0 }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	letStmt := fn.Body.Statements[0].(*ast.LetStmt)
	tup, ok := letStmt.Value.(*ast.TupleExpr)
	require.True(t, ok)
	require.Len(t, tup.Elements, 3)
}

func TestParseGroupedExprIsNotATuple(t *testing.T) {
	prog := mustParse(t, `fn f() -> int { (1 + 2) }`)
	fn := firstDecl(t, prog).(*ast.FnDecl)
	_, ok := fn.Body.Tail.(*ast.InfixExpr)
	require.True(t, ok)
}

func TestParseErrorRecoveryContinuesParsingTopLevel(t *testing.T) {
	prog, errs := Parse("test.etch", `
		@@@
		fn good() { return; }
	`)
	require.NotEmpty(t, errs)
	require.Len(t, prog.Declarations, 1)
	require.Equal(t, "good", prog.Declarations[0].(*ast.FnDecl).Name)
}

func TestParseComptimeDecl(t *testing.T) {
	prog := mustParse(t, `comptime { inject(1); }`)
	decl, ok := firstDecl(t, prog).(*ast.ComptimeDecl)
	require.True(t, ok)
	require.Len(t, decl.Body.Statements, 1)
}

func TestParseImportAndExtern(t *testing.T) {
	prog := mustParse(t, `
		import "std/io" as io;
		extern "libm" fn sqrt(x: float) -> float;
	`)
	require.Len(t, prog.Declarations, 2)
	imp, ok := prog.Declarations[0].(*ast.ImportDecl)
	require.True(t, ok)
	require.Equal(t, "std/io", imp.Path)
	require.Equal(t, "io", imp.Alias)

	ext, ok := prog.Declarations[1].(*ast.ExternDecl)
	require.True(t, ok)
	require.Equal(t, "libm", ext.Library)
	require.Equal(t, "sqrt", ext.Name)
}

func TestParseTopLevelLetIsGlobalDecl(t *testing.T) {
	prog := mustParse(t, `pub let counter: int = 0;`)

	g, ok := firstDecl(t, prog).(*ast.GlobalDecl)
	require.True(t, ok)
	require.True(t, g.Public)
	require.Equal(t, "counter", g.Name.Value)
	require.NotNil(t, g.Type)
	require.NotNil(t, g.Value)
}

func TestParseGlobalDeclWithoutInitializer(t *testing.T) {
	prog := mustParse(t, `let flag: bool;`)

	g, ok := firstDecl(t, prog).(*ast.GlobalDecl)
	require.True(t, ok)
	require.False(t, g.Public)
	require.Nil(t, g.Value)
}
