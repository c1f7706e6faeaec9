// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ast

import (
	"testing"

	"github.com/etch-lang/etch/lang/token"
	"github.com/stretchr/testify/require"
)

func TestProgramString(t *testing.T) {
	prog := &Program{
		Declarations: []Declaration{
			&FnDecl{
				Token: token.Token{Type: token.FN, Literal: "fn"},
				Name:  "main",
				Body: &BlockExpr{
					Token: token.Token{Type: token.LBRACE, Literal: "{"},
				},
			},
		},
	}
	require.Equal(t, "fn main() { }\n", prog.String())
}

func TestLetStmtString(t *testing.T) {
	stmt := &LetStmt{
		Token:   token.Token{Type: token.LET, Literal: "let"},
		Mutable: true,
		Name:    &Ident{Token: token.Token{Type: token.IDENT, Literal: "x"}, Value: "x"},
		Type:    &NamedType{Token: token.Token{Type: token.INTKW, Literal: "int"}, Name: "int"},
		Value:   &IntLiteral{Token: token.Token{Type: token.INT, Literal: "5"}, Value: 5},
	}
	require.Equal(t, "let mut x: int = 5", stmt.String())
}

func TestTryExprString(t *testing.T) {
	inner := &CallExpr{
		Token:    token.Token{Type: token.LPAREN, Literal: "("},
		Function: &Ident{Token: token.Token{Type: token.IDENT, Literal: "parse"}, Value: "parse"},
	}
	try := &TryExpr{Token: token.Token{Type: token.QUESTION, Literal: "?"}, Value: inner}
	require.Equal(t, "(parse()?)", try.String())
}

func TestResultTypeString(t *testing.T) {
	rt := &ResultType{
		Token: token.Token{Type: token.RESULT, Literal: "result"},
		Ok:    &NamedType{Name: "int"},
		Err:   &NamedType{Name: "string"},
	}
	require.Equal(t, "result[int, string]", rt.String())
}

func TestObjectDeclWithDestructor(t *testing.T) {
	drop := &FnDecl{
		Token: token.Token{Type: token.FN, Literal: "fn"},
		Name:  "drop",
		Body:  &BlockExpr{Token: token.Token{Type: token.LBRACE, Literal: "{"}},
	}
	decl := &ObjectDecl{
		Token: token.Token{Type: token.OBJECT, Literal: "object"},
		Name:  "Handle",
		Fields: []Field{
			{Name: "fd", Type: &NamedType{Name: "int"}},
		},
		Methods:    []*FnDecl{drop},
		Destructor: drop,
	}
	require.Contains(t, decl.String(), "object Handle")
	require.Contains(t, decl.String(), "fd: int")
	require.NotNil(t, decl.Destructor)
}

func TestMatchArmWithGuard(t *testing.T) {
	arm := MatchArm{
		Pattern: &Ident{Value: "n"},
		Guard:   &InfixExpr{Left: &Ident{Value: "n"}, Operator: ">", Right: &IntLiteral{Token: token.Token{Type: token.INT, Literal: "0"}, Value: 0}},
		Body:    &StringLiteral{Value: "positive"},
	}
	require.Equal(t, `n if (n > 0) => "positive"`, arm.String())
}

func TestSpawnYieldResumeStrings(t *testing.T) {
	call := &CallExpr{Function: &Ident{Value: "worker"}}
	spawn := &SpawnExpr{Token: token.Token{Type: token.SPAWN, Literal: "spawn"}, Call: call}
	require.Equal(t, "spawn worker()", spawn.String())

	y := &YieldExpr{Token: token.Token{Type: token.YIELD, Literal: "yield"}, Value: &IntLiteral{Token: token.Token{Type: token.INT, Literal: "1"}, Value: 1}}
	require.Equal(t, "yield 1", y.String())

	r := &ResumeExpr{Token: token.Token{Type: token.RESUME, Literal: "resume"}, Co: &Ident{Value: "co"}}
	require.Equal(t, "resume(co)", r.String())
}

func TestGenericTypeString(t *testing.T) {
	gt := &GenericType{
		Name: "Pair",
		Args: []TypeExpr{&NamedType{Name: "int"}, &NamedType{Name: "string"}},
	}
	require.Equal(t, "Pair[int, string]", gt.String())
}
