// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package fold

import (
	"math"

	"github.com/etch-lang/etch/lang/ast"
)

// foldBlock folds every statement and the tail expression of block in
// place.
func foldBlock(block *ast.BlockExpr) {
	if block == nil {
		return
	}
	for _, stmt := range block.Statements {
		foldStmt(stmt)
	}
	if block.Tail != nil {
		block.Tail = foldExpr(block.Tail)
	}
}

func foldStmt(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		if s.Value != nil {
			s.Value = foldExpr(s.Value)
		}
	case *ast.AssignStmt:
		s.Value = foldExpr(s.Value)
	case *ast.ReturnStmt:
		if s.Value != nil {
			s.Value = foldExpr(s.Value)
		}
	case *ast.ExprStmt:
		s.Expression = foldExpr(s.Expression)
	case *ast.ForStmt:
		s.Iterable = foldExpr(s.Iterable)
		foldBlock(s.Body)
	case *ast.WhileStmt:
		s.Condition = foldExpr(s.Condition)
		foldBlock(s.Body)
	case *ast.DeferStmt:
		s.Call = foldExpr(s.Call)
	}
}

// foldExpr recursively folds expr's subexpressions in place, then attempts
// to collapse expr itself into a literal if every operand is now known.
// Division/modulo by a literal zero and arithmetic that would overflow the
// 64-bit range are left unfolded, for the prover to flag.
func foldExpr(expr ast.Expression) ast.Expression {
	switch e := expr.(type) {
	case *ast.PrefixExpr:
		e.Right = foldExpr(e.Right)
		return foldPrefix(e)

	case *ast.InfixExpr:
		e.Left = foldExpr(e.Left)
		e.Right = foldExpr(e.Right)
		return foldInfix(e)

	case *ast.IndexExpr:
		e.Left = foldExpr(e.Left)
		e.Index = foldExpr(e.Index)
		return e

	case *ast.FieldExpr:
		e.Object = foldExpr(e.Object)
		return e

	case *ast.CallExpr:
		for i, a := range e.Arguments {
			e.Arguments[i] = foldExpr(a)
		}
		return e

	case *ast.MethodCallExpr:
		e.Receiver = foldExpr(e.Receiver)
		for i, a := range e.Arguments {
			e.Arguments[i] = foldExpr(a)
		}
		return e

	case *ast.BlockExpr:
		foldBlock(e)
		return e

	case *ast.IfExpr:
		e.Condition = foldExpr(e.Condition)
		foldBlock(e.Consequence)
		if e.Alternative != nil {
			e.Alternative = foldExpr(e.Alternative)
		}
		return e

	case *ast.MatchExpr:
		e.Subject = foldExpr(e.Subject)
		for i := range e.Arms {
			if e.Arms[i].Guard != nil {
				e.Arms[i].Guard = foldExpr(e.Arms[i].Guard)
			}
			e.Arms[i].Body = foldExpr(e.Arms[i].Body)
		}
		return e

	case *ast.RangeExpr:
		if e.Start != nil {
			e.Start = foldExpr(e.Start)
		}
		if e.End != nil {
			e.End = foldExpr(e.End)
		}
		return e

	case *ast.ArrayExpr:
		for i, el := range e.Elements {
			e.Elements[i] = foldExpr(el)
		}
		return e

	case *ast.TupleExpr:
		for i, el := range e.Elements {
			e.Elements[i] = foldExpr(el)
		}
		return e

	case *ast.ObjectLiteral:
		for i, v := range e.FieldVals {
			e.FieldVals[i] = foldExpr(v)
		}
		return e

	case *ast.SomeExpr:
		e.Value = foldExpr(e.Value)
		return e

	case *ast.OkExpr:
		e.Value = foldExpr(e.Value)
		return e

	case *ast.ErrExpr:
		e.Value = foldExpr(e.Value)
		return e

	case *ast.TryExpr:
		e.Value = foldExpr(e.Value)
		return e

	case *ast.SpawnExpr:
		if call, ok := foldExpr(e.Call).(*ast.CallExpr); ok {
			e.Call = call
		}
		return e

	case *ast.YieldExpr:
		if e.Value != nil {
			e.Value = foldExpr(e.Value)
		}
		return e

	case *ast.ResumeExpr:
		e.Co = foldExpr(e.Co)
		if e.Value != nil {
			e.Value = foldExpr(e.Value)
		}
		return e

	case *ast.CompilesExpr:
		foldBlock(e.Body)
		return e

	default:
		return expr
	}
}

func foldPrefix(e *ast.PrefixExpr) ast.Expression {
	switch e.Operator {
	case "-":
		switch r := e.Right.(type) {
		case *ast.IntLiteral:
			if r.Value == math.MinInt64 {
				return e // negating IMIN overflows; leave for the prover
			}
			return &ast.IntLiteral{Token: e.Token, Value: -r.Value}
		case *ast.FloatLiteral:
			return &ast.FloatLiteral{Token: e.Token, Value: -r.Value}
		}
	case "!":
		if r, ok := e.Right.(*ast.BoolLiteral); ok {
			return &ast.BoolLiteral{Token: e.Token, Value: !r.Value}
		}
	}
	return e
}

func foldInfix(e *ast.InfixExpr) ast.Expression {
	if l, lok := e.Left.(*ast.IntLiteral); lok {
		if r, rok := e.Right.(*ast.IntLiteral); rok {
			return foldIntInfix(e, l.Value, r.Value)
		}
	}
	if l, lok := e.Left.(*ast.FloatLiteral); lok {
		if r, rok := e.Right.(*ast.FloatLiteral); rok {
			return foldFloatInfix(e, l.Value, r.Value)
		}
	}
	if l, lok := e.Left.(*ast.BoolLiteral); lok {
		if r, rok := e.Right.(*ast.BoolLiteral); rok {
			return foldBoolInfix(e, l.Value, r.Value)
		}
	}
	if l, lok := e.Left.(*ast.StringLiteral); lok {
		if r, rok := e.Right.(*ast.StringLiteral); rok {
			return foldStringInfix(e, l.Value, r.Value)
		}
	}
	return e
}

func foldIntInfix(e *ast.InfixExpr, l, r int64) ast.Expression {
	switch e.Operator {
	case "+":
		sum := l + r
		if (r > 0 && sum < l) || (r < 0 && sum > l) {
			return e // overflow, leave unfolded
		}
		return &ast.IntLiteral{Token: e.Token, Value: sum}
	case "-":
		diff := l - r
		if (r < 0 && diff < l) || (r > 0 && diff > l) {
			return e
		}
		return &ast.IntLiteral{Token: e.Token, Value: diff}
	case "*":
		if l == 0 || r == 0 {
			return &ast.IntLiteral{Token: e.Token, Value: 0}
		}
		prod := l * r
		if prod/r != l {
			return e
		}
		return &ast.IntLiteral{Token: e.Token, Value: prod}
	case "/":
		if r == 0 || (l == math.MinInt64 && r == -1) {
			return e
		}
		return &ast.IntLiteral{Token: e.Token, Value: l / r}
	case "%":
		if r == 0 || (l == math.MinInt64 && r == -1) {
			return e
		}
		return &ast.IntLiteral{Token: e.Token, Value: l % r}
	case "==":
		return &ast.BoolLiteral{Token: e.Token, Value: l == r}
	case "!=":
		return &ast.BoolLiteral{Token: e.Token, Value: l != r}
	case "<":
		return &ast.BoolLiteral{Token: e.Token, Value: l < r}
	case "<=":
		return &ast.BoolLiteral{Token: e.Token, Value: l <= r}
	case ">":
		return &ast.BoolLiteral{Token: e.Token, Value: l > r}
	case ">=":
		return &ast.BoolLiteral{Token: e.Token, Value: l >= r}
	}
	return e
}

func foldFloatInfix(e *ast.InfixExpr, l, r float64) ast.Expression {
	switch e.Operator {
	case "+":
		return &ast.FloatLiteral{Token: e.Token, Value: l + r}
	case "-":
		return &ast.FloatLiteral{Token: e.Token, Value: l - r}
	case "*":
		return &ast.FloatLiteral{Token: e.Token, Value: l * r}
	case "/":
		if r == 0 {
			return e
		}
		return &ast.FloatLiteral{Token: e.Token, Value: l / r}
	case "==":
		return &ast.BoolLiteral{Token: e.Token, Value: l == r}
	case "!=":
		return &ast.BoolLiteral{Token: e.Token, Value: l != r}
	case "<":
		return &ast.BoolLiteral{Token: e.Token, Value: l < r}
	case "<=":
		return &ast.BoolLiteral{Token: e.Token, Value: l <= r}
	case ">":
		return &ast.BoolLiteral{Token: e.Token, Value: l > r}
	case ">=":
		return &ast.BoolLiteral{Token: e.Token, Value: l >= r}
	}
	return e
}

func foldBoolInfix(e *ast.InfixExpr, l, r bool) ast.Expression {
	switch e.Operator {
	case "&&":
		return &ast.BoolLiteral{Token: e.Token, Value: l && r}
	case "||":
		return &ast.BoolLiteral{Token: e.Token, Value: l || r}
	case "==":
		return &ast.BoolLiteral{Token: e.Token, Value: l == r}
	case "!=":
		return &ast.BoolLiteral{Token: e.Token, Value: l != r}
	}
	return e
}

func foldStringInfix(e *ast.InfixExpr, l, r string) ast.Expression {
	switch e.Operator {
	case "+":
		return &ast.StringLiteral{Token: e.Token, Value: l + r}
	case "==":
		return &ast.BoolLiteral{Token: e.Token, Value: l == r}
	case "!=":
		return &ast.BoolLiteral{Token: e.Token, Value: l != r}
	}
	return e
}
