// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This file holds the optimizer's AST-level passes. Earlier compilers in
// this lineage ran these over an SSA intermediate form produced by a
// separate pass; here they run directly on lang/ast nodes before emission,
// since Etch's emitter has no separate IR stage to own them.

package emit

import "github.com/etch-lang/etch/lang/ast"

// Optimize rewrites prog in place: constant subexpressions fold down to
// literals, and statements following an unconditional block exit become
// unreachable and are dropped. It runs to a fixed point per function body
// since folding can expose further folding opportunities.
func Optimize(prog *ast.Program) {
	for _, d := range prog.Declarations {
		switch decl := d.(type) {
		case *ast.FnDecl:
			optimizeBlock(decl.Body)
		case *ast.ImplDecl:
			for _, m := range decl.Methods {
				optimizeBlock(m.Body)
			}
		case *ast.ObjectDecl:
			for _, m := range decl.Methods {
				optimizeBlock(m.Body)
			}
			if decl.Destructor != nil {
				optimizeBlock(decl.Destructor.Body)
			}
		}
	}
}

func optimizeBlock(b *ast.BlockExpr) {
	if b == nil {
		return
	}
	for {
		changed := false
		for _, stmt := range b.Statements {
			_, didChange := optimizeStmt(stmt)
			changed = changed || didChange
		}
		if b.Tail != nil {
			folded, ok := tryFold(b.Tail)
			if ok {
				b.Tail = folded
				changed = true
			}
		}
		trimmed := dropUnreachable(b.Statements)
		if len(trimmed) != len(b.Statements) {
			b.Statements = trimmed
			changed = true
		}
		if !changed {
			break
		}
	}
}

// optimizeStmt folds constant subexpressions within one statement and
// recurses into nested blocks, returning the (possibly rewritten) statement
// and whether anything changed.
func optimizeStmt(s ast.Statement) (ast.Statement, bool) {
	changed := false
	switch st := s.(type) {
	case *ast.LetStmt:
		if st.Value != nil {
			if folded, ok := tryFold(st.Value); ok {
				st.Value = folded
				changed = true
			}
		}
	case *ast.ExprStmt:
		if folded, ok := tryFold(st.Expression); ok {
			st.Expression = folded
			changed = true
		}
		if blk, ok := st.Expression.(*ast.BlockExpr); ok {
			optimizeBlock(blk)
		}
		if ifx, ok := st.Expression.(*ast.IfExpr); ok {
			optimizeBlock(ifx.Consequence)
			if alt, ok := ifx.Alternative.(*ast.BlockExpr); ok {
				optimizeBlock(alt)
			}
		}
	case *ast.ReturnStmt:
		if st.Value != nil {
			if folded, ok := tryFold(st.Value); ok {
				st.Value = folded
				changed = true
			}
		}
	case *ast.WhileStmt:
		if folded, ok := tryFold(st.Condition); ok {
			st.Condition = folded
			changed = true
		}
		optimizeBlock(st.Body)
	case *ast.ForStmt:
		optimizeBlock(st.Body)
	}
	return s, changed
}

// tryFold replaces a constant-foldable expression with its computed
// literal. Only integer arithmetic and comparisons on two literal operands
// fold; anything involving a variable, call, or side effect is left as-is.
func tryFold(expr ast.Expression) (ast.Expression, bool) {
	ix, ok := expr.(*ast.InfixExpr)
	if !ok {
		return expr, false
	}

	left, leftOK := foldedInt(ix.Left)
	right, rightOK := foldedInt(ix.Right)
	if !leftOK || !rightOK {
		return expr, false
	}

	switch ix.Operator {
	case "+":
		return &ast.IntLiteral{Token: ix.Token, Value: left + right}, true
	case "-":
		return &ast.IntLiteral{Token: ix.Token, Value: left - right}, true
	case "*":
		return &ast.IntLiteral{Token: ix.Token, Value: left * right}, true
	case "/":
		if right == 0 {
			return expr, false
		}
		return &ast.IntLiteral{Token: ix.Token, Value: left / right}, true
	case "%":
		if right == 0 {
			return expr, false
		}
		return &ast.IntLiteral{Token: ix.Token, Value: left % right}, true
	case "==":
		return &ast.BoolLiteral{Token: ix.Token, Value: left == right}, true
	case "!=":
		return &ast.BoolLiteral{Token: ix.Token, Value: left != right}, true
	case "<":
		return &ast.BoolLiteral{Token: ix.Token, Value: left < right}, true
	case "<=":
		return &ast.BoolLiteral{Token: ix.Token, Value: left <= right}, true
	case ">":
		return &ast.BoolLiteral{Token: ix.Token, Value: left > right}, true
	case ">=":
		return &ast.BoolLiteral{Token: ix.Token, Value: left >= right}, true
	}
	return expr, false
}

func foldedInt(expr ast.Expression) (int64, bool) {
	if lit, ok := expr.(*ast.IntLiteral); ok {
		return lit.Value, true
	}
	return 0, false
}

// dropUnreachable truncates a statement list at the first statement that
// unconditionally exits the enclosing block (return/break/continue), since
// nothing after it can ever run.
func dropUnreachable(stmts []ast.Statement) []ast.Statement {
	for i, s := range stmts {
		switch s.(type) {
		case *ast.ReturnStmt, *ast.BreakStmt, *ast.ContinueStmt:
			return stmts[:i+1]
		}
	}
	return stmts
}
