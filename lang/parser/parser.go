// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package parser implements a recursive-descent / Pratt parser for the Etch
// language.
//
// Design overview:
//
//   - Declarations are parsed with straightforward recursive descent.
//   - Expressions are parsed with a Pratt (top-down operator precedence) table.
//   - Errors are collected rather than aborting; the parser attempts to recover
//     by skipping to the next semicolon or closing brace so that subsequent
//     declarations can still be parsed.
//   - Comments produced by the lexer are silently skipped.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/lexer"
	"github.com/etch-lang/etch/lang/token"
)

// ---------------------------------------------------------------------------
// Precedence levels (Pratt)
// ---------------------------------------------------------------------------

type precedence int

const (
	precLowest  precedence = iota // base
	precOr                        // ||
	precAnd                       // &&
	precCmp                       // == != < > <= >=
	precBitOr                     // |
	precBitXor                    // ^
	precBitAnd                    // &
	precShift                     // << >>
	precRange                     // ..
	precAdd                       // + -
	precMul                       // * / %
	precPrefix                    // -x !x ~x
	precTry                       // x?
	precPostfix                   // . [] () ::
)

// infixPrecedence maps a token type to its infix binding power.
var infixPrecedence = map[token.Type]precedence{
	token.OR:         precOr,
	token.AND:        precAnd,
	token.EQ:         precCmp,
	token.NEQ:        precCmp,
	token.LT:         precCmp,
	token.GT:         precCmp,
	token.LTE:        precCmp,
	token.GTE:        precCmp,
	token.PIPE:       precBitOr,
	token.CARET:      precBitXor,
	token.AMP:        precBitAnd,
	token.LSHIFT:     precShift,
	token.RSHIFT:     precShift,
	token.DOTDOT:     precRange,
	token.PLUS:       precAdd,
	token.MINUS:      precAdd,
	token.STAR:       precMul,
	token.SLASH:      precMul,
	token.PERCENT:    precMul,
	token.QUESTION:   precTry,
	token.DOT:        precPostfix,
	token.LBRACKET:   precPostfix,
	token.LPAREN:     precPostfix,
	token.COLONCOLON: precPostfix,
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the mutable state for a single parse run.
type Parser struct {
	lex    *lexer.Lexer
	cur    token.Token // current token
	peek   token.Token // lookahead token
	errors []error

	// noObjectLiteral suppresses "Ident { ... }" object-literal parsing while
	// parsing an if/while/for/match header, so the brace that opens the
	// following body isn't mistaken for a field-init list.
	noObjectLiteral bool
}

// exprNoObjectLiteral parses an expression with object-literal parsing
// suppressed for its duration, restoring the previous setting afterward.
func (p *Parser) exprNoObjectLiteral(prec precedence) ast.Expression {
	saved := p.noObjectLiteral
	p.noObjectLiteral = true
	expr := p.parseExpression(prec)
	p.noObjectLiteral = saved
	return expr
}

// newParser initialises a Parser from source text.
func newParser(filename, source string) *Parser {
	p := &Parser{
		lex: lexer.New(filename, source),
	}
	// Prime cur and peek, skipping comments.
	p.advance()
	p.advance()
	return p
}

// Parse is the public entry point. It tokenises source, runs the parser, and
// returns the program AST together with any non-fatal errors that were
// collected during parsing.
func Parse(filename, source string) (*ast.Program, []error) {
	p := newParser(filename, source)
	prog := p.parseProgram()
	return prog, p.errors
}

// ---------------------------------------------------------------------------
// Token navigation helpers
// ---------------------------------------------------------------------------

// advance reads the next non-comment token from the lexer into cur/peek.
func (p *Parser) advance() {
	p.cur = p.peek
	for {
		p.peek = p.lex.NextToken()
		if p.peek.Type != token.COMMENT {
			break
		}
	}
}

// expect consumes the current token if it matches typ, otherwise records an
// error and does NOT consume the token.
func (p *Parser) expect(typ token.Type) (token.Token, bool) {
	if p.cur.Type == typ {
		tok := p.cur
		p.advance()
		return tok, true
	}
	p.errorf(p.cur.Pos, "expected %s, got %s (%q)", typ, p.cur.Type, p.cur.Literal)
	return p.cur, false
}

// curIs returns true if the current token has the given type.
func (p *Parser) curIs(typ token.Type) bool { return p.cur.Type == typ }

// peekIs returns true if the lookahead token has the given type.
func (p *Parser) peekIs(typ token.Type) bool { return p.peek.Type == typ }

// skipTo advances past tokens until one of the given types (or EOF) is the
// current token.
func (p *Parser) skipTo(types ...token.Type) {
	for p.cur.Type != token.EOF {
		for _, t := range types {
			if p.cur.Type == t {
				return
			}
		}
		p.advance()
	}
}

// errorf records a parse error at the given position.
func (p *Parser) errorf(pos token.Position, format string, args ...interface{}) {
	p.errors = append(p.errors, &parseError{pos: pos, msg: fmt.Sprintf(format, args...)})
}

type parseError struct {
	pos token.Position
	msg string
}

func (e *parseError) Error() string { return e.pos.String() + ": " + e.msg }

// ---------------------------------------------------------------------------
// Program and declarations
// ---------------------------------------------------------------------------

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	for !p.curIs(token.EOF) {
		decl := p.parseDeclaration()
		if decl != nil {
			prog.Declarations = append(prog.Declarations, decl)
		}
	}
	return prog
}

// parseDeclaration dispatches to the appropriate declaration parser. Unknown
// tokens trigger an error and single-token skip for recovery.
func (p *Parser) parseDeclaration() ast.Declaration {
	pub := false
	pubTok := p.cur
	if p.curIs(token.PUB) {
		pub = true
		p.advance()
	}

	switch p.cur.Type {
	case token.FN:
		return p.parseFnDecl(pub)
	case token.OBJECT:
		return p.parseObjectDecl(pub)
	case token.STRUCT:
		return p.parseStructDecl(pub)
	case token.ENUM:
		return p.parseEnumDecl(pub)
	case token.IMPL:
		if pub {
			p.errorf(pubTok.Pos, "'pub' is not valid before 'impl'")
		}
		return p.parseImplDecl()
	case token.TYPE:
		return p.parseTypeDecl(pub)
	case token.IMPORT:
		if pub {
			p.errorf(pubTok.Pos, "'pub' is not valid before 'import'")
		}
		return p.parseImportDecl()
	case token.EXTERN:
		if pub {
			p.errorf(pubTok.Pos, "'pub' is not valid before 'extern'")
		}
		return p.parseExternDecl()
	case token.COMPTIME:
		if pub {
			p.errorf(pubTok.Pos, "'pub' is not valid before 'comptime'")
		}
		return p.parseComptimeDecl()
	case token.LET:
		return p.parseGlobalDecl(pub)
	default:
		p.errorf(p.cur.Pos, "unexpected token %s (%q) at top level", p.cur.Type, p.cur.Literal)
		p.advance() // skip the bad token
		return nil
	}
}

// ---------------------------------------------------------------------------
// fn_decl = [ "pub" ] "fn" IDENT "(" [ param_list ] ")" [ "->" type_expr ] block ;
// ---------------------------------------------------------------------------

func (p *Parser) parseFnDecl(pub bool) *ast.FnDecl {
	tok := p.cur // 'fn'
	p.advance()

	name := p.cur.Literal
	if _, ok := p.expect(token.IDENT); !ok {
		p.skipTo(token.LBRACE, token.SEMICOLON, token.EOF)
	}

	params := p.parseParamList()

	var retType ast.TypeExpr
	if p.curIs(token.ARROW) {
		p.advance()
		retType = p.parseType()
	}

	body := p.parseBlockExpr()

	return &ast.FnDecl{
		Token:      tok,
		Public:     pub,
		Name:       name,
		Params:     params,
		ReturnType: retType,
		Body:       body,
	}
}

// parseParamList parses "(" [ param { "," param } ] ")" and returns the slice.
func (p *Parser) parseParamList() []ast.Param {
	if _, ok := p.expect(token.LPAREN); !ok {
		return nil
	}
	var params []ast.Param
	for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
		param := p.parseParam()
		params = append(params, param)
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RPAREN) //nolint
	return params
}

// parseParam parses a single "[ mut ] IDENT : type" parameter. The IDENT may
// be the keyword 'self' (bare receiver parameter with no type annotation).
func (p *Parser) parseParam() ast.Param {
	mut := false
	if p.curIs(token.MUT) {
		mut = true
		p.advance()
	}
	tok := p.cur
	name := p.cur.Literal

	if p.curIs(token.SELF) {
		p.advance()
		if p.curIs(token.COLON) {
			p.advance()
			typ := p.parseType()
			return ast.Param{Token: tok, Name: name, Mutable: mut, Type: typ}
		}
		return ast.Param{Token: tok, Name: name, Mutable: mut, Type: nil}
	}

	p.expect(token.IDENT) //nolint
	p.expect(token.COLON) //nolint
	typ := p.parseType()
	return ast.Param{Token: tok, Name: name, Mutable: mut, Type: typ}
}

// ---------------------------------------------------------------------------
// object_decl = [ "pub" ] "object" IDENT "{" { field | fn_decl } "}" ;
//
// A method named "drop" is the type's destructor rather than an ordinary
// method; its parameters and return type are not checked.
// ---------------------------------------------------------------------------

func (p *Parser) parseObjectDecl(pub bool) *ast.ObjectDecl {
	tok := p.cur // 'object'
	p.advance()

	name := p.cur.Literal
	if _, ok := p.expect(token.IDENT); !ok {
		p.skipTo(token.RBRACE, token.EOF)
	}
	if _, ok := p.expect(token.LBRACE); !ok {
		p.skipTo(token.RBRACE, token.EOF)
	}

	decl := &ast.ObjectDecl{Token: tok, Public: pub, Name: name}
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if p.curIs(token.FN) || (p.curIs(token.PUB) && p.peekIs(token.FN)) {
			methodPub := false
			if p.curIs(token.PUB) {
				methodPub = true
				p.advance()
			}
			m := p.parseFnDecl(methodPub)
			if m.Name == "drop" {
				decl.Destructor = m
			} else {
				decl.Methods = append(decl.Methods, m)
			}
			continue
		}
		f := p.parseField()
		decl.Fields = append(decl.Fields, f)
		if p.curIs(token.COMMA) {
			p.advance()
		}
	}
	p.expect(token.RBRACE) //nolint

	return decl
}

// parseField parses "[ pub ] IDENT : type_expr".
func (p *Parser) parseField() ast.Field {
	pub := false
	if p.curIs(token.PUB) {
		pub = true
		p.advance()
	}
	tok := p.cur
	name := p.cur.Literal
	p.expect(token.IDENT) //nolint
	p.expect(token.COLON) //nolint
	typ := p.parseType()
	return ast.Field{Token: tok, Name: name, Public: pub, Type: typ}
}

// ---------------------------------------------------------------------------
// struct_decl = [ "pub" ] "struct" IDENT "{" [ field_list ] "}" ;
//
// Sugar for an object type with no destructor and no methods.
// ---------------------------------------------------------------------------

func (p *Parser) parseStructDecl(pub bool) *ast.ObjectDecl {
	tok := p.cur // 'struct'
	p.advance()

	name := p.cur.Literal
	if _, ok := p.expect(token.IDENT); !ok {
		p.skipTo(token.RBRACE, token.EOF)
	}
	if _, ok := p.expect(token.LBRACE); !ok {
		p.skipTo(token.RBRACE, token.EOF)
	}

	var fields []ast.Field
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		fields = append(fields, p.parseField())
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACE) //nolint

	return &ast.ObjectDecl{Token: tok, Public: pub, Name: name, Fields: fields}
}

// ---------------------------------------------------------------------------
// enum_decl = [ "pub" ] "enum" IDENT "{" variant { "," variant } [ "," ] "}" ;
// ---------------------------------------------------------------------------

func (p *Parser) parseEnumDecl(pub bool) *ast.EnumDecl {
	tok := p.cur // 'enum'
	p.advance()

	name := p.cur.Literal
	p.expect(token.IDENT)  //nolint
	p.expect(token.LBRACE) //nolint

	var variants []ast.EnumVariant
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		v := p.parseEnumVariant()
		variants = append(variants, v)
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACE) //nolint

	return &ast.EnumDecl{Token: tok, Public: pub, Name: name, Variants: variants}
}

func (p *Parser) parseEnumVariant() ast.EnumVariant {
	tok := p.cur
	name := p.cur.Literal
	p.expect(token.IDENT) //nolint

	var fields []ast.TypeExpr
	if p.curIs(token.LPAREN) {
		p.advance()
		for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
			fields = append(fields, p.parseType())
			if p.curIs(token.COMMA) {
				p.advance()
			} else {
				break
			}
		}
		p.expect(token.RPAREN) //nolint
	}
	return ast.EnumVariant{Token: tok, Name: name, Fields: fields}
}

// ---------------------------------------------------------------------------
// impl_decl = "impl" IDENT "{" { fn_decl } "}" ;
// ---------------------------------------------------------------------------

func (p *Parser) parseImplDecl() *ast.ImplDecl {
	tok := p.cur // 'impl'
	p.advance()

	typeName := p.cur.Literal
	p.expect(token.IDENT)  //nolint
	p.expect(token.LBRACE) //nolint

	var methods []*ast.FnDecl
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		pub := false
		if p.curIs(token.PUB) {
			pub = true
			p.advance()
		}
		if p.curIs(token.FN) {
			methods = append(methods, p.parseFnDecl(pub))
		} else {
			p.errorf(p.cur.Pos, "expected 'fn' inside impl block, got %s", p.cur.Type)
			p.advance()
		}
	}
	p.expect(token.RBRACE) //nolint

	return &ast.ImplDecl{Token: tok, TypeName: typeName, Methods: methods}
}

// ---------------------------------------------------------------------------
// type_decl = [ "pub" ] "type" IDENT "=" type_expr ";" ;
// ---------------------------------------------------------------------------

func (p *Parser) parseTypeDecl(pub bool) *ast.TypeDecl {
	tok := p.cur // 'type'
	p.advance()

	name := p.cur.Literal
	p.expect(token.IDENT)  //nolint
	p.expect(token.ASSIGN) //nolint
	typ := p.parseType()
	p.expect(token.SEMICOLON) //nolint

	return &ast.TypeDecl{Token: tok, Public: pub, Name: name, Type: typ}
}

// ---------------------------------------------------------------------------
// import_decl = "import" STRING [ "as" IDENT ] ";" ;
// ---------------------------------------------------------------------------

func (p *Parser) parseImportDecl() *ast.ImportDecl {
	tok := p.cur // 'import'
	p.advance()

	path := decodeStringLiteral(p.cur.Literal)
	p.expect(token.STRING) //nolint

	alias := ""
	if p.curIs(token.AS) {
		p.advance()
		alias = p.cur.Literal
		p.expect(token.IDENT) //nolint
	}

	p.expect(token.SEMICOLON) //nolint
	return &ast.ImportDecl{Token: tok, Path: path, Alias: alias}
}

// ---------------------------------------------------------------------------
// extern_decl = "extern" STRING "fn" IDENT "(" [ param_list ] ")" [ "->" type_expr ] ";" ;
// ---------------------------------------------------------------------------

func (p *Parser) parseExternDecl() *ast.ExternDecl {
	tok := p.cur // 'extern'
	p.advance()

	library := decodeStringLiteral(p.cur.Literal)
	p.expect(token.STRING) //nolint
	p.expect(token.FN)     //nolint

	name := p.cur.Literal
	p.expect(token.IDENT) //nolint

	params := p.parseParamList()

	var retType ast.TypeExpr
	if p.curIs(token.ARROW) {
		p.advance()
		retType = p.parseType()
	}
	p.expect(token.SEMICOLON) //nolint

	return &ast.ExternDecl{Token: tok, Library: library, Name: name, Params: params, ReturnType: retType}
}

// ---------------------------------------------------------------------------
// comptime_decl = "comptime" block ;
// ---------------------------------------------------------------------------

func (p *Parser) parseComptimeDecl() *ast.ComptimeDecl {
	tok := p.cur // 'comptime'
	p.advance()
	body := p.parseBlockExpr()
	return &ast.ComptimeDecl{Token: tok, Body: body}
}

// ---------------------------------------------------------------------------
// Type expressions
// ---------------------------------------------------------------------------

// parseType parses a type expression.
func (p *Parser) parseType() ast.TypeExpr {
	switch p.cur.Type {
	case token.VOIDKW, token.BOOLKW, token.CHARKW, token.INTKW, token.FLOATKW, token.STRINGKW:
		tok := p.cur
		p.advance()
		return &ast.NamedType{Token: tok, Name: tok.Literal}
	case token.OPTION:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.OptionType{Elem: elem}
		})
	case token.ARRAYKW:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.ArrayType{Elem: elem}
		})
	case token.REF:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.RefType{Elem: elem}
		})
	case token.WEAK:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.WeakType{Elem: elem}
		})
	case token.COROUTINE:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.CoroutineType{Elem: elem}
		})
	case token.CHANNEL:
		return p.parseBracketedType1(func(elem ast.TypeExpr) ast.TypeExpr {
			return &ast.ChannelType{Elem: elem}
		})
	case token.RESULT:
		tok := p.cur
		p.advance()
		p.expect(token.LBRACKET) //nolint
		ok := p.parseType()
		p.expect(token.COMMA) //nolint
		errT := p.parseType()
		p.expect(token.RBRACKET) //nolint
		return &ast.ResultType{Token: tok, Ok: ok, Err: errT}
	case token.TUPLE:
		tok := p.cur
		p.advance()
		elems := p.parseBracketedTypeList()
		return &ast.TupleType{Token: tok, Elems: elems}
	case token.UNION:
		tok := p.cur
		p.advance()
		elems := p.parseBracketedTypeList()
		return &ast.UnionType{Token: tok, Elems: elems}
	case token.FN:
		return p.parseFnType()
	case token.IDENT:
		return p.parseNamedOrGenericType()
	default:
		p.errorf(p.cur.Pos, "expected type expression, got %s (%q)", p.cur.Type, p.cur.Literal)
		tok := p.cur
		return &ast.NamedType{Token: tok, Name: tok.Literal}
	}
}

// parseBracketedType1 parses "kw [ type ]" for a single-argument type
// constructor and fills in the Token field of the result.
func (p *Parser) parseBracketedType1(make func(ast.TypeExpr) ast.TypeExpr) ast.TypeExpr {
	tok := p.cur
	p.advance()
	p.expect(token.LBRACKET) //nolint
	elem := p.parseType()
	p.expect(token.RBRACKET) //nolint
	result := make(elem)
	setTypeToken(result, tok)
	return result
}

// setTypeToken backfills the Token field on freshly constructed type nodes,
// since parseBracketedType1's closures cannot set it themselves.
func setTypeToken(t ast.TypeExpr, tok token.Token) {
	switch te := t.(type) {
	case *ast.OptionType:
		te.Token = tok
	case *ast.ArrayType:
		te.Token = tok
	case *ast.RefType:
		te.Token = tok
	case *ast.WeakType:
		te.Token = tok
	case *ast.CoroutineType:
		te.Token = tok
	case *ast.ChannelType:
		te.Token = tok
	}
}

// parseBracketedTypeList parses "[ type { , type } ]".
func (p *Parser) parseBracketedTypeList() []ast.TypeExpr {
	p.expect(token.LBRACKET) //nolint
	var elems []ast.TypeExpr
	for !p.curIs(token.RBRACKET) && !p.curIs(token.EOF) {
		elems = append(elems, p.parseType())
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACKET) //nolint
	return elems
}

// parseNamedOrGenericType handles "IDENT" or "IDENT [ type {, type} ]".
func (p *Parser) parseNamedOrGenericType() ast.TypeExpr {
	tok := p.cur
	name := p.cur.Literal
	p.advance()

	if !p.curIs(token.LBRACKET) {
		return &ast.NamedType{Token: tok, Name: name}
	}
	args := p.parseBracketedTypeList()
	return &ast.GenericType{Token: tok, Name: name, Args: args}
}

// parseFnType handles "fn ( [T {, T}] ) [-> R]".
func (p *Parser) parseFnType() ast.TypeExpr {
	tok := p.cur // 'fn'
	p.advance()
	p.expect(token.LPAREN) //nolint

	var params []ast.TypeExpr
	for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
		params = append(params, p.parseType())
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RPAREN) //nolint

	var retType ast.TypeExpr
	if p.curIs(token.ARROW) {
		p.advance()
		retType = p.parseType()
	}
	return &ast.FnType{Token: tok, ParamTypes: params, ReturnType: retType}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseStatement parses a single statement and returns it. Returns nil if no
// statement could be parsed (for error recovery).
func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case token.LET:
		return p.parseLetStmt()
	case token.RETURN:
		return p.parseReturnStmt()
	case token.FOR:
		return p.parseForStmt()
	case token.WHILE:
		return p.parseWhileStmt()
	case token.BREAK:
		tok := p.cur
		p.advance()
		p.expect(token.SEMICOLON) //nolint
		return &ast.BreakStmt{Token: tok}
	case token.CONTINUE:
		tok := p.cur
		p.advance()
		p.expect(token.SEMICOLON) //nolint
		return &ast.ContinueStmt{Token: tok}
	case token.DEFER:
		return p.parseDeferStmt()
	default:
		return p.parseExprOrAssignStmt()
	}
}

// parseLetStmt parses "let [mut] name [: type] = expr ;".
func (p *Parser) parseLetStmt() *ast.LetStmt {
	tok := p.cur // 'let'
	p.advance()

	mut := false
	if p.curIs(token.MUT) {
		mut = true
		p.advance()
	}

	nameTok := p.cur
	name := p.cur.Literal
	p.expect(token.IDENT) //nolint

	var typ ast.TypeExpr
	if p.curIs(token.COLON) {
		p.advance()
		typ = p.parseType()
	}

	var val ast.Expression
	if p.curIs(token.ASSIGN) {
		p.advance()
		val = p.parseExpression(precLowest)
	}

	p.expect(token.SEMICOLON) //nolint

	return &ast.LetStmt{
		Token:   tok,
		Mutable: mut,
		Name:    &ast.Ident{Token: nameTok, Value: name},
		Type:    typ,
		Value:   val,
	}
}

// parseGlobalDecl parses a top-level "let" binding: [ "pub" ] "let" IDENT
// [ ":" type_expr ] [ "=" expr ] ";" — the module-scope counterpart to
// parseLetStmt, producing a GlobalDecl instead of a LetStmt.
func (p *Parser) parseGlobalDecl(pub bool) *ast.GlobalDecl {
	tok := p.cur // 'let'
	p.advance()

	nameTok := p.cur
	name := p.cur.Literal
	p.expect(token.IDENT) //nolint

	var typ ast.TypeExpr
	if p.curIs(token.COLON) {
		p.advance()
		typ = p.parseType()
	}

	var val ast.Expression
	if p.curIs(token.ASSIGN) {
		p.advance()
		val = p.parseExpression(precLowest)
	}

	p.expect(token.SEMICOLON) //nolint

	return &ast.GlobalDecl{
		Token:  tok,
		Public: pub,
		Name:   &ast.Ident{Token: nameTok, Value: name},
		Type:   typ,
		Value:  val,
	}
}

// parseReturnStmt parses "return [expr] ;".
func (p *Parser) parseReturnStmt() *ast.ReturnStmt {
	tok := p.cur // 'return'
	p.advance()

	var val ast.Expression
	if !p.curIs(token.SEMICOLON) && !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		val = p.parseExpression(precLowest)
	}
	p.expect(token.SEMICOLON) //nolint
	return &ast.ReturnStmt{Token: tok, Value: val}
}

// parseForStmt parses "for IDENT in expr block".
func (p *Parser) parseForStmt() *ast.ForStmt {
	tok := p.cur // 'for'
	p.advance()

	bindTok := p.cur
	bindName := p.cur.Literal
	p.expect(token.IDENT) //nolint
	p.expect(token.IN)    //nolint

	iter := p.exprNoObjectLiteral(precLowest)
	body := p.parseBlockExpr()

	return &ast.ForStmt{
		Token:    tok,
		Binding:  &ast.Ident{Token: bindTok, Value: bindName},
		Iterable: iter,
		Body:     body,
	}
}

// parseWhileStmt parses "while expr block".
func (p *Parser) parseWhileStmt() *ast.WhileStmt {
	tok := p.cur // 'while'
	p.advance()

	cond := p.exprNoObjectLiteral(precLowest)
	body := p.parseBlockExpr()

	return &ast.WhileStmt{Token: tok, Condition: cond, Body: body}
}

// parseDeferStmt parses "defer expr ;".
func (p *Parser) parseDeferStmt() *ast.DeferStmt {
	tok := p.cur // 'defer'
	p.advance()

	call := p.parseExpression(precLowest)
	p.expect(token.SEMICOLON) //nolint

	return &ast.DeferStmt{Token: tok, Call: call}
}

// parseExprOrAssignStmt parses either an assignment (expr assign_op expr ;)
// or a plain expression statement (expr ;).
func (p *Parser) parseExprOrAssignStmt() ast.Statement {
	tok := p.cur
	expr := p.parseExpression(precLowest)

	if assignOp := p.curAssignOp(); assignOp != "" {
		opTok := p.cur
		p.advance()
		rhs := p.parseExpression(precLowest)
		p.expect(token.SEMICOLON) //nolint
		return &ast.AssignStmt{Token: opTok, Target: expr, Operator: assignOp, Value: rhs}
	}

	p.expect(token.SEMICOLON) //nolint
	return &ast.ExprStmt{Token: tok, Expression: expr}
}

// curAssignOp returns the assignment operator string if the current token is
// an assignment operator, otherwise "".
func (p *Parser) curAssignOp() string {
	switch p.cur.Type {
	case token.ASSIGN:
		return "="
	case token.PLUSEQ:
		return "+="
	case token.MINUSEQ:
		return "-="
	case token.STAREQ:
		return "*="
	case token.SLASHEQ:
		return "/="
	case token.PERCENTEQ:
		return "%="
	case token.AMPEQ:
		return "&="
	case token.PIPEEQ:
		return "|="
	case token.CARETEQ:
		return "^="
	case token.LSHIFTEQ:
		return "<<="
	case token.RSHIFTEQ:
		return ">>="
	}
	return ""
}

// isStatementStart returns true for token types that unambiguously begin a
// statement (and cannot be the start of a trailing expression).
func isStatementStart(t token.Type) bool {
	switch t {
	case token.LET, token.RETURN, token.FOR, token.WHILE,
		token.BREAK, token.CONTINUE, token.DEFER:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Block expression
// ---------------------------------------------------------------------------

// parseBlockExpr parses "{ { statement } [ expr ] }". A trailing expression
// with no terminating semicolon becomes the block's tail value.
func (p *Parser) parseBlockExpr() *ast.BlockExpr {
	// A block's contents are always a fresh context: object-literal
	// suppression from an enclosing if/while/for/match header never
	// leaks into the body, no matter how deeply that header nests.
	savedNoObjectLiteral := p.noObjectLiteral
	p.noObjectLiteral = false
	defer func() { p.noObjectLiteral = savedNoObjectLiteral }()

	tok := p.cur // '{'
	if _, ok := p.expect(token.LBRACE); !ok {
		return &ast.BlockExpr{Token: tok}
	}

	var stmts []ast.Statement
	var tail ast.Expression

	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if isStatementStart(p.cur.Type) {
			stmt := p.parseStatement()
			if stmt != nil {
				stmts = append(stmts, stmt)
			}
			continue
		}

		exprTok := p.cur
		expr := p.parseExpression(precLowest)

		if assignOp := p.curAssignOp(); assignOp != "" {
			opTok := p.cur
			p.advance()
			rhs := p.parseExpression(precLowest)
			p.expect(token.SEMICOLON) //nolint
			stmts = append(stmts, &ast.AssignStmt{Token: opTok, Target: expr, Operator: assignOp, Value: rhs})
		} else if p.curIs(token.SEMICOLON) {
			p.advance()
			stmts = append(stmts, &ast.ExprStmt{Token: exprTok, Expression: expr})
		} else {
			tail = expr
			break
		}
	}

	p.expect(token.RBRACE) //nolint
	return &ast.BlockExpr{Token: tok, Statements: stmts, Tail: tail}
}

// ---------------------------------------------------------------------------
// Expression parsing — Pratt / TDOP
// ---------------------------------------------------------------------------

// parseExpression is the Pratt entry point. It parses a prefix expression
// first, then repeatedly consumes infix/postfix operators whose precedence is
// strictly greater than prec.
func (p *Parser) parseExpression(prec precedence) ast.Expression {
	left := p.parsePrefix()
	if left == nil {
		return nil
	}

	for {
		infixPrec, hasInfix := infixPrecedence[p.cur.Type]
		if !hasInfix || infixPrec <= prec {
			break
		}
		left = p.parseInfix(left, infixPrec)
		if left == nil {
			break
		}
	}

	return left
}

// parsePrefix dispatches to the handler for the current token when it appears
// at prefix (left-edge) position.
func (p *Parser) parsePrefix() ast.Expression {
	switch p.cur.Type {
	case token.INT:
		return p.parseIntLiteral()
	case token.FLOAT:
		return p.parseFloatLiteral()
	case token.STRING:
		return p.parseStringLiteral()
	case token.CHARLIT:
		return p.parseCharLiteral()
	case token.TRUE:
		tok := p.cur
		p.advance()
		return &ast.BoolLiteral{Token: tok, Value: true}
	case token.FALSE:
		tok := p.cur
		p.advance()
		return &ast.BoolLiteral{Token: tok, Value: false}
	case token.NIL:
		tok := p.cur
		p.advance()
		return &ast.NilLiteral{Token: tok}
	case token.VOIDKW:
		tok := p.cur
		p.advance()
		return &ast.VoidLiteral{Token: tok}

	case token.IDENT:
		return p.parseIdentOrObjectLiteral()
	case token.SELF:
		tok := p.cur
		p.advance()
		return &ast.Ident{Token: tok, Value: "self"}
	case token.INJECT:
		tok := p.cur
		p.advance()
		return &ast.Ident{Token: tok, Value: "inject"}

	case token.MINUS, token.BANG, token.TILDE:
		return p.parsePrefixExpr()

	case token.LPAREN:
		return p.parseGroupedOrTupleExpr()

	case token.LBRACE:
		return p.parseBlockExpr()

	case token.IF:
		return p.parseIfExpr()
	case token.MATCH:
		return p.parseMatchExpr()
	case token.COMPILES:
		return p.parseCompilesExpr()

	case token.LBRACKET:
		return p.parseArrayExpr()

	case token.SPAWN:
		return p.parseSpawnExpr()
	case token.YIELD:
		return p.parseYieldExpr()
	case token.RESUME:
		return p.parseResumeExpr()

	case token.SOME:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.SomeExpr{Token: tok, Value: v}
		})
	case token.NONE:
		tok := p.cur
		p.advance()
		return &ast.NoneExpr{Token: tok}
	case token.OK:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.OkExpr{Token: tok, Value: v}
		})
	case token.ERR:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.ErrExpr{Token: tok, Value: v}
		})

	default:
		p.errorf(p.cur.Pos, "unexpected token %s (%q) in expression", p.cur.Type, p.cur.Literal)
		tok := p.cur
		p.advance()
		return &ast.Ident{Token: tok, Value: tok.Literal}
	}
}

// parseInfix handles operators and postfix constructs that appear after an
// already-parsed left-hand operand.
func (p *Parser) parseInfix(left ast.Expression, prec precedence) ast.Expression {
	switch p.cur.Type {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT,
		token.OR, token.AND,
		token.EQ, token.NEQ, token.LT, token.GT, token.LTE, token.GTE,
		token.PIPE, token.CARET, token.AMP,
		token.LSHIFT, token.RSHIFT:
		return p.parseBinaryExpr(left, prec)

	case token.DOTDOT:
		tok := p.cur
		p.advance()
		right := p.parseExpression(prec)
		return &ast.RangeExpr{Token: tok, Start: left, End: right}

	case token.QUESTION:
		tok := p.cur
		p.advance()
		return &ast.TryExpr{Token: tok, Value: left}

	case token.DOT:
		return p.parseDotExpr(left)

	case token.LBRACKET:
		return p.parseIndexExpr(left)

	case token.LPAREN:
		return p.parseCallExpr(left)

	case token.COLONCOLON:
		return p.parsePathExpr(left)

	default:
		return left
	}
}

// parseBinaryExpr parses a left-associative binary infix expression.
func (p *Parser) parseBinaryExpr(left ast.Expression, prec precedence) ast.Expression {
	tok := p.cur
	op := p.cur.Literal
	p.advance()
	right := p.parseExpression(prec)
	return &ast.InfixExpr{Token: tok, Left: left, Operator: op, Right: right}
}

// parseDotExpr handles ".field" and ".method(args)".
func (p *Parser) parseDotExpr(left ast.Expression) ast.Expression {
	tok := p.cur // '.'
	p.advance()

	if !p.curIs(token.IDENT) {
		p.errorf(p.cur.Pos, "expected field name after '.', got %s", p.cur.Type)
		return left
	}
	field := p.cur.Literal
	p.advance()

	if p.curIs(token.LPAREN) {
		p.advance()
		args := p.parseArgList()
		p.expect(token.RPAREN) //nolint
		return &ast.MethodCallExpr{Token: tok, Receiver: left, Method: field, Arguments: args}
	}

	return &ast.FieldExpr{Token: tok, Object: left, Field: field}
}

// parseIndexExpr handles "left[index]".
func (p *Parser) parseIndexExpr(left ast.Expression) ast.Expression {
	tok := p.cur // '['
	p.advance()
	index := p.parseExpression(precLowest)
	p.expect(token.RBRACKET) //nolint
	return &ast.IndexExpr{Token: tok, Left: left, Index: index}
}

// parseCallExpr handles "left(args)".
func (p *Parser) parseCallExpr(left ast.Expression) ast.Expression {
	tok := p.cur // '('
	p.advance()
	args := p.parseArgList()
	p.expect(token.RPAREN) //nolint
	return &ast.CallExpr{Token: tok, Function: left, Arguments: args}
}

// parsePathExpr handles "left::segment" — used for associated functions such
// as Type::method, represented as a plain identifier whose name already
// matches how lang/emit registers methods.
func (p *Parser) parsePathExpr(left ast.Expression) ast.Expression {
	tok := p.cur // '::'
	p.advance()
	if !p.curIs(token.IDENT) {
		p.errorf(p.cur.Pos, "expected identifier after '::'")
		return left
	}
	segment := p.cur.Literal
	p.advance()

	return &ast.Ident{Token: tok, Value: left.String() + "::" + segment}
}

// parseArgList parses a comma-separated list of expressions until ')'.
func (p *Parser) parseArgList() []ast.Expression {
	var args []ast.Expression
	for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
		args = append(args, p.parseExpression(precLowest))
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	return args
}

// ---------------------------------------------------------------------------
// Prefix expression parsers
// ---------------------------------------------------------------------------

func (p *Parser) parsePrefixExpr() *ast.PrefixExpr {
	tok := p.cur
	op := p.cur.Literal
	p.advance()
	right := p.parseExpression(precPrefix)
	return &ast.PrefixExpr{Token: tok, Operator: op, Right: right}
}

// parseGroupedOrTupleExpr handles "(expr)" (a grouped expression) and
// "(expr, expr, ...)" (a tuple literal). A trailing comma after a single
// element still produces a one-element tuple, distinguishing it from a
// grouped expression.
func (p *Parser) parseGroupedOrTupleExpr() ast.Expression {
	tok := p.cur // '('
	p.advance()

	if p.curIs(token.RPAREN) {
		p.advance()
		return &ast.TupleExpr{Token: tok}
	}

	first := p.parseExpression(precLowest)
	if !p.curIs(token.COMMA) {
		p.expect(token.RPAREN) //nolint
		return first
	}

	elems := []ast.Expression{first}
	for p.curIs(token.COMMA) {
		p.advance()
		if p.curIs(token.RPAREN) {
			break
		}
		elems = append(elems, p.parseExpression(precLowest))
	}
	p.expect(token.RPAREN) //nolint
	return &ast.TupleExpr{Token: tok, Elements: elems}
}

func (p *Parser) parseIfExpr() *ast.IfExpr {
	tok := p.cur // 'if'
	p.advance()

	cond := p.exprNoObjectLiteral(precLowest)
	consequence := p.parseBlockExpr()

	var alt ast.Expression
	if p.curIs(token.ELSE) {
		p.advance()
		if p.curIs(token.IF) {
			alt = p.parseIfExpr()
		} else {
			alt = p.parseBlockExpr()
		}
	}

	return &ast.IfExpr{Token: tok, Condition: cond, Consequence: consequence, Alternative: alt}
}

func (p *Parser) parseMatchExpr() *ast.MatchExpr {
	tok := p.cur // 'match'
	p.advance()

	subject := p.exprNoObjectLiteral(precLowest)
	p.expect(token.LBRACE) //nolint

	var arms []ast.MatchArm
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		arm := p.parseMatchArm()
		arms = append(arms, arm)
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACE) //nolint

	return &ast.MatchExpr{Token: tok, Subject: subject, Arms: arms}
}

func (p *Parser) parseMatchArm() ast.MatchArm {
	tok := p.cur
	pattern := p.parsePattern()

	var guard ast.Expression
	if p.curIs(token.IF) {
		p.advance()
		guard = p.parseExpression(precLowest)
	}

	p.expect(token.FATARROW) //nolint

	var body ast.Expression
	if p.curIs(token.LBRACE) {
		body = p.parseBlockExpr()
	} else {
		body = p.parseExpression(precLowest)
	}

	return ast.MatchArm{Token: tok, Pattern: pattern, Guard: guard, Body: body}
}

// parsePattern parses a match-arm pattern: a wildcard/bound identifier, a
// literal, or a Some/None/Ok/Err constructor possibly binding an inner value.
func (p *Parser) parsePattern() ast.Expression {
	switch p.cur.Type {
	case token.INT:
		return p.parseIntLiteral()
	case token.FLOAT:
		return p.parseFloatLiteral()
	case token.STRING:
		return p.parseStringLiteral()
	case token.CHARLIT:
		return p.parseCharLiteral()
	case token.TRUE:
		tok := p.cur
		p.advance()
		return &ast.BoolLiteral{Token: tok, Value: true}
	case token.FALSE:
		tok := p.cur
		p.advance()
		return &ast.BoolLiteral{Token: tok, Value: false}
	case token.NIL:
		tok := p.cur
		p.advance()
		return &ast.NilLiteral{Token: tok}
	case token.NONE:
		tok := p.cur
		p.advance()
		return &ast.NoneExpr{Token: tok}
	case token.SOME:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.SomeExpr{Token: tok, Value: v}
		})
	case token.OK:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.OkExpr{Token: tok, Value: v}
		})
	case token.ERR:
		return p.parseWrapperExpr(func(tok token.Token, v ast.Expression) ast.Expression {
			return &ast.ErrExpr{Token: tok, Value: v}
		})
	case token.IDENT:
		tok := p.cur
		name := p.cur.Literal
		p.advance()
		return &ast.Ident{Token: tok, Value: name}
	default:
		// Unrecognised pattern start (the wildcard '_' is lexed as an IDENT
		// and handled above): consume one token and return a placeholder.
		tok := p.cur
		p.advance()
		return &ast.Ident{Token: tok, Value: tok.Literal}
	}
}

func (p *Parser) parseCompilesExpr() *ast.CompilesExpr {
	tok := p.cur // 'compiles'
	p.advance()
	body := p.parseBlockExpr()
	return &ast.CompilesExpr{Token: tok, Body: body}
}

func (p *Parser) parseArrayExpr() *ast.ArrayExpr {
	tok := p.cur // '['
	p.advance()

	var elems []ast.Expression
	for !p.curIs(token.RBRACKET) && !p.curIs(token.EOF) {
		elems = append(elems, p.parseExpression(precLowest))
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACKET) //nolint
	return &ast.ArrayExpr{Token: tok, Elements: elems}
}

// parseIdentOrObjectLiteral handles a bare identifier reference, or — when an
// IDENT is immediately followed by '{' — an object literal: Name { f: v, ... }.
// The brace-after-ident ambiguity with an if/while/for/match header followed
// by a block is resolved through noObjectLiteral: those headers are parsed
// with exprNoObjectLiteral, so an IDENT there is never taken as the start of
// an object literal, and parseBlockExpr clears the flag again for the body.
func (p *Parser) parseIdentOrObjectLiteral() ast.Expression {
	tok := p.cur
	name := p.cur.Literal
	p.advance()

	if p.noObjectLiteral || !p.curIs(token.LBRACE) {
		return &ast.Ident{Token: tok, Value: name}
	}

	p.advance() // consume '{'
	var names []string
	var vals []ast.Expression
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		fname := p.cur.Literal
		p.expect(token.IDENT) //nolint
		p.expect(token.COLON) //nolint
		val := p.parseExpression(precLowest)
		names = append(names, fname)
		vals = append(vals, val)
		if p.curIs(token.COMMA) {
			p.advance()
		} else {
			break
		}
	}
	p.expect(token.RBRACE) //nolint

	return &ast.ObjectLiteral{Token: tok, TypeName: name, FieldNames: names, FieldVals: vals}
}

// parseWrapperExpr parses a single-argument constructor call: KW ( expr ).
func (p *Parser) parseWrapperExpr(make func(token.Token, ast.Expression) ast.Expression) ast.Expression {
	tok := p.cur
	p.advance()
	p.expect(token.LPAREN) //nolint
	val := p.parseExpression(precLowest)
	p.expect(token.RPAREN) //nolint
	return make(tok, val)
}

func (p *Parser) parseSpawnExpr() *ast.SpawnExpr {
	tok := p.cur // 'spawn'
	p.advance()

	callExpr := p.parseExpression(precPrefix)
	call, ok := callExpr.(*ast.CallExpr)
	if !ok {
		p.errorf(tok.Pos, "expected a function call after 'spawn'")
		call = &ast.CallExpr{Token: tok, Function: callExpr}
	}
	return &ast.SpawnExpr{Token: tok, Call: call}
}

func (p *Parser) parseYieldExpr() *ast.YieldExpr {
	tok := p.cur // 'yield'
	p.advance()

	var val ast.Expression
	if !p.curIs(token.SEMICOLON) && !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		val = p.parseExpression(precLowest)
	}
	return &ast.YieldExpr{Token: tok, Value: val}
}

// parseResumeExpr parses "resume ( expr [, expr] )".
func (p *Parser) parseResumeExpr() *ast.ResumeExpr {
	tok := p.cur // 'resume'
	p.advance()
	p.expect(token.LPAREN) //nolint

	co := p.parseExpression(precLowest)

	var val ast.Expression
	if p.curIs(token.COMMA) {
		p.advance()
		val = p.parseExpression(precLowest)
	}
	p.expect(token.RPAREN) //nolint
	return &ast.ResumeExpr{Token: tok, Co: co, Value: val}
}

// ---------------------------------------------------------------------------
// Literal parsers
// ---------------------------------------------------------------------------

func (p *Parser) parseIntLiteral() *ast.IntLiteral {
	tok := p.cur
	var val int64
	var err error
	lit := tok.Literal
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		val, err = strconv.ParseInt(lit[2:], 16, 64)
	} else {
		val, err = strconv.ParseInt(lit, 10, 64)
	}
	if err != nil {
		p.errorf(tok.Pos, "integer literal %q overflows int64: %v", lit, err)
	}
	p.advance()
	return &ast.IntLiteral{Token: tok, Value: val}
}

func (p *Parser) parseFloatLiteral() *ast.FloatLiteral {
	tok := p.cur
	val, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		p.errorf(tok.Pos, "invalid float literal %q: %v", tok.Literal, err)
	}
	p.advance()
	return &ast.FloatLiteral{Token: tok, Value: val}
}

func (p *Parser) parseStringLiteral() *ast.StringLiteral {
	tok := p.cur
	val := decodeStringLiteral(tok.Literal)
	p.advance()
	return &ast.StringLiteral{Token: tok, Value: val}
}

func (p *Parser) parseCharLiteral() *ast.CharLiteral {
	tok := p.cur
	runes := []rune(decodeStringLiteral(tok.Literal))
	var r rune
	if len(runes) > 0 {
		r = runes[0]
	}
	p.advance()
	return &ast.CharLiteral{Token: tok, Value: r}
}

// decodeStringLiteral strips the surrounding quote characters the lexer
// preserves and resolves backslash escapes (\n \t \r \\ \" \' \0) to their
// runtime values.
func decodeStringLiteral(lit string) string {
	if len(lit) >= 2 {
		quote := lit[0]
		if (quote == '"' || quote == '\'') && lit[len(lit)-1] == quote {
			lit = lit[1 : len(lit)-1]
		}
	}

	var out strings.Builder
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		if c != '\\' || i+1 >= len(lit) {
			out.WriteByte(c)
			continue
		}
		i++
		switch lit[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '0':
			out.WriteByte(0)
		case '\\':
			out.WriteByte('\\')
		case '"':
			out.WriteByte('"')
		case '\'':
			out.WriteByte('\'')
		default:
			out.WriteByte(lit[i])
		}
	}
	return out.String()
}
