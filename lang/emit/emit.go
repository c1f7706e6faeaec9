// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Package emit translates an Etch AST directly into register-bytecode for
// lang/vm, with no separate SSA intermediate representation. A single
// recursive walk over lang/ast assigns registers, resolves function and
// type-layout indices, and backpatches forward jumps.
//
// The bytecode format matches lang/vm/opcodes.go exactly:
//
//	[opcode:8][a:8][b:8][c:8]      — 3-address form
//	[opcode:8][a:8][immediate:16]  — wide-immediate form
package emit

import (
	"fmt"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/etch-lang/etch/lang/ast"
	"github.com/etch-lang/etch/lang/token"
	"github.com/etch-lang/etch/lang/vm"
)

// GlobalInitFuncName is the synthetic zero-parameter function lang/emit
// generates when a program declares one or more top-level `let` bindings:
// it runs each binding's initializer in declaration order, storing the
// result to that binding's global slot, before "main" runs. package abi
// looks it up by this exact name to drive it from Execute/CallFunction.
const GlobalInitFuncName = "<global>"

// Program is a fully compiled, ready-to-run Etch program.
type Program struct {
	Code      []byte
	Constants []vm.Value
	Strings   [][]byte
	Functions []FuncEntry
	Types     []vm.ObjectLayout
	Lines     []LineEntry

	// Globals names each global slot, indexed the same way as
	// OpLoadGlobal/OpStoreGlobal's imm16 — Globals[slot] is the binding's
	// declared name.
	Globals []string
}

// FuncEntry describes a compiled function's location and arity.
type FuncEntry struct {
	Name        string
	Offset      uint32 // byte offset into Program.Code
	NumParams   int
	MaxRegister int // highest register index this function's body assigns
}

// LineEntry maps a byte offset into Program.Code to the source position of
// the statement that produced the instruction starting there, ascending by
// PC. It exists for package debug's poll hook, which needs to translate a
// running VM's program counter back into a (file, line) a breakpoint set
// can be keyed on.
type LineEntry struct {
	PC  uint32
	Pos token.Position
}

// binding is a local variable's storage slot within the function currently
// being compiled.
type binding struct {
	reg       uint8
	isRef     bool   // whether the value occupies a heap cell needing RefDec at scope exit
	typeName  string // declared object type name, if statically known; "" otherwise
}

// scope is one lexical block's bindings, popped (and its bindings released)
// when the block ends.
type scope struct {
	vars        map[string]*binding
	savedNextReg uint8
}

// loopCtx tracks the backpatch targets for break/continue inside the
// innermost enclosing loop.
type loopCtx struct {
	breakPatches    []int // instruction indices of forward jumps to patch at loop exit
	continuePatches []int // instruction indices of forward jumps to patch at the continue target
}

// Emitter holds all state accumulated while compiling one Program.
type Emitter struct {
	code      []byte
	constants []vm.Value
	constKey  *fastcache.Cache // interns repeated constants by serialized key
	constSeen map[string]int

	strings    [][]byte
	stringIdx  map[string]int

	functions []FuncEntry
	funcIndex map[string]int

	types        []vm.ObjectLayout
	typeIndex    map[string]int
	objFields    map[string][]string       // type name -> ordered field names
	objFieldType map[string]map[string]string // type name -> field name -> declared object type (if any)

	globalIndex map[string]int // binding name -> global slot
	globalOrder []*ast.GlobalDecl

	// per-function state, reset in beginFunction
	scopes     []*scope
	nextReg    uint8
	maxRegSeen uint8
	loops      []*loopCtx

	lines []LineEntry

	errs []error
}

// NewEmitter returns an Emitter ready to compile a Program.
func NewEmitter() *Emitter {
	return &Emitter{
		constKey:     fastcache.New(1 << 20),
		constSeen:    make(map[string]int),
		stringIdx:    make(map[string]int),
		funcIndex:    make(map[string]int),
		typeIndex:    make(map[string]int),
		objFields:    make(map[string][]string),
		objFieldType: make(map[string]map[string]string),
		globalIndex:  make(map[string]int),
	}
}

// Emit compiles prog to bytecode.
func Emit(prog *ast.Program) (*Program, error) {
	e := NewEmitter()
	e.registerDeclarations(prog)
	if len(e.errs) > 0 {
		return nil, e.errs[0]
	}
	e.emitDeclarations(prog)
	if len(e.errs) > 0 {
		return nil, e.errs[0]
	}
	globals := make([]string, len(e.globalOrder))
	for _, d := range e.globalOrder {
		globals[e.globalIndex[d.Name.Value]] = d.Name.Value
	}

	return &Program{
		Code:      e.code,
		Constants: e.constants,
		Strings:   e.strings,
		Functions: e.functions,
		Types:     e.types,
		Lines:     e.lines,
		Globals:   globals,
	}, nil
}

func (e *Emitter) fail(format string, args ...interface{}) {
	e.errs = append(e.errs, fmt.Errorf(format, args...))
}

// ---------------------------------------------------------------------------
// Pass 1: assign function indices and object layouts up front, so forward
// references (a function calling one declared later, a type used before its
// declaration) resolve without a second compilation pass.
// ---------------------------------------------------------------------------

func (e *Emitter) registerDeclarations(prog *ast.Program) {
	for _, d := range prog.Declarations {
		switch decl := d.(type) {
		case *ast.FnDecl:
			e.registerFunc(decl.Name, len(decl.Params))
		case *ast.ObjectDecl:
			e.registerObjectType(decl)
		case *ast.ImplDecl:
			for _, m := range decl.Methods {
				e.registerFunc(decl.TypeName+"::"+m.Name, len(m.Params)+1)
			}
		case *ast.GlobalDecl:
			e.registerGlobal(decl)
		}
	}
	// Second sub-pass: object methods declared inline and destructors, which
	// need the type table (built above) to already exist.
	for _, d := range prog.Declarations {
		if decl, ok := d.(*ast.ObjectDecl); ok {
			for _, m := range decl.Methods {
				e.registerFunc(decl.Name+"::"+m.Name, len(m.Params)+1)
			}
			if decl.Destructor != nil {
				e.registerFunc(decl.Name+"::drop", 1)
			}
		}
	}
	if len(e.globalOrder) > 0 {
		e.registerFunc(GlobalInitFuncName, 0)
	}
}

// registerGlobal assigns decl's binding a global slot, in first-seen order.
func (e *Emitter) registerGlobal(decl *ast.GlobalDecl) {
	if _, ok := e.globalIndex[decl.Name.Value]; ok {
		e.fail("emit: global %q declared more than once", decl.Name.Value)
		return
	}
	e.globalIndex[decl.Name.Value] = len(e.globalOrder)
	e.globalOrder = append(e.globalOrder, decl)
}

func (e *Emitter) registerFunc(name string, numParams int) {
	if _, ok := e.funcIndex[name]; ok {
		return
	}
	e.funcIndex[name] = len(e.functions)
	e.functions = append(e.functions, FuncEntry{Name: name, NumParams: numParams})
}

func (e *Emitter) registerObjectType(decl *ast.ObjectDecl) {
	fieldNames := make([]string, len(decl.Fields))
	fieldTypes := make(map[string]string)
	for i, f := range decl.Fields {
		fieldNames[i] = f.Name
		if name, ok := objectTypeName(f.Type); ok {
			fieldTypes[f.Name] = name
		}
	}
	e.objFields[decl.Name] = fieldNames
	e.objFieldType[decl.Name] = fieldTypes

	destructorFn := -1
	if decl.Destructor != nil {
		// The real index is patched in once every function has a slot (see
		// registerDeclarations' second sub-pass); -2 is a safe placeholder
		// consulted only after that pass completes.
		destructorFn = -2
	}
	e.typeIndex[decl.Name] = len(e.types)
	e.types = append(e.types, vm.ObjectLayout{FieldCount: len(decl.Fields), DestructorFn: destructorFn})
}

// objectTypeName reports the bare type name of a TypeExpr when it names a
// user-defined object type directly (not through array/ref/option wrapping).
func objectTypeName(t ast.TypeExpr) (string, bool) {
	switch te := t.(type) {
	case *ast.NamedType:
		if !isPrimitiveTypeName(te.Name) {
			return te.Name, true
		}
	case *ast.GenericType:
		return te.Name, true
	}
	return "", false
}

func isPrimitiveTypeName(name string) bool {
	switch name {
	case "void", "bool", "char", "int", "float", "string":
		return true
	}
	return false
}

// typeIsRefCounted reports whether a value of the given declared type lives
// in a heap cell (and therefore needs OpRefDec at scope exit) as opposed to
// being an inline register value.
func typeIsRefCounted(t ast.TypeExpr) bool {
	switch te := t.(type) {
	case *ast.NamedType:
		switch te.Name {
		case "void", "bool", "char", "int", "float":
			return false
		}
		return true // string and user object types are heap cells
	case nil:
		return false
	default:
		return true // array/ref/weak/option/result/tuple/union/coroutine/channel/fn/generic
	}
}

// ---------------------------------------------------------------------------
// Pass 2: emit code.
// ---------------------------------------------------------------------------

func (e *Emitter) emitDeclarations(prog *ast.Program) {
	// Resolve destructor function indices now that every function has a
	// fixed slot.
	for _, d := range prog.Declarations {
		if decl, ok := d.(*ast.ObjectDecl); ok && decl.Destructor != nil {
			idx := e.funcIndex[decl.Name+"::drop"]
			e.types[e.typeIndex[decl.Name]].DestructorFn = idx
		}
	}

	e.emitGlobalInit()

	for _, d := range prog.Declarations {
		switch decl := d.(type) {
		case *ast.FnDecl:
			e.emitFunction(decl.Name, decl.Params, decl.Body)
		case *ast.ImplDecl:
			for _, m := range decl.Methods {
				e.emitMethod(decl.TypeName, m)
			}
		case *ast.ObjectDecl:
			for _, m := range decl.Methods {
				e.emitMethod(decl.Name, m)
			}
			if decl.Destructor != nil {
				e.emitMethod(decl.Name, decl.Destructor)
			}
		}
	}
}

// emitGlobalInit compiles the synthetic GlobalInitFuncName function: each
// global's initializer, evaluated in declaration order and stored to its
// slot. A host's SetGlobal override pre-marks its slot via
// vm.VM.SetGlobalOverride, which makes the corresponding OpStoreGlobal here
// a no-op (see lang/vm.VM's OpStoreGlobal handler) — the override always
// wins over the program's own initializer.
func (e *Emitter) emitGlobalInit() {
	if len(e.globalOrder) == 0 {
		return
	}
	idx, ok := e.funcIndex[GlobalInitFuncName]
	if !ok {
		e.fail("emit: %s was not pre-registered", GlobalInitFuncName)
		return
	}
	e.functions[idx].Offset = uint32(len(e.code))

	e.nextReg = 2
	e.maxRegSeen = e.nextReg
	e.scopes = []*scope{{vars: make(map[string]*binding)}}
	e.loops = nil

	for _, decl := range e.globalOrder {
		if decl.Value == nil {
			continue
		}
		slot := e.globalIndex[decl.Name.Value]
		valReg := e.emitExpr(decl.Value)
		e.emitWide(vm.OpStoreGlobal, valReg, uint16(slot))
	}
	e.popScope()
	e.emitOp(vm.OpReturn, 0, 0, 0)
	e.functions[idx].MaxRegister = int(e.maxRegSeen) - 1
}

func (e *Emitter) emitMethod(typeName string, m *ast.FnDecl) {
	self := ast.Param{Name: "self", Type: &ast.NamedType{Name: typeName}}
	params := append([]ast.Param{self}, m.Params...)
	e.emitFunction(typeName+"::"+m.Name, params, m.Body)
}

func (e *Emitter) emitFunction(name string, params []ast.Param, body *ast.BlockExpr) {
	idx, ok := e.funcIndex[name]
	if !ok {
		e.fail("emit: function %q was not pre-registered", name)
		return
	}
	e.functions[idx].Offset = uint32(len(e.code))

	e.nextReg = 2
	e.maxRegSeen = e.nextReg
	e.scopes = []*scope{{vars: make(map[string]*binding)}}
	e.loops = nil

	for _, p := range params {
		reg := e.alloc()
		e.bind(p.Name, reg, typeIsRefCounted(p.Type), typeNameOf(p.Type))
	}

	resultReg := e.emitBlock(body)
	e.popScope() // release any ref-counted params not consumed by a return

	if resultReg != 0 {
		e.emitOp(vm.OpReturn, resultReg, 0, 0)
	} else {
		e.emitOp(vm.OpReturn, 0, 0, 0)
	}
	e.functions[idx].MaxRegister = int(e.maxRegSeen) - 1
}

func typeNameOf(t ast.TypeExpr) string {
	name, _ := objectTypeName(t)
	return name
}

// ---------------------------------------------------------------------------
// Register / constant / scope bookkeeping
// ---------------------------------------------------------------------------

func (e *Emitter) alloc() uint8 {
	r := e.nextReg
	if int(e.nextReg) >= 255 {
		e.fail("emit: function exceeds 254 live registers")
		return r
	}
	e.nextReg++
	if e.nextReg > e.maxRegSeen {
		e.maxRegSeen = e.nextReg
	}
	return r
}

func (e *Emitter) pushScope() {
	e.scopes = append(e.scopes, &scope{vars: make(map[string]*binding), savedNextReg: e.nextReg})
}

// popScope emits OpRefDec for every ref-counted binding introduced in the
// innermost scope (in the scope map's iteration order, so the order among
// those bindings is not defined) and restores the register
// high-water mark for reuse by later sibling code in the same function.
func (e *Emitter) popScope() {
	s := e.scopes[len(e.scopes)-1]
	e.scopes = e.scopes[:len(e.scopes)-1]
	for _, b := range s.vars {
		if b.isRef {
			e.emitOp(vm.OpRefDec, b.reg, 0, 0)
		}
	}
	e.nextReg = s.savedNextReg
}

func (e *Emitter) bind(name string, reg uint8, isRef bool, typeName string) {
	s := e.scopes[len(e.scopes)-1]
	s.vars[name] = &binding{reg: reg, isRef: isRef, typeName: typeName}
}

func (e *Emitter) lookup(name string) (*binding, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if b, ok := e.scopes[i].vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// internConst deduplicates identical constant-pool entries via a fastcache
// keyed on the Value's serialized form, matching how a compiler's constant
// pool is ordinarily interned.
func (e *Emitter) internConst(v vm.Value) uint16 {
	key := []byte{byte(v.Tag), byte(v.Bits), byte(v.Bits >> 8), byte(v.Bits >> 16), byte(v.Bits >> 24),
		byte(v.Bits >> 32), byte(v.Bits >> 40), byte(v.Bits >> 48), byte(v.Bits >> 56)}
	if buf, ok := e.constKey.HasGet(nil, key); ok && len(buf) == 2 {
		return uint16(buf[0]) | uint16(buf[1])<<8
	}
	idx := uint16(len(e.constants))
	e.constants = append(e.constants, v)
	e.constKey.Set(key, []byte{byte(idx), byte(idx >> 8)})
	return idx
}

func (e *Emitter) internString(s string) uint16 {
	if idx, ok := e.stringIdx[s]; ok {
		return uint16(idx)
	}
	idx := len(e.strings)
	e.strings = append(e.strings, []byte(s))
	e.stringIdx[s] = idx
	return uint16(idx)
}

// ---------------------------------------------------------------------------
// Instruction emission and backpatching
// ---------------------------------------------------------------------------

func (e *Emitter) here() int { return len(e.code) / 4 }

// recordLine notes that the next instruction emitted begins the code for
// the statement at pos, deduplicating consecutive entries at the same PC
// (a zero-instruction statement, or two calls before any code is emitted)
// so the table stays proportional to statement count, not call count.
func (e *Emitter) recordLine(pos token.Position) {
	pc := uint32(e.here() * 4)
	if n := len(e.lines); n > 0 && e.lines[n-1].PC == pc {
		e.lines[n-1].Pos = pos
		return
	}
	e.lines = append(e.lines, LineEntry{PC: pc, Pos: pos})
}

func (e *Emitter) emitOp(op vm.Opcode, a, b, c uint8) {
	e.code = append(e.code, byte(op), a, b, c)
}

func (e *Emitter) emitWide(op vm.Opcode, a uint8, imm uint16) {
	e.code = append(e.code, byte(op), a, byte(imm>>8), byte(imm))
}

// emitJump emits a placeholder wide-immediate jump and returns its
// instruction index so the caller can patch the target once known.
func (e *Emitter) emitJump(op vm.Opcode, a uint8) int {
	pos := e.here()
	e.emitWide(op, a, 0)
	return pos
}

func (e *Emitter) patchJump(pos int) {
	target := uint16(e.here())
	e.code[pos*4+2] = byte(target >> 8)
	e.code[pos*4+3] = byte(target)
}

func (e *Emitter) patchJumpTo(pos, targetInstr int) {
	target := uint16(targetInstr)
	e.code[pos*4+2] = byte(target >> 8)
	e.code[pos*4+3] = byte(target)
}
