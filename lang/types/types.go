// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package types defines the Etch language type system.
//
// Design principles:
//   - Value types (bool, char, int, float) are freely copyable.
//   - Object types are heap-allocated and reference-counted; they are never
//     implicitly duplicated by assignment, only their handle is.
//   - Object types that declare a destructor can be tracked by
//     DestructorChecker (linear.go), which flags a binding that goes out of
//     scope without being consumed, moved, or dropped — an exemption-only
//     sweep, not a must-consume-exactly-once linear discipline. The safety
//     prover does not run that checker.
//   - Bytecode-level verification (lang/prover's Verify) checks only the
//     structure of emitted instructions: known opcodes, in-range pool and
//     table indices, jump targets, and function terminators. It does not
//     re-derive type or nilability facts.
package types

import (
	"fmt"
	"strings"
)

// Kind categorizes the fundamental shape of a type.
type Kind int

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindInt
	KindFloat
	KindString
	KindArray     // array[T]
	KindRef       // ref[T]
	KindWeak      // weak[T]
	KindOption    // option[T]
	KindResult    // result[T, E]
	KindTuple     // tuple[T1, T2, ...]
	KindUnion     // union[T1, T2, ...]
	KindEnum
	KindObject    // object { fields, methods, optional destructor }
	KindCoroutine // coroutine[T]
	KindChannel   // channel[T]
	KindFn
	KindGeneric // unresolved type parameter, e.g. T in Box[T]
	KindInferred
)

var kindNames = [...]string{
	KindVoid:      "void",
	KindBool:      "bool",
	KindChar:      "char",
	KindInt:       "int",
	KindFloat:     "float",
	KindString:    "string",
	KindArray:     "array",
	KindRef:       "ref",
	KindWeak:      "weak",
	KindOption:    "option",
	KindResult:    "result",
	KindTuple:     "tuple",
	KindUnion:     "union",
	KindEnum:      "enum",
	KindObject:    "object",
	KindCoroutine: "coroutine",
	KindChannel:   "channel",
	KindFn:        "fn",
	KindGeneric:   "generic",
	KindInferred:  "inferred",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Type is the interface that all Etch types implement.
type Type interface {
	// Kind returns the fundamental category of this type.
	Kind() Kind

	// String returns the human-readable representation.
	String() string

	// Equals reports whether two types are structurally identical.
	Equals(other Type) bool

	// HasDestructor reports whether values of this type own a destructor
	// ("drop" method); DestructorChecker tracks bindings of such types.
	HasDestructor() bool

	// IsValueType reports whether values of this type are copied by value
	// on assignment, rather than referring to a shared heap allocation.
	IsValueType() bool

	// Size returns the size of the type in bytes, used for VM register and
	// heap-cell layout. Returns -1 for dynamically-sized types.
	Size() int
}

// ---- Primitive types -------------------------------------------------------

// primitiveType is the concrete implementation for all built-in scalar types.
type primitiveType struct {
	kind Kind
}

func (p *primitiveType) Kind() Kind           { return p.kind }
func (p *primitiveType) HasDestructor() bool  { return false }
func (p *primitiveType) IsValueType() bool    { return true }

func (p *primitiveType) String() string {
	return p.kind.String()
}

func (p *primitiveType) Equals(other Type) bool {
	if other == nil {
		return false
	}
	return p.kind == other.Kind()
}

func (p *primitiveType) Size() int {
	switch p.kind {
	case KindVoid:
		return 0
	case KindBool, KindChar:
		return 1
	case KindInt, KindFloat:
		return 8
	case KindString:
		return -1 // dynamically sized, heap-backed
	default:
		return -1
	}
}

// Pre-allocated singletons for all primitive types.
var (
	Void   Type = &primitiveType{kind: KindVoid}
	Bool   Type = &primitiveType{kind: KindBool}
	Char   Type = &primitiveType{kind: KindChar}
	Int    Type = &primitiveType{kind: KindInt}
	Float  Type = &primitiveType{kind: KindFloat}
	String Type = &primitiveType{kind: KindString}
)

// ---- Field -----------------------------------------------------------------

// Field represents a named field inside an object type.
type Field struct {
	Name   string
	Type   Type
	Public bool
}

func (f Field) String() string {
	pub := ""
	if f.Public {
		pub = "pub "
	}
	return fmt.Sprintf("%s%s: %s", pub, f.Name, f.Type)
}

// ---- Composite types -------------------------------------------------------

// ArrayType is array[Elem] — a dynamically-sized, growable sequence.
type ArrayType struct {
	Elem Type
}

func (a *ArrayType) Kind() Kind          { return KindArray }
func (a *ArrayType) HasDestructor() bool { return a.Elem.HasDestructor() }
func (a *ArrayType) IsValueType() bool   { return false } // arrays are heap-allocated
func (a *ArrayType) Size() int           { return -1 }
func (a *ArrayType) String() string      { return fmt.Sprintf("array[%s]", a.Elem) }
func (a *ArrayType) Equals(other Type) bool {
	if other == nil || other.Kind() != KindArray {
		return false
	}
	return a.Elem.Equals(other.(*ArrayType).Elem)
}

// RefType is ref[T] — a strong, reference-counted heap reference.
type RefType struct {
	Inner Type
}

func (r *RefType) Kind() Kind          { return KindRef }
func (r *RefType) HasDestructor() bool { return false } // the referent's destructor is tracked, not the handle
func (r *RefType) IsValueType() bool   { return false }
func (r *RefType) Size() int           { return 8 } // pointer width on the 64-bit VM heap
func (r *RefType) String() string      { return fmt.Sprintf("ref[%s]", r.Inner) }
func (r *RefType) Equals(other Type) bool {
	o, ok := other.(*RefType)
	if !ok {
		return false
	}
	return r.Inner.Equals(o.Inner)
}

// WeakType is weak[T] — a non-owning reference that does not keep its
// referent alive and must be upgraded (to option[ref[T]]) before use.
type WeakType struct {
	Inner Type
}

func (w *WeakType) Kind() Kind          { return KindWeak }
func (w *WeakType) HasDestructor() bool { return false }
func (w *WeakType) IsValueType() bool   { return false }
func (w *WeakType) Size() int           { return 8 }
func (w *WeakType) String() string      { return fmt.Sprintf("weak[%s]", w.Inner) }
func (w *WeakType) Equals(other Type) bool {
	o, ok := other.(*WeakType)
	if !ok {
		return false
	}
	return w.Inner.Equals(o.Inner)
}

// OptionType is option[T]: either Some(T) or None.
type OptionType struct {
	Inner Type
}

func (o *OptionType) Kind() Kind          { return KindOption }
func (o *OptionType) HasDestructor() bool { return o.Inner.HasDestructor() }
func (o *OptionType) IsValueType() bool   { return o.Inner.IsValueType() }
func (o *OptionType) Size() int           { return -1 } // tag + payload
func (o *OptionType) String() string      { return fmt.Sprintf("option[%s]", o.Inner) }
func (o *OptionType) Equals(other Type) bool {
	other2, ok := other.(*OptionType)
	if !ok {
		return false
	}
	return o.Inner.Equals(other2.Inner)
}

// ResultType is result[T, E]: either Ok(T) or Err(E).
type ResultType struct {
	Ok  Type
	Err Type
}

func (r *ResultType) Kind() Kind          { return KindResult }
func (r *ResultType) HasDestructor() bool { return r.Ok.HasDestructor() || r.Err.HasDestructor() }
func (r *ResultType) IsValueType() bool   { return false } // tagged union, always heap-boxed
func (r *ResultType) Size() int           { return -1 }
func (r *ResultType) String() string      { return fmt.Sprintf("result[%s, %s]", r.Ok, r.Err) }
func (r *ResultType) Equals(other Type) bool {
	o, ok := other.(*ResultType)
	if !ok {
		return false
	}
	return r.Ok.Equals(o.Ok) && r.Err.Equals(o.Err)
}

// TupleType is a fixed-arity positional product type.
type TupleType struct {
	Elems []Type
}

func (t *TupleType) Kind() Kind { return KindTuple }
func (t *TupleType) HasDestructor() bool {
	for _, e := range t.Elems {
		if e.HasDestructor() {
			return true
		}
	}
	return false
}
func (t *TupleType) IsValueType() bool {
	for _, e := range t.Elems {
		if !e.IsValueType() {
			return false
		}
	}
	return true
}
func (t *TupleType) Size() int {
	total := 0
	for _, e := range t.Elems {
		sz := e.Size()
		if sz < 0 {
			return -1
		}
		total += sz
	}
	return total
}
func (t *TupleType) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return fmt.Sprintf("tuple[%s]", strings.Join(parts, ", "))
}
func (t *TupleType) Equals(other Type) bool {
	o, ok := other.(*TupleType)
	if !ok || len(t.Elems) != len(o.Elems) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equals(o.Elems[i]) {
			return false
		}
	}
	return true
}

// UnionType is an untagged union of alternative types.
type UnionType struct {
	Elems []Type
}

func (u *UnionType) Kind() Kind          { return KindUnion }
func (u *UnionType) HasDestructor() bool { return false } // untagged: no destructor can run safely
func (u *UnionType) IsValueType() bool   { return false }
func (u *UnionType) Size() int {
	max := 0
	for _, e := range u.Elems {
		sz := e.Size()
		if sz < 0 {
			return -1
		}
		if sz > max {
			max = sz
		}
	}
	return max
}
func (u *UnionType) String() string {
	parts := make([]string, len(u.Elems))
	for i, e := range u.Elems {
		parts[i] = e.String()
	}
	return fmt.Sprintf("union[%s]", strings.Join(parts, ", "))
}
func (u *UnionType) Equals(other Type) bool {
	o, ok := other.(*UnionType)
	if !ok || len(u.Elems) != len(o.Elems) {
		return false
	}
	for i := range u.Elems {
		if !u.Elems[i].Equals(o.Elems[i]) {
			return false
		}
	}
	return true
}

// Variant represents one arm of an enum.
type Variant struct {
	Name   string
	Fields []Type // empty for unit variants
}

// EnumType is a named sum type.
type EnumType struct {
	Name     string
	Variants []Variant
}

func (e *EnumType) Kind() Kind { return KindEnum }
func (e *EnumType) HasDestructor() bool {
	for _, v := range e.Variants {
		for _, f := range v.Fields {
			if f.HasDestructor() {
				return true
			}
		}
	}
	return false
}
func (e *EnumType) IsValueType() bool { return false }
func (e *EnumType) Size() int         { return -1 } // discriminant + largest variant payload
func (e *EnumType) String() string {
	names := make([]string, len(e.Variants))
	for i, v := range e.Variants {
		names[i] = v.Name
	}
	return fmt.Sprintf("enum %s { %s }", e.Name, strings.Join(names, " | "))
}
func (e *EnumType) Equals(other Type) bool {
	o, ok := other.(*EnumType)
	if !ok || e.Name != o.Name || len(e.Variants) != len(o.Variants) {
		return false
	}
	for i := range e.Variants {
		if e.Variants[i].Name != o.Variants[i].Name {
			return false
		}
	}
	return true
}

// ObjectType is a named, reference-counted, heap-allocated product type.
//
// An object that declares a destructor (HasDestructor true) is tracked by
// DestructorChecker, which reports a binding of such a value that leaves its
// scope without being moved out, returned, or explicitly dropped. The safety
// prover does not apply this rule.
type ObjectType struct {
	Name       string
	Fields     []Field
	Destructor bool
}

func (o *ObjectType) Kind() Kind          { return KindObject }
func (o *ObjectType) HasDestructor() bool { return o.Destructor }
func (o *ObjectType) IsValueType() bool   { return false }
func (o *ObjectType) Size() int           { return 8 } // heap handle width
func (o *ObjectType) String() string {
	parts := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("object %s { %s }", o.Name, strings.Join(parts, ", "))
}
func (o *ObjectType) Equals(other Type) bool {
	t, ok := other.(*ObjectType)
	if !ok || o.Name != t.Name || len(o.Fields) != len(t.Fields) {
		return false
	}
	for i := range o.Fields {
		if o.Fields[i].Name != t.Fields[i].Name || !o.Fields[i].Type.Equals(t.Fields[i].Type) {
			return false
		}
	}
	return true
}

// CoroutineType is coroutine[T]: a suspendable computation that yields and
// ultimately returns a value of type T.
type CoroutineType struct {
	Yield Type
}

func (c *CoroutineType) Kind() Kind          { return KindCoroutine }
func (c *CoroutineType) HasDestructor() bool { return false }
func (c *CoroutineType) IsValueType() bool   { return false }
func (c *CoroutineType) Size() int           { return 8 } // coroutine handle
func (c *CoroutineType) String() string      { return fmt.Sprintf("coroutine[%s]", c.Yield) }
func (c *CoroutineType) Equals(other Type) bool {
	o, ok := other.(*CoroutineType)
	if !ok {
		return false
	}
	return c.Yield.Equals(o.Yield)
}

// ChannelType is channel[T]: a bounded queue used to hand values between
// coroutines cooperatively scheduled on the same VM thread.
type ChannelType struct {
	Elem Type
}

func (c *ChannelType) Kind() Kind          { return KindChannel }
func (c *ChannelType) HasDestructor() bool { return false }
func (c *ChannelType) IsValueType() bool   { return false }
func (c *ChannelType) Size() int           { return 8 } // channel handle
func (c *ChannelType) String() string      { return fmt.Sprintf("channel[%s]", c.Elem) }
func (c *ChannelType) Equals(other Type) bool {
	o, ok := other.(*ChannelType)
	if !ok {
		return false
	}
	return c.Elem.Equals(o.Elem)
}

// FnType describes a function signature.
type FnType struct {
	Params []Type
	Return Type
}

func (f *FnType) Kind() Kind          { return KindFn }
func (f *FnType) HasDestructor() bool { return false }
func (f *FnType) IsValueType() bool   { return true }
func (f *FnType) Size() int           { return 8 } // function pointer / closure handle
func (f *FnType) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	ret := "void"
	if f.Return != nil {
		ret = f.Return.String()
	}
	return fmt.Sprintf("fn(%s) -> %s", strings.Join(params, ", "), ret)
}
func (f *FnType) Equals(other Type) bool {
	o, ok := other.(*FnType)
	if !ok || len(f.Params) != len(o.Params) {
		return false
	}
	for i := range f.Params {
		if !f.Params[i].Equals(o.Params[i]) {
			return false
		}
	}
	retEq := (f.Return == nil && o.Return == nil) ||
		(f.Return != nil && o.Return != nil && f.Return.Equals(o.Return))
	return retEq
}

// GenericType is an unresolved type parameter occurring in a generic
// declaration, e.g. T in object Box[T] { value: T }.
type GenericType struct {
	Name string
}

func (g *GenericType) Kind() Kind          { return KindGeneric }
func (g *GenericType) HasDestructor() bool { return false }
func (g *GenericType) IsValueType() bool   { return true }
func (g *GenericType) Size() int           { return -1 }
func (g *GenericType) String() string      { return g.Name }
func (g *GenericType) Equals(other Type) bool {
	o, ok := other.(*GenericType)
	return ok && g.Name == o.Name
}

// InferredType is a placeholder installed by the checker while it solves for
// a binding's type from context (e.g. an untyped `let` initialised from a
// call whose return type is itself still being inferred).
type InferredType struct {
	Resolved Type // nil until inference completes
}

func (i *InferredType) Kind() Kind {
	if i.Resolved != nil {
		return i.Resolved.Kind()
	}
	return KindInferred
}
func (i *InferredType) HasDestructor() bool {
	return i.Resolved != nil && i.Resolved.HasDestructor()
}
func (i *InferredType) IsValueType() bool {
	return i.Resolved == nil || i.Resolved.IsValueType()
}
func (i *InferredType) Size() int {
	if i.Resolved != nil {
		return i.Resolved.Size()
	}
	return -1
}
func (i *InferredType) String() string {
	if i.Resolved != nil {
		return i.Resolved.String()
	}
	return "<inferred>"
}
func (i *InferredType) Equals(other Type) bool {
	if i.Resolved != nil {
		return i.Resolved.Equals(other)
	}
	o, ok := other.(*InferredType)
	return ok && o.Resolved == nil
}
