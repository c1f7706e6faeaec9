// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Destructor-exemption checker for the Etch language.
//
// DestructorChecker is not a must-consume-exactly-once linear discipline: it
// tracks only bindings of object types that declare a destructor ("drop"
// method) and reports those that leave scope without being moved, returned,
// or explicitly dropped, because a destructor-bearing value that is silently
// dropped on the floor is almost always a resource leak (an open file, a
// held lock, an unreleased native handle). Bindings of other types are not
// tracked.
//
// The checker works over the bindings its caller registers, independently
// of bytecode emission. lang/prover does not call it (the prover runs its
// own unused-variable check), and package abi's compile pipeline does not
// run it.
package types

import "fmt"

// DestructorErrorCode classifies a destructor-exemption violation.
type DestructorErrorCode int

const (
	// ErrUseAfterMove is returned when a binding that has already been moved
	// out (or explicitly dropped) is used a second time.
	ErrUseAfterMove DestructorErrorCode = iota

	// ErrUnconsumedDestructor is returned when a destructor-bearing binding
	// leaves scope without being moved, returned, or explicitly dropped.
	ErrUnconsumedDestructor

	// ErrDropNonDestructor is returned when drop is called on a binding whose
	// type declares no destructor.
	ErrDropNonDestructor

	// ErrUnknownBinding is returned when a name is referenced that was never
	// bound in this scope.
	ErrUnknownBinding
)

func (c DestructorErrorCode) String() string {
	switch c {
	case ErrUseAfterMove:
		return "use-after-move"
	case ErrUnconsumedDestructor:
		return "unconsumed-destructor"
	case ErrDropNonDestructor:
		return "drop-non-destructor"
	case ErrUnknownBinding:
		return "unknown-binding"
	default:
		return fmt.Sprintf("destructor-error(%d)", int(c))
	}
}

// DestructorError records a single destructor-exemption violation.
type DestructorError struct {
	Code    DestructorErrorCode
	Name    string // the binding involved
	Message string
}

func (e *DestructorError) Error() string {
	return fmt.Sprintf("destructor check error [%s] for %q: %s", e.Code, e.Name, e.Message)
}

// bindingState tracks the consumption state of a single binding.
type bindingState struct {
	typ   Type
	moved bool // true once the value has been moved, returned, or dropped
}

// DestructorChecker verifies destructor-exemption discipline within a single
// function scope.
//
// Usage:
//
//	dc := NewDestructorChecker()
//	dc.Bind("file", fileObjectType) // introduce binding
//	if err := dc.Use("file"); err != nil { ... }   // moved out / returned
//	errs := dc.CheckAllConsumed()                  // must be empty
type DestructorChecker struct {
	bindings map[string]*bindingState
}

// NewDestructorChecker returns a fresh checker with an empty scope.
func NewDestructorChecker() *DestructorChecker {
	return &DestructorChecker{
		bindings: make(map[string]*bindingState),
	}
}

// Bind introduces a new binding with the given name and type.
// If a binding with the same name already exists it is silently replaced
// (shadowing), which is safe as long as the previous binding was consumed.
func (dc *DestructorChecker) Bind(name string, typ Type) {
	dc.bindings[name] = &bindingState{typ: typ, moved: false}
}

// Use marks the binding named name as consumed (moved out or returned).
//
// Returns an error if:
//   - The name is not bound in this scope (ErrUnknownBinding).
//   - The binding has already been moved (ErrUseAfterMove).
//
// For types with no destructor Use is always successful; calling it multiple
// times on such a binding is permitted because those values may be used
// freely.
func (dc *DestructorChecker) Use(name string) error {
	b, ok := dc.bindings[name]
	if !ok {
		return &DestructorError{
			Code:    ErrUnknownBinding,
			Name:    name,
			Message: fmt.Sprintf("no binding named %q in current scope", name),
		}
	}

	if !b.typ.HasDestructor() {
		return nil
	}

	if b.moved {
		return &DestructorError{
			Code:    ErrUseAfterMove,
			Name:    name,
			Message: fmt.Sprintf("%q has already been moved; cannot use after move", name),
		}
	}

	b.moved = true
	return nil
}

// Drop explicitly runs the destructor of the binding named name.
//
// Returns an error if:
//   - The name is not bound in this scope (ErrUnknownBinding).
//   - The binding's type declares no destructor (ErrDropNonDestructor) —
//     dropping such a value is always a no-op worth flagging.
//   - The binding has already been moved (ErrUseAfterMove).
func (dc *DestructorChecker) Drop(name string) error {
	b, ok := dc.bindings[name]
	if !ok {
		return &DestructorError{
			Code:    ErrUnknownBinding,
			Name:    name,
			Message: fmt.Sprintf("no binding named %q in current scope", name),
		}
	}

	if !b.typ.HasDestructor() {
		return &DestructorError{
			Code:    ErrDropNonDestructor,
			Name:    name,
			Message: fmt.Sprintf("%q has type %s which declares no destructor; drop is unnecessary", name, b.typ),
		}
	}

	if b.moved {
		return &DestructorError{
			Code:    ErrUseAfterMove,
			Name:    name,
			Message: fmt.Sprintf("%q has already been moved; cannot drop after move", name),
		}
	}

	b.moved = true
	return nil
}

// CheckAllConsumed verifies that every destructor-bearing binding in scope
// has been consumed (moved, returned, or dropped). It returns one
// DestructorError per violation.
//
// Call this at the end of a function or block scope.
func (dc *DestructorChecker) CheckAllConsumed() []DestructorError {
	var errs []DestructorError
	for name, b := range dc.bindings {
		if b.typ.HasDestructor() && !b.moved {
			errs = append(errs, DestructorError{
				Code:    ErrUnconsumedDestructor,
				Name:    name,
				Message: fmt.Sprintf("%q of type %s was never consumed (add an explicit drop, move it out, or return it)", name, b.typ),
			})
		}
	}
	return errs
}

// ---- FnScope ---------------------------------------------------------------

// FnScope models a function body for the purposes of destructor checking.
// It holds the checker and the sequence of operations performed.
type FnScope struct {
	Name    string
	Checker *DestructorChecker
}

// NewFnScope creates a FnScope for function name.
func NewFnScope(name string) *FnScope {
	return &FnScope{
		Name:    name,
		Checker: NewDestructorChecker(),
	}
}

// CheckFunction runs the full destructor-exemption check on fn and returns
// all violations. It is the checker's top-level entry point; lang/prover
// does not call it.
func (dc *DestructorChecker) CheckFunction(fn *FnScope) []DestructorError {
	return fn.Checker.CheckAllConsumed()
}
