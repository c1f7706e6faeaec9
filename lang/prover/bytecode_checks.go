// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package prover performs Move-inspired bytecode-level safety checks on a
// compiled program, the last line of defense before a program reaches the
// VM: even if the emitter has a bug, a program that fails these checks never
// runs.
package prover

import (
	"fmt"

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

// VerifyError describes a single bytecode verification failure.
type VerifyError struct {
	Offset  int
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at offset %d: %s", e.Offset, e.Message)
}

// Verify checks a compiled program for safety violations:
//  1. no truncated or unrecognized instructions
//  2. no out-of-bounds constant, string, function, or type indices
//  3. every jump targets a valid instruction boundary
//  4. every function body ends in a terminator (return, halt, or jump)
//
// It does not check ownership/linearity facts; lang/types' DestructorChecker
// models those over the AST, and package abi's compile pipeline does not run
// it. This pass exists
// so that a bug in the emitter (a miscomputed index, a dangling jump) is
// caught before bytes reach lang/vm, not discovered as a runtime panic.
func Verify(prog *emit.Program) []VerifyError {
	var errors []VerifyError
	code := prog.Code

	funcStart := make(map[int]string)
	for _, f := range prog.Functions {
		funcStart[int(f.Offset)] = f.Name
	}

	for offset := 0; offset < len(code); offset += 4 {
		if offset+4 > len(code) {
			errors = append(errors, VerifyError{Offset: offset, Message: "truncated instruction"})
			break
		}

		op := vm.Opcode(code[offset])
		if op.String() == "UNKNOWN" {
			errors = append(errors, VerifyError{Offset: offset, Message: fmt.Sprintf("unknown opcode %d", code[offset])})
			continue
		}

		imm16 := uint16(code[offset+2])<<8 | uint16(code[offset+3])

		switch op {
		case vm.OpLoadConst:
			if int(imm16) >= len(prog.Constants) {
				errors = append(errors, VerifyError{Offset: offset,
					Message: fmt.Sprintf("constant index %d out of bounds (pool size %d)", imm16, len(prog.Constants))})
			}
		case vm.OpLoadStr:
			if int(imm16) >= len(prog.Strings) {
				errors = append(errors, VerifyError{Offset: offset,
					Message: fmt.Sprintf("string index %d out of bounds (pool size %d)", imm16, len(prog.Strings))})
			}
		case vm.OpObjectNew:
			if int(imm16) >= len(prog.Types) {
				errors = append(errors, VerifyError{Offset: offset,
					Message: fmt.Sprintf("type layout index %d out of bounds (%d types)", imm16, len(prog.Types))})
			}
		case vm.OpCall:
			if int(imm16) >= len(prog.Functions) {
				errors = append(errors, VerifyError{Offset: offset,
					Message: fmt.Sprintf("call target %d out of bounds (%d functions)", imm16, len(prog.Functions))})
			}
		case vm.OpJump, vm.OpJumpIf, vm.OpJumpIfNot:
			target := int(imm16) * 4
			if target < 0 || target > len(code) || target%4 != 0 {
				errors = append(errors, VerifyError{Offset: offset,
					Message: fmt.Sprintf("jump target %d out of bounds", target)})
			}
		}
	}

	errors = append(errors, checkTerminators(prog)...)
	return errors
}

// checkTerminators verifies each function's body ends with a Return, Halt,
// or Jump — anything else means control could fall off the end of the
// function into whatever bytes happen to follow it.
func checkTerminators(prog *emit.Program) []VerifyError {
	var errors []VerifyError
	bounds := functionBounds(prog)

	for i, f := range prog.Functions {
		end := bounds[i]
		if end < 4 || int(f.Offset) >= end {
			errors = append(errors, VerifyError{Offset: int(f.Offset), Message: fmt.Sprintf("function %q has an empty body", f.Name)})
			continue
		}
		lastOp := vm.Opcode(prog.Code[end-4])
		switch lastOp {
		case vm.OpReturn, vm.OpHalt, vm.OpJump:
		default:
			errors = append(errors, VerifyError{Offset: end - 4,
				Message: fmt.Sprintf("function %q does not end with return, halt, or jump", f.Name)})
		}
	}
	return errors
}

// functionBounds returns, for each function (in prog.Functions order), the
// byte offset one past its last instruction — the offset of the next
// function in program order, or the end of the code segment for the last.
func functionBounds(prog *emit.Program) []int {
	bounds := make([]int, len(prog.Functions))
	offsets := make([]int, len(prog.Functions))
	for i, f := range prog.Functions {
		offsets[i] = int(f.Offset)
	}
	for i := range prog.Functions {
		next := len(prog.Code)
		for _, o := range offsets {
			if o > offsets[i] && o < next {
				next = o
			}
		}
		bounds[i] = next
	}
	return bounds
}
