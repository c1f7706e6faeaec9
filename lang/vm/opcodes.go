// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package vm implements the Etch language register-based virtual machine.
// Each call frame gets its own window of general-purpose 64-bit registers,
// sized for the callee (see VM.pushCall), addressed with a 4-byte
// fixed-width 3-address instruction encoding: [opcode:8][a:8][b:8][c:8].
//
// For instructions requiring wider operands (jump targets, constant-pool
// indices, function indices), the encoding is: [opcode:8][a:8][immediate:16].
package vm

// Opcode is an 8-bit instruction code for the Etch VM.
type Opcode uint8

const (
	// ---- Arithmetic (register-register) ------------------------------------
	// Result is stored in R[a]; operands are R[b] and R[c].

	// OpAdd performs R[a] = R[b] + R[c] for int operands.
	OpAdd Opcode = iota
	// OpSub performs R[a] = R[b] - R[c].
	OpSub
	// OpMul performs R[a] = R[b] * R[c].
	OpMul
	// OpDiv performs R[a] = R[b] / R[c]; traps on division by zero.
	OpDiv
	// OpMod performs R[a] = R[b] % R[c]; traps on division by zero.
	OpMod
	// OpNeg performs R[a] = -R[b].
	OpNeg

	// OpFAdd, OpFSub, OpFMul, OpFDiv are the float-typed arithmetic forms.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	// OpFNeg performs R[a] = -R[b] for a float operand.
	OpFNeg

	// ---- Bitwise -----------------------------------------------------------

	// OpAnd performs R[a] = R[b] & R[c].
	OpAnd
	// OpOr performs R[a] = R[b] | R[c].
	OpOr
	// OpXor performs R[a] = R[b] ^ R[c].
	OpXor
	// OpNot performs R[a] = ^R[b] (bitwise complement).
	OpNot
	// OpShl performs R[a] = R[b] << R[c].
	OpShl
	// OpShr performs R[a] = R[b] >> R[c] (logical / unsigned shift right).
	OpShr

	// ---- Comparison (result in R[a] as 0 or 1) ----------------------------

	// OpEq performs R[a] = 1 if R[b] == R[c], else 0.
	OpEq
	// OpNeq performs R[a] = 1 if R[b] != R[c], else 0.
	OpNeq
	// OpLt performs R[a] = 1 if R[b] < R[c], else 0.
	OpLt
	// OpLte performs R[a] = 1 if R[b] <= R[c], else 0.
	OpLte
	// OpGt performs R[a] = 1 if R[b] > R[c], else 0.
	OpGt
	// OpGte performs R[a] = 1 if R[b] >= R[c], else 0.
	OpGte

	// ---- Load/Store --------------------------------------------------------

	// OpLoadConst loads R[a] = Constants[imm16] using the wide immediate form.
	// Encoding: [OpLoadConst:8][a:8][index:16].
	OpLoadConst
	// OpLoadTrue sets R[a] = 1.
	OpLoadTrue
	// OpLoadFalse sets R[a] = 0.
	OpLoadFalse
	// OpLoadNil sets R[a] = the nil/None heap-tag zero value.
	OpLoadNil
	// OpLoadStr allocates a new heap string cell from the program's string
	// pool entry imm16, storing the handle in R[a]. Encoding:
	// [OpLoadStr:8][a:8][poolIdx:16].
	OpLoadStr
	// OpMove performs R[a] = R[b] and clears R[b] (ownership transfer, no
	// refcount churn — used when the compiler can prove the source is dead).
	OpMove
	// OpCopy performs R[a] = R[b] without invalidating R[b] (value-type copy,
	// or a ref/weak handle duplication that bumps the refcount).
	OpCopy

	// ---- Heap cells (objects, arrays, strings, boxed sum types) ------------

	// OpFieldGet loads R[a] = Heap[R[b]].fields[c] for an object handle in R[b].
	OpFieldGet
	// OpFieldSet stores Heap[R[a]].fields[b] = R[c].
	OpFieldSet
	// OpObjectNew allocates a new object whose layout index is imm16, storing
	// the resulting handle in R[a]. Encoding: [OpObjectNew:8][a:8][typeIdx:16].
	OpObjectNew
	// OpRefInc increments the strong refcount of the heap handle in R[a].
	OpRefInc
	// OpRefDec decrements the strong refcount of the heap handle in R[a],
	// running its destructor and reclaiming storage if it reaches zero
	// (subject to cycle collection — see lang/vm/heap.go).
	OpRefDec
	// OpWeakNew creates a weak[T] handle from the strong ref in R[b], storing
	// it in R[a].
	OpWeakNew
	// OpWeakUpgrade attempts to promote the weak handle in R[b] to a strong
	// ref; R[a] receives option[ref[T]] (None if the referent was collected).
	OpWeakUpgrade

	// ---- Globals -------------------------------------------------------------

	// OpLoadGlobal loads R[a] = Globals[imm16].
	OpLoadGlobal
	// OpStoreGlobal stores Globals[imm16] = R[a], unless that slot was
	// pre-seeded by a host override, in which case the store is skipped.
	OpStoreGlobal

	// ---- Control flow ------------------------------------------------------

	// OpJump sets PC = imm16 (unconditional branch).
	OpJump
	// OpJumpIf sets PC = imm16 if R[a] != 0.
	OpJumpIf
	// OpJumpIfNot sets PC = imm16 if R[a] == 0.
	OpJumpIfNot
	// OpCallPrep marks the contiguous register run [a, a+b) as the pending
	// call's argument list; the following OpCall or OpDefer copies it into
	// the callee's own register window.
	OpCallPrep
	// OpCall invokes the function whose index is imm16 against a fresh
	// register window sized for that function, using the pending args staged
	// by the preceding OpCallPrep. R[a] receives the return value.
	OpCall
	// OpCallExtern invokes the extern/FFI thunk whose CFFI descriptor index is
	// imm16. R[a] receives the return value.
	OpCallExtern
	// OpDefer schedules the function whose index is imm16, together with the
	// pending args staged by the preceding OpCallPrep, to run when the
	// current function returns, in reverse declaration order.
	OpDefer
	// OpReturn ends the current function, running any deferred calls in
	// reverse order, then returning R[a] to the caller.
	OpReturn
	// OpHalt stops execution. R[a] is the exit code / result.
	OpHalt

	// ---- Stack frame -------------------------------------------------------

	// OpPush pushes R[a] onto the value stack.
	OpPush
	// OpPop pops the top of the value stack into R[a].
	OpPop

	// ---- Coroutines and channels --------------------------------------------

	// OpSpawn creates a new coroutine executing the function whose index is in
	// R[b], storing the coroutine handle in R[a].
	OpSpawn
	// OpYield suspends the current coroutine, handing R[b] to its resumer; the
	// value passed to the next Resume call is stored in R[a] once control
	// returns here.
	OpYield
	// OpResume transfers control to the suspended coroutine in R[b], passing
	// it R[c]; R[a] receives its next yielded or returned value.
	OpResume
	// OpChanNew allocates a new bounded channel[T] of capacity R[b], storing
	// the handle in R[a].
	OpChanNew
	// OpChanSend enqueues R[c] onto the channel in R[a], suspending the
	// current coroutine if the channel is full.
	OpChanSend
	// OpChanRecv dequeues a value from the channel in R[b] into R[a],
	// suspending the current coroutine if the channel is empty.
	OpChanRecv

	// ---- Sum types: option[T] / result[T, E] --------------------------------

	// OpMakeSome wraps R[b] as Some(R[b]), storing the boxed option in R[a].
	OpMakeSome
	// OpMakeNone stores the None value of option[T] in R[a].
	OpMakeNone
	// OpMakeOk wraps R[b] as Ok(R[b]), storing the boxed result in R[a].
	OpMakeOk
	// OpMakeErr wraps R[b] as Err(R[b]), storing the boxed result in R[a].
	OpMakeErr
	// OpIsSome sets R[a] = 1 if the option in R[b] is Some, else 0.
	OpIsSome
	// OpIsOk sets R[a] = 1 if the result in R[b] is Ok, else 0.
	OpIsOk
	// OpUnwrap extracts the payload of the Some/Ok value in R[b] into R[a];
	// traps if the value is None/Err (the prover statically rejects unwrap
	// sites it cannot prove safe, so this is a defense-in-depth check).
	OpUnwrap

	// ---- Arrays and strings --------------------------------------------------

	// OpArrayNew allocates a new array of R[b] elements and stores its handle
	// in R[a].
	OpArrayNew
	// OpArrayGet loads R[a] = Array(R[b])[R[c]].
	OpArrayGet
	// OpArraySet stores R[c] into Array(R[a])[R[b]].
	OpArraySet
	// OpArrayLen stores the length of Array(R[b]) in R[a].
	OpArrayLen
	// OpStrConcat concatenates the strings in R[b] and R[c] into a new heap
	// string referenced by R[a].
	OpStrConcat
	// OpStrLen stores the length (in runes) of the string in R[b] into R[a].
	OpStrLen
	// OpStrCharAt stores the rune at index R[c] of the string in R[b] into
	// R[a].
	OpStrCharAt

	// opcodeCount must remain the last constant; it gives the total number of
	// defined opcodes and is used for table bounds checks.
	opcodeCount
)

// opcodeInfo groups the human-readable name and operand count for an opcode.
type opcodeInfo struct {
	// name is used during disassembly and for error messages.
	name string
	// operands is the number of explicit register/immediate operands the
	// instruction uses (1-3). 0 means the opcode takes no operands.
	operands int
}

// opcodeTable maps every defined Opcode to its name and operand count.
// Wide-immediate instructions (jump targets, constant/function indices) are
// encoded as 2 operands: the destination register plus a 16-bit immediate.
var opcodeTable = [opcodeCount]opcodeInfo{
	OpAdd: {"ADD", 3},
	OpSub: {"SUB", 3},
	OpMul: {"MUL", 3},
	OpDiv: {"DIV", 3},
	OpMod: {"MOD", 3},
	OpNeg: {"NEG", 2},

	OpFAdd: {"FADD", 3},
	OpFSub: {"FSUB", 3},
	OpFMul: {"FMUL", 3},
	OpFDiv: {"FDIV", 3},
	OpFNeg: {"FNEG", 2},

	OpAnd: {"AND", 3},
	OpOr:  {"OR", 3},
	OpXor: {"XOR", 3},
	OpNot: {"NOT", 2},
	OpShl: {"SHL", 3},
	OpShr: {"SHR", 3},

	OpEq:  {"EQ", 3},
	OpNeq: {"NEQ", 3},
	OpLt:  {"LT", 3},
	OpLte: {"LTE", 3},
	OpGt:  {"GT", 3},
	OpGte: {"GTE", 3},

	// Wide-immediate: [op][dst][idx_hi][idx_lo]
	OpLoadConst: {"LOAD_CONST", 2},
	OpLoadTrue:  {"LOAD_TRUE", 1},
	OpLoadFalse: {"LOAD_FALSE", 1},
	OpLoadNil:   {"LOAD_NIL", 1},
	OpLoadStr:   {"LOAD_STR", 2},
	OpMove:      {"MOVE", 2},
	OpCopy:      {"COPY", 2},

	OpFieldGet:    {"FIELD_GET", 3},
	OpFieldSet:    {"FIELD_SET", 3},
	OpObjectNew:   {"OBJECT_NEW", 2},
	OpRefInc:      {"REF_INC", 1},
	OpRefDec:      {"REF_DEC", 1},
	OpWeakNew:     {"WEAK_NEW", 2},
	OpWeakUpgrade: {"WEAK_UPGRADE", 2},

	OpLoadGlobal:  {"LOAD_GLOBAL", 2},
	OpStoreGlobal: {"STORE_GLOBAL", 2},

	OpJump:       {"JUMP", 1}, // imm16 target
	OpJumpIf:     {"JUMP_IF", 2},
	OpJumpIfNot:  {"JUMP_IF_NOT", 2},
	OpCallPrep:   {"CALL_PREP", 2}, // argBase reg + argCount
	OpCall:       {"CALL", 2},      // dst reg + func index imm16
	OpCallExtern: {"CALL_EXTERN", 2},
	OpDefer:      {"DEFER", 2}, // unused + func index imm16
	OpReturn:     {"RETURN", 1},
	OpHalt:       {"HALT", 1},

	OpPush: {"PUSH", 1},
	OpPop:  {"POP", 1},

	OpSpawn:    {"SPAWN", 2},
	OpYield:    {"YIELD", 2},
	OpResume:   {"RESUME", 3},
	OpChanNew:  {"CHAN_NEW", 2},
	OpChanSend: {"CHAN_SEND", 3},
	OpChanRecv: {"CHAN_RECV", 2},

	OpMakeSome: {"MAKE_SOME", 2},
	OpMakeNone: {"MAKE_NONE", 1},
	OpMakeOk:   {"MAKE_OK", 2},
	OpMakeErr:  {"MAKE_ERR", 2},
	OpIsSome:   {"IS_SOME", 2},
	OpIsOk:     {"IS_OK", 2},
	OpUnwrap:   {"UNWRAP", 2},

	OpArrayNew:  {"ARRAY_NEW", 2},
	OpArrayGet:  {"ARRAY_GET", 3},
	OpArraySet:  {"ARRAY_SET", 3},
	OpArrayLen:  {"ARRAY_LEN", 2},
	OpStrConcat: {"STR_CONCAT", 3},
	OpStrLen:    {"STR_LEN", 2},
	OpStrCharAt: {"STR_CHAR_AT", 3},
}

// String returns the mnemonic name of the opcode, suitable for disassembly
// output and debug messages.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Operands returns the number of explicit operands encoded in the instruction
// word for the opcode.
func (op Opcode) Operands() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].operands
}

// IsWideImmediate reports whether the opcode uses the [op:8][a:8][imm:16]
// encoding rather than the standard [op:8][a:8][b:8][c:8] form.
func (op Opcode) IsWideImmediate() bool {
	switch op {
	case OpLoadConst, OpLoadStr, OpJump, OpJumpIf, OpJumpIfNot, OpCall, OpCallExtern, OpObjectNew,
		OpLoadGlobal, OpStoreGlobal, OpDefer:
		return true
	}
	return false
}
