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

package vm

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// ---- Bytecode builder helpers ----------------------------------------------

// instr encodes a standard 3-address instruction into a 4-byte little-endian
// word: [opcode:8][a:8][b:8][c:8].
func instr(op Opcode, a, b, c uint8) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(op)|uint32(a)<<8|uint32(b)<<16|uint32(c)<<24)
	return buf
}

// instrWide encodes a wide-immediate instruction: [opcode:8][a:8][imm_hi:8][imm_lo:8].
func instrWide(op Opcode, a uint8, imm uint16) []byte {
	hi := uint8(imm >> 8)
	lo := uint8(imm & 0xFF)
	return instr(op, a, hi, lo)
}

// program concatenates instruction byte slices into a single bytecode block.
func program(instrs ...[]byte) []byte {
	var out []byte
	for _, i := range instrs {
		out = append(out, i...)
	}
	return out
}

// newTestVM creates a VM with no functions or object layouts, for tests that
// exercise only straight-line or looping arithmetic.
func newTestVM(code []byte, consts []Value) *VM {
	return New(code, consts, nil, nil)
}

// runVM runs the VM and fails the test on error, returning the halt value.
func runVM(t *testing.T, v *VM) Value {
	t.Helper()
	result, err := v.Run()
	require.NoError(t, err)
	return result
}

// ---- Opcode metadata tests -------------------------------------------------

func TestOpcodeString(t *testing.T) {
	cases := []struct {
		op   Opcode
		want string
	}{
		{OpAdd, "ADD"},
		{OpSub, "SUB"},
		{OpMul, "MUL"},
		{OpDiv, "DIV"},
		{OpMod, "MOD"},
		{OpNeg, "NEG"},
		{OpAnd, "AND"},
		{OpOr, "OR"},
		{OpXor, "XOR"},
		{OpNot, "NOT"},
		{OpShl, "SHL"},
		{OpShr, "SHR"},
		{OpEq, "EQ"},
		{OpNeq, "NEQ"},
		{OpLt, "LT"},
		{OpLte, "LTE"},
		{OpGt, "GT"},
		{OpGte, "GTE"},
		{OpLoadConst, "LOAD_CONST"},
		{OpLoadTrue, "LOAD_TRUE"},
		{OpLoadFalse, "LOAD_FALSE"},
		{OpLoadNil, "LOAD_NIL"},
		{OpJump, "JUMP"},
		{OpJumpIf, "JUMP_IF"},
		{OpJumpIfNot, "JUMP_IF_NOT"},
		{OpCall, "CALL"},
		{OpReturn, "RETURN"},
		{OpHalt, "HALT"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.op.String())
	}
}

func TestOpcodeUnknown(t *testing.T) {
	require.Equal(t, "UNKNOWN", Opcode(0xFF).String())
}

// ---- Arithmetic tests ------------------------------------------------------

func TestAdd(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = constants[0] = 10
		instrWide(OpLoadConst, 3, 1), // R3 = constants[1] = 32
		instr(OpAdd, 4, 2, 3),        // R4 = R2 + R3
		instr(OpHalt, 4, 0, 0),       // halt with R4
	)
	v := newTestVM(code, []Value{IntValue(10), IntValue(32)})
	got := runVM(t, v)
	require.Equal(t, int64(42), got.AsInt())
}

func TestSub(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpSub, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(100), IntValue(58)})
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

func TestMul(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpMul, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(6), IntValue(7)})
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

func TestDiv(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpDiv, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(84), IntValue(2)})
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

func TestDivByZero(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = 10
		instr(OpDiv, 4, 2, 0),        // R4 = R2 / R0 (R0 always reads void/0)
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(10)})
	_, err := v.Run()
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMod(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpMod, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(127), IntValue(5)})
	require.Equal(t, int64(2), runVM(t, v).AsInt())
}

func TestNeg(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpNeg, 3, 2, 0),
		instr(OpHalt, 3, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(1)})
	require.Equal(t, int64(-1), runVM(t, v).AsInt())
}

func TestFloatArithmetic(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = 1.5
		instrWide(OpLoadConst, 3, 1), // R3 = 2.5
		instr(OpFAdd, 4, 2, 3),       // R4 = 4.0
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{FloatValue(1.5), FloatValue(2.5)})
	require.InDelta(t, 4.0, runVM(t, v).AsFloat(), 1e-9)
}

// ---- Bitwise tests ---------------------------------------------------------

func TestAnd(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpAnd, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(0xFF), IntValue(0x0F)})
	require.Equal(t, int64(0x0F), runVM(t, v).AsInt())
}

func TestShl(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpShl, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(1), IntValue(3)})
	require.Equal(t, int64(8), runVM(t, v).AsInt())
}

// ---- Comparison tests ------------------------------------------------------

func TestEq(t *testing.T) {
	cases := []struct {
		a, b int64
		want bool
	}{
		{5, 5, true},
		{5, 6, false},
	}
	for _, tc := range cases {
		code := program(
			instrWide(OpLoadConst, 2, 0),
			instrWide(OpLoadConst, 3, 1),
			instr(OpEq, 4, 2, 3),
			instr(OpHalt, 4, 0, 0),
		)
		v := newTestVM(code, []Value{IntValue(tc.a), IntValue(tc.b)})
		require.Equal(t, tc.want, runVM(t, v).AsBool())
	}
}

func TestLt(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpLt, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(3), IntValue(7)})
	require.True(t, runVM(t, v).AsBool())
}

// ---- Load constant / booleans / nil ----------------------------------------

func TestLoadConst(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 5, 2),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(0), IntValue(0), IntValue(999)})
	require.Equal(t, int64(999), runVM(t, v).AsInt())
}

func TestLoadTrueFalse(t *testing.T) {
	code := program(
		instr(OpLoadTrue, 5, 0, 0),
		instr(OpLoadFalse, 5, 0, 0), // overwrite
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, nil)
	require.False(t, runVM(t, v).AsBool())
}

func TestLoadNil(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 5, 0),
		instr(OpLoadNil, 5, 0, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(42)})
	got := runVM(t, v)
	require.Equal(t, TagNone, got.Tag)
}

// ---- Move / Copy -----------------------------------------------------------

func TestMove(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = 77
		instr(OpMove, 3, 2, 0),       // R3 = R2, R2 cleared
		instr(OpAdd, 4, 2, 3),        // R4 = void(0) + 77 = 77
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(77)})
	require.Equal(t, int64(77), runVM(t, v).AsInt())
	require.Equal(t, TagVoid, v.Register(2).Tag)
}

func TestCopy(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpCopy, 3, 2, 0),
		instr(OpAdd, 4, 2, 3),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(55)})
	require.Equal(t, int64(110), runVM(t, v).AsInt())
}

// ---- Control flow ----------------------------------------------------------

func TestUnconditionalJump(t *testing.T) {
	code := program(
		instr(OpLoadTrue, 5, 0, 0),  // [0]
		instrWide(OpJump, 0, 3),     // [1] jump to instruction index 3
		instr(OpLoadFalse, 5, 0, 0), // [2] skipped
		instr(OpHalt, 5, 0, 0),      // [3]
	)
	v := newTestVM(code, nil)
	require.True(t, runVM(t, v).AsBool())
}

func TestJumpIfNotTaken(t *testing.T) {
	code := program(
		instr(OpLoadFalse, 5, 0, 0),
		instrWide(OpJumpIf, 5, 3), // not taken (R5 is false)
		instr(OpLoadTrue, 5, 0, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, nil)
	require.True(t, runVM(t, v).AsBool())
}

// ---- Call / Return ---------------------------------------------------------

func TestCallReturn(t *testing.T) {
	// Instruction layout:
	//   [0] LOAD_CONST R2, 20
	//   [1] LOAD_CONST R3, 22
	//   [2] CALL_PREP R2, 2     -> stage R2, R3 as the call's argument run
	//   [3] CALL R4, fn#0       -> jump to the function's entry point
	//   [4] HALT R4
	//   [5] ADD R10, R2, R3     function body: R10 = R2 + R3 = 42
	//   [6] RETURN R10
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instrWide(OpLoadConst, 3, 1),
		instr(OpCallPrep, 2, 2, 0),
		instrWide(OpCall, 4, 0),
		instr(OpHalt, 4, 0, 0),
		instr(OpAdd, 10, 2, 3),
		instr(OpReturn, 10, 0, 0),
	)
	v := New(code, []Value{IntValue(20), IntValue(22)}, []uint32{5 * 4}, nil)
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

// TestCallReturnRecursive drives a self-recursive factorial through actual
// recursion, which only works because each call gets its own register
// window: a flat shared register file would have the inner call's writes
// clobber the outer call's still-live locals.
//
//	Main:
//	  [0] LOAD_CONST R2, 5
//	  [1] CALL_PREP R2, 1
//	  [2] CALL R4, fn#0
//	  [3] HALT R4
//
//	fn#0 (factorial), entry at instruction 4:
//	  [4] LOAD_CONST R10, 1      ; R10 = 1
//	  [5] EQ R11, R2, R10        ; R11 = (n == 1)
//	  [6] JUMP_IF R11, 13        ; base case: n == 1, R10 already holds 1
//	  [7] SUB R12, R2, R10       ; R12 = n - 1
//	  [8] CALL_PREP R12, 1
//	  [9] CALL R13, fn#0         ; R13 = fact(n - 1)
//	  [10] MUL R10, R2, R13      ; R10 = n * fact(n - 1)
//	  [11] JUMP 13
//	  [12] (padding, never reached)
//	  [13] RETURN R10
func TestCallReturnRecursive(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // [0] R2 = 5
		instr(OpCallPrep, 2, 1, 0),   // [1]
		instrWide(OpCall, 4, 0),      // [2]
		instr(OpHalt, 4, 0, 0),       // [3]

		instrWide(OpLoadConst, 10, 1), // [4]
		instr(OpEq, 11, 2, 10),        // [5]
		instrWide(OpJumpIf, 11, 13),   // [6]
		instr(OpSub, 12, 2, 10),       // [7]
		instr(OpCallPrep, 12, 1, 0),   // [8]
		instrWide(OpCall, 13, 0),      // [9]
		instr(OpMul, 10, 2, 13),       // [10]
		instrWide(OpJump, 0, 13),      // [11]
		instr(OpHalt, 0, 0, 0),        // [12] padding, never reached
		instr(OpReturn, 10, 0, 0),     // [13]
	)
	v := New(code, []Value{IntValue(5), IntValue(1)}, []uint32{4 * 4}, nil)
	require.Equal(t, int64(120), runVM(t, v).AsInt())
}

// TestDeferRunsInReverseDeclarationOrder drives two deferred no-arg calls
// through a real RETURN and checks the second-declared defer actually runs
// first: both write to the same global slot, so whichever runs last wins,
// and that must be the first-declared one.
//
//	Main:
//	  [0] CALL_PREP R0, 0     ; no args
//	  [1] DEFER fn#0 (recordA)
//	  [2] CALL_PREP R0, 0
//	  [3] DEFER fn#1 (recordB)
//	  [4] LOAD_CONST R2, 99
//	  [5] RETURN R2
//
//	recordA, entry at instruction 6: stores 1 to global slot 0
//	recordB, entry at instruction 9: stores 2 to global slot 0
func TestDeferRunsInReverseDeclarationOrder(t *testing.T) {
	code := program(
		instr(OpCallPrep, 0, 0, 0),
		instrWide(OpDefer, 0, 0),
		instr(OpCallPrep, 0, 0, 0),
		instrWide(OpDefer, 0, 1),
		instrWide(OpLoadConst, 2, 0),
		instr(OpReturn, 2, 0, 0),

		instrWide(OpLoadConst, 10, 1),
		instrWide(OpStoreGlobal, 10, 0),
		instr(OpReturn, 0, 0, 0),

		instrWide(OpLoadConst, 10, 2),
		instrWide(OpStoreGlobal, 10, 0),
		instr(OpReturn, 0, 0, 0),
	)
	v := New(code, []Value{IntValue(99), IntValue(1), IntValue(2)}, []uint32{6 * 4, 9 * 4}, nil)
	v.InitGlobals(1)

	result, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, int64(99), result.AsInt())
	require.Equal(t, int64(1), v.GlobalValue(0).AsInt())
}

// ---- Object / reference-counting opcodes -----------------------------------

func TestObjectFieldGetSet(t *testing.T) {
	code := program(
		instrWide(OpObjectNew, 2, 0), // R2 = new object of layout 0 (2 fields)
		instrWide(OpLoadConst, 3, 0), // R3 = 99
		instr(OpFieldSet, 2, 1, 3),   // obj.fields[1] = R3
		instr(OpFieldGet, 4, 2, 1),   // R4 = obj.fields[1]
		instr(OpHalt, 4, 0, 0),
	)
	v := New(code, []Value{IntValue(99)}, nil, []ObjectLayout{{FieldCount: 2, DestructorFn: -1}})
	require.Equal(t, int64(99), runVM(t, v).AsInt())
}

func TestRefCountingFreesOnLastDecref(t *testing.T) {
	code := program(
		instrWide(OpObjectNew, 2, 0), // R2 = new object, strong=1
		instr(OpRefDec, 2, 0, 0),     // strong -> 0, freed
		instr(OpHalt, 0, 0, 0),
	)
	v := New(code, nil, nil, []ObjectLayout{{FieldCount: 0, DestructorFn: -1}})
	_, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, 0, v.Heap().Len())
}

func TestWeakUpgradeAfterFree(t *testing.T) {
	code := program(
		instrWide(OpObjectNew, 2, 0), // R2 = new object
		instr(OpWeakNew, 3, 2, 0),    // R3 = weak(R2)
		instr(OpRefDec, 2, 0, 0),     // drop the only strong ref
		instr(OpWeakUpgrade, 4, 3, 0),
		instr(OpHalt, 4, 0, 0),
	)
	v := New(code, nil, nil, []ObjectLayout{{FieldCount: 0, DestructorFn: -1}})
	got := runVM(t, v)
	require.Equal(t, TagNone, got.Tag)
}

// ---- Sum types --------------------------------------------------------------

func TestOptionSomeUnwrap(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpMakeSome, 3, 2, 0),
		instr(OpIsSome, 4, 3, 0),
		instr(OpUnwrap, 5, 3, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(7)})
	require.Equal(t, int64(7), runVM(t, v).AsInt())
}

func TestUnwrapNoneFaults(t *testing.T) {
	code := program(
		instr(OpMakeNone, 2, 0, 0),
		instr(OpUnwrap, 3, 2, 0),
		instr(OpHalt, 3, 0, 0),
	)
	v := newTestVM(code, nil)
	_, err := v.Run()
	require.ErrorIs(t, err, ErrUnwrapFailed)
}

func TestResultOkErr(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpMakeErr, 3, 2, 0),
		instr(OpIsOk, 4, 3, 0),
		instr(OpHalt, 4, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(1)})
	require.False(t, runVM(t, v).AsBool())
}

func TestLoadStrConcatLen(t *testing.T) {
	code := program(
		instrWide(OpLoadStr, 2, 0), // R2 = "hello"
		instrWide(OpLoadStr, 3, 1), // R3 = " world"
		instr(OpStrConcat, 4, 2, 3),
		instr(OpStrLen, 5, 4, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, nil)
	v.SetStringPool([][]byte{[]byte("hello"), []byte(" world")})
	require.Equal(t, int64(11), runVM(t, v).AsInt())
}

// ---- Arrays and strings -----------------------------------------------------

func TestArrayNewGetSet(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = 4 (element count)
		instr(OpArrayNew, 3, 2, 0),   // R3 = new array(4)
		instrWide(OpLoadConst, 4, 1), // R4 = 2 (index)
		instrWide(OpLoadConst, 5, 2), // R5 = 99 (value)
		instr(OpArraySet, 3, 4, 5),
		instr(OpArrayGet, 6, 3, 4),
		instr(OpHalt, 6, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(4), IntValue(2), IntValue(99)})
	require.Equal(t, int64(99), runVM(t, v).AsInt())
}

// ---- Push / Pop ------------------------------------------------------------

func TestPushPop(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpPush, 2, 0, 0),
		instrWide(OpLoadConst, 2, 1),
		instr(OpPop, 2, 0, 0),
		instr(OpHalt, 2, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(42), IntValue(0)})
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

func TestPopUnderflow(t *testing.T) {
	code := program(
		instr(OpPop, 2, 0, 0),
		instr(OpHalt, 0, 0, 0),
	)
	v := newTestVM(code, nil)
	_, err := v.Run()
	require.ErrorIs(t, err, ErrStackUnderflow)
}

// ---- Coroutines --------------------------------------------------------------

// TestSpawnYieldResume drives a coroutine that yields its argument doubled,
// then resumes it a second time to complete.
//
//	Main:
//	  [0] LOAD_CONST R2, 0        ; function index of the coroutine body
//	  [1] SPAWN R3, R2            ; R3 = coroutine handle
//	  [2] LOAD_CONST R4, 5        ; first resume argument
//	  [3] RESUME R5, R3, R4       ; R5 = first yielded value
//	  [4] LOAD_CONST R6, 0        ; second resume argument (unused by body)
//	  [5] RESUME R7, R3, R6       ; R7 = coroutine's final return value
//	  [6] HALT R5
//
//	Coroutine body (function index 0, entry at instruction 7):
//	  [7] ADD R8, R2, R2          ; R8 = arg*2  (arg delivered into R2 on first resume)
//	  [8] YIELD R2, R8            ; yields R8; next resume's value lands in R2
//	  [9] RETURN R2
func TestSpawnYieldResume(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // [0]
		instr(OpSpawn, 3, 2, 0),      // [1]
		instrWide(OpLoadConst, 4, 1), // [2]
		instr(OpResume, 5, 3, 4),     // [3]
		instrWide(OpLoadConst, 6, 2), // [4]
		instr(OpResume, 7, 3, 6),     // [5]
		instr(OpHalt, 5, 0, 0),       // [6]
		instr(OpAdd, 8, 2, 2),        // [7]
		instr(OpYield, 2, 8, 0),      // [8]
		instr(OpReturn, 2, 0, 0),     // [9]
	)
	v := New(code, []Value{IntValue(0), IntValue(5), IntValue(0)}, []uint32{7 * 4}, nil)
	require.Equal(t, int64(10), runVM(t, v).AsInt())
}

// ---- Channels ----------------------------------------------------------------

func TestChannelSendRecv(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = capacity
		instr(OpChanNew, 3, 2, 0),    // R3 = channel
		instrWide(OpLoadConst, 4, 1), // R4 = 42
		instr(OpChanSend, 3, 0, 4),
		instr(OpChanRecv, 5, 3, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(4), IntValue(42)})
	require.Equal(t, int64(42), runVM(t, v).AsInt())
}

// TestChannelRecvBlocksWhenEmpty checks that a recv against an empty channel
// suspends (rewinding the PC to retry) rather than returning None: run
// against the main context directly, that suspend surfaces to Run as an
// unresolved errSuspend, since there's no coroutine scheduler above it to
// resume the recv once data arrives.
func TestChannelRecvBlocksWhenEmpty(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpChanNew, 3, 2, 0),
		instr(OpChanRecv, 5, 3, 0),
		instr(OpHalt, 5, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(4)})
	_, err := v.Run()
	var susp *errSuspend
	require.True(t, errors.As(err, &susp))
}

// TestChannelSendBlocksWhenFull checks that a send against a channel already
// at capacity suspends instead of growing the buffer past its bound.
func TestChannelSendBlocksWhenFull(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0), // R2 = capacity (1)
		instr(OpChanNew, 3, 2, 0),    // R3 = channel
		instrWide(OpLoadConst, 4, 1), // R4 = first value; fills the channel
		instr(OpChanSend, 3, 0, 4),
		instrWide(OpLoadConst, 6, 2), // R6 = second value; channel is already full
		instr(OpChanSend, 3, 0, 6),
		instr(OpHalt, 0, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(1), IntValue(10), IntValue(20)})
	_, err := v.Run()
	var susp *errSuspend
	require.True(t, errors.As(err, &susp))
}

// ---- Disassembly -----------------------------------------------------------

func TestDisassemble(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpAdd, 3, 2, 2),
		instr(OpHalt, 3, 0, 0),
	)
	out := Disassemble(code)
	require.NotEmpty(t, out)
	for _, want := range []string{"LOAD_CONST", "ADD", "HALT"} {
		require.Contains(t, out, want)
	}
}

// ---- R0 zero-register ------------------------------------------------------

func TestR0IsZero(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 0, 0), // attempt to write to R0
		instr(OpHalt, 0, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(42)})
	require.Equal(t, TagVoid, runVM(t, v).Tag)
}

// ---- Step limit ---------------------------------------------------------------

func TestStepLimitExceeded(t *testing.T) {
	// An unconditional backward jump never halts on its own.
	code := program(
		instrWide(OpJump, 0, 0), // [0] jump to self
	)
	v := newTestVM(code, nil)
	v.SetStepLimit(5)
	_, err := v.Run()
	require.True(t, errors.Is(err, ErrStepLimitExceeded))
}

// ---- Poll hook --------------------------------------------------------------

func TestPollHookRunsBeforeEveryInstruction(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpAdd, 3, 2, 2),
		instr(OpHalt, 3, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(21)})

	var pcs []uint32
	v.SetPollHook(func(v *VM) error {
		pcs = append(pcs, v.PC())
		return nil
	})
	got := runVM(t, v)
	require.Equal(t, int64(42), got.AsInt())
	require.Equal(t, []uint32{0, 4, 8}, pcs)
}

var errPollAbort = errors.New("vm: poll aborted")

func TestPollHookErrorAbortsExecution(t *testing.T) {
	code := program(
		instrWide(OpLoadConst, 2, 0),
		instr(OpHalt, 2, 0, 0),
	)
	v := newTestVM(code, []Value{IntValue(1)})

	calls := 0
	v.SetPollHook(func(v *VM) error {
		calls++
		if calls == 2 {
			return errPollAbort
		}
		return nil
	})
	_, err := v.Run()
	require.True(t, errors.Is(err, errPollAbort))
	require.False(t, v.Halted())
}
