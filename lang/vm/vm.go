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
	"fmt"
	"time"
)

// ---- Error sentinels -------------------------------------------------------

// ErrStepLimitExceeded is returned when a bounded execution (e.g. a comptime
// sandbox session) exceeds its configured instruction ceiling.
var ErrStepLimitExceeded = errors.New("vm: step limit exceeded")

// ErrHalted is returned when Step is called on a halted VM.
var ErrHalted = errors.New("vm: already halted")

// ErrDivisionByZero is returned by OpDiv / OpMod when the divisor is zero.
var ErrDivisionByZero = errors.New("vm: division by zero")

// ErrInvalidOpcode is returned when the fetched byte does not correspond to a
// known opcode.
var ErrInvalidOpcode = errors.New("vm: invalid opcode")

// ErrStackUnderflow is returned when OpPop is executed on an empty stack.
var ErrStackUnderflow = errors.New("vm: stack underflow")

// ErrUnwrapFailed is returned when OpUnwrap targets a None or Err value.
// Neither lang/prover's AST pass nor its bytecode verification pass checks
// unwrap sites, so this runtime check is what catches them.
var ErrUnwrapFailed = errors.New("vm: unwrap called on None or Err value")

// ErrCoroutineFault is returned when resume targets an unknown or already
// finished coroutine handle.
var ErrCoroutineFault = errors.New("vm: coroutine lifecycle fault")

// ErrChannelClosed is returned when a send/recv targets a closed channel.
var ErrChannelClosed = errors.New("vm: channel closed")

// errSuspend is an internal control-transfer signal raised by OpYield and
// caught by the OpResume handler; it never escapes VM.Run/VM.Resume.
type errSuspend struct {
	value Value
}

func (e *errSuspend) Error() string { return "vm: coroutine yielded" }

// errCoroutineReturn is the internal signal for a coroutine's top-level
// return (callStack empty), caught the same way as errSuspend.
type errCoroutineReturn struct {
	value Value
}

func (e *errCoroutineReturn) Error() string { return "vm: coroutine returned" }

// ---- Frame ------------------------------------------------------------------

// defaultWindowSize is the register window size a call gets when its
// callee's FuncMeta wasn't supplied via SetFuncMeta (e.g. bytecode built
// directly by a test rather than through lang/emit). It's large enough to
// hold any single function's own registers, since lang/emit's allocator
// caps a function at 254 live registers.
const defaultWindowSize = 256

// deferredCall is a pending call staged by OpDefer, run by OpReturn once the
// deferring function's own body has finished, in reverse declaration order.
type deferredCall struct {
	funcIdx int
	args    []Value
}

// frame captures the state needed to resume a caller after a CALL returns:
// its return site, the caller's own register window, and the caller's own
// still-pending defers (a callee's defers never run as part of the
// caller's unwind).
type frame struct {
	returnPC    uint32
	returnReg   uint8
	callerBase  uint32
	callerTop   uint32
	savedDefers []deferredCall
}

// execContext is one independently-scheduled stream of execution: the main
// program, or a single coroutine. Exactly one execContext is "current" at
// any moment; OpResume swaps vm.cur and pushes the interrupted context onto
// vm.resumeStack so control returns there on the next suspend/return.
//
// registers is a single growable slice shared across every frame in this
// context; base/top delimit the active frame's own window within it, so a
// callee never sees or clobbers a caller's registers (see pushCall).
type execContext struct {
	registers []Value
	base      uint32
	top       uint32

	pc            uint32
	stack         []Value
	callStack     []frame
	started       bool
	resumeDestReg uint8 // register that receives the next resume's argument

	// pendingArgBase/pendingArgCount stage the argument run OpCallPrep just
	// marked, consumed by the OpCall or OpDefer that immediately follows it.
	pendingArgBase  uint8
	pendingArgCount uint8

	// curDefers holds this frame's pending deferred calls, run in reverse by
	// OpReturn (or by unwindDefers, on a genuine runtime error).
	curDefers []deferredCall
}

func newExecContext(entryPC uint32) *execContext {
	return &execContext{
		registers: make([]Value, defaultWindowSize),
		top:       defaultWindowSize,
		pc:        entryPC,
		stack:     make([]Value, 0, 16),
		callStack: make([]frame, 0, 8),
	}
}

// ObjectLayout describes a declared object type's field count and optional
// destructor entry point, consulted by OpObjectNew and the heap's release
// path.
type ObjectLayout struct {
	FieldCount   int
	DestructorFn int // function-table index, or -1 if the type has no "drop"
}

// ExternFn is a CFFI thunk: a native Go function exposed to Etch bytecode via
// OpCallExtern, dispatched by descriptor index (see package ffi).
type ExternFn func(vm *VM, args []Value) (Value, error)

// VM is the Etch language register-based virtual machine.
//
// Instruction encoding (4 bytes per instruction, fixed width):
//
//	Standard 3-address:  [opcode:8][a:8][b:8][c:8]
//	Wide-immediate:      [opcode:8][a:8][imm_hi:8][imm_lo:8]  -> imm16 = (imm_hi<<8)|imm_lo
//
// Registers are identified by an 8-bit index and hold tagged Values. Each
// call gets its own register window (see pushCall), sized for the callee
// rather than shared flatly across the whole call stack, so two active
// frames never alias the same physical slot. Register 0 (R0) is a zero
// register whose writes are silently discarded; reads always return the
// void Value. This simplifies instruction encoding by providing a
// convenient /dev/null destination and a constant-zero source.
type VM struct {
	code      []byte // bytecode (must be a multiple of 4 bytes)
	constants []Value
	funcTable []uint32       // function entry points, indexed by OpCall's imm16
	typeTable []ObjectLayout // object layouts, indexed by OpObjectNew's imm16
	externs   []ExternFn     // CFFI thunks, indexed by OpCallExtern's imm16
	funcMeta  []FuncMeta     // per-function parameter count / register high-water mark

	heap       *Heap
	stringPool [][]byte

	globals          []Value
	globalOverridden []bool

	main *execContext
	cur  *execContext

	// coroutines maps a heap handle (CellCoroutine) to its suspended
	// execContext; entries are removed once the coroutine finishes.
	coroutines map[uint64]*execContext
	// resumeStack holds interrupted contexts so a finished/suspended
	// coroutine hands control back to whichever context called Resume.
	resumeStack []*execContext

	// Channel buffers and capacities live on their CellChannel heap cells
	// (ChanBuf/ChanCap); the VM keeps no separate channel table.
	halted bool

	stepCount uint64
	stepLimit uint64 // 0 means unlimited

	pollHook PollHook
}

// New creates a new VM ready to execute code.
func New(code []byte, constants []Value, funcTable []uint32, typeTable []ObjectLayout) *VM {
	main := newExecContext(0)
	v := &VM{
		code:       code,
		constants:  constants,
		funcTable:  funcTable,
		typeTable:  typeTable,
		heap:       NewHeap(),
		main:       main,
		cur:        main,
		coroutines: make(map[uint64]*execContext),
	}
	return v
}

// FuncMeta is the per-function sizing metadata SetFuncMeta installs: how
// many parameters a function takes, and the highest register index
// lang/emit ever assigned within its body. pushCall uses both to size a new
// call's register window precisely instead of handing out a flat 256 every
// time.
type FuncMeta struct {
	NumParams   int
	MaxRegister int
}

// SetFuncMeta installs per-function call-sizing metadata, indexed the same
// way as funcTable. Functions beyond the end of meta (or when no metadata
// was installed at all) fall back to a defaultWindowSize window, so
// hand-built bytecode that never calls SetFuncMeta keeps working unchanged.
func (vm *VM) SetFuncMeta(meta []FuncMeta) { vm.funcMeta = meta }

func (vm *VM) paramCountFor(funcIdx int) int {
	if funcIdx >= 0 && funcIdx < len(vm.funcMeta) {
		return vm.funcMeta[funcIdx].NumParams
	}
	return defaultWindowSize - 2
}

func (vm *VM) maxRegFor(funcIdx int) int {
	if funcIdx >= 0 && funcIdx < len(vm.funcMeta) {
		return vm.funcMeta[funcIdx].MaxRegister
	}
	return defaultWindowSize - 1
}

// InitGlobals allocates the VM-wide global slot table with n slots, indexed
// by OpLoadGlobal/OpStoreGlobal's imm16.
func (vm *VM) InitGlobals(n int) {
	vm.globals = make([]Value, n)
	vm.globalOverridden = make([]bool, n)
}

// SetGlobalOverride pre-seeds global slot with v and marks it overridden, so
// the <global> initializer's own OpStoreGlobal for that slot becomes a
// no-op: a host's SetGlobal call always wins over the program's own
// initializer.
func (vm *VM) SetGlobalOverride(slot int, v Value) {
	if slot < 0 || slot >= len(vm.globals) {
		return
	}
	vm.globals[slot] = v
	vm.globalOverridden[slot] = true
}

// GlobalValue reads global slot's current value.
func (vm *VM) GlobalValue(slot int) Value {
	if slot < 0 || slot >= len(vm.globals) {
		return Value{}
	}
	return vm.globals[slot]
}

// SetExterns installs the CFFI thunk table used by OpCallExtern.
func (vm *VM) SetExterns(externs []ExternFn) { vm.externs = externs }

// SetStringPool installs the program's string-literal pool, indexed by
// OpLoadStr's imm16.
func (vm *VM) SetStringPool(pool [][]byte) { vm.stringPool = pool }

// SetStepLimit bounds total executed instructions; used by the comptime
// sandbox to enforce MaxLoopIterations-style termination. 0 disables the
// limit.
func (vm *VM) SetStepLimit(limit uint64) { vm.stepLimit = limit }

// Heap exposes the VM's object heap, primarily for tests and diagnostics.
func (vm *VM) Heap() *Heap { return vm.heap }

// PC returns the current program counter of the active context.
func (vm *VM) PC() uint32 { return vm.cur.pc }

// Halted reports whether the VM has halted.
func (vm *VM) Halted() bool { return vm.halted }

// Register returns the value of register idx within the active context's
// current call frame.
func (vm *VM) Register(idx uint8) Value { return vm.getReg(idx) }

// CallDepth returns the active context's call-stack depth (0 at a
// function's top level), consulted by a debug coordinator's stepOver/
// stepOut bookkeeping.
func (vm *VM) CallDepth() int { return len(vm.cur.callStack) }

// InstructionCount returns the number of instructions executed so far.
func (vm *VM) InstructionCount() uint64 { return vm.stepCount }

// PollHook is called once before every instruction is fetched and decoded.
// Returning a non-nil error aborts execution immediately: Step and Run
// surface it to the caller without executing the pending instruction, which
// is how the debug coordinator (package debug) implements breakpoints and
// stepping, and how a host cancels a long-running context (per the
// cancellation contract: the VM finishes the current instruction, so a host
// that wants hard cancellation should return a sentinel from here before the
// next one is fetched, then unwind its own pending defers above the VM).
type PollHook func(vm *VM) error

// SetPollHook installs (or, with nil, removes) the per-instruction poll
// hook.
func (vm *VM) SetPollHook(hook PollHook) { vm.pollHook = hook }

// SetEntryPC sets the main context's starting program counter to a
// function's offset, letting a host run a program whose entry point (e.g.
// "main") isn't necessarily the first function emitted. Valid only before
// the first Step/Run call.
func (vm *VM) SetEntryPC(pc uint32) { vm.main.pc = pc }

// Call invokes the function whose function-table index is funcIdx
// synchronously against the active context: it pushes a fresh register
// window sized for that function (see pushCall), places args at its R2..,
// and single-steps until the pushed frame pops back off, returning the
// callee's result (by the same R1 convention Run uses for the top-level
// halt value — here repurposed as the frame's returnReg so nested Calls
// don't clobber each other's result register). It is the embedding ABI's
// (package abi) way to invoke an arbitrary function by name outside the
// normal call-expression path.
func (vm *VM) Call(funcIdx int, args []Value) (Value, error) {
	ctx := vm.cur
	startDepth := len(ctx.callStack)
	if err := vm.pushCall(ctx, funcIdx, 1, args); err != nil {
		return Value{}, err
	}

	for len(ctx.callStack) > startDepth && !vm.halted {
		if err := vm.Step(); err != nil {
			return Value{}, err
		}
	}
	return vm.getReg(1), nil
}

// Run executes bytecode until OpHalt, an error, or the step limit is reached.
// It returns the halt value (by convention stored in R1) and any error that
// stopped execution. A genuine runtime error (anything other than the
// internal coroutine control-transfer signals) first unwinds every pending
// defer on the active context's call stack, innermost frame first.
func (vm *VM) Run() (Value, error) {
	for !vm.halted {
		if err := vm.Step(); err != nil {
			if !isControlTransfer(err) {
				vm.unwindDefers(vm.cur)
			}
			return Value{}, err
		}
	}
	return vm.getReg(1), nil
}

func isControlTransfer(err error) bool {
	switch err.(type) {
	case *errSuspend, *errCoroutineReturn:
		return true
	}
	return false
}

// Step fetches, decodes, and executes exactly one instruction against the
// currently active context.
func (vm *VM) Step() error {
	if vm.halted {
		return ErrHalted
	}
	if vm.stepLimit != 0 && vm.stepCount >= vm.stepLimit {
		return ErrStepLimitExceeded
	}
	if vm.pollHook != nil {
		if err := vm.pollHook(vm); err != nil {
			return err
		}
	}

	vm.stepCount++
	vm.heap.NoteOp()
	if vm.heap.NeedsGCFrame() {
		vm.runGCFrame()
	}

	ctx := vm.cur
	if int(ctx.pc)+4 > len(vm.code) {
		return fmt.Errorf("vm: PC %d is past end of code (%d bytes)", ctx.pc, len(vm.code))
	}
	word := binary.LittleEndian.Uint32(vm.code[ctx.pc:])
	ctx.pc += 4

	op := Opcode(word & 0xFF)
	a := uint8((word >> 8) & 0xFF)
	b := uint8((word >> 16) & 0xFF)
	c := uint8((word >> 24) & 0xFF)
	imm16 := uint16(b)<<8 | uint16(c)

	return vm.execute(op, a, b, c, imm16)
}

// runGCFrame runs one cycle-collection pass over the whole candidate buffer.
// It starts a GC frame with a fixed 2ms budget (see Heap.BeginFrame), but the
// pass does not stop when that budget runs out.
func (vm *VM) runGCFrame() {
	vm.heap.BeginFrame(2 * time.Millisecond)
	candidates := vm.heap.Len()
	freed := vm.heap.CollectCycles(vm.runDestructor)
	vm.heap.AdjustInterval(freed, candidates)
}

// runDestructor invokes a destructor-bearing cell's "drop" method by calling
// into the function table, re-entering the dispatch loop in a nested
// sub-context. Errors are swallowed: a destructor that faults during
// collection must not abort the collector, mirroring how a panic during a
// deferred finalizer cannot be allowed to corrupt unrelated state.
func (vm *VM) runDestructor(c *Cell) {
	if c.DestructorFn < 0 || c.DestructorFn >= len(vm.funcTable) {
		return
	}
	sub := newExecContext(vm.funcTable[c.DestructorFn])
	sub.registers[2] = RefValue(c.ID)
	saved := vm.cur
	vm.cur = sub
	for {
		if err := vm.Step(); err != nil {
			break
		}
		if len(sub.callStack) == 0 && sub.pc == 0 {
			break
		}
	}
	vm.cur = saved
}

// pushCall gives ctx a fresh register window sized for funcIdx (at least
// room for its params plus R0/R1, and for every register lang/emit assigned
// within its body), places args at the new window's R2.., and jumps ctx's
// pc to the callee's entry point. The caller's own window and pending
// defers are preserved in the pushed frame and restored by OpReturn.
func (vm *VM) pushCall(ctx *execContext, funcIdx int, returnReg uint8, args []Value) error {
	if funcIdx < 0 || funcIdx >= len(vm.funcTable) {
		return fmt.Errorf("vm: call target index %d out of range", funcIdx)
	}
	winSize := vm.paramCountFor(funcIdx) + 2
	if mr := vm.maxRegFor(funcIdx) + 1; mr > winSize {
		winSize = mr
	}
	newBase := ctx.top
	newTop := newBase + uint32(winSize)
	if int(newTop) > len(ctx.registers) {
		grown := make([]Value, newTop)
		copy(grown, ctx.registers)
		ctx.registers = grown
	}
	for i, a := range args {
		ctx.registers[int(newBase)+2+i] = a
	}
	ctx.callStack = append(ctx.callStack, frame{
		returnPC:    ctx.pc,
		returnReg:   returnReg,
		callerBase:  ctx.base,
		callerTop:   ctx.top,
		savedDefers: ctx.curDefers,
	})
	ctx.base = newBase
	ctx.top = newTop
	ctx.curDefers = nil
	ctx.pc = vm.funcTable[funcIdx]
	return nil
}

// collectPendingArgs reads back the argument run OpCallPrep staged for the
// OpCall or OpDefer that follows it.
func (vm *VM) collectPendingArgs() []Value {
	ctx := vm.cur
	n := int(ctx.pendingArgCount)
	ctx.pendingArgCount = 0
	if n == 0 {
		return nil
	}
	args := make([]Value, n)
	for i := 0; i < n; i++ {
		args[i] = vm.getReg(ctx.pendingArgBase + uint8(i))
	}
	return args
}

// runDefers drives ctx's pending deferred calls to completion, innermost
// (most recently deferred) first, as nested synchronous calls exactly like
// Call drives one. A deferred call that errors is swallowed, mirroring
// runDestructor: a faulting deferred cleanup must not prevent the rest of
// the unwind from running.
func (vm *VM) runDefers(ctx *execContext) {
	pending := ctx.curDefers
	ctx.curDefers = nil
	for i := len(pending) - 1; i >= 0; i-- {
		d := pending[i]
		startDepth := len(ctx.callStack)
		if err := vm.pushCall(ctx, d.funcIdx, 0, d.args); err != nil {
			continue
		}
		saved := vm.cur
		vm.cur = ctx
		for len(ctx.callStack) > startDepth && !vm.halted {
			if err := vm.Step(); err != nil {
				break
			}
		}
		vm.cur = saved
	}
}

// unwindDefers runs every pending defer still on ctx's call stack, from the
// innermost frame outward, for the genuine-runtime-error exit path (Run
// calls this before surfacing a non-control-transfer error).
func (vm *VM) unwindDefers(ctx *execContext) {
	for {
		vm.runDefers(ctx)
		if len(ctx.callStack) == 0 {
			return
		}
		f := ctx.callStack[len(ctx.callStack)-1]
		ctx.callStack = ctx.callStack[:len(ctx.callStack)-1]
		ctx.base = f.callerBase
		ctx.top = f.callerTop
		ctx.curDefers = f.savedDefers
	}
}

// setReg writes v to register idx within the active context's current call
// frame, silently discarding writes to R0.
func (vm *VM) setReg(idx uint8, v Value) {
	if idx != 0 {
		vm.cur.registers[vm.cur.base+uint32(idx)] = v
	}
}

// getReg reads register idx within the active context's current call frame
// (R0 always reads void).
func (vm *VM) getReg(idx uint8) Value {
	return vm.cur.registers[vm.cur.base+uint32(idx)]
}

func boolReg(v bool) Value {
	return BoolValue(v)
}

// execute dispatches the decoded instruction to its handler.
//
//nolint:gocyclo
func (vm *VM) execute(op Opcode, a, b, c uint8, imm16 uint16) error {
	switch op {

	// ---- Arithmetic --------------------------------------------------------

	case OpAdd:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()+vm.getReg(c).AsInt()))
	case OpSub:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()-vm.getReg(c).AsInt()))
	case OpMul:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()*vm.getReg(c).AsInt()))
	case OpDiv:
		divisor := vm.getReg(c).AsInt()
		if divisor == 0 {
			return ErrDivisionByZero
		}
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()/divisor))
	case OpMod:
		divisor := vm.getReg(c).AsInt()
		if divisor == 0 {
			return ErrDivisionByZero
		}
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()%divisor))
	case OpNeg:
		vm.setReg(a, IntValue(-vm.getReg(b).AsInt()))

	case OpFAdd:
		vm.setReg(a, FloatValue(vm.getReg(b).AsFloat()+vm.getReg(c).AsFloat()))
	case OpFSub:
		vm.setReg(a, FloatValue(vm.getReg(b).AsFloat()-vm.getReg(c).AsFloat()))
	case OpFMul:
		vm.setReg(a, FloatValue(vm.getReg(b).AsFloat()*vm.getReg(c).AsFloat()))
	case OpFDiv:
		vm.setReg(a, FloatValue(vm.getReg(b).AsFloat()/vm.getReg(c).AsFloat()))
	case OpFNeg:
		vm.setReg(a, FloatValue(-vm.getReg(b).AsFloat()))

	// ---- Bitwise -----------------------------------------------------------

	case OpAnd:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()&vm.getReg(c).AsInt()))
	case OpOr:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()|vm.getReg(c).AsInt()))
	case OpXor:
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()^vm.getReg(c).AsInt()))
	case OpNot:
		vm.setReg(a, IntValue(^vm.getReg(b).AsInt()))
	case OpShl:
		shift := uint(vm.getReg(c).AsInt()) & 63
		vm.setReg(a, IntValue(vm.getReg(b).AsInt()<<shift))
	case OpShr:
		shift := uint(vm.getReg(c).AsInt()) & 63
		vm.setReg(a, IntValue(int64(uint64(vm.getReg(b).AsInt())>>shift)))

	// ---- Comparison --------------------------------------------------------

	case OpEq:
		vm.setReg(a, boolReg(valuesEqual(vm.getReg(b), vm.getReg(c))))
	case OpNeq:
		vm.setReg(a, boolReg(!valuesEqual(vm.getReg(b), vm.getReg(c))))
	case OpLt:
		vm.setReg(a, boolReg(vm.getReg(b).AsInt() < vm.getReg(c).AsInt()))
	case OpLte:
		vm.setReg(a, boolReg(vm.getReg(b).AsInt() <= vm.getReg(c).AsInt()))
	case OpGt:
		vm.setReg(a, boolReg(vm.getReg(b).AsInt() > vm.getReg(c).AsInt()))
	case OpGte:
		vm.setReg(a, boolReg(vm.getReg(b).AsInt() >= vm.getReg(c).AsInt()))

	// ---- Load/Store --------------------------------------------------------

	case OpLoadConst:
		idx := uint32(imm16)
		if idx >= uint32(len(vm.constants)) {
			return fmt.Errorf("vm: constant pool index %d out of range (pool size %d)", idx, len(vm.constants))
		}
		vm.setReg(a, vm.constants[idx])

	case OpLoadTrue:
		vm.setReg(a, BoolValue(true))
	case OpLoadFalse:
		vm.setReg(a, BoolValue(false))
	case OpLoadNil:
		vm.setReg(a, NoneValue)

	case OpLoadStr:
		idx := int(imm16)
		if idx >= len(vm.stringPool) {
			return fmt.Errorf("vm: string pool index %d out of range", idx)
		}
		id := vm.heap.Alloc(CellString, -1)
		cell := vm.heap.Get(id)
		cell.Bytes = append(cell.Bytes, vm.stringPool[idx]...)
		vm.setReg(a, RefValue(id))

	case OpMove:
		vm.setReg(a, vm.getReg(b))
		vm.setReg(b, Value{})

	case OpCopy:
		v := vm.getReg(b)
		if v.Tag == TagRef {
			vm.heap.Incref(v.Handle)
		}
		vm.setReg(a, v)

	// ---- Heap cells ---------------------------------------------------------

	case OpObjectNew:
		layoutIdx := int(imm16)
		if layoutIdx >= len(vm.typeTable) {
			return fmt.Errorf("vm: object layout index %d out of range", layoutIdx)
		}
		layout := vm.typeTable[layoutIdx]
		id := vm.heap.Alloc(CellObject, layout.DestructorFn)
		cell := vm.heap.Get(id)
		cell.TypeIndex = layoutIdx
		cell.Elems = make([]Value, layout.FieldCount)
		vm.setReg(a, RefValue(id))

	case OpFieldGet:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil || int(c) >= len(cell.Elems) {
			return fmt.Errorf("vm: field index %d out of range", c)
		}
		vm.setReg(a, cell.Elems[c])

	case OpFieldSet:
		cell := vm.heap.Get(vm.getReg(a).Handle)
		if cell == nil || int(b) >= len(cell.Elems) {
			return fmt.Errorf("vm: field index %d out of range", b)
		}
		cell.Elems[b] = vm.getReg(c)

	case OpRefInc:
		vm.heap.Incref(vm.getReg(a).Handle)

	case OpRefDec:
		vm.heap.Decref(vm.getReg(a).Handle, vm.runDestructor)

	case OpWeakNew:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell != nil {
			cell.Weak++
		}
		vm.setReg(a, WeakValue(vm.getReg(b).Handle))

	case OpWeakUpgrade:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil || cell.Strong == 0 {
			vm.setReg(a, NoneValue)
		} else {
			vm.heap.Incref(cell.ID)
			vm.setReg(a, RefValue(cell.ID))
		}

	// ---- Globals ---------------------------------------------------------------

	case OpLoadGlobal:
		slot := int(imm16)
		if slot >= len(vm.globals) {
			return fmt.Errorf("vm: global slot %d out of range", slot)
		}
		vm.setReg(a, vm.globals[slot])

	case OpStoreGlobal:
		slot := int(imm16)
		if slot >= len(vm.globals) {
			return fmt.Errorf("vm: global slot %d out of range", slot)
		}
		if !vm.globalOverridden[slot] {
			vm.globals[slot] = vm.getReg(a)
		}

	// ---- Control flow ---------------------------------------------------------

	case OpJump:
		target := uint32(imm16) * 4
		if int(target) > len(vm.code) {
			return fmt.Errorf("vm: jump target %d out of range", target)
		}
		vm.cur.pc = target

	case OpJumpIf:
		if vm.getReg(a).Truthy() {
			target := uint32(imm16) * 4
			if int(target) > len(vm.code) {
				return fmt.Errorf("vm: jump target %d out of range", target)
			}
			vm.cur.pc = target
		}

	case OpJumpIfNot:
		if !vm.getReg(a).Truthy() {
			target := uint32(imm16) * 4
			if int(target) > len(vm.code) {
				return fmt.Errorf("vm: jump target %d out of range", target)
			}
			vm.cur.pc = target
		}

	case OpCallPrep:
		vm.cur.pendingArgBase = a
		vm.cur.pendingArgCount = b

	case OpCall:
		funcIdx := int(imm16)
		args := vm.collectPendingArgs()
		if err := vm.pushCall(vm.cur, funcIdx, a, args); err != nil {
			return err
		}

	case OpDefer:
		funcIdx := int(imm16)
		if funcIdx >= len(vm.funcTable) {
			return fmt.Errorf("vm: defer target index %d out of range", funcIdx)
		}
		args := vm.collectPendingArgs()
		vm.cur.curDefers = append(vm.cur.curDefers, deferredCall{funcIdx: funcIdx, args: args})

	case OpCallExtern:
		externIdx := int(imm16)
		if externIdx >= len(vm.externs) {
			return fmt.Errorf("vm: extern index %d out of range", externIdx)
		}
		args := []Value{vm.getReg(b), vm.getReg(c)}
		result, err := vm.externs[externIdx](vm, args)
		if err != nil {
			return err
		}
		vm.setReg(a, result)

	case OpReturn:
		retVal := vm.getReg(a)
		ctx := vm.cur
		vm.runDefers(ctx)
		if len(ctx.callStack) == 0 {
			if ctx != vm.main {
				return &errCoroutineReturn{value: retVal}
			}
			vm.setReg(1, retVal)
			vm.halted = true
			return nil
		}
		f := ctx.callStack[len(ctx.callStack)-1]
		ctx.callStack = ctx.callStack[:len(ctx.callStack)-1]
		ctx.pc = f.returnPC
		ctx.base = f.callerBase
		ctx.top = f.callerTop
		ctx.curDefers = f.savedDefers
		vm.setReg(f.returnReg, retVal)

	case OpHalt:
		vm.setReg(1, vm.getReg(a))
		vm.halted = true

	// ---- Stack frame ------------------------------------------------------

	case OpPush:
		vm.cur.stack = append(vm.cur.stack, vm.getReg(a))
	case OpPop:
		if len(vm.cur.stack) == 0 {
			return ErrStackUnderflow
		}
		v := vm.cur.stack[len(vm.cur.stack)-1]
		vm.cur.stack = vm.cur.stack[:len(vm.cur.stack)-1]
		vm.setReg(a, v)

	// ---- Coroutines and channels --------------------------------------------

	case OpSpawn:
		funcIdx := int(vm.getReg(b).AsInt())
		if funcIdx >= len(vm.funcTable) {
			return fmt.Errorf("vm: spawn target index %d out of range", funcIdx)
		}
		id := vm.heap.Alloc(CellCoroutine, -1)
		ctx := newExecContext(vm.funcTable[funcIdx])
		vm.coroutines[id] = ctx
		vm.setReg(a, RefValue(id))

	case OpYield:
		vm.cur.resumeDestReg = a
		return &errSuspend{value: vm.getReg(b)}

	case OpResume:
		return vm.execResume(a, b, c)

	case OpChanNew:
		id := vm.heap.Alloc(CellChannel, -1)
		cell := vm.heap.Get(id)
		cell.ChanCap = int(vm.getReg(b).AsInt())
		vm.setReg(a, RefValue(id))

	case OpChanSend:
		cell := vm.heap.Get(vm.getReg(a).Handle)
		if cell == nil {
			return ErrChannelClosed
		}
		if len(cell.ChanBuf) >= cell.ChanCap {
			vm.cur.pc -= 4
			return &errSuspend{value: NoneValue}
		}
		cell.ChanBuf = append(cell.ChanBuf, vm.getReg(c))

	case OpChanRecv:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil {
			return ErrChannelClosed
		}
		if len(cell.ChanBuf) == 0 {
			vm.cur.pc -= 4
			return &errSuspend{value: NoneValue}
		}
		v := cell.ChanBuf[0]
		cell.ChanBuf = cell.ChanBuf[1:]
		vm.setReg(a, v)

	// ---- Sum types -----------------------------------------------------------

	case OpMakeSome:
		id := vm.heap.Alloc(CellOption, -1)
		cell := vm.heap.Get(id)
		cell.Elems = []Value{vm.getReg(b)}
		vm.setReg(a, RefValue(id))

	case OpMakeNone:
		vm.setReg(a, NoneValue)

	case OpMakeOk:
		id := vm.heap.Alloc(CellResult, -1)
		cell := vm.heap.Get(id)
		cell.Elems = []Value{BoolValue(true), vm.getReg(b)}
		vm.setReg(a, RefValue(id))

	case OpMakeErr:
		id := vm.heap.Alloc(CellResult, -1)
		cell := vm.heap.Get(id)
		cell.Elems = []Value{BoolValue(false), vm.getReg(b)}
		vm.setReg(a, RefValue(id))

	case OpIsSome:
		v := vm.getReg(b)
		vm.setReg(a, boolReg(v.Tag != TagNone))

	case OpIsOk:
		v := vm.getReg(b)
		cell := vm.heap.Get(v.Handle)
		vm.setReg(a, boolReg(cell != nil && len(cell.Elems) > 0 && cell.Elems[0].AsBool()))

	case OpUnwrap:
		v := vm.getReg(b)
		if v.Tag == TagNone {
			return ErrUnwrapFailed
		}
		cell := vm.heap.Get(v.Handle)
		if cell == nil {
			return ErrUnwrapFailed
		}
		switch cell.Kind {
		case CellOption:
			vm.setReg(a, cell.Elems[0])
		case CellResult:
			if !cell.Elems[0].AsBool() {
				return ErrUnwrapFailed
			}
			vm.setReg(a, cell.Elems[1])
		default:
			return ErrUnwrapFailed
		}

	// ---- Arrays and strings ----------------------------------------------------

	case OpArrayNew:
		id := vm.heap.Alloc(CellArray, -1)
		cell := vm.heap.Get(id)
		cell.Elems = make([]Value, vm.getReg(b).AsInt())
		vm.setReg(a, RefValue(id))

	case OpArrayGet:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		idx := vm.getReg(c).AsInt()
		if cell == nil || idx < 0 || int(idx) >= len(cell.Elems) {
			return fmt.Errorf("vm: array index %d out of range", idx)
		}
		vm.setReg(a, cell.Elems[idx])

	case OpArraySet:
		cell := vm.heap.Get(vm.getReg(a).Handle)
		idx := vm.getReg(b).AsInt()
		if cell == nil || idx < 0 || int(idx) >= len(cell.Elems) {
			return fmt.Errorf("vm: array index %d out of range", idx)
		}
		cell.Elems[idx] = vm.getReg(c)

	case OpArrayLen:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil {
			return fmt.Errorf("vm: array handle %d is not live", vm.getReg(b).Handle)
		}
		vm.setReg(a, IntValue(int64(len(cell.Elems))))

	case OpStrConcat:
		left := vm.heap.Get(vm.getReg(b).Handle)
		right := vm.heap.Get(vm.getReg(c).Handle)
		id := vm.heap.Alloc(CellString, -1)
		cell := vm.heap.Get(id)
		if left != nil {
			cell.Bytes = append(cell.Bytes, left.Bytes...)
		}
		if right != nil {
			cell.Bytes = append(cell.Bytes, right.Bytes...)
		}
		vm.setReg(a, RefValue(id))

	case OpStrLen:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil {
			return fmt.Errorf("vm: string handle %d is not live", vm.getReg(b).Handle)
		}
		vm.setReg(a, IntValue(int64(len([]rune(string(cell.Bytes))))))

	case OpStrCharAt:
		cell := vm.heap.Get(vm.getReg(b).Handle)
		if cell == nil {
			return fmt.Errorf("vm: string handle %d is not live", vm.getReg(b).Handle)
		}
		runes := []rune(string(cell.Bytes))
		idx := vm.getReg(c).AsInt()
		if idx < 0 || int(idx) >= len(runes) {
			return fmt.Errorf("vm: string index %d out of range", idx)
		}
		vm.setReg(a, CharValue(runes[idx]))

	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, uint8(op))
	}

	return nil
}

// execResume transfers control to a suspended coroutine, running it until it
// yields, returns, or errors, then restores the calling context.
func (vm *VM) execResume(a, b, c uint8) error {
	handle := vm.getReg(b).Handle
	ctx, ok := vm.coroutines[handle]
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrCoroutineFault, handle)
	}

	passVal := vm.getReg(c)
	if ctx.started {
		ctx.registers[ctx.base+uint32(ctx.resumeDestReg)] = passVal
	} else {
		ctx.registers[ctx.base+2] = passVal
		ctx.started = true
	}

	vm.resumeStack = append(vm.resumeStack, vm.cur)
	vm.cur = ctx
	defer func() {
		vm.cur = vm.resumeStack[len(vm.resumeStack)-1]
		vm.resumeStack = vm.resumeStack[:len(vm.resumeStack)-1]
	}()

	for {
		err := vm.Step()
		if err == nil {
			continue
		}
		if susp, ok := err.(*errSuspend); ok {
			vm.setReg(a, susp.value)
			return nil
		}
		if ret, ok := err.(*errCoroutineReturn); ok {
			delete(vm.coroutines, handle)
			if cell := vm.heap.Get(handle); cell != nil {
				cell.Done = true
			}
			vm.setReg(a, ret.value)
			return nil
		}
		return err
	}
}

// valuesEqual compares two Values for equality. Ref/weak handles compare by
// identity; option/result content equality is handled at a higher layer
// (lang/emit lowers structural `==` on sum types to field-by-field compares).
func valuesEqual(l, r Value) bool {
	if l.Tag != r.Tag {
		return false
	}
	switch l.Tag {
	case TagRef, TagWeak:
		return l.Handle == r.Handle
	default:
		return l.Bits == r.Bits
	}
}

// ---- Disassembly helper ----------------------------------------------------

// Disassemble returns a human-readable listing of the bytecode.
func Disassemble(code []byte) string {
	out := ""
	for i := 0; i+4 <= len(code); i += 4 {
		word := binary.LittleEndian.Uint32(code[i:])
		op := Opcode(word & 0xFF)
		a := (word >> 8) & 0xFF
		b := (word >> 16) & 0xFF
		c := (word >> 24) & 0xFF
		imm16 := (b << 8) | c

		instrIdx := i / 4
		if op.IsWideImmediate() {
			out += fmt.Sprintf("[%04d] %-20s R%d, %d\n", instrIdx, op, a, imm16)
		} else {
			switch op.Operands() {
			case 1:
				out += fmt.Sprintf("[%04d] %-20s R%d\n", instrIdx, op, a)
			case 2:
				out += fmt.Sprintf("[%04d] %-20s R%d, R%d\n", instrIdx, op, a, b)
			case 3:
				out += fmt.Sprintf("[%04d] %-20s R%d, R%d, R%d\n", instrIdx, op, a, b, c)
			default:
				out += fmt.Sprintf("[%04d] %-20s\n", instrIdx, op)
			}
		}
	}
	return out
}
