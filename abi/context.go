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

package abi

import (
	"fmt"

	"github.com/etch-lang/etch/ffi"
	"github.com/etch-lang/etch/lang/bytecode"
	"github.com/etch-lang/etch/lang/debug"
	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

// contexts is the process-wide EtchContext registry; every exported
// function taking a Handle looks the Context up here first.
var contexts = newRegistry[*Context]()

// HostFunc is a host-registered callback invoked synchronously whenever the
// VM calls a name bound through RegisterFunction, per spec.md §4.5. userData
// is whatever opaque value the host passed to RegisterFunction.
type HostFunc func(args []vm.Value, userData any) (vm.Value, error)

type hostBinding struct {
	fn       HostFunc
	userData any
}

// Context is one embedder session: a compiled program, its running VM, the
// globals-override table, registered host functions, the last error, and
// (if debug mode is on) a debug coordinator. Not safe for concurrent use,
// per spec.md §4.5 ("Contexts are not thread-safe").
type Context struct {
	handle Handle
	opts   Options

	prog    *emit.Program
	funcIdx map[string]int
	machine *vm.VM

	globalOverrides map[string]vm.Value
	globalSlot      map[string]int
	globalsDone     bool
	hostFns         map[string]hostBinding

	lastErr error

	debugCoord *debug.Coordinator
}

// NewContext creates a Context and returns the Handle a host uses to refer
// to it in every subsequent call.
func NewContext(opts Options) Handle {
	opts.SetDefaults()
	ctx := &Context{
		opts:            opts,
		globalOverrides: make(map[string]vm.Value),
		hostFns:         make(map[string]hostBinding),
	}
	h := contexts.put(ctx)
	ctx.handle = h
	return h
}

// Free releases ctx and everything it owns (its VM, its debug coordinator
// if attached). The handle is invalid for any further call afterward.
func Free(h Handle) {
	if ctx, ok := contexts.get(h); ok && ctx.debugCoord != nil {
		ctx.debugCoord.Disconnect()
	}
	contexts.delete(h)
}

func lookupContext(h Handle) (*Context, error) {
	ctx, ok := contexts.get(h)
	if !ok {
		return nil, ErrInvalidHandle{Handle: h}
	}
	return ctx, nil
}

// fail records err as ctx's latest error (getError's source) and returns it,
// so call sites can `return ctx.fail(err)` in one line.
func (ctx *Context) fail(err error) error {
	ctx.lastErr = err
	return err
}

// clearError matches spec.md §4.5's "cleared by clearError and at the next
// successful operation" contract.
func (ctx *Context) clearError() { ctx.lastErr = nil }

// GetError returns the message of the latest error recorded against h, or
// "" if there is none. If h itself doesn't resolve, it returns the message
// of that lookup error instead.
func GetError(h Handle) string {
	ctx, err := lookupContext(h)
	if err != nil {
		return err.Error()
	}
	if ctx.lastErr == nil {
		return ""
	}
	return ctx.lastErr.Error()
}

// ClearError clears h's latest-error slot.
func ClearError(h Handle) {
	if ctx, err := lookupContext(h); err == nil {
		ctx.clearError()
	}
}

// load installs a freshly compiled cf into ctx, replacing any program and
// VM already there. It also wires up the global-slot table (see globals.go):
// pending SetGlobal overrides for names the program actually declares as
// globals are pushed into the fresh machine immediately, so they take effect
// over the program's own <global> initializer the first time it runs.
func (ctx *Context) load(cf *bytecode.CacheFile) error {
	externs, err := ffi.Load(cf.CFFI)
	if err != nil {
		return ctx.fail(fmt.Errorf("abi: load CFFI table: %w", err))
	}

	funcTable := make([]uint32, len(cf.Program.Functions))
	funcIdx := make(map[string]int, len(cf.Program.Functions))
	funcMeta := make([]vm.FuncMeta, len(cf.Program.Functions))
	for i, f := range cf.Program.Functions {
		funcTable[i] = f.Offset
		funcIdx[f.Name] = i
		funcMeta[i] = vm.FuncMeta{NumParams: f.NumParams, MaxRegister: f.MaxRegister}
	}

	machine := vm.New(cf.Program.Code, cf.Program.Constants, funcTable, cf.Program.Types)
	machine.SetExterns(externs)
	machine.SetStringPool(cf.Program.Strings)
	machine.SetFuncMeta(funcMeta)
	machine.InitGlobals(len(cf.Program.Globals))

	globalSlot := make(map[string]int, len(cf.Program.Globals))
	for slot, name := range cf.Program.Globals {
		globalSlot[name] = slot
	}
	for name, v := range ctx.globalOverrides {
		if slot, ok := globalSlot[name]; ok {
			machine.SetGlobalOverride(slot, v)
		}
	}

	ctx.prog = cf.Program
	ctx.funcIdx = funcIdx
	ctx.machine = machine
	ctx.globalSlot = globalSlot
	ctx.globalsDone = false
	if ctx.debugCoord != nil {
		ctx.debugCoord.Attach(machine, cf.Program)
	}
	return nil
}

// ensureGlobalsInitialized runs the program's synthetic <global> initializer
// exactly once per load, before the first Execute or CallFunction call
// touches any global. Slots a host pre-seeded via SetGlobal are already
// marked overridden (see load), so the initializer's own stores for those
// slots are no-ops and the host's value wins.
func (ctx *Context) ensureGlobalsInitialized() error {
	if ctx.globalsDone {
		return nil
	}
	ctx.globalsDone = true
	idx, ok := ctx.funcIdx[emit.GlobalInitFuncName]
	if !ok {
		return nil
	}
	_, err := ctx.machine.Call(idx, nil)
	return err
}
