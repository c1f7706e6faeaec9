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

	"github.com/etch-lang/etch/lang/vm"
)

// RegisterFunction records callback under name in h's host-function table,
// per spec.md §4.5: "the callback is invoked synchronously when the VM
// encounters a call to a name registered in the host-function table, with
// marshalled EtchValue handles."
//
// lang/emit's call-expression path only ever emits OpCall against a
// function index resolved from the compiled program's own Functions table
// (see emitCallByIndex); OpCallExtern exists at the VM level and is wired
// to the fixed-arity builtin CFFI table (package ffi), but nothing in
// lang/emit emits a call through it for an arbitrary identifier — indirect
// and extern calls are explicitly rejected by the emitter today
// ("indirect/extern calls are not yet supported"). So a name registered
// here is never actually reached by a running compiled program; there is
// no call site in this build's bytecode that could address it.
//
// RegisterFunction and InvokeRegistered are still useful as the host-side
// half of that contract — a host can register a callback and, once the
// emitter grows a call-by-registered-name opcode, wiring the VM side is a
// matter of consulting ctx.hostFns from the new opcode's case in
// lang/vm/vm.go. Until then InvokeRegistered lets a host (or a test) call
// a registered function directly, without a running program in the loop.
func RegisterFunction(h Handle, name string, fn HostFunc, userData any) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("abi: RegisterFunction: nil callback for %q", name)
	}
	ctx.hostFns[name] = hostBinding{fn: fn, userData: userData}
	return nil
}

// UnregisterFunction removes name's binding, if any.
func UnregisterFunction(h Handle, name string) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	delete(ctx.hostFns, name)
	return nil
}

// InvokeRegistered calls name's registered callback directly with args,
// marshalling each through the values registry the same way CallFunction
// does for a compiled function. See the package-level doc comment above for
// why this is a direct host-to-host call rather than something a running
// Etch program can trigger on its own.
func InvokeRegistered(h Handle, name string, args []Handle) (Handle, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return ZeroHandle, err
	}
	ctx.clearError()

	binding, ok := ctx.hostFns[name]
	if !ok {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: no host function named %q", name))
	}

	vals := make([]vm.Value, len(args))
	for i, ah := range args {
		v, ok := valueOf(ah)
		if !ok {
			return ZeroHandle, ctx.fail(ErrInvalidHandle{Handle: ah})
		}
		vals[i] = v
	}

	result, err := binding.fn(vals, binding.userData)
	if err != nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: host function %q: %w", name, err))
	}
	return values.put(result), nil
}
