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

import "fmt"

// SetGlobal and GetGlobal implement spec.md §4.2's per-context override
// table: a host calls SetGlobal before Execute/CompileString/CompileFile to
// seed a value a running program's global scope should see in place of its
// own initializer, and GetGlobal afterward to read a global's current value
// back out.
//
// ctx.globalOverrides is always the source of record for a pending
// SetGlobal call: it survives across CompileString/CompileFile reloads, and
// a name a program hasn't declared as a global yet (or no longer has, after
// a recompile) simply sits there unused rather than erroring. Once a
// program is loaded, load (context.go) resolves override names against the
// freshly compiled global-slot table and pushes any matches straight into
// the VM via SetGlobalOverride, so they win over the program's own
// <global> initializer the first time it runs (see
// ensureGlobalsInitialized). SetGlobal called after a program is already
// loaded pushes the same way, immediately.
func SetGlobal(h Handle, name string, value Handle) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	v, ok := valueOf(value)
	if !ok {
		return ErrInvalidHandle{Handle: value}
	}
	ctx.globalOverrides[name] = v
	if ctx.machine != nil {
		if slot, ok := ctx.globalSlot[name]; ok {
			ctx.machine.SetGlobalOverride(slot, v)
		}
	}
	return nil
}

// GetGlobal returns the handle for name's current value: once the program's
// globals have been initialized (see ensureGlobalsInitialized), that means
// the live value in the VM's global slot; before then, or for a name the
// program doesn't declare as a global at all, it falls back to whatever a
// host last passed to SetGlobal.
func GetGlobal(h Handle, name string) (Handle, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return ZeroHandle, err
	}
	if ctx.machine != nil && ctx.globalsDone {
		if slot, ok := ctx.globalSlot[name]; ok {
			return values.put(ctx.machine.GlobalValue(slot)), nil
		}
	}
	v, ok := ctx.globalOverrides[name]
	if !ok {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: no global named %q", name))
	}
	return values.put(v), nil
}
