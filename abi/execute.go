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

const entryFunctionName = "main"

// Execute runs h's compiled program's "main" function to completion, after
// first running its <global> initializer if this is the first call since
// the program was loaded (see context.go's ensureGlobalsInitialized).
func Execute(h Handle) (Handle, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return ZeroHandle, err
	}
	ctx.clearError()
	if ctx.machine == nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: context has no compiled program"))
	}

	idx, ok := ctx.funcIdx[entryFunctionName]
	if !ok {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: program defines no %q function", entryFunctionName))
	}
	if err := ctx.ensureGlobalsInitialized(); err != nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: global initializer: %w", err))
	}
	ctx.machine.SetEntryPC(ctx.prog.Functions[idx].Offset)

	result, err := ctx.machine.Run()
	if err != nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: execute: %w", err))
	}
	return values.put(result), nil
}

// CallFunction looks up name in h's compiled program, constructs a fresh
// call frame, copies args in, and runs until that frame returns, per
// spec.md §4.5.
func CallFunction(h Handle, name string, args []Handle) (Handle, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return ZeroHandle, err
	}
	ctx.clearError()
	if ctx.machine == nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: context has no compiled program"))
	}

	idx, ok := ctx.funcIdx[name]
	if !ok {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: no function named %q", name))
	}
	fn := ctx.prog.Functions[idx]
	if len(args) != fn.NumParams {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: %q expects %d argument(s), got %d", name, fn.NumParams, len(args)))
	}

	vals := make([]vm.Value, len(args))
	for i, ah := range args {
		v, ok := values.get(ah)
		if !ok {
			return ZeroHandle, ctx.fail(ErrInvalidHandle{Handle: ah})
		}
		vals[i] = v
	}

	if err := ctx.ensureGlobalsInitialized(); err != nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: global initializer: %w", err))
	}
	result, err := ctx.machine.Call(idx, vals)
	if err != nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: callFunction %q: %w", name, err))
	}
	return values.put(result), nil
}
