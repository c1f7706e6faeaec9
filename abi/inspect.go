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

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

// CompiledProgram returns h's compiled program, for a host tool that wants
// to inspect it directly (e.g. the CLI's --dump-bytecode) rather than going
// through one of the narrower accessors below.
func CompiledProgram(h Handle) (*emit.Program, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return nil, err
	}
	if ctx.prog == nil {
		return nil, fmt.Errorf("abi: context has no compiled program")
	}
	return ctx.prog, nil
}

// ProgramCounter, CallDepth, InstructionCount, and Register expose h's VM
// state for host-side inspection (a debugger front end, or a host that
// wants to cap instruction counts itself rather than via SetStepLimit).
func ProgramCounter(h Handle) (uint32, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return 0, err
	}
	if ctx.machine == nil {
		return 0, fmt.Errorf("abi: context has no compiled program")
	}
	return ctx.machine.PC(), nil
}

func CallDepth(h Handle) (int, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return 0, err
	}
	if ctx.machine == nil {
		return 0, fmt.Errorf("abi: context has no compiled program")
	}
	return ctx.machine.CallDepth(), nil
}

func InstructionCount(h Handle) (uint64, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return 0, err
	}
	if ctx.machine == nil {
		return 0, fmt.Errorf("abi: context has no compiled program")
	}
	return ctx.machine.InstructionCount(), nil
}

// RegisterValue reads register idx of h's active execution context and
// returns it as a new EtchValue handle.
func RegisterValue(h Handle, idx uint8) (Handle, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return ZeroHandle, err
	}
	if ctx.machine == nil {
		return ZeroHandle, fmt.Errorf("abi: context has no compiled program")
	}
	return values.put(ctx.machine.Register(idx)), nil
}

// CurrentFunctionName resolves h's program counter back to the name of the
// function it falls inside of, for a debugger's call-stack display. It
// walks the compiled program's Functions table (sorted by declaration, not
// by offset, so every entry is checked) for the entry with the greatest
// Offset not exceeding pc.
func CurrentFunctionName(h Handle) (string, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return "", err
	}
	if ctx.machine == nil || ctx.prog == nil {
		return "", fmt.Errorf("abi: context has no compiled program")
	}
	pc := ctx.machine.PC()
	best := -1
	for i, f := range ctx.prog.Functions {
		if f.Offset <= pc && (best == -1 || f.Offset > ctx.prog.Functions[best].Offset) {
			best = i
		}
	}
	if best == -1 {
		return "", fmt.Errorf("abi: no function contains pc %d", pc)
	}
	return ctx.prog.Functions[best].Name, nil
}

// StepCallback is invoked once per VM instruction while single-stepping is
// active, mirroring lang/vm.PollHook's signature but expressed purely in
// terms of abi's own Handle so a host embedder never needs to import
// lang/vm directly.
type StepCallback func(h Handle) error

// SetStepCallback installs cb as h's instruction-level poll hook (see
// lang/vm.PollHook's doc comment for the single-threaded pause/step model
// this drives); pass nil to clear it.
func SetStepCallback(h Handle, cb StepCallback) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.machine == nil {
		return fmt.Errorf("abi: context has no compiled program")
	}
	if cb == nil {
		ctx.machine.SetPollHook(nil)
		return nil
	}
	ctx.machine.SetPollHook(func(m *vm.VM) error {
		return cb(h)
	})
	return nil
}
