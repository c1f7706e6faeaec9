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
	"time"

	"github.com/etch-lang/etch/lang/vm"
)

// GCStats is a snapshot of h's heap for host-side monitoring.
type GCStats struct {
	LiveCells int
}

// HeapStats returns a snapshot of h's live heap cell count.
func HeapStats(h Handle) (GCStats, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return GCStats{}, err
	}
	if ctx.machine == nil {
		return GCStats{}, fmt.Errorf("abi: context has no compiled program")
	}
	return GCStats{LiveCells: ctx.machine.Heap().Len()}, nil
}

// HeapNeedsCollection reports whether h's heap has crossed the threshold
// that would trigger a cycle-collection pass on its next instruction (see
// lang/vm.Heap.NeedsGCFrame and its internal use inside VM.Step). A host
// running many short Execute/CallFunction calls back to back, with little
// time spent inside any single call for the VM's own per-step check to
// fire, can poll this between calls and use CollectCycles to force a pass
// during its own idle time instead.
func HeapNeedsCollection(h Handle) (bool, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return false, err
	}
	if ctx.machine == nil {
		return false, fmt.Errorf("abi: context has no compiled program")
	}
	return ctx.machine.Heap().NeedsGCFrame(), nil
}

// CollectCycles runs one cycle-collection pass against h's heap. budget is
// recorded as the frame's time allowance (see vm.Heap.BeginFrame), but the
// pass does not stop when it runs out: it processes every buffered
// candidate before returning.
// Destructor-bearing cells collected during the pass have their destructor
// function run synchronously against a nested execution context, exactly
// as an automatic in-Step collection does.
func CollectCycles(h Handle, budget time.Duration) (freed int, err error) {
	ctx, lookupErr := lookupContext(h)
	if lookupErr != nil {
		return 0, lookupErr
	}
	if ctx.machine == nil {
		return 0, fmt.Errorf("abi: context has no compiled program")
	}
	heap := ctx.machine.Heap()
	heap.BeginFrame(budget)
	candidates := heap.Len()
	freed = heap.CollectCycles(func(c *vm.Cell) { runDestructorFor(ctx, c) })
	heap.AdjustInterval(freed, candidates)
	return freed, nil
}

// runDestructorFor invokes c's destructor function, if it has one, via
// ctx.machine.Call against a throwaway argument list — the destructor
// receives the dying cell as its sole argument, matching the teacher's own
// runDestructor convention of passing a fresh ref to the cell in R2.
func runDestructorFor(ctx *Context, c *vm.Cell) {
	if c.DestructorFn < 0 || c.DestructorFn >= len(ctx.prog.Functions) {
		return
	}
	_, _ = ctx.machine.Call(c.DestructorFn, []vm.Value{vm.RefValue(c.ID)})
}
