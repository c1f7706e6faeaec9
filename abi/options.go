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

// Package abi is the embedding surface a host application drives Etch
// through: opaque Context and Value handles, compilation, execution, the
// globals/host-function tables, VM inspection, and frame-budgeted GC
// control. It is plain Go underneath, and this module contains no
// cgo-exported C function table for a native host to link against (cgo's
// //export mechanism only attaches to the package actually built with
// -buildmode=c-shared/c-archive, which must be "main" — so the
// opaque-handle logic and its tests live in this importable package).
package abi

// Options configures a new Context, mirroring the teacher's probeconfig
// plain-struct-with-defaults shape rather than anything env-driven beyond
// the two variables spec.md §6 names.
type Options struct {
	Verbose bool
	Debug   bool
	// GCCycleInterval is an instruction-count interval for incremental
	// cycle collection; 0 means SetDefaults should apply
	// DefaultGCCycleInterval. It is not passed to the VM: the heap starts
	// from its own lang/vm.DefaultGCInterval whatever this field holds.
	GCCycleInterval uint64
	// DebugPort is not read by this package: the debug server's port
	// always comes from ETCH_DEBUG_PORT (see lang/debug.BootstrapFromEnv),
	// whatever this field holds.
	DebugPort int
}

// DefaultGCCycleInterval is spec.md §4.4's documented adaptive-GC default.
const DefaultGCCycleInterval = 1000

// SetDefaults fills zero-valued fields with their documented defaults.
func (o *Options) SetDefaults() {
	if o.GCCycleInterval == 0 {
		o.GCCycleInterval = DefaultGCCycleInterval
	}
}
