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

// Package debug implements the VM's debug coordinator: pausing, stepping,
// and inspecting a running lang/vm.VM through a DAP-speaking client. A
// Coordinator installs itself as the VM's per-instruction poll hook and
// blocks the VM's own goroutine whenever a breakpoint or step condition is
// met, so there is no separate supervisor goroutine racing the VM loop —
// exactly one of them is ever running at a time, mirroring the VM's own
// single-threaded, cooperative execution model.
package debug

import (
	"sort"
	"sync"

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

// StepMode selects how the poll hook decides to pause execution.
type StepMode int

const (
	// ModeRun never pauses except on a breakpoint.
	ModeRun StepMode = iota
	// ModeStepIn pauses on the next new source line, regardless of call depth.
	ModeStepIn
	// ModeStepOver pauses on the next new source line at or above the
	// depth the step started at, skipping over any calls made meanwhile.
	ModeStepOver
	// ModeStepOut pauses as soon as the call depth drops below the depth
	// the step started at, i.e. when the current function returns.
	ModeStepOut
)

// Position is a (file, line) pair, the key a breakpoint and the last-seen
// location are both tracked by.
type Position struct {
	File string
	Line int
}

// StopReason names why the coordinator paused, mirroring DAP's
// StoppedEvent.reason values.
type StopReason string

const (
	ReasonBreakpoint StopReason = "breakpoint"
	ReasonStep       StopReason = "step"
	ReasonPause      StopReason = "pause"
)

// StoppedEvent is emitted on Events() every time the coordinator pauses.
type StoppedEvent struct {
	Reason   StopReason
	Position Position
	Depth    int
}

// Coordinator is the pause/step/inspect engine behind the debug server and
// inline console. It is not safe for concurrent use by more than one
// client goroutine at a time; Attach binds it to one running VM.
type Coordinator struct {
	mu sync.Mutex

	lines []emit.LineEntry // sorted ascending by PC, copied from the Program at Attach

	breakpoints map[Position]struct{}

	mode           StepMode
	stepStartDepth int

	paused   bool
	last     Position
	haveLast bool

	v *vm.VM

	events chan StoppedEvent
	resume chan struct{}

	detached bool
}

// NewCoordinator builds a Coordinator ready to have breakpoints set before
// it is attached to a running VM.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		breakpoints: make(map[Position]struct{}),
		events:      make(chan StoppedEvent, 1),
		resume:      make(chan struct{}),
	}
}

// Events returns the channel StoppedEvents are published on. A client
// (the TCP server, the inline console, or a test) must drain it to learn
// when the VM has paused.
func (c *Coordinator) Events() <-chan StoppedEvent { return c.events }

// Attach installs the coordinator as v's poll hook and records prog's line
// table for PC-to-position lookups. Call this once, before running v.
func (c *Coordinator) Attach(v *vm.VM, prog *emit.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.v = v
	c.lines = prog.Lines
	v.SetPollHook(c.poll)
}

// SetBreakpoints replaces the full set of breakpoints for file with lines,
// the usual DAP "setBreakpoints" request semantics (authoritative, not
// incremental).
func (c *Coordinator) SetBreakpoints(file string, lines []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.breakpoints {
		if key.File == file {
			delete(c.breakpoints, key)
		}
	}
	for _, line := range lines {
		c.breakpoints[Position{File: file, Line: line}] = struct{}{}
	}
}

// AddBreakpoint sets one breakpoint without disturbing any others, the
// incremental counterpart to SetBreakpoints used by the inline console.
func (c *Coordinator) AddBreakpoint(file string, line int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakpoints[Position{File: file, Line: line}] = struct{}{}
}

// RemoveBreakpoint clears one breakpoint.
func (c *Coordinator) RemoveBreakpoint(file string, line int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakpoints, Position{File: file, Line: line})
}

// Continue resumes a paused VM and only stops again on a breakpoint.
func (c *Coordinator) Continue() { c.setModeAndResume(ModeRun) }

// StepIn resumes a paused VM and stops on the next new source line.
func (c *Coordinator) StepIn() { c.setModeAndResume(ModeStepIn) }

// StepOver resumes a paused VM and stops on the next new source line at
// the same or a shallower call depth, skipping over nested calls.
func (c *Coordinator) StepOver() { c.setModeAndResume(ModeStepOver) }

// StepOut resumes a paused VM and stops once the current function returns.
func (c *Coordinator) StepOut() { c.setModeAndResume(ModeStepOut) }

func (c *Coordinator) setModeAndResume(mode StepMode) {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.mode = mode
	if c.v != nil {
		c.stepStartDepth = c.v.CallDepth()
	}
	c.paused = false
	c.mu.Unlock()
	c.resume <- struct{}{}
}

// Disconnect detaches the coordinator from the VM's poll hook and, if the
// VM is currently paused waiting on a client, lets it run to completion
// unconstrained — matching DAP's "disconnect" request, which leaves a
// running program alone rather than killing it.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.detached = true
	wasPaused := c.paused
	if c.v != nil {
		c.v.SetPollHook(nil)
	}
	c.paused = false
	c.mu.Unlock()
	if wasPaused {
		c.resume <- struct{}{}
	}
}

// lineForPC returns the source position of the statement containing pc, the
// greatest line-table entry whose PC does not exceed pc.
func (c *Coordinator) lineForPC(pc uint32) Position {
	i := sort.Search(len(c.lines), func(i int) bool { return c.lines[i].PC > pc })
	if i == 0 {
		return Position{}
	}
	entry := c.lines[i-1]
	return Position{File: entry.Pos.File, Line: entry.Pos.Line}
}

// poll is installed as the VM's PollHook. It runs on the VM's own goroutine,
// once before every instruction.
func (c *Coordinator) poll(v *vm.VM) error {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil
	}

	pos := c.lineForPC(v.PC())
	newLine := !c.haveLast || pos != c.last
	c.last = pos
	c.haveLast = true
	depth := v.CallDepth()

	var reason StopReason
	stop := false
	if _, hit := c.breakpoints[pos]; hit {
		stop, reason = true, ReasonBreakpoint
	} else {
		switch c.mode {
		case ModeStepIn:
			stop = newLine
		case ModeStepOver:
			stop = newLine && depth <= c.stepStartDepth
		case ModeStepOut:
			stop = depth < c.stepStartDepth
		}
		if stop {
			reason = ReasonStep
		}
	}

	if !stop {
		c.mu.Unlock()
		return nil
	}

	c.paused = true
	c.mu.Unlock()

	c.events <- StoppedEvent{Reason: reason, Position: pos, Depth: depth}
	<-c.resume
	return nil
}

// currentPosition reports the last position the poll hook observed,
// primarily for a connected client's "stackTrace"/"source" requests.
func (c *Coordinator) currentPosition() (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.haveLast
}
