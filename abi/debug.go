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
	"io"
	"net/http"

	"github.com/etch-lang/etch/lang/debug"
)

// EnableDebug turns on h's debug mode: a Coordinator is created and, if a
// program is already loaded, attached to it immediately; CompileString and
// CompileFile also attach a freshly loaded program to an already-enabled
// coordinator (see context.go's load). Per spec.md §4.5, debug mode must be
// set before a program starts running for breakpoints to have somewhere to
// land.
func EnableDebug(h Handle) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.debugCoord != nil {
		return nil
	}
	ctx.debugCoord = debug.NewCoordinator()
	ctx.opts.Debug = true
	if ctx.machine != nil {
		ctx.debugCoord.Attach(ctx.machine, ctx.prog)
	}
	return nil
}

// SetBreakpoints replaces h's breakpoint set for file with lines.
func SetBreakpoints(h Handle, file string, lines []int) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.debugCoord == nil {
		return fmt.Errorf("abi: debug mode is not enabled for this context")
	}
	ctx.debugCoord.SetBreakpoints(file, lines)
	return nil
}

// BootstrapDebugServer opens a TCP debug listener per ETCH_DEBUG_PORT /
// ETCH_DEBUG_TIMEOUT (spec.md §6) for h's coordinator, blocking until a
// client attaches or the timeout elapses. It reports (false, nil) if debug
// mode isn't enabled on h or ETCH_DEBUG_PORT is unset.
func BootstrapDebugServer(h Handle) (bool, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return false, err
	}
	if ctx.debugCoord == nil {
		return false, nil
	}
	return debug.BootstrapFromEnv(ctx.debugCoord)
}

// RunConsoleDebugger drives h's coordinator from an inline, stdio-attached
// console session (spec.md §4.5's "inline (stdio) DAP server... started
// from the host" fallback for an embedder with no external debug client).
func RunConsoleDebugger(h Handle, out io.Writer) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	if ctx.debugCoord == nil {
		return fmt.Errorf("abi: debug mode is not enabled for this context")
	}
	return debug.RunConsole(ctx.debugCoord, out)
}

// DebugWebSocketHandler returns an http.Handler a host's own HTTP server
// can mount to serve h's debug session over a websocket, for browser-based
// debug clients (spec.md §4.6's third access path alongside TCP and the
// inline console).
func DebugWebSocketHandler(h Handle) (http.Handler, error) {
	ctx, err := lookupContext(h)
	if err != nil {
		return nil, err
	}
	if ctx.debugCoord == nil {
		return nil, fmt.Errorf("abi: debug mode is not enabled for this context")
	}
	return debug.WebSocketHandler(ctx.debugCoord), nil
}
