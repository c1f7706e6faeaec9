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

package debug

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

// RunConsole drives an interactive, line-edited debug console directly
// against coord over stdio — spec.md §4.5's "inline (stdio) DAP server"
// alternative to the TCP transport, for a host that wants a debugger
// attached without a separate DAP-speaking client. Unlike the TCP session
// (server.go), which speaks framed JSON for an editor extension, this reads
// short human commands with history and line editing courtesy of
// github.com/peterh/liner, and exits when the VM halts or the user quits.
func RunConsole(coord *Coordinator, out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	events := coord.Events()
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case ev := <-events:
				fmt.Fprintf(out, "\nstopped (%s) at %s:%d\n", ev.Reason, ev.Position.File, ev.Position.Line)
			}
		}
	}()
	defer close(quit)

	fmt.Fprintln(out, "etch debug console — commands: continue (c), next (n), step (s), out (o), break <file>:<line> (b), clear <file>:<line>, quit (q)")
	for {
		input, err := line.Prompt("(etch-debug) ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line.AppendHistory(input)

		cmd, rest := splitCommand(input)
		switch cmd {
		case "", "help", "h":
			fmt.Fprintln(out, "commands: continue (c), next (n), step (s), out (o), break <file>:<line> (b), clear <file>:<line>, quit (q)")
		case "c", "continue":
			coord.Continue()
		case "n", "next":
			coord.StepOver()
		case "s", "step":
			coord.StepIn()
		case "o", "out":
			coord.StepOut()
		case "b", "break":
			file, ln, err := parseLocation(rest)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			coord.AddBreakpoint(file, ln)
			fmt.Fprintf(out, "breakpoint set at %s:%d\n", file, ln)
		case "clear":
			file, ln, err := parseLocation(rest)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			coord.RemoveBreakpoint(file, ln)
			fmt.Fprintf(out, "breakpoint cleared at %s:%d\n", file, ln)
		case "q", "quit", "disconnect":
			coord.Disconnect()
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q\n", cmd)
		}
	}
}

func splitCommand(input string) (cmd, rest string) {
	fields := strings.SplitN(strings.TrimSpace(input), " ", 2)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(fields[1])
}

// parseLocation splits "file:line" into its parts for the break/clear
// commands.
func parseLocation(spec string) (string, int, error) {
	idx := strings.LastIndex(spec, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("expected <file>:<line>, got %q", spec)
	}
	file := spec[:idx]
	ln, err := strconv.Atoi(spec[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid line number in %q: %w", spec, err)
	}
	return file, ln, nil
}
