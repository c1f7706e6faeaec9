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

// Command etch is the Etch language compiler and VM driver, per spec.md §6's
// CLI surface: compile and optionally run a program, dump its disassembled
// bytecode, or sit as a debug server for an attaching client.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/etch-lang/etch/abi"
	"github.com/etch-lang/etch/lang/bytecode"
)

const version = "0.1.0"

// Exit codes per spec.md §6: 0 success, 1 compile/runtime error, 2 internal
// error.
const (
	exitOK       = 0
	exitError    = 1
	exitInternal = 2
)

func main() {
	app := cli.NewApp()
	app.Name = "etch"
	app.Usage = "compile and run Etch programs"
	app.Version = version
	app.ArgsUsage = "<file.etch>"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "run", Usage: "run the compiled program (default when no other mode flag is given)"},
		cli.StringFlag{Name: "gen", Value: "vm", Usage: "backend for --run: \"vm\" (default) or \"c\" (emit C source instead of executing)"},
		cli.BoolFlag{Name: "verbose", Usage: "enable verbose compiler output"},
		cli.BoolFlag{Name: "release", Usage: "accepted but ignored: compilation and execution are the same with or without it"},
		cli.BoolFlag{Name: "debug-server", Usage: "compile in debug mode and wait for a debugger (see ETCH_DEBUG_PORT/ETCH_DEBUG_TIMEOUT)"},
		cli.BoolFlag{Name: "dump-bytecode", Usage: "compile and print the disassembled bytecode instead of running"},
	}
	app.Action = runAction

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitError)
	}
}

func runAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		cli.ShowAppHelp(ctx)
		os.Exit(exitError)
		return nil
	}
	path := ctx.Args().First()

	if ctx.String("gen") == "c" {
		fmt.Fprintln(os.Stderr, "error: the C backend is an external collaborator of this build and is not implemented here")
		os.Exit(exitInternal)
		return nil
	}

	h := abi.NewContext(abi.Options{
		Verbose: ctx.Bool("verbose"),
		Debug:   ctx.Bool("debug-server"),
	})
	defer abi.Free(h)

	if ctx.Bool("debug-server") {
		if err := abi.EnableDebug(h); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(exitInternal)
			return nil
		}
	}

	if err := abi.CompileFile(h, path); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", abi.GetError(h))
		os.Exit(exitError)
		return nil
	}

	if ctx.Bool("dump-bytecode") {
		dumpBytecode(h)
		return nil
	}

	if ctx.Bool("debug-server") {
		attached, err := abi.BootstrapDebugServer(h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(exitInternal)
			return nil
		}
		if !attached {
			fmt.Fprintln(os.Stderr, "error: --debug-server given but ETCH_DEBUG_PORT is not set")
			os.Exit(exitError)
			return nil
		}
	}

	resultH, err := abi.Execute(h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", abi.GetError(h))
		os.Exit(exitError)
		return nil
	}

	if n, convErr := abi.AsInt(resultH); convErr == nil {
		fmt.Println(n)
	}
	return nil
}

// dumpBytecode prints h's compiled program's disassembly, delegating the
// actual rendering to lang/bytecode.Disassemble rather than re-decoding the
// instruction stream here.
func dumpBytecode(h abi.Handle) {
	prog, err := abi.CompiledProgram(h)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitInternal)
		return
	}
	fmt.Print(bytecode.Disassemble(prog))
}
