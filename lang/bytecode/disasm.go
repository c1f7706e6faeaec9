// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package bytecode

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/vm"
)

// Disassemble renders prog as two tables — the function table, then the
// full instruction listing with each instruction's owning function name
// resolved by offset — matching the "etch --dump-bytecode" CLI surface.
func Disassemble(prog *emit.Program) string {
	var out strings.Builder

	out.WriteString(functionTable(prog))
	out.WriteString("\n")
	out.WriteString(instructionTable(prog))

	return out.String()
}

func functionTable(prog *emit.Program) string {
	funcs := make([]emit.FuncEntry, len(prog.Functions))
	copy(funcs, prog.Functions)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Offset < funcs[j].Offset })

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Function", "Offset", "Params"})
	for _, fn := range funcs {
		table.Append([]string{fn.Name, fmt.Sprintf("%d", fn.Offset), fmt.Sprintf("%d", fn.NumParams)})
	}
	table.Render()
	return buf.String()
}

// funcNameAt returns the name of the function whose offset range contains
// pc, given funcs sorted by ascending Offset.
func funcNameAt(funcs []emit.FuncEntry, pc uint32) string {
	name := ""
	for _, fn := range funcs {
		if fn.Offset > pc {
			break
		}
		name = fn.Name
	}
	return name
}

func instructionTable(prog *emit.Program) string {
	funcs := make([]emit.FuncEntry, len(prog.Functions))
	copy(funcs, prog.Functions)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Offset < funcs[j].Offset })

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"PC", "Function", "Opcode", "A", "B/imm", "C"})

	for pc := 0; pc+4 <= len(prog.Code); pc += 4 {
		word := binary.LittleEndian.Uint32(prog.Code[pc:])
		op := vm.Opcode(word & 0xFF)
		a := uint8((word >> 8) & 0xFF)
		b := uint8((word >> 16) & 0xFF)
		c := uint8((word >> 24) & 0xFF)

		bCol := fmt.Sprintf("%d", b)
		cCol := fmt.Sprintf("%d", c)
		if op.IsWideImmediate() {
			imm16 := uint16(b)<<8 | uint16(c)
			bCol = fmt.Sprintf("%d", imm16)
			cCol = ""
		}

		table.Append([]string{
			fmt.Sprintf("%d", pc),
			funcNameAt(funcs, uint32(pc)),
			op.String(),
			fmt.Sprintf("%d", a),
			bCol,
			cCol,
		})
	}

	table.Render()
	return buf.String()
}
