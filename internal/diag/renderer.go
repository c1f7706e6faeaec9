// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Renderer formats Diagnostics for a terminal, lazily loading and caching
// each referenced file's lines on first use (spec.md §7: "Lines are lazily
// loaded from disk on first error in that file").
type Renderer struct {
	out  io.Writer
	mu   sync.Mutex
	fset map[string][]string

	errLabel  *color.Color
	warnLabel *color.Color
	posLabel  *color.Color
	caretCol  *color.Color
}

// NewRenderer builds a Renderer writing to w. If w is os.Stderr/os.Stdout
// and the underlying file descriptor is not a terminal (e.g. output is
// piped to a file or into `etch --test`), color sequences are disabled;
// on Windows, w is wrapped with go-colorable so ANSI sequences still render
// in cmd.exe/PowerShell consoles that don't natively interpret them.
func NewRenderer(w io.Writer) *Renderer {
	enabled := true
	if f, ok := w.(*os.File); ok {
		enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}

	r := &Renderer{
		out:       w,
		fset:      make(map[string][]string),
		errLabel:  color.New(color.FgRed, color.Bold),
		warnLabel: color.New(color.FgYellow, color.Bold),
		posLabel:  color.New(color.FgWhite, color.Bold),
		caretCol:  color.New(color.FgGreen, color.Bold),
	}
	if !enabled {
		r.errLabel.DisableColor()
		r.warnLabel.DisableColor()
		r.posLabel.DisableColor()
		r.caretCol.DisableColor()
	}
	return r
}

// lines returns (and caches) the source lines of filename, reading the file
// from disk at most once per Renderer instance.
func (r *Renderer) lines(filename string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.fset[filename]; ok {
		return cached
	}
	data, err := os.ReadFile(filename)
	var lines []string
	if err == nil {
		lines = strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	}
	r.fset[filename] = lines
	return lines
}

// Render writes d's formatted diagnostic, in spec.md §7's format:
// "filename:line:col: error: message", followed by the line before, the
// error line, a caret line, and the line after.
func (r *Renderer) Render(d Diagnostic) {
	label := r.errLabel
	if d.Severity == SeverityWarning {
		label = r.warnLabel
	}

	pos := r.posLabel.Sprintf("%s:%d:%d:", d.Pos.File, d.Pos.Line, d.Pos.Column)
	fmt.Fprintf(r.out, "%s %s: %s\n", pos, label.Sprint(d.Severity), d.Message)
	if d.OriginalFunction != "" {
		fmt.Fprintf(r.out, "  in %s\n", d.OriginalFunction)
	}

	lines := r.lines(d.Pos.File)
	before, at, after := sourceContext(lines, d.Pos.Line)
	if before != "" {
		fmt.Fprintf(r.out, "  %s\n", before)
	}
	if at != "" {
		fmt.Fprintf(r.out, "  %s\n", at)
		fmt.Fprintf(r.out, "  %s\n", r.caretCol.Sprint(caretLine(d.Pos.Column)))
	}
	if after != "" {
		fmt.Fprintf(r.out, "  %s\n", after)
	}
}

// RenderAll renders every diagnostic in ds in order.
func (r *Renderer) RenderAll(ds []Diagnostic) {
	for _, d := range ds {
		r.Render(d)
	}
}
