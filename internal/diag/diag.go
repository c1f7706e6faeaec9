// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package diag is the shared diagnostic/error-formatting surface used by
// every in-scope compiler component: lang/parser, lang/fold, lang/prover,
// lang/emit, lang/vm, and abi all report failures as a Diagnostic rather
// than a bare error, so the CLI and the embedding ABI render them uniformly.
package diag

import (
	"fmt"
	"strings"

	"github.com/etch-lang/etch/lang/token"
)

// Kind classifies a Diagnostic by the pipeline stage that raised it, per
// SPEC_FULL.md §7.
type Kind uint8

const (
	Parse Kind = iota
	Typecheck
	Prove
	Compile
	Runtime
	IO
	Internal
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Typecheck:
		return "typecheck"
	case Prove:
		return "prove"
	case Compile:
		return "compile"
	case Runtime:
		return "runtime"
	case IO:
		return "io"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Severity distinguishes an error (fails the operation) from a warning
// (advisory, surfaced but not fatal).
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one reportable failure or advisory, carrying everything
// needed to render spec.md §7's user-visible format.
type Diagnostic struct {
	Kind Kind
	// Severity defaults to SeverityError; the zero value is therefore an
	// error, matching every call site that doesn't explicitly downgrade.
	Severity Severity
	Pos      token.Position
	// OriginalFunction is the function this diagnostic should be attributed
	// to, surviving inlining: the inliner rewrites positions but preserves
	// this field so a Prove/Runtime diagnostic still names the source
	// function the programmer wrote, not whatever it was inlined into.
	OriginalFunction string
	Message          string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", d.Pos.File, d.Pos.Line, d.Pos.Column, d.Severity, d.Message)
}

// New constructs an error-severity Diagnostic.
func New(kind Kind, pos token.Position, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Kind: kind, Severity: SeverityError, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Newf is an alias of New kept for call sites that read more naturally with
// an explicit "f" suffix given the message is always a format string.
func Newf(kind Kind, pos token.Position, format string, args ...interface{}) Diagnostic {
	return New(kind, pos, format, args...)
}

// Warning constructs a warning-severity Diagnostic.
func Warning(kind Kind, pos token.Position, format string, args ...interface{}) Diagnostic {
	d := New(kind, pos, format, args...)
	d.Severity = SeverityWarning
	return d
}

// WithFunction returns a copy of d attributed to fn.
func (d Diagnostic) WithFunction(fn string) Diagnostic {
	d.OriginalFunction = fn
	return d
}

// sourceContext returns (line before, error line, line after) 1-indexed
// against lines, each "" if out of range.
func sourceContext(lines []string, line int) (before, at, after string) {
	idx := line - 1
	if idx >= 0 && idx < len(lines) {
		at = lines[idx]
	}
	if idx-1 >= 0 && idx-1 < len(lines) {
		before = lines[idx-1]
	}
	if idx+1 >= 0 && idx+1 < len(lines) {
		after = lines[idx+1]
	}
	return before, at, after
}

func caretLine(column int) string {
	if column < 1 {
		column = 1
	}
	return strings.Repeat(" ", column-1) + "^"
}
