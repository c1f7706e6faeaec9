// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package diag

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/token"
)

func TestDiagnosticErrorFormat(t *testing.T) {
	d := New(Prove, token.Position{File: "a.etch", Line: 3, Column: 5}, "division by zero")
	require.Equal(t, "a.etch:3:5: error: division by zero", d.Error())
}

func TestWarningHasWarningSeverity(t *testing.T) {
	d := Warning(Prove, token.Position{File: "a.etch", Line: 1, Column: 1}, "unused variable %q", "x")
	require.Equal(t, SeverityWarning, d.Severity)
	require.Contains(t, d.Error(), "warning: unused variable \"x\"")
}

func TestWithFunctionAttributesDiagnostic(t *testing.T) {
	d := New(Runtime, token.Position{}, "boom").WithFunction("doStuff")
	require.Equal(t, "doStuff", d.OriginalFunction)
}

func TestRenderIncludesSourceContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.etch")
	require.NoError(t, os.WriteFile(path, []byte("fn main() -> int {\n    return 1 / 0;\n}\n"), 0o644))

	var buf bytes.Buffer
	r := NewRenderer(&buf)
	r.Render(New(Prove, token.Position{File: path, Line: 2, Column: 12}, "division by zero"))

	out := buf.String()
	require.Contains(t, out, "division by zero")
	require.Contains(t, out, "return 1 / 0;")
	require.Contains(t, out, "fn main() -> int {")
	require.Contains(t, out, "}")
}

func TestLinesAreCachedAfterFirstRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.etch")
	require.NoError(t, os.WriteFile(path, []byte("let x = 1;\n"), 0o644))

	r := NewRenderer(&bytes.Buffer{})
	first := r.lines(path)

	require.NoError(t, os.Remove(path))
	second := r.lines(path)

	require.Equal(t, first, second)
}
