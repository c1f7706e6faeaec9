// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package prover

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/parser"
)

func hasSeverity(findings []Finding, severity string) bool {
	for _, f := range findings {
		if f.Severity == severity {
			return true
		}
	}
	return false
}

func TestProveDivisionByKnownZero(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `fn f() -> int { 1 / 0 }`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.True(t, hasSeverity(findings, "error"))
}

func TestProveDivisionByNonZeroParamIsSafe(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f(x: int) -> int {
			if x == 0 {
				return 1;
			}
			1 / x
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.False(t, hasSeverity(findings, "error"))
}

func TestProveUseBeforeInitialized(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f() -> int {
			let x: int;
			x
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.True(t, hasSeverity(findings, "error"))
}

func TestProveUnusedVariableIsError(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f() -> int {
			let unused = 1;
			2
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.True(t, hasSeverity(findings, "error"))
}

func TestProveMatchMissingNoneArmIsFlagged(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f(x: option[int]) -> int {
			match x {
				Some(v) => v,
			}
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.True(t, hasSeverity(findings, "error"))
}

func TestProveMatchWithWildcardIsExhaustive(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f(x: option[int]) -> int {
			match x {
				Some(v) => v,
				other => 0,
			}
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.False(t, hasSeverity(findings, "error"))
}

func TestProveFieldAccessOnPossiblyNilValue(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		object Point { x: int, y: int }
		fn f(p: option[Point]) -> int {
			p.x
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.True(t, hasSeverity(findings, "error"))
}

func TestProveCompilesExprOnValidBody(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		fn f() -> bool {
			compiles { 1 + 1 }
		}
	`)
	require.Empty(t, errs)

	findings := Prove(prog)
	require.False(t, hasSeverity(findings, "error"))
}

func TestProveObjectMethodAndDestructorAreChecked(t *testing.T) {
	prog, errs := parser.Parse("test.etch", `
		object Handle {
			id: int,
			fn get(self) -> int { self.id }
			fn drop(self) { return; }
		}
	`)
	require.Empty(t, errs)

	// Neither method divides or dereferences anything unsafe.
	findings := Prove(prog)
	require.False(t, hasSeverity(findings, "error"))
}
