// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/parser"
)

func compileSample(t *testing.T) *emit.Program {
	t.Helper()
	prog, errs := parser.Parse("test.etch", `
		fn add(a: int, b: int) -> int {
			a + b
		}

		fn main() -> int {
			add(1, 2)
		}
	`)
	require.Empty(t, errs)

	compiled, err := emit.Emit(prog)
	require.NoError(t, err)
	return compiled
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	compiled := compileSample(t)
	cf := &CacheFile{
		SourceHash: SourceHash("source", "fingerprint", 0),
		Flags:      Flags{Debug: true, OptimizeLevel: 2},
		Program:    compiled,
	}

	data, err := Encode(cf)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, cf.SourceHash, decoded.SourceHash)
	require.Equal(t, cf.Flags, decoded.Flags)
	require.Equal(t, cf.Program.Code, decoded.Program.Code)
	require.Equal(t, cf.Program.Functions, decoded.Program.Functions)
	require.Equal(t, len(cf.Program.Constants), len(decoded.Program.Constants))
	require.Equal(t, cf.Program.Lines, decoded.Program.Lines)
	require.NotEmpty(t, decoded.Program.Lines)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("NOPE12345678"))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	compiled := compileSample(t)
	cf := &CacheFile{SourceHash: SourceHash("s", "f", 0), Program: compiled}
	data, err := Encode(cf)
	require.NoError(t, err)

	// Corrupt the version field (bytes 4..8, little-endian).
	data[4] = 0xFF
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestSaveLoadRoundTripsThroughDisk(t *testing.T) {
	compiled := compileSample(t)
	cf := &CacheFile{SourceHash: SourceHash("s", "f", 1), Program: compiled}

	path := filepath.Join(t.TempDir(), "sample.etcx")
	require.NoError(t, Save(path, cf))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cf.Program.Code, loaded.Program.Code)
}

func TestEncodeDecodeRoundTripsGlobalsAndMaxRegister(t *testing.T) {
	prog, errs := parser.Parse("globals.etch", `
		let n: int = 41;

		fn main() -> int {
			n + 1
		}
	`)
	require.Empty(t, errs)
	compiled, err := emit.Emit(prog)
	require.NoError(t, err)
	require.Equal(t, []string{"n"}, compiled.Globals)

	cf := &CacheFile{SourceHash: SourceHash("s", "f", 0), Program: compiled}
	data, err := Encode(cf)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, compiled.Globals, decoded.Program.Globals)
	require.Equal(t, compiled.Functions, decoded.Program.Functions)
}

func TestDisassembleListsFunctionsAndInstructions(t *testing.T) {
	compiled := compileSample(t)
	out := Disassemble(compiled)
	require.Contains(t, out, "add")
	require.Contains(t, out, "main")
}
