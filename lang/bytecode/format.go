// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bytecode defines the on-disk serialization format for a compiled
// Etch program (the ".etcx" bytecode cache file) and a disassembler for it.
// The in-memory program model it serializes is lang/emit.Program and
// lang/vm's instruction/value/object-layout types; this package owns turning
// that model into bytes and back, not the model itself.
package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/token"
	"github.com/etch-lang/etch/lang/vm"
)

// Magic identifies an Etch bytecode cache file.
const Magic = "ETCH"

// Version is the frozen bytecode format version. A mismatch invalidates any
// cache file written under a different version.
const Version uint32 = 2

var (
	ErrBadMagic          = errors.New("bytecode: not an Etch bytecode cache file")
	ErrVersionMismatch   = errors.New("bytecode: cache file version does not match the running compiler")
	ErrTruncated         = errors.New("bytecode: cache file is truncated or corrupt")
	ErrInstructionLength = errors.New("bytecode: instruction stream length is not a multiple of 4 bytes")
)

// Flags records the compiler options a cache file was built with, part of
// the cache-invalidation key alongside the source hash.
type Flags struct {
	Verbose       bool
	Debug         bool
	Release       bool
	OptimizeLevel uint8
}

func (f Flags) encode() uint32 {
	var word uint32
	if f.Verbose {
		word |= 1 << 0
	}
	if f.Debug {
		word |= 1 << 1
	}
	if f.Release {
		word |= 1 << 2
	}
	word |= uint32(f.OptimizeLevel) << 8
	return word
}

func decodeFlags(word uint32) Flags {
	return Flags{
		Verbose:       word&(1<<0) != 0,
		Debug:         word&(1<<1) != 0,
		Release:       word&(1<<2) != 0,
		OptimizeLevel: uint8(word >> 8),
	}
}

// CFFIDescriptor describes one extern/CFFI binding resolved at compile time,
// populated by the ffi package. It travels in the cache file so a cache hit
// doesn't need to re-resolve library symbols.
type CFFIDescriptor struct {
	MangledName  string
	Library      string
	Symbol       string
	ParamTypes   []string
	ReturnType   string
	ResolvedPath string
}

// CacheFile is the full contents of a ".etcx" bytecode cache file: a
// compiled Program plus the metadata needed to decide whether the cache is
// still valid for a given source file and compiler invocation.
type CacheFile struct {
	SourceHash [8]byte
	Flags      Flags
	Program    *emit.Program
	CFFI       []CFFIDescriptor
}

// SourceHash derives the stable digest spec'd as "(source text,
// compiler-build fingerprint, bytecode version, optimization level)".
// fnv-64a is sufficient here: this is a cache-invalidation key, not a
// security boundary.
func SourceHash(source, buildFingerprint string, optimizeLevel int) [8]byte {
	h := fnv.New64a()
	h.Write([]byte(source))
	h.Write([]byte(buildFingerprint))
	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:4], Version)
	binary.LittleEndian.PutUint32(tail[4:8], uint32(optimizeLevel))
	h.Write(tail[:])
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], h.Sum64())
	return out
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", ErrTruncated
	}
	if uint32(r.Len()) < n {
		return "", ErrTruncated
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", ErrTruncated
	}
	return string(buf), nil
}

// Encode serializes cf into the ".etcx" binary format described in
// SPEC_FULL.md: magic, version, source hash, flags, constant pool, string
// pool, function table (name, offset, param count, max register — the
// latter sizes the callee's register window at load time), global-slot
// name table, type (object layout) table, instruction stream, CFFI
// descriptor table, and line table, all little-endian.
func Encode(cf *CacheFile) ([]byte, error) {
	if len(cf.Program.Code)%4 != 0 {
		return nil, ErrInstructionLength
	}

	buf := new(bytes.Buffer)
	buf.WriteString(Magic)
	binary.Write(buf, binary.LittleEndian, Version)
	buf.Write(cf.SourceHash[:])
	binary.Write(buf, binary.LittleEndian, cf.Flags.encode())

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Constants)))
	for _, c := range cf.Program.Constants {
		binary.Write(buf, binary.LittleEndian, uint8(c.Tag))
		binary.Write(buf, binary.LittleEndian, c.Bits)
		binary.Write(buf, binary.LittleEndian, c.Handle)
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Strings)))
	for _, s := range cf.Program.Strings {
		binary.Write(buf, binary.LittleEndian, uint32(len(s)))
		buf.Write(s)
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Functions)))
	for _, fn := range cf.Program.Functions {
		writeString(buf, fn.Name)
		binary.Write(buf, binary.LittleEndian, fn.Offset)
		binary.Write(buf, binary.LittleEndian, uint32(fn.NumParams))
		binary.Write(buf, binary.LittleEndian, int32(fn.MaxRegister))
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Globals)))
	for _, name := range cf.Program.Globals {
		writeString(buf, name)
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Types)))
	for _, t := range cf.Program.Types {
		binary.Write(buf, binary.LittleEndian, uint32(t.FieldCount))
		binary.Write(buf, binary.LittleEndian, int32(t.DestructorFn))
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Code)/4))
	buf.Write(cf.Program.Code)

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.CFFI)))
	for _, d := range cf.CFFI {
		writeString(buf, d.MangledName)
		writeString(buf, d.Library)
		writeString(buf, d.Symbol)
		binary.Write(buf, binary.LittleEndian, uint32(len(d.ParamTypes)))
		for _, pt := range d.ParamTypes {
			writeString(buf, pt)
		}
		writeString(buf, d.ReturnType)
		writeString(buf, d.ResolvedPath)
	}

	binary.Write(buf, binary.LittleEndian, uint32(len(cf.Program.Lines)))
	for _, l := range cf.Program.Lines {
		binary.Write(buf, binary.LittleEndian, l.PC)
		writeString(buf, l.Pos.File)
		binary.Write(buf, binary.LittleEndian, uint32(l.Pos.Line))
		binary.Write(buf, binary.LittleEndian, uint32(l.Pos.Column))
		binary.Write(buf, binary.LittleEndian, uint32(l.Pos.Offset))
	}

	return buf.Bytes(), nil
}

// Decode parses data (the contents of a ".etcx" file, however it was read —
// a plain read or an mmap'd byte slice) back into a CacheFile.
func Decode(data []byte) (*CacheFile, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if n, err := r.Read(magic); err != nil || n != 4 || string(magic) != Magic {
		return nil, ErrBadMagic
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ErrTruncated
	}
	if version != Version {
		return nil, ErrVersionMismatch
	}

	cf := &CacheFile{}
	if _, err := r.Read(cf.SourceHash[:]); err != nil {
		return nil, ErrTruncated
	}

	var flagWord uint32
	if err := binary.Read(r, binary.LittleEndian, &flagWord); err != nil {
		return nil, ErrTruncated
	}
	cf.Flags = decodeFlags(flagWord)

	prog := &emit.Program{}

	var constCount uint32
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Constants = make([]vm.Value, constCount)
	for i := range prog.Constants {
		var tag uint8
		var v vm.Value
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, ErrTruncated
		}
		v.Tag = vm.Tag(tag)
		if err := binary.Read(r, binary.LittleEndian, &v.Bits); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &v.Handle); err != nil {
			return nil, ErrTruncated
		}
		prog.Constants[i] = v
	}

	var stringCount uint32
	if err := binary.Read(r, binary.LittleEndian, &stringCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Strings = make([][]byte, stringCount)
	for i := range prog.Strings {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, ErrTruncated
		}
		s := make([]byte, n)
		if _, err := r.Read(s); err != nil {
			return nil, ErrTruncated
		}
		prog.Strings[i] = s
	}

	var funcCount uint32
	if err := binary.Read(r, binary.LittleEndian, &funcCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Functions = make([]emit.FuncEntry, funcCount)
	for i := range prog.Functions {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var offset uint32
		var numParams uint32
		var maxRegister int32
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &numParams); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &maxRegister); err != nil {
			return nil, ErrTruncated
		}
		prog.Functions[i] = emit.FuncEntry{Name: name, Offset: offset, NumParams: int(numParams), MaxRegister: int(maxRegister)}
	}

	var globalCount uint32
	if err := binary.Read(r, binary.LittleEndian, &globalCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Globals = make([]string, globalCount)
	for i := range prog.Globals {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		prog.Globals[i] = name
	}

	var typeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &typeCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Types = make([]vm.ObjectLayout, typeCount)
	for i := range prog.Types {
		var fieldCount uint32
		var destructorFn int32
		if err := binary.Read(r, binary.LittleEndian, &fieldCount); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &destructorFn); err != nil {
			return nil, ErrTruncated
		}
		prog.Types[i] = vm.ObjectLayout{FieldCount: int(fieldCount), DestructorFn: int(destructorFn)}
	}

	var instrCount uint32
	if err := binary.Read(r, binary.LittleEndian, &instrCount); err != nil {
		return nil, ErrTruncated
	}
	code := make([]byte, instrCount*4)
	if _, err := r.Read(code); err != nil {
		return nil, ErrTruncated
	}
	prog.Code = code
	cf.Program = prog

	var cffiCount uint32
	if err := binary.Read(r, binary.LittleEndian, &cffiCount); err != nil {
		return nil, ErrTruncated
	}
	cf.CFFI = make([]CFFIDescriptor, cffiCount)
	for i := range cf.CFFI {
		d := &cf.CFFI[i]
		var err error
		if d.MangledName, err = readString(r); err != nil {
			return nil, err
		}
		if d.Library, err = readString(r); err != nil {
			return nil, err
		}
		if d.Symbol, err = readString(r); err != nil {
			return nil, err
		}
		var paramCount uint32
		if err := binary.Read(r, binary.LittleEndian, &paramCount); err != nil {
			return nil, ErrTruncated
		}
		d.ParamTypes = make([]string, paramCount)
		for j := range d.ParamTypes {
			if d.ParamTypes[j], err = readString(r); err != nil {
				return nil, err
			}
		}
		if d.ReturnType, err = readString(r); err != nil {
			return nil, err
		}
		if d.ResolvedPath, err = readString(r); err != nil {
			return nil, err
		}
	}

	var lineCount uint32
	if err := binary.Read(r, binary.LittleEndian, &lineCount); err != nil {
		return nil, ErrTruncated
	}
	prog.Lines = make([]emit.LineEntry, lineCount)
	for i := range prog.Lines {
		var pc, line, column, offset uint32
		if err := binary.Read(r, binary.LittleEndian, &pc); err != nil {
			return nil, ErrTruncated
		}
		file, err := readString(r)
		if err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &column); err != nil {
			return nil, ErrTruncated
		}
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, ErrTruncated
		}
		prog.Lines[i] = emit.LineEntry{
			PC:  pc,
			Pos: token.Position{File: file, Line: int(line), Column: int(column), Offset: int(offset)},
		}
	}

	return cf, nil
}

// Save atomically writes cf to path: it encodes to a temp file in the same
// directory and renames it into place, so a concurrent compiler never
// observes a half-written cache (spec: "Bytecode cache files are written
// atomically").
func Save(path string, cf *CacheFile) error {
	data, err := Encode(cf)
	if err != nil {
		return fmt.Errorf("bytecode: encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".etcx-tmp-*")
	if err != nil {
		return fmt.Errorf("bytecode: create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bytecode: write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bytecode: close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("bytecode: rename cache into place: %w", err)
	}
	return nil
}

// Load reads and decodes the cache file at path.
func Load(path string) (*CacheFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: read %s: %w", path, err)
	}
	return Decode(data)
}
