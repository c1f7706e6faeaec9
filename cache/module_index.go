// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cache

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
)

// ModuleEntry is a resolved extern/CFFI library: the dynamic-library path
// ffi.Resolver.Resolve found for a given library spec, plus that path's modification
// time at resolution time, used to detect a stale index entry.
type ModuleEntry struct {
	ResolvedPath string
	ModTime      int64 // Unix seconds
}

func (e ModuleEntry) encode() []byte {
	return []byte(e.ResolvedPath + "\x00" + strconv.FormatInt(e.ModTime, 10))
}

func decodeModuleEntry(data []byte) (ModuleEntry, error) {
	parts := strings.SplitN(string(data), "\x00", 2)
	if len(parts) != 2 {
		return ModuleEntry{}, fmt.Errorf("cache: corrupt module index entry %q", data)
	}
	mtime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ModuleEntry{}, fmt.Errorf("cache: corrupt module index mtime %q: %w", parts[1], err)
	}
	return ModuleEntry{ResolvedPath: parts[0], ModTime: mtime}, nil
}

// ModuleIndex persists library spec -> resolved dynamic-library path across
// compiler invocations, backed by goleveldb so repeated `etch` runs against
// the same project don't re-resolve extern libraries from scratch.
type ModuleIndex struct {
	db *leveldb.DB
}

// OpenModuleIndex opens (creating if needed) the leveldb store rooted at
// dir.
func OpenModuleIndex(dir string) (*ModuleIndex, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open module index %s: %w", dir, err)
	}
	return &ModuleIndex{db: db}, nil
}

// Close releases the underlying leveldb handle.
func (m *ModuleIndex) Close() error {
	return m.db.Close()
}

// Resolve looks up librarySpec without checking whether the resolved path
// is still current on disk; use ResolveFresh for that.
func (m *ModuleIndex) Resolve(librarySpec string) (ModuleEntry, bool, error) {
	data, err := m.db.Get([]byte(librarySpec), nil)
	if err == leveldb.ErrNotFound {
		return ModuleEntry{}, false, nil
	}
	if err != nil {
		return ModuleEntry{}, false, fmt.Errorf("cache: module index lookup %q: %w", librarySpec, err)
	}
	entry, err := decodeModuleEntry(data)
	if err != nil {
		return ModuleEntry{}, false, err
	}
	return entry, true, nil
}

// ResolveFresh behaves like Resolve but additionally stats entry.ResolvedPath
// and reports a miss if the file's current mtime no longer matches what was
// recorded — the library was rebuilt or replaced since the index was last
// written.
func (m *ModuleIndex) ResolveFresh(librarySpec string) (ModuleEntry, bool, error) {
	entry, ok, err := m.Resolve(librarySpec)
	if err != nil || !ok {
		return entry, ok, err
	}
	info, statErr := os.Stat(entry.ResolvedPath)
	if statErr != nil || info.ModTime().Unix() != entry.ModTime {
		return ModuleEntry{}, false, nil
	}
	return entry, true, nil
}

// Record stores librarySpec -> entry, overwriting any prior resolution.
func (m *ModuleIndex) Record(librarySpec string, entry ModuleEntry) error {
	if err := m.db.Put([]byte(librarySpec), entry.encode(), nil); err != nil {
		return fmt.Errorf("cache: module index write %q: %w", librarySpec, err)
	}
	return nil
}
