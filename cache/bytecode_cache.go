// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package cache is the on-disk bytecode cache and the module/library
// resolution cache described in SPEC_FULL.md §2/§6: the sibling "__etch__"
// directory holding each source file's ".etcx" cache, memory-mapped for
// load, plus a goleveldb-backed index from library spec to resolved
// dynamic-library path, and a singleflight-deduped compile entry point.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"

	"github.com/etch-lang/etch/lang/bytecode"
)

// Dir returns the sibling "__etch__" cache directory for sourcePath.
func Dir(sourcePath string) string {
	return filepath.Join(filepath.Dir(sourcePath), "__etch__")
}

// EtcxPath returns the ".etcx" bytecode cache file path for sourcePath,
// e.g. "foo.etch" -> "__etch__/foo.etcx".
func EtcxPath(sourcePath string) string {
	base := filepath.Base(sourcePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(Dir(sourcePath), name+".etcx")
}

// Load looks up sourcePath's cache entry, memory-mapping the file for a
// zero-copy read, and returns a cache miss (not an error) whenever the file
// is absent, corrupt, or its SourceHash no longer matches source/
// buildFingerprint/optimizeLevel — any of those just means "recompile",
// never a hard failure.
func Load(sourcePath, source, buildFingerprint string, optimizeLevel int) (*bytecode.CacheFile, bool, error) {
	path := EtcxPath(sourcePath)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("cache: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, false, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, false, fmt.Errorf("cache: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	cf, err := bytecode.Decode(m)
	if err != nil {
		return nil, false, nil // corrupt cache entry: treat as a miss, not a hard error
	}

	want := bytecode.SourceHash(source, buildFingerprint, optimizeLevel)
	if cf.SourceHash != want {
		return nil, false, nil
	}
	return cf, true, nil
}

// Store writes cf as sourcePath's cache entry, creating the "__etch__"
// directory if needed.
func Store(sourcePath string, cf *bytecode.CacheFile) error {
	dir := Dir(sourcePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	return bytecode.Save(EtcxPath(sourcePath), cf)
}
