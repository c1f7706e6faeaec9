// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package ffi

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/etch-lang/etch/cache"
)

// LibraryFilename returns the platform-appropriate dynamic-library filename
// for a bare library spec, e.g. "m" -> "libm.so" on Linux, "libm.dylib" on
// Darwin, "m.dll" on Windows, per spec.md §4.7's "determine a
// platform-appropriate filename" contract.
func LibraryFilename(spec string) string {
	switch runtime.GOOS {
	case "windows":
		return spec + ".dll"
	case "darwin":
		return "lib" + spec + ".dylib"
	default:
		return "lib" + spec + ".so"
	}
}

// Resolver locates the on-disk path of an `extern` declaration's library
// spec and persists the resolution in a cache.ModuleIndex, so repeated
// compiler invocations against the same project don't re-search the
// filesystem every time. It covers the "determine a filename, locate it,
// remember where it was found" half of spec.md §4.7's module/FFI loader
// responsibility; actually binding arbitrary C symbols to callable function
// pointers needs a general dynamic-calling library (libffi or equivalent)
// that isn't part of this dependency set, so the concrete `extern`
// bindings this build actually dispatches are the registry in loader.go,
// wired to Go-native implementations instead of runtime-discovered ones.
type Resolver struct {
	index       *cache.ModuleIndex
	searchPaths []string
}

// NewResolver builds a Resolver backed by index, searching searchPaths in
// order on a miss.
func NewResolver(index *cache.ModuleIndex, searchPaths ...string) *Resolver {
	return &Resolver{index: index, searchPaths: searchPaths}
}

// Resolve returns spec's on-disk library path, consulting the cached
// resolution first and falling back to a search-path scan, recording
// whatever it finds for next time.
func (r *Resolver) Resolve(spec string) (string, error) {
	if entry, ok, err := r.index.ResolveFresh(spec); err != nil {
		return "", err
	} else if ok {
		return entry.ResolvedPath, nil
	}

	filename := LibraryFilename(spec)
	for _, dir := range r.searchPaths {
		candidate := filepath.Join(dir, filename)
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if err := r.index.Record(spec, cache.ModuleEntry{ResolvedPath: candidate, ModTime: info.ModTime().Unix()}); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("ffi: library %q (%s) not found in %v", spec, filename, r.searchPaths)
}
