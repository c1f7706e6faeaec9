// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package abi

import (
	"fmt"
	"os"

	"github.com/etch-lang/etch/cache"
	"github.com/etch-lang/etch/ffi"
	"github.com/etch-lang/etch/lang/bytecode"
	"github.com/etch-lang/etch/lang/emit"
	"github.com/etch-lang/etch/lang/parser"
	"github.com/etch-lang/etch/lang/prover"
)

// buildFingerprint and optimizeLevel are the other two components of a
// cache entry's invalidation key (source text is the third); this build has
// no optimize-level knob yet, so it is pinned at 1 rather than invented.
const (
	buildFingerprint = "etch-abi-1"
	optimizeLevel    = 1
)

// fileCompiler dedupes concurrent CompileFile calls for the same path
// across every Context in the process, per SPEC_FULL.md's domain-stack
// entry for golang.org/x/sync (singleflight).
var fileCompiler = cache.NewCompiler(func(path string) (*bytecode.CacheFile, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("abi: read %s: %w", path, err)
	}
	return compilePipeline(path, string(src))
})

// CompileString compiles source (attributed to filename for diagnostics)
// into ctx, replacing any program already loaded. It never touches the
// on-disk cache — that's CompileFile's job, keyed by a real source path a
// string literal doesn't have.
func CompileString(h Handle, source, filename string) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	ctx.clearError()

	cf, err := compilePipeline(filename, source)
	if err != nil {
		return ctx.fail(err)
	}
	return ctx.load(cf)
}

// CompileFile compiles the source file at path into ctx, consulting (and on
// a miss, populating) the sibling "__etch__" bytecode cache.
func CompileFile(h Handle, path string) error {
	ctx, err := lookupContext(h)
	if err != nil {
		return err
	}
	ctx.clearError()

	src, err := os.ReadFile(path)
	if err != nil {
		return ctx.fail(fmt.Errorf("abi: read %s: %w", path, err))
	}

	if cf, hit, cacheErr := cache.Load(path, string(src), buildFingerprint, optimizeLevel); cacheErr == nil && hit {
		return ctx.load(cf)
	}

	cf, err := fileCompiler.CompileFile(path)
	if err != nil {
		return ctx.fail(err)
	}
	if err := cache.Store(path, cf); err != nil {
		// A cache-write failure never invalidates a successful compile; it
		// only costs the next run a recompile, so it's recorded, not fatal.
		ctx.lastErr = fmt.Errorf("abi: cache store for %s: %w (compile succeeded)", path, err)
	}
	return ctx.load(cf)
}

// compilePipeline runs parse -> prove -> emit -> bytecode-verify, the
// pipeline both CompileString and a CompileFile cache miss need.
func compilePipeline(filename, source string) (*bytecode.CacheFile, error) {
	prog, errs := parser.Parse(filename, source)
	if len(errs) > 0 {
		return nil, fmt.Errorf("abi: %w", errs[0])
	}

	for _, f := range prover.Prove(prog) {
		if f.Severity == "error" {
			return nil, fmt.Errorf("abi: %s", f.String())
		}
	}

	compiled, err := emit.Emit(prog)
	if err != nil {
		return nil, fmt.Errorf("abi: %w", err)
	}

	if verrs := prover.Verify(compiled); len(verrs) > 0 {
		return nil, fmt.Errorf("abi: %w", verrs[0])
	}

	return &bytecode.CacheFile{
		SourceHash: bytecode.SourceHash(source, buildFingerprint, optimizeLevel),
		Program:    compiled,
		CFFI:       ffi.Descriptors(),
	}, nil
}
