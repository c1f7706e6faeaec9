// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package cache

import (
	"golang.org/x/sync/singleflight"

	"github.com/etch-lang/etch/lang/bytecode"
)

// CompileFunc compiles the source file at path into a CacheFile, ignoring
// any on-disk cache — it's the "slow path" a Compiler dedupes callers onto.
type CompileFunc func(path string) (*bytecode.CacheFile, error)

// Compiler deduplicates concurrent CompileFile calls for the same source
// path onto a single in-flight compile (spec: "Deduplicates concurrent
// compileFile cache population for the same source path"), so N goroutines
// racing to warm the cache for the same file only actually compile it once.
type Compiler struct {
	group   singleflight.Group
	compile CompileFunc
}

// NewCompiler builds a Compiler that falls back to compile on a cache miss.
func NewCompiler(compile CompileFunc) *Compiler {
	return &Compiler{compile: compile}
}

// CompileFile compiles path, or joins an already in-flight compile for the
// same path if one is running.
func (c *Compiler) CompileFile(path string) (*bytecode.CacheFile, error) {
	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		return c.compile(path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*bytecode.CacheFile), nil
}
