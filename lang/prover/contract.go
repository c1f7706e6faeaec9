// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package prover

import (
	lru "github.com/hashicorp/golang-lru"
)

// Contract records what a function guarantees: a precondition Info per
// parameter position (what the prover may assume true on entry, inferred
// from the declared/observed type) and a postcondition Info for the return
// value (what callers may assume true after a call returns).
type Contract struct {
	Pre  []*Info
	Post *Info
}

// contractCache memoizes Contracts per function name so that a caller
// re-analyzing the same callee across an incremental recompile (or across
// multiple call sites in one pass) does not re-walk its body every time.
type contractCache struct {
	cache *lru.ARCCache
}

const defaultContractCacheSize = 256

func newContractCache() *contractCache {
	c, err := lru.NewARC(defaultContractCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultContractCacheSize never is.
		panic(err)
	}
	return &contractCache{cache: c}
}

func (c *contractCache) get(name string) (*Contract, bool) {
	v, ok := c.cache.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*Contract), true
}

func (c *contractCache) put(name string, ct *Contract) {
	c.cache.Add(name, ct)
}
