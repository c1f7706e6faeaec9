// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package prover

import (
	"math"
	"sort"
)

// IMIN and IMAX bound the saturating arithmetic used for every interval
// computation: an operation that would cross either endpoint clamps to it
// instead of wrapping (unlike the VM's own int64 ops, which wrap on
// overflow).
const (
	IMIN = math.MinInt64
	IMAX = math.MaxInt64
)

// Interval is one disjoint, closed range [Lo, Hi] within an Info's
// possible-value set.
type Interval struct {
	Lo, Hi int64
}

// Info is the abstract value the prover tracks for a single variable or
// expression result at a given program point.
type Info struct {
	Known bool  // true if CVal is a single known constant
	CVal  int64 // valid only when Known

	Min, Max  int64      // coarse bounds; always Min <= Max when Intervals is empty
	Intervals []Interval // disjoint refinements; empty means "fall back to Min/Max"

	NonZero bool
	NonNil  bool
	IsBool  bool

	Initialized bool
	Used        bool

	IsArray        bool
	IsString       bool
	ArraySize      int64
	ArraySizeKnown bool

	RefValue *Info // points-to info for ref[T]/weak[T] bindings, nil when untracked
}

// topInfo is the "nothing known" lattice element: any int64 is possible.
func topInfo() *Info {
	return &Info{Min: IMIN, Max: IMAX, Initialized: true}
}

// constInfo builds an Info describing a single known integer value.
func constInfo(v int64) *Info {
	return &Info{Known: true, CVal: v, Min: v, Max: v, NonZero: v != 0, Initialized: true}
}

// boolInfo builds an Info describing a single known boolean.
func boolInfo(v bool) *Info {
	n := int64(0)
	if v {
		n = 1
	}
	return &Info{Known: true, CVal: n, Min: n, Max: n, IsBool: true, Initialized: true}
}

// clone deep-copies an Info so refinements on one branch never mutate another.
func (i *Info) clone() *Info {
	if i == nil {
		return nil
	}
	c := *i
	if i.Intervals != nil {
		c.Intervals = append([]Interval(nil), i.Intervals...)
	}
	if i.RefValue != nil {
		c.RefValue = i.RefValue.clone()
	}
	return &c
}

// bounds returns the effective [lo, hi] bound, deriving it from Intervals
// when present, per the invariant that Min/Max always track the union of
// Intervals' endpoints.
func (i *Info) bounds() (int64, int64) {
	if len(i.Intervals) == 0 {
		return i.Min, i.Max
	}
	lo, hi := i.Intervals[0].Lo, i.Intervals[0].Hi
	for _, iv := range i.Intervals[1:] {
		if iv.Lo < lo {
			lo = iv.Lo
		}
		if iv.Hi > hi {
			hi = iv.Hi
		}
	}
	return lo, hi
}

// normalize sorts intervals by lower bound and merges any that are adjacent
// or overlapping ([a,b] and [c,d] merge whenever c <= b+1), widening to
// [min(a,c), max(b,d)].
func normalize(ivs []Interval) []Interval {
	if len(ivs) < 2 {
		return ivs
	}
	sort.Slice(ivs, func(a, b int) bool { return ivs[a].Lo < ivs[b].Lo })

	out := []Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.Lo <= saturatingAdd(last.Hi, 1) {
			if iv.Hi > last.Hi {
				last.Hi = iv.Hi
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > IMAX-b {
		return IMAX
	}
	if b < 0 && a < IMIN-b {
		return IMIN
	}
	return a + b
}

func saturatingSub(a, b int64) int64 {
	return saturatingAdd(a, -b)
}

func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	result := a * b
	if result/b != a {
		if (a > 0) == (b > 0) {
			return IMAX
		}
		return IMIN
	}
	return result
}

// wouldOverflowAdd, wouldOverflowSub, and wouldOverflowMul report whether the
// corresponding saturating* operation would have clamped instead of
// returning the true mathematical result, mirroring each function's own
// overflow test.
func wouldOverflowAdd(a, b int64) bool {
	return (b > 0 && a > IMAX-b) || (b < 0 && a < IMIN-b)
}

func wouldOverflowSub(a, b int64) bool {
	return wouldOverflowAdd(a, -b)
}

func wouldOverflowMul(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	result := a * b
	return result/b != a
}

// union joins two Infos at a control-flow merge point: pointwise min/max of
// Min/Max, set-union of Intervals (normalized), AND of NonZero/NonNil/
// Initialized, OR of Used.
func union(a, b *Info) *Info {
	if a == nil {
		return b.clone()
	}
	if b == nil {
		return a.clone()
	}

	aLo, aHi := a.bounds()
	bLo, bHi := b.bounds()

	out := &Info{
		Min:         min64(aLo, bLo),
		Max:         max64(aHi, bHi),
		NonZero:     a.NonZero && b.NonZero,
		NonNil:      a.NonNil && b.NonNil,
		IsBool:      a.IsBool && b.IsBool,
		Initialized: a.Initialized && b.Initialized,
		Used:        a.Used || b.Used,
		IsArray:     a.IsArray && b.IsArray,
		IsString:    a.IsString && b.IsString,
	}

	if a.Known && b.Known && a.CVal == b.CVal {
		out.Known = true
		out.CVal = a.CVal
	}

	if len(a.Intervals) > 0 || len(b.Intervals) > 0 {
		merged := append(append([]Interval(nil), a.Intervals...), b.Intervals...)
		if len(a.Intervals) == 0 {
			merged = append(merged, Interval{aLo, aHi})
		}
		if len(b.Intervals) == 0 {
			merged = append(merged, Interval{bLo, bHi})
		}
		out.Intervals = normalize(merged)
	}

	return out
}

// unionDisjunctive builds the interval-union refinement used for `or` path
// conditions: each side's own single-branch refinement contributes its
// bound as one disjoint interval rather than widening to a single range.
func unionDisjunctive(a, b *Info) *Info {
	out := union(a, b)
	aLo, aHi := a.bounds()
	bLo, bHi := b.bounds()
	out.Intervals = normalize([]Interval{{aLo, aHi}, {bLo, bHi}})
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
