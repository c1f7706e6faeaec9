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
	"errors"
	"fmt"

	"github.com/etch-lang/etch/lang/vm"
)

// values is the process-wide EtchValue registry. A Handle minted here is
// only ever dereferenced against the Context whose VM allocated the
// underlying heap cell (for TagRef/TagWeak values) — extractors below take
// the owning Handle explicitly rather than trying to infer it.
var values = newRegistry[vm.Value]()

// ErrTypeMismatch is returned by an extractor called on a value of the
// wrong kind, matching spec.md §4.5's "extractors that return 0 on success
// and nonzero on a type mismatch" contract (translated here into Go's
// usual error-valued-second-return idiom; this module has no cgo wrapper
// mapping it back onto a nonzero int).
var ErrTypeMismatch = errors.New("abi: value type mismatch")

// --- Constructors ------------------------------------------------------------

// NewInt, NewFloat, NewBool, and NewChar wrap a primitive Go value as an
// EtchValue handle.
func NewInt(n int64) Handle       { return values.put(vm.IntValue(n)) }
func NewFloat(f float64) Handle   { return values.put(vm.FloatValue(f)) }
func NewBool(b bool) Handle       { return values.put(vm.BoolValue(b)) }
func NewChar(r rune) Handle       { return values.put(vm.CharValue(r)) }
func NewVoid() Handle             { return values.put(vm.VoidValue) }
func NewNone() Handle             { return values.put(vm.NoneValue) }

// NewString allocates a new string cell on ctxH's heap and returns a handle
// to it; strings are heap objects (CellString), so unlike the primitive
// constructors above this one needs a Context to own the allocation.
func NewString(ctxH Handle, s string) (Handle, error) {
	ctx, err := lookupContext(ctxH)
	if err != nil {
		return ZeroHandle, err
	}
	if ctx.machine == nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: context has no compiled program"))
	}
	id := ctx.machine.Heap().Alloc(vm.CellString, -1)
	cell := ctx.machine.Heap().Get(id)
	cell.Bytes = []byte(s)
	return values.put(vm.RefValue(id)), nil
}

// NewArray allocates a new array cell of length n on ctxH's heap.
func NewArray(ctxH Handle, n int) (Handle, error) {
	ctx, err := lookupContext(ctxH)
	if err != nil {
		return ZeroHandle, err
	}
	if ctx.machine == nil {
		return ZeroHandle, ctx.fail(fmt.Errorf("abi: context has no compiled program"))
	}
	id := ctx.machine.Heap().Alloc(vm.CellArray, -1)
	cell := ctx.machine.Heap().Get(id)
	cell.Elems = make([]vm.Value, n)
	return values.put(vm.RefValue(id)), nil
}

// --- Predicates ---------------------------------------------------------------

func valueOf(h Handle) (vm.Value, bool) { return values.get(h) }

func IsInt(h Handle) bool   { v, ok := valueOf(h); return ok && v.Tag == vm.TagInt }
func IsFloat(h Handle) bool { v, ok := valueOf(h); return ok && v.Tag == vm.TagFloat }
func IsBool(h Handle) bool  { v, ok := valueOf(h); return ok && v.Tag == vm.TagBool }
func IsChar(h Handle) bool  { v, ok := valueOf(h); return ok && v.Tag == vm.TagChar }
func IsVoid(h Handle) bool  { v, ok := valueOf(h); return ok && v.Tag == vm.TagVoid }
func IsRef(h Handle) bool   { v, ok := valueOf(h); return ok && v.Tag == vm.TagRef }
func IsNone(h Handle) bool  { v, ok := valueOf(h); return ok && v.Tag == vm.TagNone }

// IsSome reports whether h holds a non-None option value (a heap-allocated
// CellOption cell, as opposed to TagNone's payload-free None).
func IsSome(ctxH, h Handle) bool {
	cell, ok := cellOf(ctxH, h)
	return ok && cell.Kind == vm.CellOption
}

// IsOk/IsErr inspect a CellResult's stored success flag.
func IsOk(ctxH, h Handle) bool {
	cell, ok := cellOf(ctxH, h)
	return ok && cell.Kind == vm.CellResult && len(cell.Elems) > 0 && cell.Elems[0].AsBool()
}

func IsErr(ctxH, h Handle) bool {
	cell, ok := cellOf(ctxH, h)
	return ok && cell.Kind == vm.CellResult && len(cell.Elems) > 0 && !cell.Elems[0].AsBool()
}

func cellOf(ctxH, h Handle) (*vm.Cell, bool) {
	ctx, err := lookupContext(ctxH)
	if err != nil || ctx.machine == nil {
		return nil, false
	}
	v, ok := valueOf(h)
	if !ok || v.Tag != vm.TagRef {
		return nil, false
	}
	cell := ctx.machine.Heap().Get(v.Handle)
	return cell, cell != nil
}

// --- Extractors ---------------------------------------------------------------

func AsInt(h Handle) (int64, error) {
	v, ok := valueOf(h)
	if !ok || v.Tag != vm.TagInt {
		return 0, ErrTypeMismatch
	}
	return v.AsInt(), nil
}

func AsFloat(h Handle) (float64, error) {
	v, ok := valueOf(h)
	if !ok || v.Tag != vm.TagFloat {
		return 0, ErrTypeMismatch
	}
	return v.AsFloat(), nil
}

func AsBool(h Handle) (bool, error) {
	v, ok := valueOf(h)
	if !ok || v.Tag != vm.TagBool {
		return false, ErrTypeMismatch
	}
	return v.AsBool(), nil
}

func AsChar(h Handle) (rune, error) {
	v, ok := valueOf(h)
	if !ok || v.Tag != vm.TagChar {
		return 0, ErrTypeMismatch
	}
	return v.AsChar(), nil
}

// AsString reads a string cell's bytes back out as a Go string.
func AsString(ctxH, h Handle) (string, error) {
	cell, ok := cellOf(ctxH, h)
	if !ok || cell.Kind != vm.CellString {
		return "", ErrTypeMismatch
	}
	return string(cell.Bytes), nil
}

// --- Arrays -------------------------------------------------------------------

func ArrayLen(ctxH, h Handle) (int, error) {
	cell, ok := cellOf(ctxH, h)
	if !ok || cell.Kind != vm.CellArray {
		return 0, ErrTypeMismatch
	}
	return len(cell.Elems), nil
}

func ArrayGet(ctxH, h Handle, index int) (Handle, error) {
	cell, ok := cellOf(ctxH, h)
	if !ok || cell.Kind != vm.CellArray {
		return ZeroHandle, ErrTypeMismatch
	}
	if index < 0 || index >= len(cell.Elems) {
		return ZeroHandle, fmt.Errorf("abi: array index %d out of range (len %d)", index, len(cell.Elems))
	}
	return values.put(cell.Elems[index]), nil
}

func ArraySet(ctxH, h Handle, index int, elem Handle) error {
	cell, ok := cellOf(ctxH, h)
	if !ok || cell.Kind != vm.CellArray {
		return ErrTypeMismatch
	}
	if index < 0 || index >= len(cell.Elems) {
		return fmt.Errorf("abi: array index %d out of range (len %d)", index, len(cell.Elems))
	}
	v, ok := valueOf(elem)
	if !ok {
		return ErrInvalidHandle{Handle: elem}
	}
	cell.Elems[index] = v
	return nil
}

// --- Option / Result unwrap ---------------------------------------------------

// Unwrap returns the payload of a Some or Ok value, or an error for None,
// Err, or a non-option/result handle — the host-side counterpart of the
// VM's own OpUnwrap.
func Unwrap(ctxH, h Handle) (Handle, error) {
	v, ok := valueOf(h)
	if !ok {
		return ZeroHandle, ErrInvalidHandle{Handle: h}
	}
	if v.Tag == vm.TagNone {
		return ZeroHandle, fmt.Errorf("abi: unwrap of None")
	}
	cell, ok := cellOf(ctxH, h)
	if !ok {
		return ZeroHandle, ErrTypeMismatch
	}
	switch cell.Kind {
	case vm.CellOption:
		return values.put(cell.Elems[0]), nil
	case vm.CellResult:
		if !cell.Elems[0].AsBool() {
			return ZeroHandle, fmt.Errorf("abi: unwrap of Err")
		}
		return values.put(cell.Elems[1]), nil
	default:
		return ZeroHandle, ErrTypeMismatch
	}
}

// FreeValue releases h. EtchValue handles are host-side lookups into the
// values registry only; the underlying heap cell (if any) is still owned
// and reference-counted by the VM's own heap, so freeing a Handle never
// collects the cell it points at — it only forgets the host's handle for
// it.
func FreeValue(h Handle) { values.delete(h) }
