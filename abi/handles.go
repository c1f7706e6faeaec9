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
	"sync"

	"github.com/google/uuid"
)

// Handle is the opaque, C-ABI-friendly identifier a host holds instead of a
// Go pointer: a 16-byte value (a v4 UUID) it can pass back across the cgo
// boundary without the Go runtime needing to track a live pointer on the C
// side. EtchContext and EtchValue are both Handles under the hood,
// distinguished only by which registry they were minted from.
type Handle [16]byte

// ZeroHandle is the invalid handle, returned on failure paths (e.g. a
// lookup that doesn't resolve, or a constructor that errored).
var ZeroHandle = Handle{}

func newHandle() Handle {
	u := uuid.New()
	var h Handle
	copy(h[:], u[:])
	return h
}

func (h Handle) String() string { return uuid.UUID(h).String() }

// registry is a generic handle->object table, one instance per object kind
// (contexts, values) so a context handle can never be confused with a value
// handle even though both are Handles.
type registry[T any] struct {
	mu    sync.Mutex
	items map[Handle]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[Handle]T)}
}

func (r *registry[T]) put(v T) Handle {
	h := newHandle()
	r.mu.Lock()
	r.items[h] = v
	r.mu.Unlock()
	return h
}

func (r *registry[T]) get(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[h]
	return v, ok
}

func (r *registry[T]) delete(h Handle) {
	r.mu.Lock()
	delete(r.items, h)
	r.mu.Unlock()
}

// ErrInvalidHandle is returned whenever a Handle doesn't resolve in its
// registry — a use-after-free or a handle from the wrong registry.
type ErrInvalidHandle struct {
	Handle Handle
}

func (e ErrInvalidHandle) Error() string {
	return fmt.Sprintf("abi: invalid or expired handle %s", e.Handle)
}
