// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "time"

// Color is the tri-color mark used by the cycle collector, following the
// synchronous Bacon & Rajan trial-deletion algorithm: a refcount decrement
// that does not reach zero buffers the cell as a cycle candidate instead of
// assuming it is still reachable from a root.
type Color uint8

const (
	// ColorBlack means the cell is assumed live (in use or already scanned).
	ColorBlack Color = iota
	// ColorGrey means the cell is being traced as a possible member of a
	// garbage cycle; its owned references have had their count tentatively
	// decremented.
	ColorGrey
	// ColorWhite means the cell has been proven garbage during trial
	// deletion and its references have been restored to grey scanning.
	ColorWhite
	// ColorPurple marks a cell that decremented to a positive count and is
	// buffered as a candidate root for cycle detection.
	ColorPurple
)

// CellKind identifies the shape of a heap-allocated value.
type CellKind uint8

const (
	CellString CellKind = iota
	CellArray
	CellObject
	CellTuple
	CellOption
	CellResult
	CellEnum
	CellCoroutine
	CellChannel
	CellClosure
)

// Cell is a single heap-allocated, reference-counted value.
type Cell struct {
	ID    uint64
	Kind  CellKind
	Color Color

	Strong   int32 // strong refcount
	Weak     int32 // number of live weak[T] handles pointing at this cell
	Buffered bool  // true while queued in the cycle collector's candidate list

	// TypeIndex names the object/enum layout in the program's type table;
	// meaningless for CellString/CellArray.
	TypeIndex int

	Bytes []byte  // backing bytes for CellString
	Elems []Value // payload for CellArray/CellTuple/CellObject fields/CellOption/CellResult(1 elem)/CellEnum

	// DestructorFn is the function-table index of the "drop" method to run
	// when Strong reaches zero; -1 if the type declares no destructor.
	DestructorFn int

	// Done/SuspendPoint are coroutine-specific; unused otherwise.
	Done         bool
	SuspendPoint int

	// ChanBuf/ChanCap are channel-specific; unused otherwise.
	ChanBuf []Value
	ChanCap int
}

// Heap owns every reference-counted allocation for one VM instance and runs
// an incremental cycle collector alongside plain refcounting.
//
// Design:
//   - Every ref[T] assignment/copy increments Strong via Incref; every scope
//     exit or explicit drop decrements it via Decref.
//   - A decrement that does not reach zero may still be the last external
//     reference into a cycle, so the cell is buffered as ColorPurple instead
//     of being assumed reachable.
//   - CollectCycles runs trial deletion over the purple buffer: it marks
//     candidates grey (speculatively decrementing internal references),
//     scans for anything still reachable from outside the candidate set
//     (recoloring it black and restoring counts), and frees everything still
//     white.
//   - NeedsGCFrame/BeginFrame let the VM's dispatch loop run collection
//     every gcInterval instructions while candidates are buffered, rather
//     than on every decrement. BeginFrame records a time budget, but
//     CollectCycles does not consult it: each pass processes the whole
//     candidate buffer.
type Heap struct {
	cells   map[uint64]*Cell
	nextID  uint64
	purple  []uint64 // candidate cycle roots awaiting CollectCycles

	// opsSinceGC counts VM instructions executed since the last collection
	// pass; a collection is due once it crosses gcInterval.
	opsSinceGC int
	gcInterval int

	frameDeadline time.Time
	frameBudget   time.Duration
}

// DefaultGCInterval is the default number of VM instructions between
// cycle-collection sweeps, adapted at runtime by AdjustInterval.
const DefaultGCInterval = 1000

// NewHeap returns an empty heap with the default collection interval.
func NewHeap() *Heap {
	return &Heap{
		cells:      make(map[uint64]*Cell),
		gcInterval: DefaultGCInterval,
	}
}

// Alloc creates a new cell of the given kind with an initial strong refcount
// of 1 and returns its handle ID.
func (h *Heap) Alloc(kind CellKind, destructorFn int) uint64 {
	h.nextID++
	id := h.nextID
	h.cells[id] = &Cell{
		ID:           id,
		Kind:         kind,
		Color:        ColorBlack,
		Strong:       1,
		DestructorFn: destructorFn,
	}
	return id
}

// Get returns the cell for id, or nil if it has been freed.
func (h *Heap) Get(id uint64) *Cell {
	return h.cells[id]
}

// Incref increments the strong refcount of the cell at id.
func (h *Heap) Incref(id uint64) {
	c := h.cells[id]
	if c == nil {
		return
	}
	c.Strong++
	c.Color = ColorBlack
}

// DropFn is called by Decref/CollectCycles when a cell's destructor runs,
// giving the VM a chance to execute the type's user-defined "drop" method
// before the cell's own fields are released. It receives the cell, whose
// DestructorFn field holds the function-table index of the method to run.
type DropFn func(c *Cell)

// Decref decrements the strong refcount of the cell at id. If the count
// reaches zero the cell is freed immediately (and onDrop invoked first, if
// the cell declares a destructor); otherwise, because this may be the
// external reference keeping a cycle alive, the cell is buffered as a
// trial-deletion candidate.
func (h *Heap) Decref(id uint64, onDrop DropFn) {
	c := h.cells[id]
	if c == nil {
		return
	}
	c.Strong--
	if c.Strong == 0 {
		h.release(c, onDrop)
		return
	}
	if c.Strong < 0 {
		// Defensive: a double-free bug in emitted bytecode must not corrupt
		// the heap further. The prover's bytecode verification pass does not
		// check refcount balance, so this guard is what catches it.
		c.Strong = 0
		return
	}
	h.bufferPurple(c)
}

// release frees a cell whose strong count has reached zero, running its
// destructor first and then recursively decrementing any ref[T] fields it
// owned.
func (h *Heap) release(c *Cell, onDrop DropFn) {
	if (c.Color == ColorBlack || c.Color == ColorPurple) && c.DestructorFn >= 0 && onDrop != nil {
		onDrop(c)
	}
	c.Color = ColorBlack
	for _, v := range c.Elems {
		if v.Tag == TagRef {
			h.Decref(v.Handle, onDrop)
		}
	}
	delete(h.cells, c.ID)
}

// bufferPurple enqueues c as a cycle-collection candidate unless it is
// already buffered.
func (h *Heap) bufferPurple(c *Cell) {
	if c.Buffered {
		return
	}
	c.Color = ColorPurple
	c.Buffered = true
	h.purple = append(h.purple, c.ID)
}

// CollectCycles runs one trial-deletion pass over the buffered candidates,
// freeing any cell group that is unreachable except through its own internal
// references (a garbage cycle).
func (h *Heap) CollectCycles(onDrop DropFn) int {
	candidates := h.purple
	h.purple = nil

	// Phase 1: mark grey, speculatively decrementing internal edges.
	for _, id := range candidates {
		c := h.cells[id]
		if c == nil {
			continue
		}
		h.markGrey(c)
	}
	// Phase 2: scan, restoring anything still externally reachable to black.
	for _, id := range candidates {
		c := h.cells[id]
		if c == nil {
			continue
		}
		h.scan(c)
	}
	// Phase 3: collect whites.
	freed := 0
	for _, id := range candidates {
		c := h.cells[id]
		if c == nil {
			continue
		}
		c.Buffered = false
		if c.Color == ColorWhite {
			freed += h.collectWhite(c, onDrop)
		}
	}
	return freed
}

func (h *Heap) markGrey(c *Cell) {
	if c.Color == ColorGrey {
		return
	}
	c.Color = ColorGrey
	for _, v := range c.Elems {
		if v.Tag != TagRef {
			continue
		}
		child := h.cells[v.Handle]
		if child == nil {
			continue
		}
		child.Strong--
		h.markGrey(child)
	}
}

func (h *Heap) scan(c *Cell) {
	if c.Color != ColorGrey {
		return
	}
	if c.Strong > 0 {
		h.scanBlack(c)
		return
	}
	c.Color = ColorWhite
	for _, v := range c.Elems {
		if v.Tag != TagRef {
			continue
		}
		if child := h.cells[v.Handle]; child != nil {
			h.scan(child)
		}
	}
}

func (h *Heap) scanBlack(c *Cell) {
	c.Color = ColorBlack
	for _, v := range c.Elems {
		if v.Tag != TagRef {
			continue
		}
		child := h.cells[v.Handle]
		if child == nil {
			continue
		}
		child.Strong++
		if child.Color != ColorBlack {
			h.scanBlack(child)
		}
	}
}

func (h *Heap) collectWhite(c *Cell, onDrop DropFn) int {
	if c.Color != ColorWhite {
		return 0
	}
	c.Color = ColorBlack
	freed := 1
	if c.DestructorFn >= 0 && onDrop != nil {
		onDrop(c)
	}
	for _, v := range c.Elems {
		if v.Tag != TagRef {
			continue
		}
		if child := h.cells[v.Handle]; child != nil {
			freed += h.collectWhite(child, onDrop)
		}
	}
	delete(h.cells, c.ID)
	return freed
}

// NoteOp records that one VM instruction executed; callers should check
// NeedsGCFrame afterward to decide whether to invoke CollectCycles.
func (h *Heap) NoteOp() {
	h.opsSinceGC++
}

// NeedsGCFrame reports whether enough instructions have executed since the
// last collection to warrant another pass.
func (h *Heap) NeedsGCFrame() bool {
	return len(h.purple) > 0 && h.opsSinceGC >= h.gcInterval
}

// BeginFrame resets the instruction count toward the next collection and
// records a per-scheduling-quantum GC time budget, which FrameExpired
// reports on. CollectCycles does not consult that deadline: a pass runs over
// the whole purple buffer however long it takes.
func (h *Heap) BeginFrame(budget time.Duration) {
	h.frameBudget = budget
	h.frameDeadline = time.Now().Add(budget)
	h.opsSinceGC = 0
}

// FrameExpired reports whether the current GC frame's time budget has been
// exhausted.
func (h *Heap) FrameExpired() bool {
	return !h.frameDeadline.IsZero() && time.Now().After(h.frameDeadline)
}

// AdjustInterval adapts the operation-count interval between collection
// passes based on how much garbage the last pass actually reclaimed: a
// pass that freed little relative to the purple buffer size lengthens the
// interval, while a pass that freed a lot shortens it.
func (h *Heap) AdjustInterval(lastFreed, lastCandidates int) {
	switch {
	case lastCandidates == 0:
		return
	case lastFreed*2 > lastCandidates:
		h.gcInterval = max(h.gcInterval/2, 64)
	default:
		h.gcInterval = min(h.gcInterval*2, 1_000_000)
	}
}

// Len returns the number of live cells, for diagnostics and tests.
func (h *Heap) Len() int { return len(h.cells) }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
