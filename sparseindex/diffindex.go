package sparseindex

import (
	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/container/tree"
)

// DiffCapacity is the fixed number of (Δstate, Δphysical) pairs a single
// DiffEntry can hold before a write must start a fresh entry, per
// spec.md's "fixed packed-array capacity".
const DiffCapacity = 32

// deltaPair is one compressed diff-write record relative to a DiffEntry's
// base state/physical page.
type deltaPair struct {
	dState    uint32
	dPhysical uint32
}

// DiffEntry compresses a run of diff-encoded writes to the same logical
// page into one base (state, physical page) plus a packed array of deltas.
type DiffEntry struct {
	Page         addr.LogicalPage
	BaseState    addr.StateNum
	BasePhysical addr.PhysicalPage
	deltas       [DiffCapacity]deltaPair
	n            int
}

// Len returns the number of diff writes folded into this entry, including
// the base.
func (e *DiffEntry) Len() int { return e.n + 1 }

// StateAt returns the state and physical page of the i'th diff write folded
// into this entry (0 is the base write itself).
func (e *DiffEntry) StateAt(i int) (addr.StateNum, addr.PhysicalPage) {
	if i == 0 {
		return e.BaseState, e.BasePhysical
	}
	d := e.deltas[i-1]
	return e.BaseState + addr.StateNum(d.dState), e.BasePhysical + addr.PhysicalPage(d.dPhysical)
}

// DiffIndex is the companion index of spec.md §4.1 "Diff index": it
// compresses sequences of diff-encoded page writes, one DiffEntry per run,
// keyed by (page, base state).
type DiffIndex struct {
	tree tree.Map[addr.PageKey, *DiffEntry]
}

// NewDiffIndex constructs an empty DiffIndex.
func NewDiffIndex() *DiffIndex {
	di := &DiffIndex{}
	di.tree.Init(cmp)
	return di
}

// Append records a diff write of page at state, producing physical. If an
// existing run for page fits another delta (same page, state/physical both
// encodable as a 32-bit offset from the run's base, and the run has spare
// capacity), the write is folded into that run and folded is true with a nil
// newEntry. Otherwise a new run is started at (page, state) and returned as
// newEntry so the caller (storage.Storage) can also record it in the main
// sparse index as the latest Mutable entry for the page.
func (di *DiffIndex) Append(page addr.LogicalPage, state addr.StateNum, physical addr.PhysicalPage) (newEntry *DiffEntry, folded bool) {
	if key, entry, found := di.tree.Search(addr.PageKey{Page: page, State: state}); found && key.Page == page {
		if entry.n < DiffCapacity {
			dState := state - entry.BaseState
			dPhysical := physical - entry.BasePhysical
			if uint64(dState) <= 0xFFFFFFFF && uint64(dPhysical) <= 0xFFFFFFFF {
				entry.deltas[entry.n] = deltaPair{dState: uint32(dState), dPhysical: uint32(dPhysical)}
				entry.n++
				return nil, true
			}
		}
	}

	entry := &DiffEntry{Page: page, BaseState: state, BasePhysical: physical}
	di.tree.Insert(addr.PageKey{Page: page, State: state}, entry)
	return entry, false
}

// Lookup returns the physical page produced by the latest diff write to
// page at or before state, combining the sparse search for the owning run
// with a walk of that run's deltas, per spec.md's "Combined lookup for
// (page, s) returns the max-state full entry and then walks diff entries
// with state <= s."
func (di *DiffIndex) Lookup(page addr.LogicalPage, state addr.StateNum) (addr.PhysicalPage, addr.StateNum, bool) {
	key, entry, found := di.tree.Search(addr.PageKey{Page: page, State: state})
	if !found || key.Page != page {
		return 0, 0, false
	}

	bestState := entry.BaseState
	bestPhysical := entry.BasePhysical
	for i := 0; i < entry.n; i++ {
		s, p := entry.StateAt(i + 1)
		if s <= state && s >= bestState {
			bestState, bestPhysical = s, p
		}
	}
	return bestPhysical, bestState, true
}
