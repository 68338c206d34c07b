// Package sparseindex implements the sparse index and diff index of
// spec.md §3/§4.1: a compressed mapping from (logical page, state) to the
// physical page holding that version of the page, resolved by a
// "greatest state <= query" search.
//
// The index is backed by container/tree.Map, the teacher's red-black tree,
// which already provides exactly this search via Map.Search: for an
// ordering where PageKey{page, state} sorts first by page then by state,
// Search(PageKey{page, state}) returns the largest key <= the query, which
// is the entry sparseindex.Lookup needs as long as it also checks the
// returned key's Page still matches.
package sparseindex

import (
	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/container/tree"
)

// Entry is one sparse-index record: the physical location of logical_page
// as of state, and whether it is a full (Fixed) or diff-encoded (Mutable)
// page.
type Entry struct {
	Page     addr.LogicalPage
	State    addr.StateNum
	Physical addr.PhysicalPage
	Type     addr.PageType
}

func cmp(a, b addr.PageKey) int { return addr.Compare(a, b) }

// Index is the sparse index: unique by (logical_page, state), resolving
// lookups to the latest physical location as of a queried state.
type Index struct {
	tree         tree.Map[addr.PageKey, Entry]
	maxState     map[addr.LogicalPage]addr.StateNum
	pendingPages []addr.LogicalPage // pages touched since the last changelog flush
}

// New constructs an empty Index.
func New() *Index {
	idx := &Index{maxState: make(map[addr.LogicalPage]addr.StateNum)}
	idx.tree.Init(cmp)
	return idx
}

// Len returns the number of (page, state) entries held by the index.
func (idx *Index) Len() int { return idx.tree.Len() }

// Insert records that logical_page was mutated at state, producing
// physical. It also appends page to the index's pending change-log batch,
// per spec.md "insert... also appends page to the in-memory change-log".
func (idx *Index) Insert(page addr.LogicalPage, state addr.StateNum, physical addr.PhysicalPage, typ addr.PageType) {
	key := addr.PageKey{Page: page, State: state}
	idx.tree.Insert(key, Entry{Page: page, State: state, Physical: physical, Type: typ})
	if cur, ok := idx.maxState[page]; !ok || state > cur {
		idx.maxState[page] = state
	}
	idx.pendingPages = append(idx.pendingPages, page)
}

// Lookup returns the entry with entry.Page == page and the greatest
// entry.State <= state, or found=false if no such entry exists.
func (idx *Index) Lookup(page addr.LogicalPage, state addr.StateNum) (Entry, bool) {
	key, entry, found := idx.tree.Search(addr.PageKey{Page: page, State: state})
	if !found || key.Page != page {
		return Entry{}, false
	}
	return entry, true
}

// ExactEntry returns the entry recorded for exactly (page, state), without
// falling back to an older state. Storage.Write uses this to decide whether
// a write should rewrite an existing physical page in place (same
// transaction, same state) or append a new one.
func (idx *Index) ExactEntry(page addr.LogicalPage, state addr.StateNum) (Entry, bool) {
	return idx.tree.Lookup(addr.PageKey{Page: page, State: state})
}

// MaxState returns the greatest state at which page has ever been written,
// or false if page has never been written.
func (idx *Index) MaxState(page addr.LogicalPage) (addr.StateNum, bool) {
	s, ok := idx.maxState[page]
	return s, ok
}

// TakePending returns and clears the set of logical pages touched since the
// last call, for the caller (storage.Storage.Flush) to fold into a single
// change-log chunk per spec.md "Commit" algorithm.
func (idx *Index) TakePending() []addr.LogicalPage {
	pages := idx.pendingPages
	idx.pendingPages = nil
	return pages
}
