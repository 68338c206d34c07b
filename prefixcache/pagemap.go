package prefixcache

import (
	"sync"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/container/tree"
)

// entry is a pageMap's stored value: either a live lock or a "missing"
// sentinel marker, per spec.md's "missing-range markers" contract.
type entry[T any] struct {
	value   T
	missing bool
}

// pageMap is PrefixCache's per-lock-kind lookup structure: a (logical page,
// state) -> lock map resolved by "greatest state <= query", backed by the
// teacher's container/tree.Map exactly as sparseindex.Index is (see
// DESIGN.md). A single wide or boundary lock is inserted once per page
// number it spans, all sharing one state key, mirroring the original
// PageMap<T>'s std::map<{page,state}, weak_ptr<T>> keyed the same way.
type pageMap[T any] struct {
	mu   sync.RWMutex
	tree tree.Map[addr.PageKey, entry[T]]
}

func newPageMap[T any]() *pageMap[T] {
	m := &pageMap[T]{}
	m.tree.Init(addr.Compare)
	return m
}

// find resolves the greatest state <= query for page, returning the stored
// value, the resolved state, whether the entry found was a missing-range
// marker, and whether any entry was found at all.
func (m *pageMap[T]) find(page addr.LogicalPage, state addr.StateNum) (value T, resolved addr.StateNum, missing, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, e, ok := m.tree.Search(addr.PageKey{Page: page, State: state})
	if !ok || key.Page != page {
		return value, 0, false, false
	}
	return e.value, key.State, e.missing, true
}

// exists reports whether any (page, state<=query) entry is present, missing
// markers included, matching PageMap::exists / rangeExists.
func (m *pageMap[T]) exists(page addr.LogicalPage, state addr.StateNum) bool {
	_, _, _, found := m.find(page, state)
	return found
}

func (m *pageMap[T]) insert(page addr.LogicalPage, state addr.StateNum, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Insert(addr.PageKey{Page: page, State: state}, entry[T]{value: value})
}

// insertRange inserts value under every page in [first, end), all keyed at
// the same state, matching PageMap::insert(state_num, lock, page_num) being
// called once per page a wide lock spans.
func (m *pageMap[T]) insertRange(first, end addr.LogicalPage, state addr.StateNum, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := first; p < end; p++ {
		m.tree.Insert(addr.PageKey{Page: p, State: state}, entry[T]{value: value})
	}
}

// markMissing inserts a missing-range sentinel for page at state. It does
// not check for an existing entry itself: Cache.MarkAsMissing calls it only
// when some (page, state' <= state) entry already exists, matching
// markRangeAsMissing's "only mark already existing ranges".
func (m *pageMap[T]) markMissing(page addr.LogicalPage, state addr.StateNum) {
	var zero T
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Insert(addr.PageKey{Page: page, State: state}, entry[T]{value: zero, missing: true})
}

func (m *pageMap[T]) erase(page addr.LogicalPage, state addr.StateNum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(addr.PageKey{Page: page, State: state})
}

func (m *pageMap[T]) eraseRange(first, end addr.LogicalPage, state addr.StateNum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := first; p < end; p++ {
		m.tree.Delete(addr.PageKey{Page: p, State: state})
	}
}

func (m *pageMap[T]) forEach(f func(T)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.tree.Range(func(k addr.PageKey, e entry[T]) bool {
		if !e.missing {
			f(e.value)
		}
		return true
	})
}

func (m *pageMap[T]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Init(addr.Compare)
}

func (m *pageMap[T]) empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len() == 0
}
