// Package prefixcache implements the prefix cache of spec.md §4.2: three
// page maps (single DP locks, wide locks, boundary locks), each keyed by
// (logical page, state) and resolved by "greatest state <= query", with
// copy-on-write promotion, missing-range sentinels, and a bounded
// wide/boundary conflict-resolution retry, grounded on
// original_source/src/dbzero/core/memory/PrefixCache.{hpp,cpp} and
// PageMap.hpp.
package prefixcache

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/lock"
	"github.com/dbzero-io/corestore/recycler"
)

// Cache is one prefix's resource-lock cache: the single/wide/boundary page
// maps plus the volatile-lock bookkeeping needed for atomic-operation
// rollback and merge, per PrefixCache.
type Cache struct {
	storage  lock.Storage
	pageSize int64
	rec      *recycler.Recycler
	log      zerolog.Logger

	dpMap       *pageMap[*lock.DPLock]
	wideMap     *pageMap[*lock.WideLock]
	boundaryMap *pageMap[*lock.BoundaryLock]

	mu        sync.Mutex
	volatiles []volatileEntry
}

// volatileEntry tracks one no-flush lock staged under an atomic operation's
// temporary state number, with the map-specific rollback/merge actions
// closed over so Cache.Rollback/Cache.Merge don't need to rediscover which
// of the three page maps a given lock belongs to.
type volatileEntry struct {
	rollback func(fromState addr.StateNum)
	merge    func(fromState, toState addr.StateNum)
}

// New constructs an empty Cache over storage, whose resources are pageSize
// bytes each. rec may be nil, in which case locks are never registered with
// a recycler (useful for tests that don't exercise eviction). log may be
// the zero zerolog.Logger, which discards everything.
func New(storage lock.Storage, pageSize int64, rec *recycler.Recycler, log zerolog.Logger) *Cache {
	return &Cache{
		storage:     storage,
		pageSize:    pageSize,
		rec:         rec,
		log:         log,
		dpMap:       newPageMap[*lock.DPLock](),
		wideMap:     newPageMap[*lock.WideLock](),
		boundaryMap: newPageMap[*lock.BoundaryLock](),
	}
}

func (c *Cache) touch(res *lock.ResourceLock, priority recycler.Priority) {
	if c.rec == nil || res == nil {
		return
	}
	// A registration failure here (capacity overflow) is not actionable at
	// lookup/create time: the lock has already been produced and handed to
	// the caller, so there's nothing to roll back. Eviction pressure is
	// surfaced instead through the recycler's own FlushDirty/overflow hooks.
	_ = c.rec.Update(res, priority)
}

func effectiveState(readState, writeState addr.StateNum) addr.StateNum {
	if writeState != addr.NoState {
		return writeState
	}
	return readState
}

// FindPage looks up the DP lock covering page, resolved to the greatest
// state <= the query, per PrefixCache::findPage. A missing-range sentinel
// is reported as not found.
func (c *Cache) FindPage(page addr.LogicalPage, state addr.StateNum) (l *lock.DPLock, resolvedState addr.StateNum, found bool) {
	value, resolved, missing, ok := c.dpMap.find(page, state)
	if !ok || missing {
		return nil, 0, false
	}
	c.touch(value.ResourceLock, recycler.Cold)
	return value, resolved, true
}

// CreatePage constructs and registers a new DP lock over page, per
// PrefixCache::createPage. createNew marks a page that was just appended
// with no prior committed content (zero-filled instead of fetched).
func (c *Cache) CreatePage(page addr.LogicalPage, readState, writeState addr.StateNum, access lock.AccessMode, createNew bool) *lock.DPLock {
	l := lock.NewDPLock(c.storage, page, 1, c.pageSize, access, readState, writeState, createNew)
	c.dpMap.insert(page, effectiveState(readState, writeState), l)
	c.touch(l.ResourceLock, recycler.Hot)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.dpMap.erase(page, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.dpMap.erase(page, fromState)
				l.Merge(toState)
				c.dpMap.insert(page, toState, l)
			},
		})
	}
	return l
}

func (c *Cache) addVolatile(e volatileEntry) {
	c.mu.Lock()
	c.volatiles = append(c.volatiles, e)
	c.mu.Unlock()
}

// RegisterCopy inserts a copy-on-write DP lock (produced by DPLock.CopyOnWrite)
// into the cache at (page, state), per PrefixCache::insertCopy. Callers that
// created l with lock.NoFlush set must have already done so before calling
// this, since the volatile bookkeeping below only observes l's own access
// bits through the caller-supplied access value.
func (c *Cache) RegisterCopy(page addr.LogicalPage, state addr.StateNum, l *lock.DPLock, access lock.AccessMode) {
	c.dpMap.insert(page, state, l)
	c.touch(l.ResourceLock, recycler.Hot)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.dpMap.erase(page, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.dpMap.erase(page, fromState)
				l.Merge(toState)
				c.dpMap.insert(page, toState, l)
			},
		})
	}
}

// RegisterCopyRange is RegisterCopy's wide-lock counterpart, per
// PrefixCache::insertCopy's wide-range overload.
func (c *Cache) RegisterCopyRange(first, end addr.LogicalPage, state addr.StateNum, l *lock.WideLock, access lock.AccessMode) {
	c.wideMap.insertRange(first, end, state, l)
	c.touch(l.ResourceLock, recycler.Hot)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.wideMap.eraseRange(first, end, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.wideMap.eraseRange(first, end, fromState)
				l.Merge(toState)
				c.wideMap.insertRange(first, end, toState, l)
			},
		})
	}
}

// FindOrCreatePage returns the DP lock exactly cached at state, or creates
// one, per PrefixCache::findOrCreatePage. It is used internally while
// composing a boundary range from its two parent pages, where both sides
// must be pinned to the very state being requested.
func (c *Cache) FindOrCreatePage(page addr.LogicalPage, state addr.StateNum, access lock.AccessMode) *lock.DPLock {
	l, resolved, found := c.FindPage(page, state)
	if found && resolved == state {
		return l
	}
	return c.CreatePage(page, state, addr.NoState, access, false)
}

// CreateRange constructs and registers a new wide lock spanning
// [first, end), per PrefixCache::createRange. residual covers the unaligned
// trailing partial page, or is nil for a page-aligned range.
func (c *Cache) CreateRange(first, end addr.LogicalPage, readState, writeState addr.StateNum, access lock.AccessMode, residual *lock.DPLock, createNew bool) *lock.WideLock {
	sizePages := int64(end - first)
	wl := lock.NewWideLock(c.storage, first, sizePages, c.pageSize, access, readState, writeState, residual, createNew)
	c.wideMap.insertRange(first, end, effectiveState(readState, writeState), wl)
	c.touch(wl.ResourceLock, recycler.Hot)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.wideMap.eraseRange(first, end, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.wideMap.eraseRange(first, end, fromState)
				wl.Merge(toState)
				c.wideMap.insertRange(first, end, toState, wl)
			},
		})
	}
	return wl
}

// FindRange looks up the wide lock spanning [first, end), resolved to the
// greatest state <= the query, per PrefixCache::findRange. If the range is
// only partially cached as single-page DP locks at a different state than
// the wide lookup resolved to, the one-retry conflict resolution of
// spec.md §4.2 "Wide locks" applies: the wide lock is (re)materialized at
// the older of the two states and the conflicting page-sized entries are
// superseded in the wide map; a second conflict on the same call is a
// ConflictError rather than a second retry.
func (c *Cache) FindRange(first, end addr.LogicalPage, state addr.StateNum) (*lock.WideLock, addr.StateNum, error) {
	return c.findRange(first, end, state, false)
}

func (c *Cache) findRange(first, end addr.LogicalPage, state addr.StateNum, retried bool) (*lock.WideLock, addr.StateNum, error) {
	wl, resolved, missing, ok := c.wideMap.find(first, state)
	if ok && !missing {
		spanEnd := wl.Address() + addr.LogicalPage(wl.Size()/c.pageSize)
		if spanEnd >= end {
			if conflictState, has := c.conflictingPage(first, end, resolved); has {
				return c.resolveConflict(first, end, state, resolved, conflictState, retried)
			}
			c.touch(wl.ResourceLock, recycler.Hot)
			return wl, resolved, nil
		}
	}

	if conflictState, has := c.conflictingPage(first, end, resolved); ok && has {
		return c.resolveConflict(first, end, state, resolved, conflictState, retried)
	}

	return nil, 0, nil
}

// conflictingPage scans [first, end) for a single-page DP lock whose
// resolved state differs from wideState, the condition spec.md calls
// "page-sized locks overlapping a requested wide range at a different
// state".
func (c *Cache) conflictingPage(first, end addr.LogicalPage, wideState addr.StateNum) (addr.StateNum, bool) {
	for p := first; p < end; p++ {
		_, resolved, missing, found := c.dpMap.find(p, wideState)
		if found && !missing && resolved != wideState {
			return resolved, true
		}
	}
	return 0, false
}

func (c *Cache) resolveConflict(first, end addr.LogicalPage, state, wideState, conflictState addr.StateNum, retried bool) (*lock.WideLock, addr.StateNum, error) {
	if retried {
		c.log.Warn().Uint64("first", uint64(first)).Uint64("end", uint64(end)).
			Uint64("state", uint64(state)).Msg("prefixcache: unresolved wide-range conflict after one conversion")
		return nil, 0, &ConflictError{First: first, End: end, State: state}
	}

	c.log.Debug().Uint64("first", uint64(first)).Uint64("end", uint64(end)).
		Uint64("wide_state", uint64(wideState)).Uint64("conflict_state", uint64(conflictState)).
		Msg("prefixcache: resolving wide-range conflict")

	older := wideState
	if conflictState < older {
		older = conflictState
	}

	// Materialize the wide lock at the older state, superseding whatever
	// single-page entries [first, end) held in the wide map; this is the
	// "converting the page-sized conflicter" step, adapted here as the
	// wide map being made authoritative for the range rather than a
	// literal BoundaryLock promotion, since this cache does not otherwise
	// expose a DP-into-BoundaryLock conversion path.
	c.CreateRange(first, end, older, addr.NoState, lock.ReadOnly, nil, false)

	return c.findRange(first, end, state, true)
}

// FindBoundaryRange looks up (or, if both of its parent pages are cached at
// the same state, materializes) the boundary lock for an access that spans
// the page at firstPage and the page after it, starting offsetInFirstPage
// bytes into firstPage and covering size bytes total, per
// PrefixCache::findBoundaryRange.
func (c *Cache) FindBoundaryRange(firstPage addr.LogicalPage, offsetInFirstPage, size int64, state addr.StateNum, access lock.AccessMode) (*lock.BoundaryLock, addr.StateNum, error) {
	if bl, resolved, missing, found := c.boundaryMap.find(firstPage, state); found && !missing {
		c.touch(bl.ResourceLock, recycler.Hot)
		return bl, resolved, nil
	}

	lhs, lhsState, lhsFound := c.FindPage(firstPage, state)
	rhs, rhsState, rhsFound := c.FindPage(firstPage+1, state)
	if !lhsFound || !rhsFound {
		return nil, 0, nil
	}

	resolved := lhsState
	if rhsState < resolved {
		resolved = rhsState
	}
	lhsSize := c.pageSize - offsetInFirstPage
	rhsSize := size - lhsSize

	bl := lock.NewBoundaryLock(c.storage, firstPage, lhs, lhsSize, rhs, rhsSize, access, false)
	c.boundaryMap.insert(firstPage, state, bl)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.boundaryMap.erase(firstPage, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.boundaryMap.erase(firstPage, fromState)
				c.boundaryMap.insert(firstPage, toState, bl)
			},
		})
	}
	return bl, resolved, nil
}

// CreateBoundaryRange materializes a boundary lock unconditionally, finding
// or creating both parent pages, per PrefixCache::createBoundaryRange.
func (c *Cache) CreateBoundaryRange(firstPage addr.LogicalPage, offsetInFirstPage, size int64, state addr.StateNum, access lock.AccessMode) *lock.BoundaryLock {
	if bl, resolved, _, found := c.boundaryMap.find(firstPage, state); found && resolved == state {
		return bl
	}

	lhs := c.FindOrCreatePage(firstPage, state, access)
	rhs := c.FindOrCreatePage(firstPage+1, state, access)
	lhsSize := c.pageSize - offsetInFirstPage
	rhsSize := size - lhsSize

	bl := lock.NewBoundaryLock(c.storage, firstPage, lhs, lhsSize, rhs, rhsSize, access, false)
	c.boundaryMap.insert(firstPage, state, bl)
	if access&lock.NoFlush != 0 {
		c.addVolatile(volatileEntry{
			rollback: func(fromState addr.StateNum) { c.boundaryMap.erase(firstPage, fromState) },
			merge: func(fromState, toState addr.StateNum) {
				c.boundaryMap.erase(firstPage, fromState)
				c.boundaryMap.insert(firstPage, toState, bl)
			},
		})
	}
	return bl
}

// MarkAsMissing inserts a missing-range sentinel for page at state if (and
// only if) some earlier state of that page is already cached, per
// PrefixCache::markRangeAsMissing's "only mark already existing ranges".
// Subsequent FindPage/FindRange calls treat the sentinel as absent and
// refetch through storage, per spec.md's refresh contract.
func (c *Cache) MarkAsMissing(page addr.LogicalPage, state addr.StateNum) {
	if c.dpMap.exists(page, state) {
		c.dpMap.markMissing(page, state)
	}
}

// GetSizeOfResources returns the total byte size of every cached lock
// across all three maps, per PrefixCache::getSizeOfResources.
func (c *Cache) GetSizeOfResources() int64 {
	var total int64
	c.dpMap.forEach(func(l *lock.DPLock) { total += l.Size() })
	c.wideMap.forEach(func(l *lock.WideLock) { total += l.Size() })
	c.boundaryMap.forEach(func(l *lock.BoundaryLock) { total += l.Size() })
	return total
}

// Empty reports whether the cache holds no locks in any of its three maps.
func (c *Cache) Empty() bool {
	return c.dpMap.empty() && c.wideMap.empty() && c.boundaryMap.empty()
}

// Clear drops every cached lock, resetting their dirty flags first and
// releasing them from the recycler, per PrefixCache::clear.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.volatiles = nil
	c.mu.Unlock()

	c.forEachLock(func(res *lock.ResourceLock) {
		res.ResetDirtyFlag()
		if c.rec != nil {
			c.rec.Release(res)
		}
	})

	c.boundaryMap.clear()
	c.wideMap.clear()
	c.dpMap.clear()
}

// Flush flushes every dirty lock, boundary locks first, per
// PrefixCache::flush.
func (c *Cache) Flush() error {
	var firstErr error
	c.boundaryMap.forEach(func(l *lock.BoundaryLock) {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	c.wideMap.forEach(func(l *lock.WideLock) {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	c.dpMap.forEach(func(l *lock.DPLock) {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// FlushBoundary flushes only the cached boundary locks, per
// PrefixCache::flushBoundary.
func (c *Cache) FlushBoundary() error {
	var firstErr error
	c.boundaryMap.forEach(func(l *lock.BoundaryLock) {
		if err := l.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// Rollback discards every volatile (NoFlush, atomic-operation-staged) lock
// registered under fromState, per PrefixCache::rollback.
func (c *Cache) Rollback(fromState addr.StateNum) {
	c.mu.Lock()
	entries := c.volatiles
	c.volatiles = nil
	c.mu.Unlock()

	for _, e := range entries {
		e.rollback(fromState)
	}
}

// Merge folds every volatile lock registered under fromState into the
// active transaction toState, per PrefixCache::merge.
func (c *Cache) Merge(fromState, toState addr.StateNum) {
	c.mu.Lock()
	entries := c.volatiles
	c.volatiles = nil
	c.mu.Unlock()

	for _, e := range entries {
		e.merge(fromState, toState)
	}
}

func (c *Cache) forEachLock(f func(*lock.ResourceLock)) {
	c.boundaryMap.forEach(func(l *lock.BoundaryLock) { f(l.ResourceLock) })
	c.wideMap.forEach(func(l *lock.WideLock) { f(l.ResourceLock) })
	c.dpMap.forEach(func(l *lock.DPLock) { f(l.ResourceLock) })
}

// PageSize returns the cache's fixed page size in bytes.
func (c *Cache) PageSize() int64 { return c.pageSize }
