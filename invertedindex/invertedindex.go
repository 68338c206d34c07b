// Package invertedindex implements spec.md §4.4: a tag -> posting-list map
// plus a batched, mutex-guarded writer for it, grounded on
// InvertedIndex.hpp.
package invertedindex

import (
	"sync"

	"github.com/dbzero-io/corestore/compare"
	"github.com/dbzero-io/corestore/container/tree"
	"github.com/dbzero-io/corestore/dram"
)

// listRef is the map's stored value: where a tag's posting list lives in
// the backing dram.Space, mirroring the original's address-plus-type
// encoding (here the "type" is implicitly PostingList; see DESIGN.md).
type listRef struct {
	page dram.PageNum
}

// progressiveMutex approximates InvertedIndex's progressive_mutex: readers
// take RLock, writers take Lock. sync.RWMutex has no atomic
// read-to-write upgrade, so tryUpgrade here releases the read lock and
// reacquires for write, and its caller must re-validate what it read. No
// path in this package calls tryUpgrade: GetInvertedList takes lock()
// directly and re-checks the tree under it, which is what the original's
// "retry on failed upgrade" loop amounts to.
type progressiveMutex struct {
	mu sync.RWMutex
}

func (p *progressiveMutex) rLock()   { p.mu.RLock() }
func (p *progressiveMutex) rUnlock() { p.mu.RUnlock() }
func (p *progressiveMutex) lock()    { p.mu.Lock() }
func (p *progressiveMutex) unlock()  { p.mu.Unlock() }

// tryUpgrade releases the shared lock and takes the exclusive one.
// Callers must re-check whatever condition they read under RLock.
func (p *progressiveMutex) tryUpgrade() {
	p.mu.RUnlock()
	p.mu.Lock()
}

// Index maps tag keys to posting lists, materializing and persisting them
// lazily in a dram.Space, grounded on InvertedIndex<KeyT,ValueT>.
type Index[K compare.Ordered] struct {
	mu    progressiveMutex
	space *dram.Space
	tree  tree.Map[K, listRef]

	cacheMu sync.Mutex
	cache   map[K]*PostingList

	batchMu      sync.Mutex
	activeBatch  *BatchOperation[K]
	batchRefs    int
}

// New builds an empty index backed by space.
func New[K compare.Ordered](space *dram.Space) *Index[K] {
	ix := &Index[K]{space: space, cache: make(map[K]*PostingList)}
	ix.tree.Init(compare.Function[K])
	return ix
}

// GetInvertedList pulls the existing list for key, or creates and persists
// an empty one, per InvertedIndex::getInvertedList(KeyT).
func (ix *Index[K]) GetInvertedList(key K) *PostingList {
	if list, ok := ix.TryGetExistingInvertedList(key); ok {
		return list
	}
	ix.mu.lock()
	defer ix.mu.unlock()
	if _, ok := ix.tree.Lookup(key); ok {
		// another writer created it between our RUnlock and Lock.
		if list, ok := ix.loadLocked(key); ok {
			return list
		}
	}
	list := NewPostingList()
	ix.persistLocked(key, list)
	return list
}

// TryGetExistingInvertedList pulls an already-present list through the
// cache, or reports false if the tag has no list.
func (ix *Index[K]) TryGetExistingInvertedList(key K) (*PostingList, bool) {
	ix.cacheMu.Lock()
	if list, ok := ix.cache[key]; ok {
		ix.cacheMu.Unlock()
		return list, true
	}
	ix.cacheMu.Unlock()

	ix.mu.rLock()
	defer ix.mu.rUnlock()
	return ix.loadLocked(key)
}

// loadLocked reads key's list out of the tree/space and populates the
// cache. Caller must hold at least a read lock on ix.mu.
func (ix *Index[K]) loadLocked(key K) (*PostingList, bool) {
	ref, ok := ix.tree.Lookup(key)
	if !ok {
		return nil, false
	}
	data, ok := ix.space.Get(ref.page)
	if !ok {
		return nil, false
	}
	list := decodePostingList(data)
	ix.cacheMu.Lock()
	ix.cache[key] = list
	ix.cacheMu.Unlock()
	return list, true
}

// persistLocked writes list to its existing page, allocating a fresh page
// (and tree entry) the first time. Caller must hold the exclusive lock.
func (ix *Index[K]) persistLocked(key K, list *PostingList) {
	ref, ok := ix.tree.Lookup(key)
	if !ok {
		ref = listRef{page: ix.space.Alloc()}
		ix.tree.Insert(key, ref)
	}
	ix.space.Put(ref.page, list.encode())
	ix.cacheMu.Lock()
	ix.cache[key] = list
	ix.cacheMu.Unlock()
}

// SetInvertedList replaces (or inserts) key's list wholesale, per
// InvertedIndex::setInvertedList.
func (ix *Index[K]) SetInvertedList(key K, list *PostingList) {
	ix.mu.lock()
	defer ix.mu.unlock()
	ix.persistLocked(key, list)
}

// removeLocked drops key's tree entry and cache entry. Caller must hold
// the exclusive lock.
func (ix *Index[K]) removeLocked(key K) {
	ix.tree.Delete(key)
	ix.cacheMu.Lock()
	delete(ix.cache, key)
	ix.cacheMu.Unlock()
}

// RemoveFromCache evicts key's cached list without touching the persisted
// entry, per InvertedIndex::removeFromCache.
func (ix *Index[K]) RemoveFromCache(key K) {
	ix.cacheMu.Lock()
	defer ix.cacheMu.Unlock()
	delete(ix.cache, key)
}

// Clear drops every tag, list, and cache entry.
func (ix *Index[K]) Clear() {
	ix.mu.lock()
	defer ix.mu.unlock()
	ix.tree.Init(compare.Function[K])
	ix.cacheMu.Lock()
	ix.cache = make(map[K]*PostingList)
	ix.cacheMu.Unlock()
}
