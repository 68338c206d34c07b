package invertedindex

import (
	"sort"
	"sync"

	"github.com/dbzero-io/corestore/compare"
)

// FlushResult reports what a BatchOperation.Flush did, per spec.md §4.4's
// "{ total_lists, new_lists, removed_lists }".
type FlushResult struct {
	TotalLists   int
	NewLists     int
	RemovedLists int
}

// BatchOperation accumulates pending (tag, value) inserts and removes under
// a mutex and applies them to an Index in one exclusive pass, grounded on
// spec.md §4.4's BatchOperation paragraph. Exactly one BatchOperation is
// meant to be active per Index at a time; AcquireBatch/Release implement
// that as a reference count rather than a hard single-owner lock, since
// the contract is "share one accumulator", not "exclude other writers".
type BatchOperation[K compare.Ordered] struct {
	index *Index[K]

	mu      sync.Mutex
	adds    map[K]map[uint64]struct{}
	removes map[K]map[uint64]struct{}
}

// AcquireBatch returns the index's currently active batch, creating one if
// none exists, and increments its reference count.
func (ix *Index[K]) AcquireBatch() *BatchOperation[K] {
	ix.batchMu.Lock()
	defer ix.batchMu.Unlock()
	if ix.activeBatch == nil {
		ix.activeBatch = &BatchOperation[K]{
			index:   ix,
			adds:    make(map[K]map[uint64]struct{}),
			removes: make(map[K]map[uint64]struct{}),
		}
	}
	ix.batchRefs++
	return ix.activeBatch
}

// Release decrements the batch's reference count, clearing the index's
// active batch once the last reference drops it to zero so a later
// AcquireBatch starts a fresh accumulator.
func (b *BatchOperation[K]) Release() {
	ix := b.index
	ix.batchMu.Lock()
	defer ix.batchMu.Unlock()
	ix.batchRefs--
	if ix.batchRefs <= 0 && ix.activeBatch == b {
		ix.activeBatch = nil
		ix.batchRefs = 0
	}
}

func (b *BatchOperation[K]) pairSet(sets map[K]map[uint64]struct{}, tag K) map[uint64]struct{} {
	s, ok := sets[tag]
	if !ok {
		s = make(map[uint64]struct{})
		sets[tag] = s
	}
	return s
}

// Add stages (tag, value) for insertion on the next Flush.
func (b *BatchOperation[K]) Add(tag K, value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairSet(b.adds, tag)[value] = struct{}{}
}

// Remove stages (tag, value) for deletion on the next Flush.
func (b *BatchOperation[K]) Remove(tag K, value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pairSet(b.removes, tag)[value] = struct{}{}
}

// Flush applies every staged add/remove under the index's exclusive lock,
// one posting list per touched tag, per spec.md §4.4 steps 1-4.
func (b *BatchOperation[K]) Flush() FlushResult {
	b.mu.Lock()
	adds, removes := b.adds, b.removes
	b.adds = make(map[K]map[uint64]struct{})
	b.removes = make(map[K]map[uint64]struct{})
	b.mu.Unlock()

	tags := make(map[K]struct{}, len(adds)+len(removes))
	for tag := range adds {
		tags[tag] = struct{}{}
	}
	for tag := range removes {
		tags[tag] = struct{}{}
	}
	sortedTags := make([]K, 0, len(tags))
	for tag := range tags {
		sortedTags = append(sortedTags, tag)
	}
	sort.Slice(sortedTags, func(i, j int) bool {
		return compare.Function(sortedTags[i], sortedTags[j]) < 0
	})

	ix := b.index
	ix.mu.lock()
	defer ix.mu.unlock()

	var result FlushResult
	for _, tag := range sortedTags {
		result.TotalLists++
		_, existed := ix.tree.Lookup(tag)

		var list *PostingList
		if existed {
			list, _ = ix.loadLocked(tag)
		}
		if list == nil {
			list = NewPostingList()
			if !existed {
				result.NewLists++
			}
		}

		for v := range adds[tag] {
			list.Insert(v)
		}
		for v := range removes[tag] {
			list.Erase(v)
		}

		if list.Len() == 0 && existed {
			ix.removeLocked(tag)
			result.RemovedLists++
			continue
		}
		ix.persistLocked(tag, list)
	}
	return result
}
