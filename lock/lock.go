// Package lock implements the resource-lock hierarchy of spec.md §5: the
// in-memory, cached handle a caller holds while reading or mutating a range
// of a prefix. A ResourceLock owns a byte buffer backed by a storage.Storage
// range; DPLock specializes it to a single aligned data-page run at a given
// (read_state, write_state) pair; WideLock adds the unaligned residual tail
// spec.md calls "the wide range + the residual lock"; BoundaryLock composes
// two neighboring DPLocks for a range that straddles a page boundary.
//
// ResourceLock embeds list.Node (the teacher's intrusive doubly-linked
// list element), and every other lock type embeds a *ResourceLock, so the
// recycler package can keep locks on its two-priority
// LRU lists without a second allocation per lock, exactly the property
// segmentio/datastructures' list package exists to provide.
package lock

import (
	"fmt"
	"sync"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/list"
	"github.com/dbzero-io/corestore/storage"
)

// AccessMode describes how a caller intends to use a lock's buffer.
type AccessMode uint8

const (
	// ReadOnly locks may call Buffer but never Flush.
	ReadOnly AccessMode = 1 << iota
	// Write locks may mutate Buffer's contents and must Flush before
	// release to persist them.
	Write
	// NoFlush marks a lock whose state number was advanced without its own
	// transaction (dragged forward from a prior state to avoid a copy on
	// write, per DP_Lock's doc comment); such a lock must never flush on
	// release, only on explicit request.
	NoFlush
)

// Storage is the subset of storage.Storage a lock needs: page-aligned reads
// and writes at a given state. *storage.Storage satisfies this directly.
type Storage interface {
	Read(address addr.LogicalPage, state addr.StateNum, buf []byte, flags storage.Flags) error
	Write(address addr.LogicalPage, state addr.StateNum, buf []byte) error
}

// ResourceLock is the common base of every lock kind: a cached byte buffer
// over one fixed resource address, with a dirty flag and recycler-list
// membership.
type ResourceLock struct {
	_ list.Node // recycler-list linkage; never accessed directly by name

	mu      sync.Mutex
	storage Storage
	address addr.LogicalPage
	size    int64 // in pages
	pageSz  int64

	access AccessMode

	data  []byte
	dirty bool

	recycled bool
}

// newResourceLock constructs the shared base of every concrete lock kind.
// createNew mirrors ResourceLock's C++ "create_new" flag: a lock over a
// page range that was just appended and has no prior committed content, so
// a miss when first filling its buffer should zero-fill rather than error.
func newResourceLock(storage Storage, address addr.LogicalPage, sizePages int64, pageSz int64, access AccessMode, createNew bool) *ResourceLock {
	rl := &ResourceLock{
		storage: storage,
		address: address,
		size:    sizePages,
		pageSz:  pageSz,
		access:  access,
	}
	if createNew {
		rl.data = make([]byte, sizePages*pageSz)
	}
	return rl
}

// Address returns the resource's logical page address.
func (rl *ResourceLock) Address() addr.LogicalPage { return rl.address }

// Size returns the resource's size in bytes.
func (rl *ResourceLock) Size() int64 { return rl.size * rl.pageSz }

// IsRecycled reports whether the recycler has reclaimed this lock's buffer
// (it remains a valid, empty handle; the next Buffer call must refetch).
func (rl *ResourceLock) IsRecycled() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.recycled
}

func (rl *ResourceLock) setRecycled(recycled bool) {
	rl.mu.Lock()
	rl.recycled = recycled
	if recycled {
		rl.data = nil
	}
	rl.mu.Unlock()
}

// SetRecycled marks the lock as reclaimed by the recycler, dropping its
// cached buffer. Called by the recycler package when it evicts a clean
// lock from one of its priority buffers; the lock handle itself remains
// valid and will refetch its buffer on next use.
func (rl *ResourceLock) SetRecycled() {
	rl.setRecycled(true)
}

// SetDirty marks the lock's buffer as holding unflushed writes.
func (rl *ResourceLock) SetDirty() {
	rl.mu.Lock()
	rl.dirty = true
	rl.mu.Unlock()
}

// IsDirty reports whether the lock has unflushed writes.
func (rl *ResourceLock) IsDirty() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.dirty
}

// ResetDirtyFlag clears the dirty flag and reports whether it had been set.
func (rl *ResourceLock) ResetDirtyFlag() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	was := rl.dirty
	rl.dirty = false
	return was
}

// fetch fills rl.data from storage at the given state if it is not already
// cached (or was recycled since). flags forwards storage.FlagCreate for
// newly appended resources.
func (rl *ResourceLock) fetch(state addr.StateNum, flags storage.Flags) error {
	if rl.data != nil {
		return nil
	}
	buf := make([]byte, rl.size*rl.pageSz)
	if err := rl.storage.Read(rl.address, state, buf, flags); err != nil {
		return fmt.Errorf("lock: fetching resource at %d (state %d): %w", rl.address, state, err)
	}
	rl.data = buf
	return nil
}

// Release drops the lock's cached buffer if it is unmodified, allowing it
// to be refetched at a different (older or newer) state. A dirty lock
// cannot be released without losing writes, so Release is a no-op for one
// (per spec.md: "Release — drop cached bytes for a clean lock").
func (rl *ResourceLock) Release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.dirty {
		rl.data = nil
	}
}
