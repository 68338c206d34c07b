// Package prefix implements the Prefix API of spec.md §6 over prefixcache's
// lock cache and storage's MVCC page store: MapRange dispatches a byte range
// to a single-page, wide, or boundary lock (promoting via copy-on-write when
// the caller needs to write at a state the cache only holds read-only), and
// Commit/Refresh/BeginAtomic/EndAtomic/CancelAtomic drive the transaction
// state number forward, grounded on
// original_source/src/dbzero/core/memory/PrefixImpl.hpp.
package prefix

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/lock"
	"github.com/dbzero-io/corestore/prefixcache"
	"github.com/dbzero-io/corestore/recycler"
	"github.com/dbzero-io/corestore/storage"
)

// AccessOptions mirrors PrefixImpl's FlagSet<AccessOptions>: what a MapRange
// caller intends to do with the range it is asking for.
type AccessOptions uint8

const (
	// Read requests a readable buffer.
	Read AccessOptions = 1 << iota
	// Write requests a mutable buffer; the caller must Commit (or let an
	// enclosing atomic operation merge) before the bytes are durable.
	Write
	// Create requests zero-filled content for a range with no prior
	// committed state, rather than an error. Must be combined with Write.
	Create
)

// MemLock is the handle MapRange returns: a byte buffer plus the underlying
// resource lock keeping it pinned in the cache, per PrefixImpl::mapRange's
// `{ lock->getBuffer(address), lock }` pair.
type MemLock struct {
	Buffer []byte
	lock   flushable
}

// Flush persists the lock's buffer if it was opened for write and has
// unflushed mutations. A read-only MemLock's Flush is a no-op.
func (m MemLock) Flush() error {
	if m.lock == nil {
		return nil
	}
	return m.lock.Flush()
}

// SetDirty marks the range as holding unflushed writes, so a later Flush (or
// Commit) persists it. Callers that wrote into Buffer must call this
// themselves, per ResourceLock's explicit dirty-tracking contract.
func (m MemLock) SetDirty() {
	if m.lock != nil {
		m.lock.SetDirty()
	}
}

type flushable interface {
	Flush() error
	SetDirty()
}

// Prefix is one open, versioned page store: a storage.Storage plus the
// prefixcache.Cache of locks over it, per PrefixImpl.
type Prefix struct {
	name     string
	storage  *storage.Storage
	pageSize int64
	cache    *prefixcache.Cache

	mu        sync.Mutex // guards headState and atomic below; serializes Commit
	headState addr.StateNum
	atomic    bool
}

// Open wraps an already-opened storage.Storage as a named Prefix, building a
// fresh lock cache over it backed by rec (which may be nil to disable
// recycling, as prefixcache.New allows). log is passed straight through to
// the lock cache; the zero zerolog.Logger discards everything.
func Open(name string, s *storage.Storage, rec *recycler.Recycler, log zerolog.Logger) *Prefix {
	pageSize := s.GetPageSize()
	head := s.GetMaxStateNum()
	if s.GetAccessType() == storage.ReadWrite {
		// A new read-write session starts its own transaction one state
		// past whatever was last committed, per PrefixImpl's constructor.
		head++
	}
	return &Prefix{
		name:      name,
		storage:   s,
		pageSize:  pageSize,
		cache:     prefixcache.New(s, pageSize, rec, log),
		headState: head,
	}
}

// Name returns the prefix's name.
func (p *Prefix) Name() string { return p.name }

// GetPageSize returns the prefix's fixed page size in bytes.
func (p *Prefix) GetPageSize() int64 { return p.pageSize }

// AccessType reports whether the underlying storage was opened ReadWrite
// or ReadOnly, so a collaborator such as fixture.Workspace can decide
// whether a prefix is eligible for auto-commit or only for refresh.
func (p *Prefix) AccessType() storage.Access { return p.storage.GetAccessType() }

// StorageStateNum reports the underlying storage's own head state: the
// highest state written through it or, for a read-only prefix, drained by
// its last Refresh.
func (p *Prefix) StorageStateNum() addr.StateNum { return p.storage.GetMaxStateNum() }

// GetStateNum returns the prefix's current head (transaction) state.
func (p *Prefix) GetStateNum() addr.StateNum {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headState
}

func (p *Prefix) isPageAligned(v int64) bool {
	return v&(p.pageSize-1) == 0
}

// MapRange returns a MemLock over [address, address+size) at the prefix's
// current head state, per PrefixImpl::mapRange. A single-page, boundary, or
// wide-range lock is chosen based on how many pages the range spans and
// whether it starts page-aligned.
func (p *Prefix) MapRange(address int64, size int64, opts AccessOptions) (MemLock, error) {
	p.mu.Lock()
	state := p.headState
	if p.atomic {
		opts |= noFlushBit
	}
	p.mu.Unlock()
	return p.mapRangeAt(address, size, state, opts)
}

// noFlushBit is an internal AccessOptions bit (outside the exported Read/
// Write/Create range) set automatically while an atomic operation is open,
// mirroring PrefixImpl::mapRange's "for atomic operations use no_flush flag
// to allow reverting changes".
const noFlushBit AccessOptions = 1 << 7

func (p *Prefix) toLockAccess(opts AccessOptions) lock.AccessMode {
	var m lock.AccessMode
	if opts&Read != 0 || opts&Write == 0 {
		m |= lock.ReadOnly
	}
	if opts&Write != 0 {
		m |= lock.Write
	}
	if opts&noFlushBit != 0 {
		m |= lock.NoFlush
	}
	return m
}

func (p *Prefix) mapRangeAt(address, size int64, state addr.StateNum, opts AccessOptions) (MemLock, error) {
	if state == addr.NoState {
		return MemLock{}, fmt.Errorf("prefix: state number must be assigned before mapping a range")
	}
	if opts&Create != 0 && opts&Write == 0 {
		return MemLock{}, fmt.Errorf("prefix: create access requires write access")
	}

	firstPage := addr.LogicalPage(address >> pageShift(p.pageSize))
	endPage := addr.LogicalPage(((address+size-1)>>pageShift(p.pageSize)) + 1)

	var buf []byte
	var fl flushable
	var err error

	switch {
	case endPage == firstPage+1:
		mode := opts
		if !p.isPageAligned(address) || !p.isPageAligned(size) {
			// Out-of-range bytes within the page must still be fetched, so
			// create-without-read would silently drop them; fall back to a
			// plain read/write page instead, per adjustAccessMode.
			mode &^= Create
			mode |= Read
		}
		var l *lock.DPLock
		l, err = p.mapPage(firstPage, state, mode)
		if err == nil {
			buf, err = l.Buffer()
			fl = l
		}
	default:
		offset := address & (p.pageSize - 1)
		if offset != 0 || !p.isPageAligned(size) {
			var l *lock.BoundaryLock
			l, err = p.mapBoundaryRange(firstPage, offset, size, state, opts)
			if err == nil {
				buf, err = l.Buffer()
				fl = l
			}
		} else {
			var l *lock.WideLock
			l, err = p.mapWideRange(firstPage, endPage, state, opts)
			if err == nil {
				buf, err = l.Buffer()
				fl = l
			}
		}
	}
	if err != nil {
		return MemLock{}, err
	}

	offsetInPage := address - int64(firstPage)<<pageShift(p.pageSize)
	if offsetInPage < 0 || offsetInPage+size > int64(len(buf)) {
		return MemLock{}, fmt.Errorf("prefix: range [%d,%d) falls outside its backing lock's buffer", address, address+size)
	}
	return MemLock{Buffer: buf[offsetInPage : offsetInPage+size], lock: fl}, nil
}

func pageShift(pageSize int64) uint {
	shift := uint(0)
	for 1<<shift < pageSize {
		shift++
	}
	return shift
}

// mapPage resolves or creates the single-page lock covering page at state,
// per PrefixImpl::mapPage.
func (p *Prefix) mapPage(page addr.LogicalPage, state addr.StateNum, opts AccessOptions) (*lock.DPLock, error) {
	access := p.toLockAccess(opts)
	l, resolved, found := p.cache.FindPage(page, state)

	switch {
	case opts&Write == 0:
		// read-only access
		if !found {
			mutation, ok := p.storage.FindMutation(page, state)
			if !ok {
				return nil, fmt.Errorf("prefix: page %d has no committed content at or before state %d", page, state)
			}
			l = p.cache.CreatePage(page, mutation, addr.NoState, access, false)
		}
		return l, nil
	case opts&Create != 0:
		// create/write-only access
		if !found || resolved != state {
			l = p.cache.CreatePage(page, addr.NoState, state, access, true)
		}
		return l, nil
	default:
		// read/write access
		if found {
			if resolved != state {
				l = l.CopyOnWrite(state, access)
				p.cache.RegisterCopy(page, state, l, access)
			}
			return l, nil
		}
		mutation, ok := p.storage.TryFindMutation(page, state)
		if ok {
			return p.cache.CreatePage(page, mutation, state, access, false), nil
		}
		return p.cache.CreatePage(page, addr.NoState, state, access, true), nil
	}
}

// mapWideRange resolves or creates the wide lock spanning [first, end) at
// state, per PrefixImpl::mapWideRange. prefixcache.Cache.FindRange already
// folds in the one-retry conflict resolution spec.md describes, so unlike
// the original this does not need its own conflicts-counter plumbing.
func (p *Prefix) mapWideRange(first, end addr.LogicalPage, state addr.StateNum, opts AccessOptions) (*lock.WideLock, error) {
	access := p.toLockAccess(opts)
	l, resolved, err := p.cache.FindRange(first, end, state)
	if err != nil {
		return nil, err
	}

	switch {
	case opts&Write == 0:
		if l == nil {
			mutation, ok := p.findUniqueMutation(first, end, state)
			if !ok {
				return nil, fmt.Errorf("prefix: range [%d,%d) has no consistent committed mutation at or before state %d", first, end, state)
			}
			l = p.cache.CreateRange(first, end, mutation, addr.NoState, access, nil, false)
		}
		return l, nil
	case opts&Create != 0:
		if l == nil || resolved != state {
			l = p.cache.CreateRange(first, end, addr.NoState, state, access, nil, true)
		}
		return l, nil
	default:
		if l != nil {
			if resolved != state {
				cp := l.CopyOnWrite(state, access, l.Residual())
				p.cache.RegisterCopyRange(first, end, state, cp, access)
				l = cp
			}
			return l, nil
		}
		mutation, _ := p.findUniqueMutation(first, end, state)
		return p.cache.CreateRange(first, end, mutation, state, access, nil, false), nil
	}
}

// findUniqueMutation looks for a single state that covers every page in
// [first, end), per db0::findUniqueMutation: a wide lock may only be backed
// by one self-consistent state across its whole span.
func (p *Prefix) findUniqueMutation(first, end addr.LogicalPage, state addr.StateNum) (addr.StateNum, bool) {
	resolved, ok := p.storage.FindMutation(first, state)
	if !ok {
		return 0, false
	}
	for page := first + 1; page < end; page++ {
		pageState, ok := p.storage.FindMutation(page, state)
		if !ok || pageState != resolved {
			return 0, false
		}
	}
	return resolved, true
}

// mapBoundaryRange resolves or creates the boundary lock for a range that
// straddles firstPage/firstPage+1, per PrefixImpl::mapBoundaryRange. Create
// access is never valid for a boundary range (the bytes of both pages
// outside the range must be kept), so it is stripped on entry and only
// read and read/write are handled here.
func (p *Prefix) mapBoundaryRange(firstPage addr.LogicalPage, offsetInFirstPage, size int64, state addr.StateNum, opts AccessOptions) (*lock.BoundaryLock, error) {
	opts &^= Create
	readAccess := p.toLockAccess((opts &^ Write) | Read)

	bl, resolved, err := p.cache.FindBoundaryRange(firstPage, offsetInFirstPage, size, state, readAccess)
	if err != nil {
		return nil, err
	}
	if bl == nil {
		if _, err := p.mapPage(firstPage, state, Read); err != nil {
			return nil, err
		}
		if _, err := p.mapPage(firstPage+1, state, Read); err != nil {
			return nil, err
		}
		bl, resolved, err = p.cache.FindBoundaryRange(firstPage, offsetInFirstPage, size, state, readAccess)
		if err != nil {
			return nil, err
		}
		if bl == nil {
			return nil, fmt.Errorf("prefix: unable to compose boundary range at pages %d/%d", firstPage, firstPage+1)
		}
	}

	if opts&Write != 0 && resolved != state {
		// Copy-on-write both halves at the requested state, then recompose.
		access := p.toLockAccess(opts)
		if _, err := p.mapPage(firstPage, state, opts); err != nil {
			return nil, err
		}
		if _, err := p.mapPage(firstPage+1, state, opts); err != nil {
			return nil, err
		}
		bl = p.cache.CreateBoundaryRange(firstPage, offsetInFirstPage, size, state, access)
	}
	return bl, nil
}

// Commit flushes every dirty lock and the underlying storage, then advances
// the head state by one, per PrefixImpl::commit. The head state advances on
// every successful call, whether or not anything was written.
func (p *Prefix) Commit() (addr.StateNum, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.cache.Flush(); err != nil {
		return p.headState, err
	}
	if err := p.storage.Flush(); err != nil {
		return p.headState, err
	}
	p.headState++
	return p.headState, nil
}

// Refresh drains newly observed commits from storage (for a read-only
// prefix shared across processes), marking every touched page as missing in
// the lock cache so the next access refetches it, then advances the head
// state to storage's new maximum, per PrefixImpl::refresh.
func (p *Prefix) Refresh() (addr.StateNum, error) {
	p.storage.OnPageUpdated(func(page addr.LogicalPage, state addr.StateNum) {
		p.cache.MarkAsMissing(page, state)
	})
	if err := p.storage.Refresh(); err != nil {
		return p.GetStateNum(), err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if max := p.storage.GetMaxStateNum(); max > p.headState {
		p.headState = max
	}
	return p.headState, nil
}

// BeginAtomic opens an atomic operation: every subsequent MapRange call is
// staged under a temporary, isolated state number with NoFlush set, per
// PrefixImpl::beginAtomic. Boundary locks are flushed first so the atomic
// operation starts from a DP-consistent state, since a boundary lock's
// Flush mutates its underlying DP locks.
func (p *Prefix) BeginAtomic() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.atomic {
		return fmt.Errorf("prefix: atomic operation already in progress")
	}
	if err := p.cache.FlushBoundary(); err != nil {
		return err
	}
	p.headState++
	p.atomic = true
	return nil
}

// EndAtomic folds every lock staged under the atomic operation's temporary
// state into the enclosing transaction, per PrefixImpl::endAtomic.
func (p *Prefix) EndAtomic() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.atomic {
		return fmt.Errorf("prefix: no atomic operation in progress")
	}
	p.cache.Merge(p.headState, p.headState-1)
	p.headState--
	p.atomic = false
	return nil
}

// CancelAtomic discards every lock staged under the atomic operation's
// temporary state, per PrefixImpl::cancelAtomic.
func (p *Prefix) CancelAtomic() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.atomic {
		return
	}
	p.cache.Rollback(p.headState)
	p.headState--
	p.atomic = false
}

// Close releases the prefix's cache and closes its storage, per
// PrefixImpl::close.
func (p *Prefix) Close() error {
	p.cache.Clear()
	return p.storage.Close()
}

// GetSnapshot returns a read-only Snapshot pinned to stateNum (or the
// current head state if stateNum is addr.NoState), per
// PrefixImpl::getSnapshot.
func (p *Prefix) GetSnapshot(stateNum addr.StateNum) *Snapshot {
	if stateNum == addr.NoState {
		stateNum = p.GetStateNum()
	}
	return &Snapshot{p: p, state: stateNum}
}

// Snapshot is a fixed-state read-only view over a Prefix's cache, per
// PrefixViewImpl: MapRange always resolves against the snapshot's pinned
// state rather than the prefix's (possibly advancing) head state.
type Snapshot struct {
	p     *Prefix
	state addr.StateNum
}

// MapRange returns a MemLock over [address, address+size) as of the
// snapshot's pinned state. Write/Create access is rejected: a snapshot is
// read-only by construction.
func (v *Snapshot) MapRange(address, size int64) (MemLock, error) {
	return v.p.mapRangeAt(address, size, v.state, Read)
}

// GetStateNum returns the snapshot's pinned state number.
func (v *Snapshot) GetStateNum() addr.StateNum { return v.state }
