package lock

import (
	"sync"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/storage"
)

// DPLock holds a run of one or more page-aligned data pages in a specific
// state, per spec.md §5: a read-only DPLock is pinned to the state it was
// read at; a write DPLock tracks both the state its contents were read from
// (ReadState) and the state a flush will write to (WriteState). The two
// differ whenever the contents came from an earlier state than the one a
// flush writes: after CopyOnWrite, for a write lock created over an older
// mutation, or when the lock was dragged forward from a prior transaction
// without a copy-on-write (the NoFlush case).
type DPLock struct {
	*ResourceLock

	mu         sync.Mutex
	readState  addr.StateNum
	writeState addr.StateNum
}

// NewDPLock constructs a DPLock over a page-aligned run of sizePages pages
// starting at address.
func NewDPLock(storage Storage, address addr.LogicalPage, sizePages, pageSize int64, access AccessMode, readState, writeState addr.StateNum, createNew bool) *DPLock {
	return &DPLock{
		ResourceLock: newResourceLock(storage, address, sizePages, pageSize, access, createNew),
		readState:    readState,
		writeState:   writeState,
	}
}

// CopyOnWrite constructs a fresh DPLock sharing src's bytes but targeting a
// new write state, per ResourceLock's "copied-on-write lock from an
// existing lock" constructor. The copy owns an independent buffer so
// mutating it never affects src.
func (src *DPLock) CopyOnWrite(writeState addr.StateNum, access AccessMode) *DPLock {
	cp := &DPLock{
		ResourceLock: newResourceLock(src.storage, src.address, src.size, src.pageSz, access, false),
		readState:    src.StateNum(),
		writeState:   writeState,
	}
	if src.data != nil {
		cp.data = append([]byte(nil), src.data...)
	}
	return cp
}

// StateNum returns the lock's current effective state: the write state if
// one has been assigned (the lock has been or will be mutated under this
// transaction), otherwise the read state.
func (l *DPLock) StateNum() addr.StateNum {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeState != addr.NoState {
		return l.writeState
	}
	return l.readState
}

// Buffer returns the lock's bytes, fetching them from storage on first use.
func (l *DPLock) Buffer() ([]byte, error) {
	if err := l.fetch(l.readStateOrWrite(), storage.FlagNone); err != nil {
		return nil, err
	}
	return l.data, nil
}

func (l *DPLock) readStateOrWrite() addr.StateNum {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readState != addr.NoState {
		return l.readState
	}
	return l.writeState
}

// UpdateStateNum reassigns the lock to a new state number, per DP_Lock's
// "can safely be done only for unused locks (cached only)". This is the
// drag-forward optimization: a clean, unused lock from a recently committed
// state is relabeled as the current transaction's instead of discarding it
// and fetching a new one, at the cost of never being allowed to flush
// (noFlush) until explicitly told otherwise.
func (l *DPLock) UpdateStateNum(state addr.StateNum, noFlush bool) {
	l.mu.Lock()
	l.writeState = state
	l.mu.Unlock()
	if noFlush {
		l.ResourceLock.mu.Lock()
		l.ResourceLock.access |= NoFlush
		l.ResourceLock.mu.Unlock()
	}
}

// Merge updates the lock's write state before folding an atomic operation's
// staged writes into the active transaction, per DP_Lock::merge.
func (l *DPLock) Merge(finalState addr.StateNum) {
	l.mu.Lock()
	l.writeState = finalState
	l.mu.Unlock()
}

// Flush writes the lock's buffer back to storage at its write state if
// dirty, then clears the dirty flag. A read-only or NoFlush lock is never
// written.
func (l *DPLock) Flush() error {
	if l.access&Write == 0 || l.access&NoFlush != 0 {
		return nil
	}
	if !l.IsDirty() {
		return nil
	}
	if err := l.storage.Write(l.address, l.StateNum(), l.data); err != nil {
		return err
	}
	l.ResetDirtyFlag()
	return nil
}
