package lock

import "github.com/dbzero-io/corestore/addr"

// WideLock is a DPLock plus the unaligned "residual" tail that falls past
// the last full page of a write whose size is not a multiple of the page
// size, per spec.md §5: "WideLock consists of the wide (unaligned) range
// plus the residual lock; the starting address is always page-aligned."
// The residual is itself a DPLock over the one page the wide range spills
// into, flushed separately so the wide range's full pages and the
// residual's partial page can be written independently.
type WideLock struct {
	*DPLock
	residual *DPLock
}

// NewWideLock constructs a WideLock over a page-aligned run plus a residual
// DPLock covering the partial trailing page.
func NewWideLock(storage Storage, address addr.LogicalPage, sizePages, pageSize int64, access AccessMode, readState, writeState addr.StateNum, residual *DPLock, createNew bool) *WideLock {
	return &WideLock{
		DPLock:   NewDPLock(storage, address, sizePages, pageSize, access, readState, writeState, createNew),
		residual: residual,
	}
}

// CopyOnWrite constructs a fresh WideLock sharing bytes with src but
// targeting a new write state, with residual (used as given, not copied)
// as its residual lock.
func (src *WideLock) CopyOnWrite(writeState addr.StateNum, access AccessMode, residual *DPLock) *WideLock {
	return &WideLock{
		DPLock:   src.DPLock.CopyOnWrite(writeState, access),
		residual: residual,
	}
}

// Residual returns the lock's residual (partial trailing page) DPLock.
func (l *WideLock) Residual() *DPLock { return l.residual }

// Flush flushes both the wide range's full pages and the residual.
func (l *WideLock) Flush() error {
	if err := l.DPLock.Flush(); err != nil {
		return err
	}
	return l.FlushResidual()
}

// FlushResidual flushes only the residual partial page, per WideLock's
// "Flush the residual part only of the wide lock" method.
func (l *WideLock) FlushResidual() error {
	if l.residual == nil {
		return nil
	}
	return l.residual.Flush()
}
