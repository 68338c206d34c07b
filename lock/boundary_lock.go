package lock

import "github.com/dbzero-io/corestore/addr"

// BoundaryLock covers a range that straddles a page boundary, supported by
// the two neighboring DPLocks it spans, per spec.md §5: "BoundaryLock is
// supported by the 2 underlying DP_Locks." Flushing a BoundaryLock flushes
// both halves; it holds no storage-backed buffer of its own.
type BoundaryLock struct {
	*ResourceLock

	lhs     *DPLock
	lhsSize int64
	rhs     *DPLock
	rhsSize int64
}

// NewBoundaryLock constructs a BoundaryLock spanning lhs and rhs, each
// contributing lhsSize/rhsSize bytes to the combined range starting at
// address.
func NewBoundaryLock(storage Storage, address addr.LogicalPage, lhs *DPLock, lhsSize int64, rhs *DPLock, rhsSize int64, access AccessMode, createNew bool) *BoundaryLock {
	return &BoundaryLock{
		ResourceLock: newResourceLock(storage, address, 1, lhsSize+rhsSize, access, createNew),
		lhs:          lhs,
		lhsSize:      lhsSize,
		rhs:          rhs,
		rhsSize:      rhsSize,
	}
}

// Left returns the left-hand DPLock of the boundary pair.
func (l *BoundaryLock) Left() *DPLock { return l.lhs }

// Right returns the right-hand DPLock of the boundary pair.
func (l *BoundaryLock) Right() *DPLock { return l.rhs }

// Buffer concatenates the left and right locks' bytes into one contiguous
// view, fetching each on first use.
func (l *BoundaryLock) Buffer() ([]byte, error) {
	lb, err := l.lhs.Buffer()
	if err != nil {
		return nil, err
	}
	rb, err := l.rhs.Buffer()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(lb)+len(rb))
	out = append(out, lb...)
	out = append(out, rb...)
	return out, nil
}

// Flush flushes both halves of the boundary, per BoundaryLock::flush (which
// flushes the two underlying DP_Locks rather than a buffer of its own).
func (l *BoundaryLock) Flush() error {
	if err := l.lhs.Flush(); err != nil {
		return err
	}
	return l.rhs.Flush()
}
