package storage

import (
	"errors"
	"fmt"
)

// Error kinds per spec.md §7. Input errors and I/O errors are ordinary,
// recoverable conditions a caller might branch on; InternalError marks a
// violated invariant (a bug) and is never returned for conditions a caller
// can legitimately trigger through normal use.

// ErrPageNotFound is returned by Read without FlagCreate when the requested
// page was never written at or before the requested state.
var ErrPageNotFound = errors.New("storage: page not found")

// ErrMisaligned is returned when an address or size is not a multiple of
// the prefix's page size.
var ErrMisaligned = errors.New("storage: address or size is not page-aligned")

// ErrStaleWrite is returned when a write targets a state older than the
// prefix's current head state (spec.md §3 invariant 2).
var ErrStaleWrite = errors.New("storage: write targets a state older than the head state")

// ErrReadOnly is returned when a write is attempted against a storage
// opened in read-only mode.
var ErrReadOnly = errors.New("storage: write attempted on a read-only storage")

// InternalError marks a violated invariant rather than an ordinary
// input/I/O failure: a bug, not a recoverable condition.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "storage: internal invariant violated: " + e.Reason }

func internalErrorf(format string, args ...any) error {
	return &InternalError{Reason: fmt.Sprintf(format, args...)}
}
