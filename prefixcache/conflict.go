package prefixcache

import (
	"fmt"

	"github.com/dbzero-io/corestore/addr"
)

// ConflictError is raised when a wide-range lookup detects a second
// page-sized/wide-range state conflict on the same call, after already
// performing the one conversion spec.md allows: "at most one such
// conversion per call; a second iteration indicates a bug."
type ConflictError struct {
	First, End addr.LogicalPage
	State      addr.StateNum
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("prefixcache: unresolved conflict over pages [%d,%d) at state %d after one conversion attempt",
		e.First, e.End, e.State)
}
