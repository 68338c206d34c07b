package sparseindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dbzero-io/corestore/addr"
)

func TestLookupReturnsGreatestStateLessOrEqual(t *testing.T) {
	idx := New()
	idx.Insert(3, 1, 100, addr.Fixed)
	idx.Insert(3, 5, 200, addr.Fixed)
	idx.Insert(3, 9, 300, addr.Fixed)

	tests := []struct {
		query addr.StateNum
		want  Entry
		found bool
	}{
		{query: 0, found: false},
		{query: 1, want: Entry{Page: 3, State: 1, Physical: 100, Type: addr.Fixed}, found: true},
		{query: 4, want: Entry{Page: 3, State: 1, Physical: 100, Type: addr.Fixed}, found: true},
		{query: 5, want: Entry{Page: 3, State: 5, Physical: 200, Type: addr.Fixed}, found: true},
		{query: 8, want: Entry{Page: 3, State: 5, Physical: 200, Type: addr.Fixed}, found: true},
		{query: 9, want: Entry{Page: 3, State: 9, Physical: 300, Type: addr.Fixed}, found: true},
		{query: 100, want: Entry{Page: 3, State: 9, Physical: 300, Type: addr.Fixed}, found: true},
	}

	for _, tc := range tests {
		entry, found := idx.Lookup(3, tc.query)
		if found != tc.found {
			t.Fatalf("query %d: found=%v want=%v", tc.query, found, tc.found)
		}
		if found {
			if diff := cmp.Diff(tc.want, entry); diff != "" {
				t.Fatalf("query %d: entry mismatch (-want +got):\n%s", tc.query, diff)
			}
		}
	}
}

func TestLookupDoesNotLeakAcrossPages(t *testing.T) {
	idx := New()
	idx.Insert(3, 1, 100, addr.Fixed)

	if _, found := idx.Lookup(4, 100); found {
		t.Fatal("lookup must not return an entry for an unrelated page")
	}
}

func TestExactEntryRequiresSameState(t *testing.T) {
	idx := New()
	idx.Insert(3, 5, 200, addr.Fixed)

	if _, found := idx.ExactEntry(3, 4); found {
		t.Fatal("ExactEntry must not fall back to an older state")
	}
	e, found := idx.ExactEntry(3, 5)
	want := Entry{Page: 3, State: 5, Physical: 200, Type: addr.Fixed}
	if !found {
		t.Fatalf("ExactEntry(3,5) = %+v, %v", e, found)
	}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Fatalf("ExactEntry(3,5) mismatch (-want +got):\n%s", diff)
	}
}

func TestTakePendingDrainsOnce(t *testing.T) {
	idx := New()
	idx.Insert(1, 1, 10, addr.Fixed)
	idx.Insert(2, 1, 11, addr.Fixed)

	pending := idx.TakePending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending pages, got %d", len(pending))
	}
	if more := idx.TakePending(); len(more) != 0 {
		t.Fatalf("expected TakePending to drain, got %d leftover", len(more))
	}
}

func TestDiffIndexFoldsAndReconstructs(t *testing.T) {
	di := NewDiffIndex()

	if _, folded := di.Append(7, 1, 1000); folded {
		t.Fatal("first write to a page must start a new run")
	}
	if _, folded := di.Append(7, 2, 1001); !folded {
		t.Fatal("second write within capacity should fold into the existing run")
	}
	if _, folded := di.Append(7, 3, 1002); !folded {
		t.Fatal("third write within capacity should fold into the existing run")
	}

	for _, tc := range []struct {
		state addr.StateNum
		want  addr.PhysicalPage
	}{
		{1, 1000},
		{2, 1001},
		{3, 1002},
		{10, 1002},
	} {
		phys, _, found := di.Lookup(7, tc.state)
		if !found || phys != tc.want {
			t.Fatalf("lookup(7,%d) = %d,%v want %d", tc.state, phys, found, tc.want)
		}
	}
}
