package prefixcache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/lock"
	"github.com/dbzero-io/corestore/storage"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefix.db")
	s, err := storage.Create(path, storage.Options{
		PageSize:  4096,
		BlockSize: 8192,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndFindPage(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	created := c.CreatePage(5, addr.NoState, 1, lock.Write, true)
	if created == nil {
		t.Fatal("CreatePage returned nil")
	}

	found, resolved, ok := c.FindPage(5, 1)
	if !ok || found != created || resolved != 1 {
		t.Fatalf("FindPage did not return the created lock: ok=%v resolved=%d", ok, resolved)
	}

	if _, _, ok := c.FindPage(6, 1); ok {
		t.Fatal("FindPage found an entry for an untouched page")
	}
}

func TestFindPageResolvesFloorState(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(1, addr.NoState, 3, lock.Write, true)

	_, resolved, ok := c.FindPage(1, 10)
	if !ok || resolved != 3 {
		t.Fatalf("expected floor resolution to state 3, got resolved=%d ok=%v", resolved, ok)
	}
	if _, _, ok := c.FindPage(1, 2); ok {
		t.Fatal("querying before the page's first state must not find it")
	}
}

func TestMarkAsMissingHidesEntry(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(2, addr.NoState, 1, lock.Write, true)
	c.MarkAsMissing(2, 2)

	if _, _, ok := c.FindPage(2, 2); ok {
		t.Fatal("a page marked missing at state 2 must not be found at state 2")
	}
	// The earlier, un-superseded state is still visible.
	if _, _, ok := c.FindPage(2, 1); !ok {
		t.Fatal("marking state 2 as missing should not hide the entry at state 1")
	}
}

func TestMarkAsMissingNoopWhenNothingCached(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.MarkAsMissing(99, 1)
	if c.dpMap.exists(99, 1) {
		t.Fatal("marking a page with no prior entry must not insert anything")
	}
}

func TestFindOrCreatePageReusesExactMatch(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	created := c.CreatePage(7, addr.NoState, 4, lock.Write, true)
	reused := c.FindOrCreatePage(7, 4, lock.ReadOnly)
	if reused != created {
		t.Fatal("FindOrCreatePage should reuse an exact (page, state) match")
	}

	fresh := c.FindOrCreatePage(7, 9, lock.ReadOnly)
	if fresh == created {
		t.Fatal("FindOrCreatePage should create a new lock when no exact state match exists")
	}
}

func TestCreateAndFindRange(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	created := c.CreateRange(10, 13, addr.NoState, 1, lock.Write, nil, true)
	found, resolved, err := c.FindRange(10, 13, 1)
	if err != nil {
		t.Fatal(err)
	}
	if found != created || resolved != 1 {
		t.Fatalf("FindRange did not return the created wide lock: resolved=%d", resolved)
	}

	if _, _, err := c.FindRange(10, 13, 0); err != nil {
		t.Fatal(err)
	}
}

func TestFindRangeMissingReturnsNilNotError(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	wl, _, err := c.FindRange(100, 103, 1)
	if err != nil {
		t.Fatal(err)
	}
	if wl != nil {
		t.Fatal("expected no wide lock to be found")
	}
}

func TestBoundaryRangeComposesFromParentPages(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(20, addr.NoState, 1, lock.Write, true)
	c.CreatePage(21, addr.NoState, 1, lock.Write, true)

	bl, resolved, err := c.FindBoundaryRange(20, 4000, 192, 1, lock.Write)
	if err != nil {
		t.Fatal(err)
	}
	if bl == nil || resolved != 1 {
		t.Fatalf("expected a composed boundary lock at state 1, got %v resolved=%d", bl, resolved)
	}

	buf, err := bl.Buffer()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 8192 {
		t.Fatalf("expected the two full underlying pages concatenated (8192 bytes), got %d", len(buf))
	}
}

func TestBoundaryRangeMissingParentReturnsNilNotError(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(30, addr.NoState, 1, lock.Write, true)
	// page 31 was never created, so the boundary can't be composed.

	bl, _, err := c.FindBoundaryRange(30, 4000, 192, 1, lock.Write)
	if err != nil {
		t.Fatal(err)
	}
	if bl != nil {
		t.Fatal("expected no boundary lock when one parent page is missing")
	}
}

func TestRollbackDiscardsVolatileLocks(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(40, addr.NoState, 5, lock.Write|lock.NoFlush, true)
	if _, _, ok := c.FindPage(40, 5); !ok {
		t.Fatal("volatile lock should be visible before rollback")
	}

	c.Rollback(5)
	if _, _, ok := c.FindPage(40, 5); ok {
		t.Fatal("rollback should have removed the volatile lock")
	}
}

func TestMergeRekeysVolatileLockToFinalState(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(41, addr.NoState, 5, lock.Write|lock.NoFlush, true)
	c.Merge(5, 9)

	if _, _, ok := c.FindPage(41, 5); ok {
		t.Fatal("merge should remove the volatile entry under its temporary state")
	}
	if _, resolved, ok := c.FindPage(41, 9); !ok || resolved != 9 {
		t.Fatalf("merge should re-key the lock to the final state, got ok=%v resolved=%d", ok, resolved)
	}
}

func TestFlushWritesDirtyLocksAcrossAllMaps(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	l := c.CreatePage(50, addr.NoState, 1, lock.Write, true)
	buf, err := l.Buffer()
	if err != nil {
		t.Fatal(err)
	}
	copy(buf, bytes.Repeat([]byte{0x5}, 4096))
	l.SetDirty()

	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 4096)
	if err := s.Read(50, 1, out, storage.FlagNone); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, bytes.Repeat([]byte{0x5}, 4096)) {
		t.Fatal("Flush did not persist the dirty page lock")
	}
}

func TestClearResetsAllMaps(t *testing.T) {
	s := newTestStorage(t)
	c := New(s, 4096, nil, zerolog.Nop())

	c.CreatePage(60, addr.NoState, 1, lock.Write, true)
	c.CreateRange(61, 64, addr.NoState, 1, lock.Write, nil, true)
	if c.Empty() {
		t.Fatal("expected a non-empty cache before Clear")
	}

	c.Clear()
	if !c.Empty() {
		t.Fatal("expected an empty cache after Clear")
	}
}
