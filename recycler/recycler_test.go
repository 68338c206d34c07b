package recycler

import (
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

func newClean(s *storage.Storage, page addr.LogicalPage) *lock.DPLock {
	l := lock.NewDPLock(s, page, 1, 4096, lock.ReadOnly, addr.NoState, addr.NoState, true)
	return l
}

func TestUpdateTracksSizeAcrossPriorities(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 1 << 30})

	a := newClean(s, 1)
	b := newClean(s, 2)

	if err := r.Update(a.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(b.ResourceLock, Hot); err != nil {
		t.Fatal(err)
	}

	hot, cold := r.DetailedSize()
	if hot != 4096 || cold != 4096 {
		t.Fatalf("unexpected sizes: hot=%d cold=%d", hot, cold)
	}
	if r.Size() != 8192 {
		t.Fatalf("unexpected total size: %d", r.Size())
	}
}

func TestUpdateMovesBetweenPriorities(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 1 << 30})

	a := newClean(s, 1)
	if err := r.Update(a.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(a.ResourceLock, Hot); err != nil {
		t.Fatal(err)
	}

	hot, cold := r.DetailedSize()
	if hot != 4096 || cold != 0 {
		t.Fatalf("expected lock moved entirely to hot buffer, got hot=%d cold=%d", hot, cold)
	}
}

func TestEvictionPrefersColdBufferFirst(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 8192})

	hotLock := newClean(s, 1)
	coldLock := newClean(s, 2)

	if err := r.Update(hotLock.ResourceLock, Hot); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(coldLock.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}

	// A third clean lock pushes total size to 12288 bytes against an 8192
	// byte capacity; the cold buffer's only entry should be evicted first,
	// leaving the hot entry untouched.
	third := newClean(s, 3)
	if err := r.Update(third.ResourceLock, Hot); err != nil {
		t.Fatal(err)
	}

	if !coldLock.ResourceLock.IsRecycled() {
		t.Fatal("expected cold-buffer lock to be evicted before the hot one")
	}
	if hotLock.ResourceLock.IsRecycled() {
		t.Fatal("hot-buffer lock should not have been evicted while cold had room to give")
	}
}

func TestDirtyLocksAreNeverEvicted(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 4096})

	dirty := newClean(s, 1)
	dirty.SetDirty()
	if err := r.Update(dirty.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}

	incoming := newClean(s, 2)
	if err := r.Update(incoming.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}

	if dirty.ResourceLock.IsRecycled() {
		t.Fatal("a dirty lock must never be silently evicted")
	}
}

func TestOverflowInvokesFlushDirtyAndOptionallyErrors(t *testing.T) {
	s := newTestStorage(t)

	var requested int64
	dirty := newClean(s, 1)
	dirty.SetDirty()

	r := New(Options{
		Capacity:        4096,
		ThrowOnOverflow: true,
		FlushDirty: func(limit int64) {
			requested = limit
		},
	})
	if err := r.Update(dirty.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}

	incoming := newClean(s, 2)
	err := r.Update(incoming.ResourceLock, Cold)
	if err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if requested <= 0 {
		t.Fatal("expected flushDirty callback to be invoked with a positive limit")
	}
}

func TestForEachVisitsColdBeforeHot(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 1 << 30})

	hotLock := newClean(s, 1)
	coldLock := newClean(s, 2)
	if err := r.Update(hotLock.ResourceLock, Hot); err != nil {
		t.Fatal(err)
	}
	if err := r.Update(coldLock.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}

	var order []addr.LogicalPage
	r.ForEach(func(res *lock.ResourceLock) {
		order = append(order, res.Address())
	})

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected cold (2) before hot (1), got %v", order)
	}
}

func TestReleaseRemovesFromRecycler(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 1 << 30})

	a := newClean(s, 1)
	if err := r.Update(a.ResourceLock, Cold); err != nil {
		t.Fatal(err)
	}
	r.Release(a.ResourceLock)

	if r.Size() != 0 {
		t.Fatalf("expected recycler empty after Release, got size %d", r.Size())
	}
}

func TestClearDropsAllBuffers(t *testing.T) {
	s := newTestStorage(t)
	r := New(Options{Capacity: 1 << 30})

	for i := addr.LogicalPage(1); i <= 3; i++ {
		l := newClean(s, i)
		if err := r.Update(l.ResourceLock, Cold); err != nil {
			t.Fatal(err)
		}
	}
	r.Clear()
	if r.Size() != 0 {
		t.Fatalf("expected size 0 after Clear, got %d", r.Size())
	}

	var visited int
	r.ForEach(func(*lock.ResourceLock) { visited++ })
	if visited != 0 {
		t.Fatalf("expected no entries after Clear, visited %d", visited)
	}
}
