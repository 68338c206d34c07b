package prefix

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/storage"
)

func newTestPrefix(t *testing.T) *Prefix {
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
	return Open("t", s, nil, zerolog.Nop())
}

func TestMapRangeCreateWithinOnePageStartsAtAssignedState(t *testing.T) {
	p := newTestPrefix(t)

	ml, err := p.MapRange(0, 4096, Write|Create)
	if err != nil {
		t.Fatal(err)
	}
	copy(ml.Buffer, bytes.Repeat([]byte{0xAB}, 4096))
	// Flush before SetDirty is a no-op: nothing was marked for persistence.
	if err := ml.Flush(); err != nil {
		t.Fatal(err)
	}

	state := p.GetStateNum()
	if state == addr.NoState {
		t.Fatal("a freshly opened read-write prefix must start with an assigned state")
	}
}

func TestMapRangeAndCommitPersistsBytes(t *testing.T) {
	p := newTestPrefix(t)

	ml, err := p.MapRange(0, 4096, Write|Create)
	if err != nil {
		t.Fatal(err)
	}
	copy(ml.Buffer, bytes.Repeat([]byte{0x7}, 4096))
	ml.SetDirty()

	before := p.GetStateNum()
	after, err := p.Commit()
	if err != nil {
		t.Fatal(err)
	}
	if after != before+1 {
		t.Fatalf("expected Commit to advance the state number from %d to %d, got %d", before, before+1, after)
	}

	ml2, err := p.MapRange(0, 4096, Read)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ml2.Buffer, bytes.Repeat([]byte{0x7}, 4096)) {
		t.Fatal("committed bytes were not visible on re-read")
	}
}

func TestMapRangeRejectsUnassignedState(t *testing.T) {
	p := newTestPrefix(t)
	if _, err := p.mapRangeAt(0, 4096, addr.NoState, Read); err == nil {
		t.Fatal("expected an error mapping a range at the unassigned state")
	}
}

func TestMapRangeRejectsCreateWithoutWrite(t *testing.T) {
	p := newTestPrefix(t)
	if _, err := p.MapRange(0, 4096, Read|Create); err == nil {
		t.Fatal("expected an error combining Create without Write")
	}
}

func TestMapRangeSpanningTwoPagesUsesWideLock(t *testing.T) {
	p := newTestPrefix(t)

	ml, err := p.MapRange(0, 8192, Write|Create)
	if err != nil {
		t.Fatal(err)
	}
	if len(ml.Buffer) != 8192 {
		t.Fatalf("expected an 8192-byte wide buffer, got %d", len(ml.Buffer))
	}
}

func TestMapRangeUnalignedSpanUsesBoundaryLock(t *testing.T) {
	p := newTestPrefix(t)

	// Write the two parent pages individually so they populate the
	// single-page lock cache (a wide-range write would populate only the
	// wide-lock map, which the boundary composer does not consult).
	if _, err := p.MapRange(0, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if _, err := p.MapRange(4096, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}

	ml, err := p.MapRange(4000, 192, Read)
	if err != nil {
		t.Fatal(err)
	}
	if len(ml.Buffer) != 192 {
		t.Fatalf("expected a 192-byte boundary slice, got %d", len(ml.Buffer))
	}
}

func TestBeginEndAtomicMergesIntoEnclosingTransaction(t *testing.T) {
	p := newTestPrefix(t)

	if _, err := p.MapRange(0, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	before := p.GetStateNum()
	if err := p.BeginAtomic(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.MapRange(4096, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if err := p.EndAtomic(); err != nil {
		t.Fatal(err)
	}
	if p.GetStateNum() != before {
		t.Fatalf("EndAtomic should leave the head state back where it started (%d), got %d", before, p.GetStateNum())
	}
}

func TestBeginCancelAtomicDiscardsStagedWrites(t *testing.T) {
	p := newTestPrefix(t)

	before := p.GetStateNum()
	if err := p.BeginAtomic(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.MapRange(0, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	p.CancelAtomic()
	if p.GetStateNum() != before {
		t.Fatalf("CancelAtomic should restore the head state to %d, got %d", before, p.GetStateNum())
	}
}

func TestBeginAtomicRejectsNesting(t *testing.T) {
	p := newTestPrefix(t)
	if err := p.BeginAtomic(); err != nil {
		t.Fatal(err)
	}
	if err := p.BeginAtomic(); err == nil {
		t.Fatal("expected an error beginning a second nested atomic operation")
	}
}

func TestGetSnapshotPinsStateAcrossFurtherWrites(t *testing.T) {
	p := newTestPrefix(t)

	if _, err := p.MapRange(0, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	snap := p.GetSnapshot(addr.NoState)
	snapState := snap.GetStateNum()

	if _, err := p.MapRange(4096, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	if p.GetStateNum() == snapState {
		t.Fatal("the prefix's head state should have advanced past the snapshot")
	}
	if _, err := snap.MapRange(0, 4096); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshAfterOwnCommitSucceeds(t *testing.T) {
	p := newTestPrefix(t)
	if _, err := p.MapRange(0, 4096, Write|Create); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
}
