package lock

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
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

func TestDPLockFetchReadsStoredPage(t *testing.T) {
	s := newTestStorage(t)

	page := bytes.Repeat([]byte{0x42}, 4096)
	if err := s.Write(3, 1, page); err != nil {
		t.Fatal(err)
	}

	l := NewDPLock(s, 3, 1, 4096, ReadOnly, 1, addr.NoState, false)
	buf, err := l.Buffer()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, page) {
		t.Fatal("DPLock.Buffer returned unexpected bytes")
	}
}

func TestDPLockCreateNewSkipsFetch(t *testing.T) {
	s := newTestStorage(t)

	l := NewDPLock(s, 9, 1, 4096, Write, addr.NoState, 1, true)
	buf, err := l.Buffer()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, make([]byte, 4096)) {
		t.Fatal("newly created lock should start zero-filled")
	}

	copy(buf, bytes.Repeat([]byte{0x7}, 4096))
	l.SetDirty()
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 4096)
	if err := s.Read(9, 1, out, storage.FlagNone); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, bytes.Repeat([]byte{0x7}, 4096)) {
		t.Fatal("flush did not persist dirty buffer")
	}
}

func TestDPLockNoFlushNeverWrites(t *testing.T) {
	s := newTestStorage(t)

	l := NewDPLock(s, 4, 1, 4096, Write|NoFlush, addr.NoState, 1, true)
	buf, _ := l.Buffer()
	copy(buf, bytes.Repeat([]byte{0x9}, 4096))
	l.SetDirty()

	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := s.Read(4, 1, make([]byte, 4096), storage.FlagNone); err == nil {
		t.Fatal("NoFlush lock must not have written its buffer")
	}
}

func TestWideLockFlushesResidualSeparately(t *testing.T) {
	s := newTestStorage(t)

	main := NewDPLock(s, 10, 1, 4096, Write, addr.NoState, 1, true)
	residual := NewDPLock(s, 11, 1, 4096, Write, addr.NoState, 1, true)
	w := NewWideLock(s, 10, 1, 4096, Write, addr.NoState, 1, residual, true)
	_ = main

	buf, _ := w.Buffer()
	copy(buf, bytes.Repeat([]byte{0xA}, 4096))
	w.SetDirty()

	resBuf, _ := residual.Buffer()
	copy(resBuf, bytes.Repeat([]byte{0xB}, 4096))
	residual.SetDirty()

	if err := w.FlushResidual(); err != nil {
		t.Fatal(err)
	}
	if err := s.Read(11, 1, make([]byte, 4096), storage.FlagNone); err != nil {
		t.Fatal("residual should have been flushed")
	}
	if err := s.Read(10, 1, make([]byte, 4096), storage.FlagNone); err == nil {
		t.Fatal("main range should not be flushed by FlushResidual alone")
	}

	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := s.Read(10, 1, make([]byte, 4096), storage.FlagNone); err != nil {
		t.Fatal("Flush should flush the wide range itself too")
	}
}

func TestBoundaryLockConcatenatesAndFlushesBothSides(t *testing.T) {
	s := newTestStorage(t)

	lhs := NewDPLock(s, 20, 1, 4096, Write, addr.NoState, 1, true)
	rhs := NewDPLock(s, 21, 1, 4096, Write, addr.NoState, 1, true)
	b := NewBoundaryLock(s, 20, lhs, 4096, rhs, 4096, Write, false)

	lb, _ := lhs.Buffer()
	copy(lb, bytes.Repeat([]byte{0x1}, 4096))
	lhs.SetDirty()
	rb, _ := rhs.Buffer()
	copy(rb, bytes.Repeat([]byte{0x2}, 4096))
	rhs.SetDirty()

	combined, err := b.Buffer()
	if err != nil {
		t.Fatal(err)
	}
	if len(combined) != 8192 || !bytes.Equal(combined[:4096], lb) || !bytes.Equal(combined[4096:], rb) {
		t.Fatal("BoundaryLock.Buffer did not concatenate both sides correctly")
	}

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if lhs.IsDirty() || rhs.IsDirty() {
		t.Fatal("Flush should have cleared both sides' dirty flags")
	}
}
