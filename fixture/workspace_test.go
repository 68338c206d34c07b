package fixture

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/dram"
	"github.com/dbzero-io/corestore/prefix"
	"github.com/dbzero-io/corestore/storage"
)

func newWritableAt(t *testing.T, path string) *prefix.Prefix {
	t.Helper()
	s, err := storage.Create(path, storage.Options{
		PageSize:  4096,
		BlockSize: 8192,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return prefix.Open("t", s, nil, zerolog.Nop())
}

func TestConfigIntervalsDefaultWhenUnset(t *testing.T) {
	var cfg Config
	if cfg.AutoCommitInterval() != DefaultAutoCommitInterval {
		t.Fatalf("expected default auto-commit interval, got %v", cfg.AutoCommitInterval())
	}
	if cfg.RefreshInterval() != DefaultRefreshInterval {
		t.Fatalf("expected default refresh interval, got %v", cfg.RefreshInterval())
	}
}

func TestWorkspaceOpenRegistersByAccessType(t *testing.T) {
	p := newWritableAt(t, filepath.Join(t.TempDir(), "prefix.db"))
	w := NewWorkspace(Config{AutoCommitIntervalMS: 1000, RefreshIntervalMS: 1000}, zerolog.Nop())
	defer w.Close()

	f := w.Open("t", p, dram.NewSpace(4096))
	got, ok := w.Get("t")
	if !ok || got != f {
		t.Fatal("expected the opened fixture to be retrievable by name")
	}
	if e := w.fixtures["t"]; e == nil || e.readOnly {
		t.Fatal("expected a read/write prefix to be registered as read/write")
	}
}

func TestAutoCommitPollerFlushesDirtyFixture(t *testing.T) {
	p := newWritableAt(t, filepath.Join(t.TempDir(), "prefix.db"))
	w := NewWorkspace(Config{AutoCommitIntervalMS: 5, RefreshIntervalMS: 1000}, zerolog.Nop())
	defer w.Close()

	f := w.Open("t", p, dram.NewSpace(4096))
	ml, err := p.MapRange(0, 4096, prefix.Write|prefix.Create)
	if err != nil {
		t.Fatal(err)
	}
	ml.SetDirty()
	before := p.GetStateNum()
	f.OnUpdated()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.GetStateNum() > before {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected the auto-commit poller to advance the state past %d", before)
}

func TestWorkspaceCommitSkipsReadOnlyFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefix.db")
	p := newWritableAt(t, path)
	w := NewWorkspace(Config{AutoCommitIntervalMS: 1000, RefreshIntervalMS: 1000}, zerolog.Nop())
	defer w.Close()

	rs, err := storage.Open(path, storage.ReadOnly, storage.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rs.Close() })
	ro := prefix.Open("t-ro", rs, nil, zerolog.Nop())

	w.Open("t", p, dram.NewSpace(4096))
	roFixture := w.Open("t-ro", ro, dram.NewSpace(4096))
	roFixture.OnUpdated()

	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	// a read-only fixture's OnUpdated flag must survive Workspace.Commit
	// untouched, since Commit never calls Commit on it.
	if !roFixture.updated.Load() {
		t.Fatal("expected Workspace.Commit to leave the read-only fixture's dirty flag alone")
	}
}

func TestWorkspaceCloseStopsPollers(t *testing.T) {
	p := newWritableAt(t, filepath.Join(t.TempDir(), "prefix.db"))
	w := NewWorkspace(Config{AutoCommitIntervalMS: 5, RefreshIntervalMS: 5}, zerolog.Nop())
	w.Open("t", p, dram.NewSpace(4096))

	done := make(chan struct{})
	go func() {
		w.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Close to stop both pollers and return")
	}
}
