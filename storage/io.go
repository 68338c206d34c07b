package storage

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/blockio"
	"github.com/dbzero-io/corestore/changelog"
)

// DiffSpec describes one diff-encoded segment passed to WriteDiffs, per
// spec.md §4.1: "diffs: [(diff_size, identical_size)...]".
type DiffSpec struct {
	DiffSize      int
	IdenticalSize int
}

// resolve returns the physical page and resolved state for (page, state),
// combining the full sparse index with the compressed diff index as
// spec.md describes: "the max-state full entry and then walks diff entries
// with state <= s", taking whichever source resolves to the greater state.
func (s *Storage) resolve(page addr.LogicalPage, state addr.StateNum) (phys addr.PhysicalPage, resolved addr.StateNum, found bool) {
	fixedEntry, fixedFound := s.sparse.Lookup(page, state)
	diffPhys, diffState, diffFound := s.diffs.Lookup(page, state)

	switch {
	case fixedFound && diffFound:
		if diffState > fixedEntry.State {
			return diffPhys, diffState, true
		}
		return fixedEntry.Physical, fixedEntry.State, true
	case fixedFound:
		return fixedEntry.Physical, fixedEntry.State, true
	case diffFound:
		return diffPhys, diffState, true
	default:
		return 0, 0, false
	}
}

// FindMutation returns the resolved state of the lookup for (page, state),
// used by the cache layer to decide whether a copy-on-write promotion is
// necessary.
func (s *Storage) FindMutation(page addr.LogicalPage, state addr.StateNum) (addr.StateNum, bool) {
	_, resolved, found := s.resolve(page, state)
	return resolved, found
}

// TryFindMutation is the non-panicking variant used on hot paths: it
// reports success via the boolean instead of relying on the caller to
// check a sentinel resolved-state value.
func (s *Storage) TryFindMutation(page addr.LogicalPage, state addr.StateNum) (resolved addr.StateNum, ok bool) {
	return s.FindMutation(page, state)
}

// Read fills buf (which must be a multiple of the prefix's page size) with
// the bytes of the page range [address, address+len(buf)) as of state.
func (s *Storage) Read(address addr.LogicalPage, state addr.StateNum, buf []byte, flags Flags) error {
	if int64(len(buf))%s.pageSize != 0 {
		return ErrMisaligned
	}
	pageCount := int64(len(buf)) / s.pageSize

	for i := int64(0); i < pageCount; i++ {
		page := address + addr.LogicalPage(i)
		dst := buf[i*s.pageSize : (i+1)*s.pageSize]

		phys, _, found := s.resolve(page, state)
		if !found {
			if flags&FlagCreate != 0 {
				for j := range dst {
					dst[j] = 0
				}
				continue
			}
			return fmt.Errorf("%w: page %d at state %d", ErrPageNotFound, page, state)
		}

		off := s.pages.ByteOffset(phys)
		if _, err := s.cachedFile.ReadAt(dst, off); err != nil {
			return fmt.Errorf("storage: reading page %d: %w", page, err)
		}
	}
	return nil
}

// Write records buf as the contents of the page range [address,
// address+len(buf)) at state, which must not be older than the prefix's
// current head state (spec.md §3 invariant 2); a newer state becomes the
// head state.
func (s *Storage) Write(address addr.LogicalPage, state addr.StateNum, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access != ReadWrite {
		return ErrReadOnly
	}
	if int64(len(buf))%s.pageSize != 0 {
		return ErrMisaligned
	}
	if head := s.GetMaxStateNum(); state < head {
		return fmt.Errorf("%w: write state %d < head state %d", ErrStaleWrite, state, head)
	}

	pageCount := int64(len(buf)) / s.pageSize

	for i := int64(0); i < pageCount; i++ {
		page := address + addr.LogicalPage(i)
		src := buf[i*s.pageSize : (i+1)*s.pageSize]

		if entry, found := s.sparse.ExactEntry(page, state); found {
			// Same transaction already wrote this page at this exact
			// state: rewrite its already-allocated physical slot in
			// place rather than burning a new physical page number.
			if err := s.pages.RewriteAt(entry.Physical, src); err != nil {
				return err
			}
			continue
		}

		phys, err := s.pages.Append(src)
		if err != nil {
			return err
		}
		s.sparse.Insert(page, state, phys, addr.Fixed)
	}

	s.mvMu.Lock()
	if state > s.headState {
		s.headState = state
	}
	s.mvMu.Unlock()
	return nil
}

// WriteDiffs is the diff-encoded write path: it still materializes the
// full post-write page bytes (this implementation does not perform
// byte-level delta compression of page content, see DESIGN.md), but
// compresses the sparse/diff index bookkeeping so a run of successive
// small edits to the same page costs one DiffEntry instead of one
// sparse-index entry per write.
func (s *Storage) WriteDiffs(address addr.LogicalPage, state addr.StateNum, diffs []DiffSpec, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access != ReadWrite {
		return ErrReadOnly
	}
	if int64(len(buf))%s.pageSize != 0 {
		return ErrMisaligned
	}
	if head := s.GetMaxStateNum(); state < head {
		return fmt.Errorf("%w: write state %d < head state %d", ErrStaleWrite, state, head)
	}

	pageCount := int64(len(buf)) / s.pageSize
	for i := int64(0); i < pageCount; i++ {
		page := address + addr.LogicalPage(i)
		src := buf[i*s.pageSize : (i+1)*s.pageSize]

		phys, err := s.pages.Append(src)
		if err != nil {
			return err
		}

		newEntry, folded := s.diffs.Append(page, state, phys)
		if !folded {
			// A fresh run started: also leave a Mutable marker in the main
			// sparse index so a plain sparse-only consumer (e.g. a future
			// compaction pass) can discover that the page has diff history,
			// per spec.md "insert updates cached next_physical_page... also
			// appends page to the in-memory change-log".
			s.sparse.Insert(page, newEntry.BaseState, newEntry.BasePhysical, addr.Mutable)
		}
		s.pendingDiffPages = append(s.pendingDiffPages, page)
	}

	s.mvMu.Lock()
	if state > s.headState {
		s.headState = state
	}
	s.mvMu.Unlock()
	return nil
}

// Flush implements the data-page part of spec.md §4.1 "Commit": the pages
// written through Write and WriteDiffs since the last Flush are appended
// as one DP change-log chunk (none when no page was written), and the file
// is fsynced. It writes no DRAM pages and appends no DRAM change-log chunk.
func (s *Storage) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access != ReadWrite {
		return ErrReadOnly
	}

	start := time.Now()
	state := s.GetMaxStateNum()
	pending := s.sparse.TakePending()
	pending = append(pending, s.pendingDiffPages...)
	s.pendingDiffPages = nil

	if len(pending) > 0 {
		if _, err := s.dpLogWriter.Append(changelog.Record{State: state, Pages: dedupe(pending)}); err != nil {
			return fmt.Errorf("storage: appending DP change-log: %w", err)
		}
	}

	if err := fdatasync(s.file); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}

	s.mvMu.Lock()
	s.lastUpdated = time.Now()
	s.mvMu.Unlock()

	s.metrics.observeFlush(time.Since(start))
	s.log.Debug().Uint64("state", uint64(state)).Int("pages", len(pending)).Msg("storage: flushed")
	return nil
}

func dedupe(pages []addr.LogicalPage) []addr.LogicalPage {
	seen := make(map[addr.LogicalPage]struct{}, len(pages))
	out := pages[:0]
	for _, p := range pages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Refresh implements spec.md §4.1 "Refresh": for a read-only storage, it
// drains any DP change-log chunks appended since the last call and invokes
// onPageUpdated for each (page, new state) pair so a caller (prefixcache)
// can invalidate stale ranges. It is idempotent: calling it again with
// nothing new to drain is a no-op.
func (s *Storage) Refresh() error {
	r := blockio.NewReader(s.dpChangelog)
	r.Seek(s.dpReadBlock, s.dpReadOffset)

	logReader := changelog.NewReader(r)

	var sawAny bool
	logReader.Drain(func(rec changelog.Record) {
		sawAny = true
		for _, page := range rec.Pages {
			if resolved, ok := s.FindMutation(page, rec.State); ok {
				if s.onPageUpdated != nil {
					s.onPageUpdated(page, resolved)
				}
			}
		}
		s.mvMu.Lock()
		if rec.State > s.headState {
			s.headState = rec.State
		}
		s.mvMu.Unlock()
	})

	s.dpReadBlock, s.dpReadOffset = r.Tell()

	if sawAny {
		s.mvMu.Lock()
		s.lastUpdated = time.Now()
		s.mvMu.Unlock()
		s.log.Debug().Uint64("state", uint64(s.headState)).Msg("storage: refreshed")
	}
	return nil
}

// OnPageUpdated installs the callback Refresh invokes for each page
// touched by a newly observed commit.
func (s *Storage) OnPageUpdated(fn func(page addr.LogicalPage, state addr.StateNum)) {
	s.onPageUpdated = fn
}

// replayAll is the Open-time bootstrap. This implementation does not
// persist the sparse/diff index trees into the DRAM page space (see
// DESIGN.md), so it cannot recover (page -> physical page) bindings from a
// change-log that records only which pages changed, not where they landed.
// replayAll's effect is therefore limited to recovering the head state and
// the DP change-log reader's replay cursor, so a read-write Storage resumes
// appending to the log in the right place; recovering full random-read
// access to a prefix's existing pages after a cross-process reopen needs a
// companion index snapshot, which is tracked as an open item in DESIGN.md.
func (s *Storage) replayAll() {
	r := blockio.NewReader(s.dpChangelog)
	logReader := changelog.NewReader(r)

	logReader.Drain(func(rec changelog.Record) {
		if rec.State > s.headState {
			s.headState = rec.State
		}
	})
	s.dpReadBlock, s.dpReadOffset = r.Tell()
}

func fdatasync(f interface{ Fd() uintptr }) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		if fs, ok := f.(interface{ Sync() error }); ok {
			return fs.Sync()
		}
		return err
	}
	return nil
}
