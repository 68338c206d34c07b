// Package dram implements the DRAM page space of spec.md §4.1: a
// self-contained paged heap, independent of the data-page region, used to
// host metadata structures such as inverted-index posting lists. Dirty
// pages are serialized to disk as one chunk per page via blockio, with a
// companion change-log stream recording the most recent chunk address of
// every DRAM page number so a reader can find the current bytes of a page
// without rescanning the whole stream.
package dram

import (
	"encoding/binary"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/blockio"
	"github.com/dbzero-io/corestore/changelog"
)

// PageNum identifies a page within a DRAM page space.
type PageNum uint64

// Space is an in-memory paged heap that can serialize its dirty pages to an
// append-only chunk stream and reload them on the other end.
type Space struct {
	pageSize int

	pages map[PageNum][]byte
	dirty map[PageNum]struct{}

	// chunkOf records the most recent DRAM-IO chunk address holding each
	// page, so a reader replaying the change-log only needs to jump to
	// the chunks it was told changed.
	chunkOf map[PageNum]int64

	// free holds chunk addresses that are safe to let a future write
	// overwrite logically (by appending a fresh chunk and updating
	// chunkOf; blockio itself never rewrites in place, this set is
	// bookkeeping for a caller-driven compaction pass, not used to
	// physically reuse space in this implementation). A chunk address
	// referenced by the most recently appended change-log record is never
	// placed here, per spec.md's "must remain readable until the next
	// change-log append".
	free map[int64]struct{}

	next PageNum
}

// NewSpace constructs an empty DRAM page space with the given page size.
func NewSpace(pageSize int) *Space {
	return &Space{
		pageSize: pageSize,
		pages:    make(map[PageNum][]byte),
		dirty:    make(map[PageNum]struct{}),
		chunkOf:  make(map[PageNum]int64),
		free:     make(map[int64]struct{}),
	}
}

// PageSize returns the fixed page size of this space.
func (s *Space) PageSize() int { return s.pageSize }

// Alloc hands out a fresh page number with a zeroed page.
func (s *Space) Alloc() PageNum {
	n := s.next
	s.next++
	s.pages[n] = make([]byte, s.pageSize)
	s.dirty[n] = struct{}{}
	return n
}

// Get returns the current bytes of page, or ok=false if it has never been
// allocated (in this process or via Load).
func (s *Space) Get(page PageNum) (data []byte, ok bool) {
	data, ok = s.pages[page]
	return data, ok
}

// Put overwrites page's bytes (which must already exist, via Alloc or
// Load) and marks it dirty.
func (s *Space) Put(page PageNum, data []byte) {
	buf := make([]byte, s.pageSize)
	copy(buf, data)
	s.pages[page] = buf
	s.dirty[page] = struct{}{}
}

// DirtyCount reports how many pages have pending writes.
func (s *Space) DirtyCount() int { return len(s.dirty) }

// Flush serializes every dirty page as one chunk each (state, page_num,
// data, per spec.md §6's DRAM chunk payload), through ioWriter, then
// appends a single DRAM-changelog chunk listing the new chunk addresses,
// through logWriter. Previously logged addresses for the pages just
// rewritten become eligible for reuse, except that the address just
// written for each page is never freed (it is the only readable copy).
func (s *Space) Flush(state uint64, ioWriter *blockio.Writer, logWriter *changelog.Writer) error {
	if len(s.dirty) == 0 {
		return nil
	}

	pages := make([]PageNum, 0, len(s.dirty))
	for p := range s.dirty {
		pages = append(pages, p)
	}

	addrs := make([]int64, 0, len(pages))
	for _, p := range pages {
		payload := make([]byte, 16+s.pageSize)
		binary.LittleEndian.PutUint64(payload[0:], state)
		binary.LittleEndian.PutUint64(payload[8:], uint64(p))
		copy(payload[16:], s.pages[p])

		chunkAddr, err := ioWriter.Append(payload)
		if err != nil {
			return err
		}

		if old, ok := s.chunkOf[p]; ok {
			s.free[old] = struct{}{}
		}
		delete(s.free, chunkAddr)
		s.chunkOf[p] = chunkAddr
		addrs = append(addrs, chunkAddr)
		delete(s.dirty, p)
	}

	rec := changelog.Record{State: addr.StateNum(state)}
	for _, a := range addrs {
		rec.Pages = append(rec.Pages, addr.LogicalPage(a))
	}
	_, err := logWriter.Append(rec)
	return err
}
