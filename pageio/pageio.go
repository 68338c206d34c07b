// Package pageio implements the fixed-size data-page append/random-read
// layer described in spec.md §4.1 "Page I/O": pages are appended to the
// current block's free slots, rolling over to a freshly allocated block
// once full, and randomly read by absolute physical page number.
package pageio

import (
	"fmt"
	"io"
	"sync"

	"github.com/dbzero-io/corestore/addr"
)

// File is the subset of *os.File that pageio needs. Appends always go
// through a real, writable *os.File; storage.Storage's read-only path
// reads the data-page region through an mmap.ReaderAt instead (see
// storage's cachedFile), using Pages only for ByteOffset, since that path
// never calls Append/RewriteAt.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// Pages appends and randomly reads fixed-size pages within a region of a
// File that starts at a fixed byte offset and grows in units of blocks.
type Pages struct {
	mu sync.Mutex

	file       File
	baseOffset int64
	pageSize   int64
	blockSize  int64
	capacity   int64 // pages per block

	nextPage addr.PhysicalPage // next physical page number to hand out
	blocks   int64             // blocks currently allocated
	fileEnd  func() int64      // as passed to New; no Pages method calls it
	growFile func(newEnd int64) error
}

// New constructs a Pages region over file, starting at baseOffset, with the
// given page and block sizes. growFile is called whenever a new block must
// be allocated past the current file tail; it is the caller's
// responsibility (typically storage.Storage) to keep other sub-streams'
// offsets consistent with the growing file.
func New(file File, baseOffset, pageSize, blockSize int64, pagesAlreadyWritten int64, growFile func(newEnd int64) error, fileEnd func() int64) (*Pages, error) {
	if blockSize%pageSize != 0 {
		return nil, fmt.Errorf("pageio: block size %d is not a multiple of page size %d", blockSize, pageSize)
	}
	capacity := blockSize / pageSize
	blocks := (pagesAlreadyWritten + capacity - 1) / capacity
	if blocks == 0 && pagesAlreadyWritten == 0 {
		blocks = 0
	}
	return &Pages{
		file:       file,
		baseOffset: baseOffset,
		pageSize:   pageSize,
		blockSize:  blockSize,
		capacity:   capacity,
		nextPage:   addr.PhysicalPage(pagesAlreadyWritten),
		blocks:     blocks,
		growFile:   growFile,
		fileEnd:    fileEnd,
	}, nil
}

// PageSize returns the fixed page size of this region.
func (p *Pages) PageSize() int64 { return p.pageSize }

// Append writes page at the next free physical page slot, allocating a new
// block if the current one is full, and returns its physical page number.
func (p *Pages) Append(page []byte) (addr.PhysicalPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int64(len(page)) != p.pageSize {
		return 0, fmt.Errorf("pageio: page must be exactly %d bytes, got %d", p.pageSize, len(page))
	}

	num := p.nextPage
	slot := int64(num) % p.capacity
	block := int64(num) / p.capacity

	if block >= p.blocks {
		newEnd := p.baseOffset + (block+1)*p.blockSize
		if p.growFile != nil {
			if err := p.growFile(newEnd); err != nil {
				return 0, err
			}
		}
		p.blocks = block + 1
	}

	off := p.baseOffset + block*p.blockSize + slot*p.pageSize
	if _, err := p.file.WriteAt(page, off); err != nil {
		return 0, fmt.Errorf("pageio: writing page %d: %w", num, err)
	}

	p.nextPage++
	return num, nil
}

// ReadAt reads the physical page num into buf, which must be exactly
// PageSize() bytes.
func (p *Pages) ReadAt(num addr.PhysicalPage, buf []byte) error {
	if int64(len(buf)) != p.pageSize {
		return fmt.Errorf("pageio: read buffer must be exactly %d bytes, got %d", p.pageSize, len(buf))
	}

	slot := int64(num) % p.capacity
	block := int64(num) / p.capacity
	off := p.baseOffset + block*p.blockSize + slot*p.pageSize

	n, err := p.file.ReadAt(buf, off)
	if n < len(buf) && err != nil {
		return fmt.Errorf("pageio: reading page %d: %w", num, err)
	}
	return nil
}

// RewriteAt overwrites the bytes of an already-appended physical page in
// place. This is used exactly once in the write path (storage.Storage.Write
// when a page has already been written at the current state within the
// same transaction, spec.md §4.1 "CoW within-transaction"); it must never
// be used to mutate a physical page any writer has already committed and
// exposed to a reader, since spec.md §3 invariant 5 forbids rewriting
// published physical pages in place.
func (p *Pages) RewriteAt(num addr.PhysicalPage, buf []byte) error {
	if int64(len(buf)) != p.pageSize {
		return fmt.Errorf("pageio: rewrite buffer must be exactly %d bytes, got %d", p.pageSize, len(buf))
	}
	slot := int64(num) % p.capacity
	block := int64(num) / p.capacity
	off := p.baseOffset + block*p.blockSize + slot*p.pageSize
	_, err := p.file.WriteAt(buf, off)
	return err
}

// NextPageNum returns the physical page number that the next Append call
// will produce, i.e. the current count of written pages.
func (p *Pages) NextPageNum() addr.PhysicalPage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPage
}

// ByteOffset returns the absolute file offset of physical page num. It is
// used by components (e.g. a read-only mmap-backed reader) that want to
// bypass the ReadAt indirection.
func (p *Pages) ByteOffset(num addr.PhysicalPage) int64 {
	slot := int64(num) % p.capacity
	block := int64(num) / p.capacity
	return p.baseOffset + block*p.blockSize + slot*p.pageSize
}
