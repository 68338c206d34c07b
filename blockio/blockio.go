// Package blockio implements the chunk-within-block wire format shared by
// every append-only stream in the storage engine (the change-log, the DRAM
// page space, and the DP/DRAM change-log sub-streams described in
// spec.md §4.1/§6).
//
// A stream is a sequence of fixed-size blocks; each block holds a sequence
// of variable-length chunks. A chunk is a 4-byte size, a 4-byte checksum,
// and its payload. A zero-size chunk marks the unused tail of a block.
// Growth is monotonic and the last chunk written is atomic from a reader's
// perspective: a reader that observes a torn trailing chunk (short read or
// checksum mismatch) simply stops, rather than erroring, matching the
// file's "keep writing after an unclean shutdown" recovery model.
package blockio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dchest/siphash"
)

// ErrShortBlock is returned by Writer.Append when a chunk (header plus
// payload) is larger than a whole block, so no block could ever hold it.
var ErrShortBlock = errors.New("blockio: chunk does not fit in a block")

const headerSize = 8 // uint32 size + uint32 checksum

// checksumKey is a fixed SipHash-2-4 key. The checksum exists to detect torn
// writes after a crash, not to authenticate against a hostile writer, so a
// single well-known key (rather than one persisted per-stream) is
// sufficient: it still catches truncation and bit-rot, which is the only
// property spec.md §4.1 asks for ("chunk whose checksum fails terminates the
// stream").
var checksumKey = [16]byte{0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0, 0xdb, 0x0}

func checksum(payload []byte) uint32 {
	h := siphash.Hash(
		binary.LittleEndian.Uint64(checksumKey[:8]),
		binary.LittleEndian.Uint64(checksumKey[8:]),
		payload,
	)
	// Fold the 64-bit digest down to the spec's 32-bit checksum field.
	return uint32(h) ^ uint32(h>>32)
}

// BlockAllocator provides fixed-size blocks to a Writer/Reader. Storage
// implementations back this with pre-allocated regions of the prefix file;
// tests back it with an in-memory slice.
type BlockAllocator interface {
	// BlockSize returns the fixed size, in bytes, of every block.
	BlockSize() int64
	// ReadBlock reads the block at the given zero-based block index.
	ReadBlock(index int64, buf []byte) error
	// WriteBlock writes the block at the given zero-based block index,
	// allocating it if it does not exist yet.
	WriteBlock(index int64, buf []byte) error
	// BlockCount returns the number of blocks currently allocated.
	BlockCount() int64
}

// Writer appends chunks to a stream of blocks.
type Writer struct {
	alloc     BlockAllocator
	blockSize int64
	block     []byte
	blockIdx  int64
	off       int64 // offset within block of the next free byte
}

// NewWriter creates a Writer over alloc, positioned to continue appending
// after the stream's current tail. tailBlock/tailOffset is usually obtained
// by replaying the stream with a Reader until it runs out of chunks.
func NewWriter(alloc BlockAllocator, tailBlock, tailOffset int64) (*Writer, error) {
	blockSize := alloc.BlockSize()
	w := &Writer{
		alloc:     alloc,
		blockSize: blockSize,
		block:     make([]byte, blockSize),
		blockIdx:  tailBlock,
		off:       tailOffset,
	}
	if alloc.BlockCount() > tailBlock {
		if err := alloc.ReadBlock(tailBlock, w.block); err != nil {
			return nil, fmt.Errorf("blockio: loading tail block %d: %w", tailBlock, err)
		}
	}
	return w, nil
}

// Append writes payload as a new chunk, returning the address of its
// header so a companion index can point at it directly.
func (w *Writer) Append(payload []byte) (addr int64, err error) {
	need := int64(headerSize + len(payload))

	if w.off+need > w.blockSize {
		if need > w.blockSize {
			return 0, ErrShortBlock
		}
		if err := w.flushBlock(); err != nil {
			return 0, err
		}
		w.blockIdx++
		w.off = 0
		for i := range w.block {
			w.block[i] = 0
		}
	}

	addr = w.blockIdx*w.blockSize + w.off
	binary.LittleEndian.PutUint32(w.block[w.off:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(w.block[w.off+4:], checksum(payload))
	copy(w.block[w.off+headerSize:], payload)
	w.off += need

	if err := w.flushBlock(); err != nil {
		return 0, err
	}
	return addr, nil
}

func (w *Writer) flushBlock() error {
	return w.alloc.WriteBlock(w.blockIdx, w.block)
}

// Tail returns the writer's current position, usable to resume appending
// later via NewWriter.
func (w *Writer) Tail() (block, offset int64) {
	return w.blockIdx, w.off
}

// Reader walks a stream of blocks from a starting position, yielding chunk
// payloads in order until it runs out or hits a torn/corrupt trailing
// chunk.
type Reader struct {
	alloc     BlockAllocator
	blockSize int64
	block     []byte
	blockIdx  int64
	off       int64
	err       error
}

// NewReader creates a Reader starting at the beginning of the stream.
func NewReader(alloc BlockAllocator) *Reader {
	return &Reader{alloc: alloc, blockSize: alloc.BlockSize()}
}

// Seek repositions the reader to a specific block/offset, as previously
// reported by Tell.
func (r *Reader) Seek(block, offset int64) {
	r.blockIdx, r.off = block, offset
	r.block = nil
	r.err = nil
}

// Tell returns the reader's current position.
func (r *Reader) Tell() (block, offset int64) {
	return r.blockIdx, r.off
}

// Err returns the first error encountered by Next, if it was an I/O error
// rather than ordinary end-of-stream or a torn trailing chunk.
func (r *Reader) Err() error { return r.err }

// Next returns the next chunk payload in the stream, or ok=false when the
// stream is exhausted (including when the next chunk is corrupt or torn:
// that is treated as "not written yet" per the last-chunk-atomic model,
// not as an error).
func (r *Reader) Next() (payload []byte, ok bool) {
	if r.err != nil {
		return nil, false
	}
	if r.blockIdx >= r.alloc.BlockCount() {
		return nil, false
	}
	if r.block == nil {
		r.block = make([]byte, r.blockSize)
		if err := r.alloc.ReadBlock(r.blockIdx, r.block); err != nil {
			r.err = err
			return nil, false
		}
	}

	if r.off+headerSize > r.blockSize {
		return r.advanceBlock()
	}

	size := binary.LittleEndian.Uint32(r.block[r.off:])
	if size == 0 {
		return r.advanceBlock()
	}
	want := binary.LittleEndian.Uint32(r.block[r.off+4:])

	end := r.off + headerSize + int64(size)
	if end > r.blockSize {
		// Torn chunk: header claims more than the block holds.
		return nil, false
	}

	payload = r.block[r.off+headerSize : end]
	if checksum(payload) != want {
		// Torn or corrupt chunk: stop without error, per last-chunk-atomic
		// semantics.
		return nil, false
	}

	r.off = end
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true
}

func (r *Reader) advanceBlock() ([]byte, bool) {
	if r.blockIdx+1 >= r.alloc.BlockCount() {
		return nil, false
	}
	r.blockIdx++
	r.off = 0
	r.block = nil
	return r.Next()
}

// Drain calls fn for every remaining chunk in the stream.
func (r *Reader) Drain(fn func(payload []byte)) {
	for {
		payload, ok := r.Next()
		if !ok {
			return
		}
		fn(payload)
	}
}
