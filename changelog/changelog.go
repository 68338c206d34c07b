// Package changelog implements the change-log stream described in
// spec.md §4.1 "Change-log stream" and §6: an append-only log, layered on
// blockio, of which logical pages were touched at each state. Readers poll
// the stream and replay unseen chunks to learn which cached ranges have
// gone stale.
package changelog

import (
	"encoding/binary"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/blockio"
)

// Record is one change-log chunk payload: the state the pages were written
// at, and the set of logical pages touched by that state.
type Record struct {
	State addr.StateNum
	Pages []addr.LogicalPage
}

// Encode serializes r the way spec.md §6 describes the DP change-log chunk
// payload: the state number followed by the logical page numbers, as
// little-endian u64 values.
func Encode(r Record) []byte {
	buf := make([]byte, 8*(1+len(r.Pages)))
	binary.LittleEndian.PutUint64(buf, uint64(r.State))
	for i, p := range r.Pages {
		binary.LittleEndian.PutUint64(buf[8*(i+1):], uint64(p))
	}
	return buf
}

// Decode parses a chunk payload produced by Encode.
func Decode(payload []byte) (Record, bool) {
	if len(payload) < 8 || len(payload)%8 != 0 {
		return Record{}, false
	}
	r := Record{State: addr.StateNum(binary.LittleEndian.Uint64(payload))}
	for off := 8; off < len(payload); off += 8 {
		r.Pages = append(r.Pages, addr.LogicalPage(binary.LittleEndian.Uint64(payload[off:])))
	}
	return r, true
}

// Writer appends Records to a blockio stream.
type Writer struct {
	w *blockio.Writer
}

// NewWriter wraps a blockio.Writer as a change-log appender.
func NewWriter(w *blockio.Writer) *Writer { return &Writer{w: w} }

// Append writes r as the next chunk in the stream and returns its address.
func (cw *Writer) Append(r Record) (addr.ChunkAddr, error) {
	a, err := cw.w.Append(Encode(r))
	return addr.ChunkAddr(a), err
}

// Tail reports the writer's current position.
func (cw *Writer) Tail() (block, offset int64) { return cw.w.Tail() }

// Reader replays Records from a blockio stream in order.
type Reader struct {
	r *blockio.Reader
}

// NewReader wraps a blockio.Reader as a change-log replayer.
func NewReader(r *blockio.Reader) *Reader { return &Reader{r: r} }

// Seek repositions the reader.
func (cr *Reader) Seek(block, offset int64) { cr.r.Seek(block, offset) }

// Tell reports the reader's current position.
func (cr *Reader) Tell() (block, offset int64) { return cr.r.Tell() }

// Next returns the next Record in the stream, or ok=false once exhausted.
// Malformed payloads (which should never occur outside a torn trailing
// chunk, already filtered by blockio) are skipped rather than surfaced as
// errors, consistent with the stream's last-chunk-atomic contract.
func (cr *Reader) Next() (rec Record, ok bool) {
	for {
		payload, streamOK := cr.r.Next()
		if !streamOK {
			return Record{}, false
		}
		rec, ok = Decode(payload)
		if ok {
			return rec, true
		}
	}
}

// Drain calls fn for every remaining Record in the stream, in order. It is
// idempotent and re-entrant: calling it again with no new writes returns
// immediately without invoking fn, matching spec.md's "refresh applied
// twice in a row with no new writes is a no-op" boundary behavior.
func (cr *Reader) Drain(fn func(Record)) {
	for {
		rec, ok := cr.Next()
		if !ok {
			return
		}
		fn(rec)
	}
}
