package blockio

import (
	"bytes"
	"testing"
)

type memBlocks struct {
	blockSize int64
	blocks    [][]byte
}

func newMemBlocks(blockSize int64) *memBlocks {
	return &memBlocks{blockSize: blockSize}
}

func (m *memBlocks) BlockSize() int64 { return m.blockSize }
func (m *memBlocks) BlockCount() int64 { return int64(len(m.blocks)) }

func (m *memBlocks) ReadBlock(index int64, buf []byte) error {
	copy(buf, m.blocks[index])
	return nil
}

func (m *memBlocks) WriteBlock(index int64, buf []byte) error {
	for int64(len(m.blocks)) <= index {
		m.blocks = append(m.blocks, make([]byte, m.blockSize))
	}
	copy(m.blocks[index], buf)
	return nil
}

func TestWriterReaderRoundTrip(t *testing.T) {
	alloc := newMemBlocks(64)
	w, err := NewWriter(alloc, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	payloads := [][]byte{
		[]byte("aaaa"),
		[]byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		[]byte("c"),
		[]byte("dddd"),
	}

	for _, p := range payloads {
		if _, err := w.Append(p); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(alloc)
	for i, want := range payloads {
		got, ok := r.Next()
		if !ok {
			t.Fatalf("chunk %d: stream ended early", i)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk %d: got %q want %q", i, got, want)
		}
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected stream to be exhausted")
	}
}

func TestReaderStopsOnCorruptChunk(t *testing.T) {
	alloc := newMemBlocks(64)
	w, err := NewWriter(alloc, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append([]byte("good")); err != nil {
		t.Fatal(err)
	}

	// Corrupt the checksum of the next chunk by hand-writing a header whose
	// checksum will never match its payload.
	block, off := w.Tail()
	buf := make([]byte, alloc.BlockSize())
	if err := alloc.ReadBlock(block, buf); err != nil {
		t.Fatal(err)
	}
	buf[off] = 4
	buf[off+4] = 0xff
	buf[off+5] = 0xff
	buf[off+6] = 0xff
	buf[off+7] = 0xff
	copy(buf[off+8:], "junk")
	if err := alloc.WriteBlock(block, buf); err != nil {
		t.Fatal(err)
	}

	r := NewReader(alloc)
	got, ok := r.Next()
	if !ok || string(got) != "good" {
		t.Fatalf("expected first chunk to be readable, got %q ok=%v", got, ok)
	}
	if _, ok := r.Next(); ok {
		t.Fatal("expected the torn/corrupt chunk to terminate the stream")
	}
	if r.Err() != nil {
		t.Fatalf("corrupt chunk must not surface as an error: %v", r.Err())
	}
}

func TestWriterRejectsOversizeChunk(t *testing.T) {
	alloc := newMemBlocks(16)
	w, err := NewWriter(alloc, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(make([]byte, 64)); err != ErrShortBlock {
		t.Fatalf("expected ErrShortBlock, got %v", err)
	}
}
