package changelog

import (
	"reflect"
	"testing"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/blockio"
)

type memBlocks struct {
	blockSize int64
	blocks    [][]byte
}

func (m *memBlocks) BlockSize() int64  { return m.blockSize }
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

func TestAppendDrainRoundTrip(t *testing.T) {
	alloc := &memBlocks{blockSize: 128}
	bw, err := blockio.NewWriter(alloc, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(bw)

	records := []Record{
		{State: 1, Pages: []addr.LogicalPage{3}},
		{State: 2, Pages: []addr.LogicalPage{3, 7}},
		{State: 3, Pages: []addr.LogicalPage{9, 10, 11}},
	}
	for _, r := range records {
		if _, err := w.Append(r); err != nil {
			t.Fatal(err)
		}
	}

	var got []Record
	r := NewReader(blockio.NewReader(alloc))
	r.Drain(func(rec Record) { got = append(got, rec) })

	if !reflect.DeepEqual(got, records) {
		t.Fatalf("got %+v, want %+v", got, records)
	}

	// A second drain with no new writes must be a no-op.
	var second []Record
	r2 := NewReader(blockio.NewReader(alloc))
	r2.Seek(r.Tell())
	r2.Drain(func(rec Record) { second = append(second, rec) })
	if len(second) != 0 {
		t.Fatalf("expected no-op re-drain, got %d records", len(second))
	}
}
