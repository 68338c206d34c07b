package invertedindex

import (
	"encoding/binary"
	"sort"

	"github.com/dbzero-io/corestore/ft"
)

// PostingList is the in-memory materialization of a "morphing B-index"
// posting list: a sorted, duplicate-free run of values under one tag,
// grounded on InvertedIndex.hpp's `ListT = db0::MorphingBIndex<KeyT>`. A
// full morphing B-index (the original grows from an inline small-vector
// representation into a real B-tree past some size) is out of scope here;
// values are kept as a flat sorted slice and persisted as one `dram.Space`
// page per tag -- see DESIGN.md's invertedindex entry for why this
// simplification was made.
type PostingList struct {
	values []uint64
}

// NewPostingList builds an empty list.
func NewPostingList() *PostingList {
	return &PostingList{}
}

func (p *PostingList) Len() int { return len(p.values) }

// Insert adds v if not already present, returning whether it was newly
// added.
func (p *PostingList) Insert(v uint64) bool {
	i := sort.Search(len(p.values), func(i int) bool { return p.values[i] >= v })
	if i < len(p.values) && p.values[i] == v {
		return false
	}
	p.values = append(p.values, 0)
	copy(p.values[i+1:], p.values[i:])
	p.values[i] = v
	return true
}

// Erase removes v if present, returning whether it was found.
func (p *PostingList) Erase(v uint64) bool {
	i := sort.Search(len(p.values), func(i int) bool { return p.values[i] >= v })
	if i >= len(p.values) || p.values[i] != v {
		return false
	}
	p.values = append(p.values[:i], p.values[i+1:]...)
	return true
}

func (p *PostingList) Contains(v uint64) bool {
	i := sort.Search(len(p.values), func(i int) bool { return p.values[i] >= v })
	return i < len(p.values) && p.values[i] == v
}

// Iterator returns an ft.Iterator walking this list's values in dir.
func (p *PostingList) Iterator(dir ft.Direction) *ft.IndexIterator[uint64] {
	return ft.NewIndexIterator(p.values, dir)
}

// encode serializes the list as a value count followed by its sorted
// values, little-endian.
func (p *PostingList) encode() []byte {
	buf := make([]byte, 4+8*len(p.values))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(p.values)))
	for i, v := range p.values {
		binary.LittleEndian.PutUint64(buf[4+8*i:4+8*i+8], v)
	}
	return buf
}

func decodePostingList(data []byte) *PostingList {
	if len(data) < 4 {
		return NewPostingList()
	}
	n := binary.LittleEndian.Uint32(data[:4])
	values := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		off := 4 + 8*int(i)
		if off+8 > len(data) {
			break
		}
		values = append(values, binary.LittleEndian.Uint64(data[off:off+8]))
	}
	return &PostingList{values: values}
}
