package ft

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dbzero-io/corestore/compare"
)

// IndexIterator walks a fixed, sorted snapshot of keys -- the leaf of every
// query tree, grounded on FT_IndexIterator.hpp. The teacher's
// container/tree.Map has no "next neighbor of k" cursor, so unlike the
// original's direct B-tree walk, an IndexIterator here is built once from a
// caller-supplied sorted slice of keys (typically tree.Map.Range's output)
// and seeks within that snapshot; see DESIGN.md's ft section.
type IndexIterator[K compare.Ordered] struct {
	keys     []K
	pos      int
	dir      Direction
	hasLimit bool
	limit    K
	stopped  bool
}

// NewIndexIterator builds an iterator over keys, which must already be
// sorted ascending. It starts positioned at the extreme end dir points
// toward: the smallest key for Ascending, the largest for Descending.
func NewIndexIterator[K compare.Ordered](keys []K, dir Direction) *IndexIterator[K] {
	it := &IndexIterator[K]{keys: keys, dir: dir}
	if dir == Ascending {
		it.pos = 0
	} else {
		it.pos = len(keys) - 1
	}
	return it
}

func (it *IndexIterator[K]) withinLimit(pos int) bool {
	if !it.hasLimit || pos < 0 || pos >= len(it.keys) {
		return true
	}
	if it.dir == Ascending {
		return compare.Function(it.keys[pos], it.limit) < 0
	}
	return compare.Function(it.keys[pos], it.limit) > 0
}

func (it *IndexIterator[K]) IsEnd() bool {
	return it.stopped || it.pos < 0 || it.pos >= len(it.keys) || !it.withinLimit(it.pos)
}

func (it *IndexIterator[K]) GetKey() K {
	return it.keys[it.pos]
}

func (it *IndexIterator[K]) Advance(dir Direction) bool {
	if it.IsEnd() {
		return false
	}
	it.pos += int(dir)
	return !it.IsEnd()
}

func (it *IndexIterator[K]) Join(key K, dir Direction) bool {
	if it.stopped {
		return false
	}
	if dir == Ascending {
		lo := it.pos
		if lo < 0 {
			lo = 0
		}
		if lo > len(it.keys) {
			lo = len(it.keys)
		}
		idx := sort.Search(len(it.keys)-lo, func(i int) bool {
			return compare.Function(it.keys[lo+i], key) >= 0
		})
		it.pos = lo + idx
	} else {
		hi := it.pos
		if hi > len(it.keys)-1 {
			hi = len(it.keys) - 1
		}
		idx := hi
		for idx >= 0 && compare.Function(it.keys[idx], key) > 0 {
			idx--
		}
		it.pos = idx
	}
	return !it.IsEnd()
}

func (it *IndexIterator[K]) JoinBound(key K) bool {
	return it.Join(key, Descending)
}

func (it *IndexIterator[K]) Peek(key K) (K, bool) {
	clone := *it
	clone.Join(key, Descending)
	if clone.IsEnd() {
		var zero K
		return zero, false
	}
	return clone.GetKey(), true
}

func (it *IndexIterator[K]) BeginTyped(dir Direction) Iterator[K] {
	return NewIndexIterator(it.keys, dir)
}

func (it *IndexIterator[K]) LimitBy(key K, has bool) bool {
	it.hasLimit = has
	it.limit = key
	return !it.IsEnd()
}

func (it *IndexIterator[K]) ScanQueryTree(f func(Iterator[K], int), depth int) {
	f(it, depth)
}

func (it *IndexIterator[K]) Depth() int { return 1 }

func (it *IndexIterator[K]) Stop() { it.stopped = true }

func (it *IndexIterator[K]) FindBy(f func(Iterator[K]) bool) bool {
	return f(it)
}

func (it *IndexIterator[K]) MutateInner(f MutateFunc[K]) (Iterator[K], bool, bool) {
	repl, mutated := f(it)
	if !mutated {
		return it, false, !it.IsEnd()
	}
	if repl == nil {
		return nil, true, false
	}
	return repl, true, !repl.IsEnd()
}

func (it *IndexIterator[K]) Serialize() []byte {
	buf := make([]byte, 0, 2+len(it.keys)*8)
	var tagBuf [2]byte
	binary.LittleEndian.PutUint16(tagBuf[:], uint16(TypeIndex))
	buf = append(buf, tagBuf[:]...)
	for _, k := range it.keys {
		buf = append(buf, []byte(fmt.Sprintf("%v;", k))...)
	}
	return buf
}

func (it *IndexIterator[K]) Signature() [32]byte {
	return sha256.Sum256(it.Serialize())
}

func (it *IndexIterator[K]) CompareTo(other Iterator[K]) float64 {
	if other.TypeTag() == TypeIndex && other.Signature() == it.Signature() {
		return 1
	}
	return similarity[K](it, other)
}

func (it *IndexIterator[K]) TypeTag() TypeTag { return TypeIndex }
