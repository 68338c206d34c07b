package ft

import (
	"container/heap"
	"crypto/sha256"
	"encoding/binary"

	"github.com/dbzero-io/corestore/compare"
)

// orEntry is one inner iterator tracked by an OrIterator's heap, caching its
// current key so the heap doesn't re-read through the interface on every
// comparison.
type orEntry[K compare.Ordered] struct {
	it  Iterator[K]
	key K
}

// orHeap orders entries so the item nearest the front in dir sorts first;
// no heap/priority-queue library exists anywhere in the reference corpus
// (see DESIGN.md's ft entry), so this uses container/heap directly.
type orHeap[K compare.Ordered] struct {
	entries []*orEntry[K]
	dir     Direction
}

func (h orHeap[K]) Len() int { return len(h.entries) }
func (h orHeap[K]) Less(i, j int) bool {
	return cmpDir(h.entries[i].key, h.entries[j].key, h.dir) < 0
}
func (h orHeap[K]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *orHeap[K]) Push(x any)   { h.entries = append(h.entries, x.(*orEntry[K])) }
func (h *orHeap[K]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

// OrIterator unions N inner iterators via a key-ordered heap: the front of
// the heap is the current key. isORX selects exclusive-OR semantics (every
// heap entry sharing the emitted key is popped/advanced together so the
// union never repeats a key), grounded on FT_ORXIterator.{hpp,cpp}.
type OrIterator[K compare.Ordered] struct {
	inner   []Iterator[K]
	dir     Direction
	isORX   bool
	end     bool
	joinKey K
	heap    orHeap[K]
}

// NewOrIterator builds the union of inner, all assumed to already iterate
// in dir.
func NewOrIterator[K compare.Ordered](inner []Iterator[K], dir Direction, isORX bool) *OrIterator[K] {
	o := &OrIterator[K]{inner: inner, dir: dir, isORX: isORX}
	o.initHeap()
	return o
}

func (o *OrIterator[K]) initHeap() {
	o.heap = orHeap[K]{dir: o.dir}
	for _, it := range o.inner {
		if !it.IsEnd() {
			o.heap.entries = append(o.heap.entries, &orEntry[K]{it: it, key: it.GetKey()})
		}
	}
	heap.Init(&o.heap)
	if o.heap.Len() == 0 {
		o.end = true
		return
	}
	o.joinKey = o.heap.entries[0].key
}

func (o *OrIterator[K]) IsEnd() bool { return o.end }
func (o *OrIterator[K]) GetKey() K   { return o.joinKey }

func (o *OrIterator[K]) setEnd() { o.end = true }

// advanceFront pops the heap front, advances its iterator, and re-pushes it
// unless it has ended.
func (o *OrIterator[K]) advanceFront() {
	e := heap.Pop(&o.heap).(*orEntry[K])
	if e.it.Advance(o.dir) {
		e.key = e.it.GetKey()
		heap.Push(&o.heap, e)
	}
}

func (o *OrIterator[K]) Advance(dir Direction) bool {
	if o.end {
		return false
	}
	if o.isORX {
		key := o.heap.entries[0].key
		o.advanceFront()
		for o.heap.Len() > 0 && compare.Function(o.heap.entries[0].key, key) == 0 {
			o.advanceFront()
		}
	} else {
		o.advanceFront()
	}
	if o.heap.Len() == 0 {
		o.setEnd()
		return false
	}
	o.joinKey = o.heap.entries[0].key
	return true
}

func (o *OrIterator[K]) Join(key K, dir Direction) bool {
	for o.heap.Len() > 0 && cmpDir(o.heap.entries[0].key, key, dir) < 0 {
		e := o.heap.entries[0]
		if e.it.Join(key, dir) {
			e.key = e.it.GetKey()
			heap.Fix(&o.heap, 0)
		} else {
			heap.Pop(&o.heap)
		}
	}
	if o.heap.Len() == 0 {
		o.setEnd()
		return false
	}
	o.joinKey = o.heap.entries[0].key
	return true
}

func (o *OrIterator[K]) JoinBound(key K) bool {
	for _, it := range o.inner {
		it.JoinBound(key)
		k := it.GetKey()
		if compare.Function(k, o.joinKey) < 0 {
			o.joinKey = k
		}
		if compare.Function(k, key) == 0 {
			break
		}
	}
	o.initHeap()
	return !o.end
}

func (o *OrIterator[K]) Peek(key K) (K, bool) {
	var best K
	found := false
	for _, it := range o.inner {
		pk, ok := it.Peek(key)
		if ok && (!found || compare.Function(pk, best) > 0) {
			best = pk
			found = true
		}
	}
	return best, found
}

func (o *OrIterator[K]) BeginTyped(dir Direction) Iterator[K] {
	inner := make([]Iterator[K], len(o.inner))
	for i, it := range o.inner {
		inner[i] = it.BeginTyped(dir)
	}
	return NewOrIterator(inner, dir, o.isORX)
}

func (o *OrIterator[K]) LimitBy(key K, has bool) bool {
	alive := false
	for _, it := range o.inner {
		if it.LimitBy(key, has) {
			alive = true
		}
	}
	o.initHeap()
	if !alive {
		o.setEnd()
	}
	return !o.end
}

func (o *OrIterator[K]) ScanQueryTree(f func(Iterator[K], int), depth int) {
	f(o, depth)
	for _, it := range o.inner {
		it.ScanQueryTree(f, depth+1)
	}
}

func (o *OrIterator[K]) Depth() int {
	max := 0
	for _, it := range o.inner {
		if d := it.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

func (o *OrIterator[K]) Stop() { o.setEnd() }

func (o *OrIterator[K]) FindBy(f func(Iterator[K]) bool) bool {
	if !f(o) {
		return false
	}
	for _, it := range o.inner {
		if !it.FindBy(f) {
			return false
		}
	}
	return true
}

func (o *OrIterator[K]) MutateInner(f MutateFunc[K]) (Iterator[K], bool, bool) {
	if repl, mutated := f(o); mutated {
		if repl == nil {
			return nil, true, false
		}
		return repl, true, !repl.IsEnd()
	}
	mutated, anyAlive := false, false
	for i, it := range o.inner {
		repl, m, valid := it.MutateInner(f)
		if m {
			mutated = true
			o.inner[i] = repl
		}
		if valid {
			anyAlive = true
		}
	}
	o.initHeap()
	if !anyAlive {
		o.setEnd()
	}
	return o, mutated, !o.end
}

func (o *OrIterator[K]) Serialize() []byte {
	tag := TypeJoinOr
	buf := make([]byte, 0, 16)
	var tagBuf [2]byte
	binary.LittleEndian.PutUint16(tagBuf[:], uint16(tag))
	buf = append(buf, tagBuf[:]...)
	if o.isORX {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(o.dir))
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(o.inner)))
	buf = append(buf, countBuf[:]...)
	for _, it := range o.inner {
		buf = append(buf, it.Serialize()...)
	}
	return buf
}

func (o *OrIterator[K]) Signature() [32]byte {
	return sha256.Sum256(o.Serialize())
}

func (o *OrIterator[K]) CompareTo(other Iterator[K]) float64 {
	if other.TypeTag() != TypeJoinOr {
		return 1
	}
	return similarity[K](o, other)
}

func (o *OrIterator[K]) TypeTag() TypeTag { return TypeJoinOr }
