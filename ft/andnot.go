package ft

import (
	"container/heap"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/dbzero-io/corestore/compare"
)

// ErrJoinBoundUnsupported mirrors FT_ANDNOTIterator::joinBound's "not
// supported" exception: an AND-NOT join can't guarantee never overshooting
// a bound key without re-checking every subtrahend, so it isn't
// implemented. No function in this package returns it:
// AndNotIterator.JoinBound reports the condition by returning false.
var ErrJoinBoundUnsupported = errors.New("ft: JoinBound is not supported on an AndNotIterator")

type andNotHeap[K compare.Ordered] struct {
	entries []*orEntry[K]
	dir     Direction
}

func (h andNotHeap[K]) Len() int { return len(h.entries) }
func (h andNotHeap[K]) Less(i, j int) bool {
	return cmpDir(h.entries[i].key, h.entries[j].key, h.dir) < 0
}
func (h andNotHeap[K]) Swap(i, j int) { h.entries[i], h.entries[j] = h.entries[j], h.entries[i] }
func (h *andNotHeap[K]) Push(x any)   { h.entries = append(h.entries, x.(*orEntry[K])) }
func (h *andNotHeap[K]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	h.entries = old[:n-1]
	return e
}

// AndNotIterator yields the base iterator's keys minus every key any
// subtrahend iterator produces, grounded on FT_ANDNOTIterator.cpp. The
// subtrahends are tracked in a key-ordered heap so inResult only has to
// inspect the heap's front.
type AndNotIterator[K compare.Ordered] struct {
	base        Iterator[K]
	subtrahends []Iterator[K]
	dir         Direction
	end         bool
	heap        andNotHeap[K]
}

// NewAndNotIterator builds base minus the union of subtrahends, all
// assumed to already iterate in dir.
func NewAndNotIterator[K compare.Ordered](base Iterator[K], subtrahends []Iterator[K], dir Direction) *AndNotIterator[K] {
	a := &AndNotIterator[K]{base: base, subtrahends: subtrahends, dir: dir}
	a.updateWithHeap()
	return a
}

func (a *AndNotIterator[K]) updateWithHeap() {
	a.heap = andNotHeap[K]{dir: a.dir}
	for _, it := range a.subtrahends {
		if !it.IsEnd() {
			a.heap.entries = append(a.heap.entries, &orEntry[K]{it: it, key: it.GetKey()})
		}
	}
	heap.Init(&a.heap)
	if a.base.IsEnd() {
		a.end = true
		return
	}
	if !a.inResult(a.base.GetKey(), a.dir) {
		a.next(a.dir)
	}
}

// inResult pops/advances subtrahend heap entries below key (in dir's
// sense), returning false if any equals key.
func (a *AndNotIterator[K]) inResult(key K, dir Direction) bool {
	for a.heap.Len() > 0 {
		top := a.heap.entries[0]
		c := cmpDir(top.key, key, dir)
		if c == 0 {
			return false
		}
		if c > 0 {
			break
		}
		if top.it.Join(key, dir) {
			top.key = top.it.GetKey()
			heap.Fix(&a.heap, 0)
		} else {
			heap.Pop(&a.heap)
		}
	}
	return true
}

func (a *AndNotIterator[K]) next(dir Direction) bool {
	notEnd := false
	for {
		if !a.base.Advance(dir) {
			notEnd = false
			break
		}
		notEnd = true
		if a.inResult(a.base.GetKey(), dir) {
			break
		}
	}
	if !notEnd {
		a.end = true
	}
	return notEnd
}

func (a *AndNotIterator[K]) IsEnd() bool { return a.end }
func (a *AndNotIterator[K]) GetKey() K   { return a.base.GetKey() }

func (a *AndNotIterator[K]) Advance(dir Direction) bool {
	if a.end {
		return false
	}
	return a.next(dir)
}

func (a *AndNotIterator[K]) Join(key K, dir Direction) bool {
	if !a.base.Join(key, dir) {
		a.end = true
		return false
	}
	if !a.inResult(a.base.GetKey(), dir) {
		return a.next(dir)
	}
	return true
}

// JoinBound always fails: see ErrJoinBoundUnsupported.
func (a *AndNotIterator[K]) JoinBound(key K) bool {
	a.end = true
	return false
}

func (a *AndNotIterator[K]) Peek(key K) (K, bool) {
	clone := a.clone()
	clone.Join(key, Descending)
	if clone.IsEnd() {
		var zero K
		return zero, false
	}
	return clone.GetKey(), true
}

func (a *AndNotIterator[K]) clone() *AndNotIterator[K] {
	subtrahends := make([]Iterator[K], len(a.subtrahends))
	copy(subtrahends, a.subtrahends)
	c := &AndNotIterator[K]{base: a.base, subtrahends: subtrahends, dir: a.dir}
	c.updateWithHeap()
	return c
}

func (a *AndNotIterator[K]) BeginTyped(dir Direction) Iterator[K] {
	sub := make([]Iterator[K], len(a.subtrahends))
	for i, it := range a.subtrahends {
		sub[i] = it.BeginTyped(dir)
	}
	return NewAndNotIterator(a.base.BeginTyped(dir), sub, dir)
}

func (a *AndNotIterator[K]) LimitBy(key K, has bool) bool {
	if !a.base.LimitBy(key, has) {
		a.end = true
		return false
	}
	kept := a.subtrahends[:0]
	for _, it := range a.subtrahends {
		if it.LimitBy(key, has) {
			kept = append(kept, it)
		}
	}
	a.subtrahends = kept
	a.updateWithHeap()
	return !a.end
}

func (a *AndNotIterator[K]) ScanQueryTree(f func(Iterator[K], int), depth int) {
	f(a, depth)
	a.base.ScanQueryTree(f, depth+1)
	for _, it := range a.subtrahends {
		it.ScanQueryTree(f, depth+1)
	}
}

func (a *AndNotIterator[K]) Depth() int {
	max := a.base.Depth()
	for _, it := range a.subtrahends {
		if d := it.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

func (a *AndNotIterator[K]) Stop() { a.end = true }

func (a *AndNotIterator[K]) FindBy(f func(Iterator[K]) bool) bool {
	if !f(a) {
		return false
	}
	if !a.base.FindBy(f) {
		return false
	}
	for _, it := range a.subtrahends {
		if !it.FindBy(f) {
			return false
		}
	}
	return true
}

func (a *AndNotIterator[K]) MutateInner(f MutateFunc[K]) (Iterator[K], bool, bool) {
	if repl, mutated := f(a); mutated {
		if repl == nil {
			return nil, true, false
		}
		return repl, true, !repl.IsEnd()
	}
	mutated := false
	repl, m, valid := a.base.MutateInner(f)
	if m {
		mutated = true
		a.base = repl
	}
	if !valid {
		a.end = true
		return a, mutated, false
	}
	for i, it := range a.subtrahends {
		r, m2, _ := it.MutateInner(f)
		if m2 {
			mutated = true
			a.subtrahends[i] = r
		}
	}
	a.updateWithHeap()
	return a, mutated, !a.end
}

func (a *AndNotIterator[K]) Serialize() []byte {
	buf := make([]byte, 0, 16)
	var tagBuf [2]byte
	binary.LittleEndian.PutUint16(tagBuf[:], uint16(TypeJoinAndNot))
	buf = append(buf, tagBuf[:]...)
	buf = append(buf, byte(a.dir))
	buf = append(buf, a.base.Serialize()...)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(a.subtrahends)))
	buf = append(buf, countBuf[:]...)
	for _, it := range a.subtrahends {
		buf = append(buf, it.Serialize()...)
	}
	return buf
}

func (a *AndNotIterator[K]) Signature() [32]byte {
	return sha256.Sum256(a.Serialize())
}

func (a *AndNotIterator[K]) CompareTo(other Iterator[K]) float64 {
	if other.TypeTag() != TypeJoinAndNot {
		return 1
	}
	return similarity[K](a, other)
}

func (a *AndNotIterator[K]) TypeTag() TypeTag { return TypeJoinAndNot }
