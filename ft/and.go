package ft

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/dbzero-io/corestore/compare"
)

// AndIterator intersects N inner iterators via leader rotation: the front
// ("leader") of joinable drives the stream, every other iterator is joined
// to the leader's key; whichever one lands furthest ahead becomes the new
// leader and the rest rejoin, grounded on FT_ANDIterator.cpp's joinAll/_next.
type AndIterator[K compare.Ordered] struct {
	joinable   []Iterator[K]
	dir        Direction
	end        bool
	joinKey    K
	uniqueKeys bool
}

// NewAndIterator builds the intersection of inner, which must all already
// share dir. uniqueKeys skips repeated-key runs on Advance, matching the
// original's UniqueKeys template parameter.
func NewAndIterator[K compare.Ordered](inner []Iterator[K], dir Direction, uniqueKeys bool) *AndIterator[K] {
	a := &AndIterator[K]{joinable: append([]Iterator[K]{}, inner...), dir: dir, uniqueKeys: uniqueKeys}
	for _, it := range a.joinable {
		if it.IsEnd() {
			a.end = true
			return a
		}
	}
	a.joinAll()
	return a
}

func (a *AndIterator[K]) IsEnd() bool { return a.end || len(a.joinable) == 0 }
func (a *AndIterator[K]) GetKey() K   { return a.joinKey }

func (a *AndIterator[K]) setEnd() { a.end = true }

// joinAll aligns every joinable iterator on the current leader's key,
// rotating a diverging iterator to the front and restarting until all
// agree or one runs out.
func (a *AndIterator[K]) joinAll() {
	if len(a.joinable) == 0 {
		a.setEnd()
		return
	}
	if a.joinable[0].IsEnd() {
		a.setEnd()
		return
	}
	a.joinKey = a.joinable[0].GetKey()
	i := 1
	for i < len(a.joinable) {
		it := a.joinable[i]
		if it.IsEnd() {
			a.setEnd()
			return
		}
		if !it.Join(a.joinKey, a.dir) {
			a.setEnd()
			return
		}
		key := it.GetKey()
		if compare.Function(key, a.joinKey) != 0 {
			a.joinKey = key
			// rotate it to the front as the new leader and restart from 1.
			a.joinable[0], a.joinable[i] = it, a.joinable[0]
			i = 1
			continue
		}
		i++
	}
}

func (a *AndIterator[K]) Advance(dir Direction) bool {
	if a.IsEnd() {
		return false
	}
	if a.uniqueKeys {
		a.nextUnique()
	} else {
		a.next()
	}
	return !a.IsEnd()
}

func (a *AndIterator[K]) next() {
	lead := a.joinable[0]
	lead.Advance(a.dir)
	if lead.IsEnd() || compare.Function(lead.GetKey(), a.joinKey) != 0 {
		a.joinable[0], a.joinable[len(a.joinable)-1] = a.joinable[len(a.joinable)-1], a.joinable[0]
		lead = a.joinable[0]
		if lead.IsEnd() {
			a.setEnd()
			return
		}
		if compare.Function(lead.GetKey(), a.joinKey) != 0 {
			a.joinAll()
		}
	}
}

func (a *AndIterator[K]) nextUnique() {
	lead := a.joinable[0]
	for {
		if !lead.Advance(a.dir) {
			a.setEnd()
			return
		}
		if compare.Function(lead.GetKey(), a.joinKey) != 0 {
			break
		}
	}
	a.joinAll()
}

func (a *AndIterator[K]) Join(key K, dir Direction) bool {
	if len(a.joinable) == 0 {
		a.setEnd()
		return false
	}
	if a.joinable[0].Join(key, dir) {
		a.joinAll()
		return !a.IsEnd()
	}
	a.setEnd()
	return false
}

func (a *AndIterator[K]) JoinBound(key K) bool {
	for _, it := range a.joinable {
		it.JoinBound(key)
		a.joinKey = it.GetKey()
		if compare.Function(a.joinKey, key) != 0 {
			break
		}
	}
	return !a.IsEnd()
}

func (a *AndIterator[K]) Peek(key K) (K, bool) {
	leadKey := key
	leadIdx := -1
	for i, it := range a.joinable {
		pk, ok := it.Peek(leadKey)
		if !ok {
			var zero K
			return zero, false
		}
		if compare.Function(pk, leadKey) < 0 {
			leadKey = pk
			leadIdx = i
		}
	}
	if leadIdx > 0 {
		a.joinable[0], a.joinable[leadIdx] = a.joinable[leadIdx], a.joinable[0]
	}
	return leadKey, true
}

func (a *AndIterator[K]) BeginTyped(dir Direction) Iterator[K] {
	inner := make([]Iterator[K], len(a.joinable))
	for i, it := range a.joinable {
		inner[i] = it.BeginTyped(dir)
	}
	return NewAndIterator(inner, dir, a.uniqueKeys)
}

func (a *AndIterator[K]) LimitBy(key K, has bool) bool {
	for _, it := range a.joinable {
		if !it.LimitBy(key, has) {
			a.setEnd()
			return false
		}
	}
	return true
}

func (a *AndIterator[K]) ScanQueryTree(f func(Iterator[K], int), depth int) {
	f(a, depth)
	for _, it := range a.joinable {
		it.ScanQueryTree(f, depth+1)
	}
}

func (a *AndIterator[K]) Depth() int {
	max := 0
	for _, it := range a.joinable {
		if d := it.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

func (a *AndIterator[K]) Stop() { a.setEnd() }

func (a *AndIterator[K]) FindBy(f func(Iterator[K]) bool) bool {
	if !f(a) {
		return false
	}
	for _, it := range a.joinable {
		if !it.FindBy(f) {
			return false
		}
	}
	return true
}

func (a *AndIterator[K]) MutateInner(f MutateFunc[K]) (Iterator[K], bool, bool) {
	if repl, mutated := f(a); mutated {
		if repl == nil {
			return nil, true, false
		}
		return repl, true, !repl.IsEnd()
	}
	mutated, end := false, false
	for i, it := range a.joinable {
		repl, m, valid := it.MutateInner(f)
		if m {
			mutated = true
			a.joinable[i] = repl
		}
		if !valid {
			end = true
			break
		}
	}
	if end {
		a.setEnd()
	} else {
		a.joinAll()
	}
	return a, mutated, !end
}

func (a *AndIterator[K]) Serialize() []byte {
	buf := make([]byte, 0, 16)
	var tagBuf [2]byte
	binary.LittleEndian.PutUint16(tagBuf[:], uint16(TypeJoinAnd))
	buf = append(buf, tagBuf[:]...)
	if a.uniqueKeys {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(a.dir))
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(a.joinable)))
	buf = append(buf, countBuf[:]...)
	for _, it := range a.joinable {
		buf = append(buf, it.Serialize()...)
	}
	return buf
}

func (a *AndIterator[K]) Signature() [32]byte {
	return sha256.Sum256(a.Serialize())
}

func (a *AndIterator[K]) CompareTo(other Iterator[K]) float64 {
	if other.TypeTag() != TypeJoinAnd {
		if len(a.joinable) == 1 {
			return a.joinable[0].CompareTo(other)
		}
		return 1
	}
	return similarity[K](a, other)
}

func (a *AndIterator[K]) TypeTag() TypeTag { return TypeJoinAnd }
