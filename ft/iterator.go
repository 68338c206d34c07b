// Package ft implements the full-text iterator algebra of spec.md §4.3: a
// common Iterator[K] contract plus the index, AND-join, OR/ORX-join, and
// AND-NOT-join combinators, grounded on
// original_source/src/dbzero/core/collections/full_text/FT_Iterator.hpp and
// its AND/ORX/ANDNOT siblings.
package ft

import (
	"crypto/sha256"

	"github.com/dbzero-io/corestore/compare"
)

// Direction is the single-step or seek direction every Iterator operation
// takes, per FT_Iterator's "direction should be +1 or -1".
type Direction int

const (
	// Ascending iterates toward increasing keys.
	Ascending Direction = 1
	// Descending iterates toward decreasing keys.
	Descending Direction = -1
)

// cmpDir orders keys in dir's sense: for Ascending, ordinary less-than; for
// Descending, the comparison is flipped so "join" code can stay direction-
// agnostic.
func cmpDir[K compare.Ordered](a, b K, dir Direction) int {
	c := compare.Function(a, b)
	if dir == Descending {
		return -c
	}
	return c
}

// TypeTag identifies an iterator's concrete kind for serialization, per
// spec.md §4.3's "Serialization writes a type tag".
type TypeTag uint16

const (
	TypeInvalid TypeTag = iota
	TypeIndex
	TypeRangeTree
	TypeJoinAnd
	TypeJoinOr
	TypeJoinAndNot
	TypeCartesian
	TypeTagProduct
)

// MutateFunc is the function MutateInner offers a node to: given the node,
// it returns a replacement iterator and whether a mutation actually
// happened. A nil replacement with mutated=true removes the node (the
// caller is left invalid).
type MutateFunc[K compare.Ordered] func(Iterator[K]) (replacement Iterator[K], mutated bool)

// Iterator is the contract every FT iterator kind implements, per spec.md
// §4.3. GetKey's result is undefined once IsEnd reports true; callers must
// check IsEnd first, matching the original's unchecked getKey().
type Iterator[K compare.Ordered] interface {
	IsEnd() bool
	GetKey() K

	// Advance steps a single item in dir, returning false (and setting
	// IsEnd) if the end of the stream was reached.
	Advance(dir Direction) bool

	// Join advances in dir until GetKey() compares >= join_key in dir's
	// sense, or the stream ends. It does not guarantee an exact match.
	Join(key K, dir Direction) bool

	// JoinBound is Join(key, Descending) restricted to never advance past
	// key, excluding inner branches where doing so is cheaper.
	JoinBound(key K) bool

	// Peek reports the key Join(key, Descending) would yield, without
	// mutating the iterator.
	Peek(key K) (K, bool)

	// BeginTyped returns a fresh iterator over the same underlying data in
	// dir, preserving sub-structure.
	BeginTyped(dir Direction) Iterator[K]

	// LimitBy restricts the stream to never reach key; has=false clears an
	// existing limit. Limits are iterator-local: never cloned or
	// serialized.
	LimitBy(key K, has bool) bool

	ScanQueryTree(f func(it Iterator[K], depth int), depth int)
	Depth() int
	Stop()

	// FindBy visits this node (and, for composites, every inner node),
	// short-circuiting as soon as f returns false.
	FindBy(f func(Iterator[K]) bool) bool

	// MutateInner offers this node, then (for composites) each inner node
	// in turn, to f. It returns the node that now stands in this node's
	// place (the node itself when nothing was replaced, nil when f removed
	// it) plus whether a mutation occurred and whether the tree remains
	// valid afterward.
	MutateInner(f MutateFunc[K]) (replacement Iterator[K], mutated, stillValid bool)

	Serialize() []byte
	Signature() [32]byte

	// CompareTo returns a similarity score in [0,1]: 1 for identical trees
	// (by canonical leaf multiset), interpolating over partial overlap.
	CompareTo(other Iterator[K]) float64

	TypeTag() TypeTag
}

// hashLeaves combines tag and the leaf signatures into one digest, hashing
// the signatures in the order given; it does not sort them, so the digest
// depends on that order.
func hashLeaves(tag TypeTag, sigs [][32]byte) [32]byte {
	h := sha256.New()
	var tagBuf [2]byte
	tagBuf[0] = byte(tag)
	tagBuf[1] = byte(tag >> 8)
	h.Write(tagBuf[:])
	for _, s := range sigs {
		h.Write(s[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// leafMultiset flattens an iterator tree into its leaf signatures, used by
// the default CompareTo implementation.
func leafMultiset[K compare.Ordered](it Iterator[K]) map[[32]byte]int {
	leaves := map[[32]byte]int{}
	it.ScanQueryTree(func(node Iterator[K], depth int) {
		if node.TypeTag() == TypeIndex || node.TypeTag() == TypeRangeTree {
			leaves[node.Signature()]++
		}
	}, 0)
	return leaves
}

// similarity computes the Jaccard-like overlap ratio of two leaf multisets,
// spec.md's "interpolates over partial overlap".
func similarity[K compare.Ordered](a, b Iterator[K]) float64 {
	ma, mb := leafMultiset(a), leafMultiset(b)
	if len(ma) == 0 && len(mb) == 0 {
		return 1
	}
	shared, total := 0, 0
	for sig, n := range ma {
		total += n
		if m, ok := mb[sig]; ok {
			if m < n {
				shared += m
			} else {
				shared += n
			}
		}
	}
	for _, n := range mb {
		total += n
	}
	shared *= 2
	if total == 0 {
		return 1
	}
	return float64(shared) / float64(total)
}
