package ft

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func collect(it Iterator[int]) []int {
	var out []int
	for !it.IsEnd() {
		out = append(out, it.GetKey())
		if !it.Advance(Ascending) {
			break
		}
	}
	return out
}

func idx(keys ...int) *IndexIterator[int] {
	return NewIndexIterator(keys, Ascending)
}

func TestIndexIteratorWalksSortedKeys(t *testing.T) {
	it := idx(1, 3, 5, 7)
	got := collect(it)
	want := []int{1, 3, 5, 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("walk order mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexIteratorJoinAscendingFindsCeiling(t *testing.T) {
	it := idx(1, 3, 5, 7)
	if !it.Join(4, Ascending) {
		t.Fatal("expected join to succeed")
	}
	if it.GetKey() != 5 {
		t.Fatalf("expected ceiling 5, got %d", it.GetKey())
	}
}

func TestIndexIteratorJoinDescendingFindsFloor(t *testing.T) {
	it := NewIndexIterator([]int{1, 3, 5, 7}, Descending)
	if !it.Join(4, Descending) {
		t.Fatal("expected join to succeed")
	}
	if it.GetKey() != 3 {
		t.Fatalf("expected floor 3, got %d", it.GetKey())
	}
}

func TestIndexIteratorJoinPastEndSetsEnd(t *testing.T) {
	it := idx(1, 3, 5)
	if it.Join(10, Ascending) {
		t.Fatal("expected join past the last key to fail")
	}
	if !it.IsEnd() {
		t.Fatal("expected iterator to report end")
	}
}

func TestIndexIteratorLimitByExcludesBoundary(t *testing.T) {
	it := idx(1, 3, 5, 7)
	it.LimitBy(5, true)
	got := collect(it)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("expected [1 3], got %v", got)
	}
}

func TestAndIteratorIntersectsStreams(t *testing.T) {
	a := NewAndIterator([]Iterator[int]{
		idx(1, 2, 3, 4, 5),
		idx(2, 4, 6),
		idx(2, 3, 4, 8),
	}, Ascending, true)

	got := collect(a)
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Fatalf("expected [2 4], got %v", got)
	}
}

func TestAndIteratorEmptyWhenAnyStreamEmpty(t *testing.T) {
	a := NewAndIterator([]Iterator[int]{idx(1, 2), idx()}, Ascending, true)
	if !a.IsEnd() {
		t.Fatal("expected the intersection with an empty stream to be empty")
	}
}

func TestOrIteratorUnionsStreamsAscending(t *testing.T) {
	o := NewOrIterator([]Iterator[int]{idx(1, 3, 5), idx(2, 3, 6)}, Ascending, false)
	got := collect(o)
	want := []int{1, 2, 3, 3, 5, 6}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("union order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrxIteratorDedupesSharedKeys(t *testing.T) {
	o := NewOrIterator([]Iterator[int]{idx(1, 3, 5), idx(2, 3, 6)}, Ascending, true)
	got := collect(o)
	want := []int{1, 2, 3, 5, 6}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("deduped union mismatch (-want +got):\n%s", diff)
	}
}

func TestAndNotIteratorExcludesSubtrahendKeys(t *testing.T) {
	base := idx(1, 2, 3, 4, 5)
	sub := idx(2, 4)
	a := NewAndNotIterator[int](base, []Iterator[int]{sub}, Ascending)
	got := collect(a)
	want := []int{1, 3, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exclusion mismatch (-want +got):\n%s", diff)
	}
}

func TestAndNotIteratorJoinBoundUnsupported(t *testing.T) {
	a := NewAndNotIterator[int](idx(1, 2, 3), nil, Ascending)
	if a.JoinBound(2) {
		t.Fatal("expected JoinBound to fail on an AndNotIterator")
	}
}

func TestCartesianProductCarriesIntoHigherComponents(t *testing.T) {
	cp := NewCartesianProduct([]Iterator[int]{idx(1, 2), idx(10, 20)}, Ascending)
	var tuples [][2]int
	for !cp.IsEnd() {
		k := cp.GetKey()
		tuples = append(tuples, [2]int{k[0], k[1]})
		if !cp.Advance() {
			break
		}
	}
	want := [][2]int{{1, 10}, {2, 10}, {1, 20}, {2, 20}}
	if diff := cmp.Diff(want, tuples); diff != "" {
		t.Fatalf("cartesian product mismatch (-want +got):\n%s", diff)
	}
}

func TestTagProductSkipsTagsWithNoIndex(t *testing.T) {
	tags := idx(1, 2, 3)
	factory := func(tag int, dir Direction) Iterator[int] {
		if tag == 2 {
			return nil
		}
		return NewIndexIterator([]int{tag * 100, tag*100 + 1}, dir)
	}
	tp := NewTagProduct[int](tags, factory, Ascending)
	var pairs []TagPair[int]
	for !tp.IsEnd() {
		pairs = append(pairs, tp.GetKey())
		if !tp.Advance() {
			break
		}
	}
	want := []TagPair[int]{{1, 100}, {1, 101}, {3, 300}, {3, 301}}
	if diff := cmp.Diff(want, pairs); diff != "" {
		t.Fatalf("tag product mismatch (-want +got):\n%s", diff)
	}
}

func TestSignatureIsStableAndTypeSensitive(t *testing.T) {
	a := idx(1, 2, 3)
	b := idx(1, 2, 3)
	if a.Signature() != b.Signature() {
		t.Fatal("expected identical key sequences to produce identical signatures")
	}
	c := idx(1, 2, 4)
	if a.Signature() == c.Signature() {
		t.Fatal("expected different key sequences to produce different signatures")
	}
}

func TestCompareToIdenticalTreesReturnsOne(t *testing.T) {
	a := NewAndIterator([]Iterator[int]{idx(1, 2, 3), idx(2, 3, 4)}, Ascending, true)
	b := NewAndIterator([]Iterator[int]{idx(1, 2, 3), idx(2, 3, 4)}, Ascending, true)
	if got := a.CompareTo(b); got != 1 {
		t.Fatalf("expected identical trees to compare to 1, got %v", got)
	}
}
