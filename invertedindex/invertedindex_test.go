package invertedindex

import (
	"testing"

	"github.com/dbzero-io/corestore/dram"
)

func newTestIndex(t *testing.T) *Index[string] {
	t.Helper()
	return New[string](dram.NewSpace(4096))
}

func TestGetInvertedListCreatesEmptyListOnFirstAccess(t *testing.T) {
	ix := newTestIndex(t)
	list := ix.GetInvertedList("alpha")
	if list.Len() != 0 {
		t.Fatalf("expected an empty list, got %d entries", list.Len())
	}
	if _, ok := ix.TryGetExistingInvertedList("alpha"); !ok {
		t.Fatal("expected the newly created list to now exist")
	}
}

func TestTryGetExistingInvertedListReportsAbsence(t *testing.T) {
	ix := newTestIndex(t)
	if _, ok := ix.TryGetExistingInvertedList("missing"); ok {
		t.Fatal("expected no list for an untouched tag")
	}
}

func TestSetInvertedListPersistsAndReloads(t *testing.T) {
	ix := newTestIndex(t)
	list := NewPostingList()
	list.Insert(10)
	list.Insert(20)
	ix.SetInvertedList("beta", list)

	ix.RemoveFromCache("beta")
	reloaded, ok := ix.TryGetExistingInvertedList("beta")
	if !ok {
		t.Fatal("expected the persisted list to reload after cache eviction")
	}
	if !reloaded.Contains(10) || !reloaded.Contains(20) {
		t.Fatalf("expected reloaded values 10 and 20, got %v", reloaded.values)
	}
}

func TestBatchOperationFlushInsertsAndReports(t *testing.T) {
	ix := newTestIndex(t)
	b := ix.AcquireBatch()
	defer b.Release()

	b.Add("tag1", 1)
	b.Add("tag1", 2)
	b.Add("tag2", 100)

	result := b.Flush()
	if result.TotalLists != 2 || result.NewLists != 2 || result.RemovedLists != 0 {
		t.Fatalf("unexpected flush result: %+v", result)
	}

	list1, ok := ix.TryGetExistingInvertedList("tag1")
	if !ok || list1.Len() != 2 {
		t.Fatalf("expected tag1 to have 2 entries, got %+v", list1)
	}
}

func TestBatchOperationFlushRemovesEmptyLists(t *testing.T) {
	ix := newTestIndex(t)
	b := ix.AcquireBatch()
	b.Add("tag1", 1)
	b.Flush()
	b.Release()

	b2 := ix.AcquireBatch()
	defer b2.Release()
	b2.Remove("tag1", 1)
	result := b2.Flush()

	if result.RemovedLists != 1 {
		t.Fatalf("expected the now-empty list to be removed, got %+v", result)
	}
	if _, ok := ix.TryGetExistingInvertedList("tag1"); ok {
		t.Fatal("expected tag1 to no longer exist")
	}
}

func TestAcquireBatchSharesActiveAccumulator(t *testing.T) {
	ix := newTestIndex(t)
	b1 := ix.AcquireBatch()
	b2 := ix.AcquireBatch()
	if b1 != b2 {
		t.Fatal("expected concurrent acquires to share one accumulator")
	}
	b1.Release()
	b2.Release()

	b3 := ix.AcquireBatch()
	defer b3.Release()
	if b3 == b1 {
		t.Fatal("expected a fresh accumulator once references drop to zero")
	}
}
