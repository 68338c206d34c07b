package list

import "testing"

func TestListPushFront(t *testing.T) {
	l := new(List[int])

	for i := 0; i < 5; i++ {
		l.PushFront(i)
	}

	assertValues(t, l, 4, 3, 2, 1, 0)
}

func TestListPushBack(t *testing.T) {
	l := new(List[int])

	for i := 0; i < 5; i++ {
		l.PushBack(i)
	}

	assertValues(t, l, 0, 1, 2, 3, 4)
}

func TestListMoveToFront(t *testing.T) {
	l := new(List[string])
	a := l.PushBack("a")
	l.PushBack("b")
	l.PushBack("c")

	l.MoveToFront(a)
	assertValues(t, l, "a", "b", "c")

	c := l.Back()
	l.MoveToFront(c)
	assertValues(t, l, "c", "a", "b")
}

func TestListRemove(t *testing.T) {
	l := new(List[int])
	e1 := l.PushBack(1)
	e2 := l.PushBack(2)
	e3 := l.PushBack(3)

	if v := l.Remove(e2); v != 2 {
		t.Fatalf("wrong value removed: %d", v)
	}
	assertValues(t, l, 1, 3)

	l.Remove(e1)
	l.Remove(e3)

	if l.Len() != 0 {
		t.Fatalf("expected empty list, got length %d", l.Len())
	}
}

func assertValues[V comparable](t *testing.T, l *List[V], want ...V) {
	t.Helper()

	if n := l.Len(); n != len(want) {
		t.Fatalf("wrong list length: want=%d got=%d", len(want), n)
	}

	i := 0
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value != want[i] {
			t.Fatalf("wrong value at index %d: want=%v got=%v", i, want[i], e.Value)
		}
		i++
	}
	if i != len(want) {
		t.Fatalf("iterated %d elements, want %d", i, len(want))
	}
}
