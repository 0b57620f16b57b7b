package sparsetable

import (
	"testing"

	"procstats/internal/pool"
)

func TestFindMissReturnsComplement(t *testing.T) {
	tbl := New()
	idx, ok := tbl.Find(5)
	if ok {
		t.Fatalf("expected miss on empty table")
	}
	if ^idx != 0 {
		t.Fatalf("expected insertion point 0, got %d", ^idx)
	}
}

func TestInsertKeepsSortedAscending(t *testing.T) {
	p := pool.New()
	tbl := New()
	for _, state := range []uint8{5, 1, 9, 3} {
		if _, ok := tbl.Find(state); ok {
			t.Fatalf("unexpected hit for state %d", state)
		}
		tbl.Insert(p, state, 1)
	}
	if !tbl.SortedAscending() {
		t.Fatalf("table not sorted ascending")
	}
	if tbl.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", tbl.Len())
	}

	idx, ok := tbl.Find(3)
	if !ok {
		t.Fatalf("expected hit for state 3")
	}
	if tbl.offsets[idx].TypeTag() != 3 {
		t.Fatalf("wrong entry found")
	}
}

func TestEnumerateOrder(t *testing.T) {
	p := pool.New()
	tbl := New()
	for _, state := range []uint8{20, 4, 12} {
		tbl.Insert(p, state, 1)
	}
	var seen []uint8
	tbl.Enumerate(func(state uint8, off pool.Offset) {
		seen = append(seen, state)
	})
	want := []uint8{4, 12, 20}
	for i, s := range want {
		if seen[i] != s {
			t.Fatalf("enumerate order mismatch: got %v want %v", seen, want)
		}
	}
}
