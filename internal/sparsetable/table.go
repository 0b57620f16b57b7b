// Package sparsetable implements a per-owner sorted vector of packed pool
// offsets keyed by an 8-bit state tag: the storage a ProcessRecord uses for
// its duration table and its PSS table.
//
// The find/insert algorithm is pinned to ProcessTracker.java's binarySearch/
// addLongData (returning the bitwise complement of the insertion point on a
// miss); growth itself is left to Go's native append, which already amortizes
// the way Java's ArrayUtils.idealIntArraySize hand-rolls it.
package sparsetable

import "procstats/internal/pool"

// Table is a sorted-by-type-tag vector of packed offsets.
type Table struct {
	offsets []pool.Offset
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Len reports the number of entries.
func (t *Table) Len() int {
	return len(t.offsets)
}

// Find performs a binary search over the stored offsets' type tags.
// On a hit it returns the slice index and true. On a miss it returns the
// bitwise complement of the insertion position and false, matching the
// classic Java ArrayUtils.binarySearch convention.
func (t *Table) Find(state uint8) (int, bool) {
	lo, hi := 0, len(t.offsets)
	for lo < hi {
		mid := (lo + hi) / 2
		tag := t.offsets[mid].TypeTag()
		switch {
		case tag == state:
			return mid, true
		case tag < state:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return ^lo, false
}

// Insert allocates slots longs from pool p for state and splices the new
// packed offset into the sorted position, returning it. Insert must only be
// called after a Find miss for the same state; calling it on an existing
// state would create a duplicate entry and break the sorted invariant.
func (t *Table) Insert(p *pool.LongPool, state uint8, slots int) pool.Offset {
	_, insertAt := t.insertPosition(state)
	off := p.Alloc(slots, state)
	t.offsets = append(t.offsets, 0)
	copy(t.offsets[insertAt+1:], t.offsets[insertAt:])
	t.offsets[insertAt] = off
	return off
}

// insertPosition returns (found, position) for state via binary search.
func (t *Table) insertPosition(state uint8) (bool, int) {
	idx, ok := t.Find(state)
	if ok {
		return true, idx
	}
	return false, ^idx
}

// EnumerateFunc is called for each (state, offset) pair in ascending order.
type EnumerateFunc func(state uint8, off pool.Offset)

// Enumerate walks every entry in ascending type-tag order, for dump/serialize.
func (t *Table) Enumerate(f EnumerateFunc) {
	for _, o := range t.offsets {
		f(o.TypeTag(), o)
	}
}

// Offsets returns the raw packed offsets in storage order (already sorted),
// for the codec's direct-write path.
func (t *Table) Offsets() []pool.Offset {
	return t.offsets
}

// Restore rebuilds a table directly from an already-sorted offset slice, used
// by the codec's read path. Callers must have validated every offset first.
func Restore(offsets []pool.Offset) *Table {
	return &Table{offsets: offsets}
}

// SortedAscending reports whether the stored type tags are strictly
// ascending — invariant 3 in the testable-properties list.
func (t *Table) SortedAscending() bool {
	for i := 1; i < len(t.offsets); i++ {
		if t.offsets[i-1].TypeTag() >= t.offsets[i].TypeTag() {
			return false
		}
	}
	return true
}
