package varstore

import "github.com/ccoveille/go-safecast"

// DefaultIndexCapacity matches the PEI variable index table size.
const DefaultIndexCapacity = 122

// IndexTable is a sparse index of the live records of one store. Entries
// are distances from the previously indexed record, anchored at the first
// record of the store.
//
// Recording stops for good once the table is full or a distance does not
// fit in 16 bits. A stopped table never reports GoneThrough, so lookups
// keep scanning the tail past the last indexed record.
type IndexTable struct {
	GoneThrough bool

	deltas   []uint16
	capacity int
	anchor   int
	last     int
	stopped  bool
}

func newIndexTable(anchor, capacity int) *IndexTable {
	return &IndexTable{
		deltas:   make([]uint16, 0, capacity),
		capacity: capacity,
		anchor:   anchor,
		last:     anchor,
	}
}

// Len is the number of indexed records.
func (t *IndexTable) Len() int { return len(t.deltas) }

// Stopped reports whether recording has stopped.
func (t *IndexTable) Stopped() bool { return t.stopped }

// RecordAt returns the store offset of the n-th indexed record. It reports
// false when n is outside the table.
func (t *IndexTable) RecordAt(n int) (int, bool) {
	if n < 0 || n >= len(t.deltas) {
		return 0, false
	}
	off := t.anchor
	for _, d := range t.deltas[:n+1] {
		off += int(d)
	}
	return off, true
}

// offsets returns the store offsets of all indexed records in order.
func (t *IndexTable) offsets() []int {
	out := make([]int, len(t.deltas))
	off := t.anchor
	for i, d := range t.deltas {
		off += int(d)
		out[i] = off
	}
	return out
}

// resume returns the offset the tail walk starts from and whether that
// record was already indexed.
func (t *IndexTable) resume() (int, bool) {
	return t.last, len(t.deltas) > 0
}

// update appends a live record found at off past the last indexed one.
func (t *IndexTable) update(off int) {
	if t.stopped {
		return
	}
	delta, err := safecast.ToUint16(off - t.last)
	if err != nil || len(t.deltas) == t.capacity {
		t.stopped = true
		return
	}
	t.deltas = append(t.deltas, delta)
	t.last = off
}

// complete marks the store as fully indexed unless recording stopped.
func (t *IndexTable) complete() {
	if !t.stopped {
		t.GoneThrough = true
	}
}
