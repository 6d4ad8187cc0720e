package prefetch

// NotFound is returned by table lookups that find no live row.
const NotFound = -1

// Row is one slot of a Table. A row with Valid unset is empty regardless of
// its other fields.
type Row[E any] struct {
	Tag   uint64
	Valid bool
	Entry E
}

// Table is a fixed-capacity table of rows keyed by tag. It can be used
// direct-mapped, by indexing with Slot, or fully associative, with Find and
// Allocate. When an associative insert finds the table full, the victim is
// chosen round-robin and handed to the eviction callback before its slot is
// reused.
type Table[E any] struct {
	rows    []Row[E]
	next    int
	bits    uint
	onEvict func(i int, row *Row[E])
}

// NewTable allocates a table with capacity empty rows.
func NewTable[E any](capacity int) *Table[E] {
	return &Table[E]{
		rows: make([]Row[E], capacity),
		bits: Log2(uint64(capacity)),
	}
}

// OnEvict registers fn to be called with a live row, and its index, that is
// about to be replaced by Allocate.
func (t *Table[E]) OnEvict(fn func(i int, row *Row[E])) {
	t.onEvict = fn
}

// Len returns the capacity of the table.
func (t *Table[E]) Len() int {
	return len(t.rows)
}

// At returns the row at index i.
func (t *Table[E]) At(i int) *Row[E] {
	return &t.rows[i]
}

// SlotIndex returns the direct-mapped index for key. The capacity must be a
// power of 2.
func (t *Table[E]) SlotIndex(key uint64) int {
	return Index(key, t.bits)
}

// Slot returns the direct-mapped row for key.
func (t *Table[E]) Slot(key uint64) *Row[E] {
	return &t.rows[t.SlotIndex(key)]
}

// Find returns the index of the live row tagged tag, or NotFound.
func (t *Table[E]) Find(tag uint64) int {
	for i := range t.rows {
		if t.rows[i].Valid && t.rows[i].Tag == tag {
			return i
		}
	}
	return NotFound
}

// FindEmpty returns the index of the first empty row, or NotFound.
func (t *Table[E]) FindEmpty() int {
	for i := range t.rows {
		if !t.rows[i].Valid {
			return i
		}
	}
	return NotFound
}

// Allocate claims a row for tag and returns its index. It uses the first
// empty row if one exists, and otherwise evicts the round-robin victim. The
// returned row is valid, tagged, and holds a zero Entry.
func (t *Table[E]) Allocate(tag uint64) (index int, evicted bool) {
	index = t.FindEmpty()
	if index == NotFound {
		index = t.next
		t.next = (t.next + 1) % len(t.rows)
		evicted = true
		if t.onEvict != nil {
			t.onEvict(index, &t.rows[index])
		}
	}

	var zero E
	t.rows[index] = Row[E]{Tag: tag, Valid: true, Entry: zero}
	return index, evicted
}

// Clear empties the row at index i.
func (t *Table[E]) Clear(i int) {
	t.rows[i] = Row[E]{}
}

// Each calls fn for every live row.
func (t *Table[E]) Each(fn func(i int, row *Row[E])) {
	for i := range t.rows {
		if t.rows[i].Valid {
			fn(i, &t.rows[i])
		}
	}
}

// Reset empties every row.
func (t *Table[E]) Reset() {
	for i := range t.rows {
		t.rows[i] = Row[E]{}
	}
	t.next = 0
}
