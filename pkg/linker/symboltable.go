package linker

import "strings"

const (
	// DefaultTableSize is the bucket count used when the caller passes zero.
	DefaultTableSize = 1024

	// maxLoadFactor triggers a table-doubling rehash once exceeded.
	maxLoadFactor = 0.7
)

// TableStats are monotonically non-decreasing hash table counters, reset
// only by Clear.
type TableStats struct {
	Collisions     uint64
	ResizeCount    uint64
	MaxChainLength int
}

// SymbolTable owns every SymbolEntry through a fixed-size bucket array with
// singly linked collision chains. It knows nothing about resolution policy
// beyond name case folding.
type SymbolTable struct {
	buckets       []*SymbolEntry
	symbolCount   int
	caseSensitive bool
	stats         TableStats
}

func NewSymbolTable(size int, caseSensitive bool) *SymbolTable {
	if size <= 0 {
		size = DefaultTableSize
	}
	return &SymbolTable{
		buckets:       make([]*SymbolEntry, size),
		caseSensitive: caseSensitive,
	}
}

// hash is the order-sensitive additive name hash. Case folding follows the
// table-wide sensitivity flag.
func (t *SymbolTable) hash(name string) int {
	key := t.normalize(name)
	var h uint64
	for i := 0; i < len(key); i++ {
		h = h*31 + uint64(key[i])
	}
	return int(h % uint64(len(t.buckets)))
}

func (t *SymbolTable) normalize(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// Lookup walks the collision chain for an exact (policy-folded) name match.
// It never allocates.
func (t *SymbolTable) Lookup(name string) *SymbolEntry {
	key := t.normalize(name)
	for e := t.buckets[t.hash(name)]; e != nil; e = e.next {
		if t.normalize(e.Name) == key {
			return e
		}
	}
	return nil
}

// Insert links a new entry at its chain head, resizing first if the load
// factor is above the threshold. The caller guarantees the name is not
// already present.
func (t *SymbolTable) Insert(entry *SymbolEntry) {
	if t.LoadFactor() > maxLoadFactor {
		t.resize()
	}

	idx := t.hash(entry.Name)
	if t.buckets[idx] != nil {
		t.stats.Collisions++
	}
	entry.next = t.buckets[idx]
	t.buckets[idx] = entry
	t.symbolCount++

	if n := t.chainLength(idx); n > t.stats.MaxChainLength {
		t.stats.MaxChainLength = n
	}
}

// resize doubles the bucket count and rehashes every entry. Entry identities
// are preserved; only chain placement changes.
func (t *SymbolTable) resize() {
	old := t.buckets
	t.buckets = make([]*SymbolEntry, len(old)*2)
	t.stats.ResizeCount++

	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			idx := t.hash(e.Name)
			e.next = t.buckets[idx]
			t.buckets[idx] = e
			e = next
		}
	}
}

// ForEach visits every entry in bucket traversal order, which is the order
// undefined-symbol diagnostics are reported in.
func (t *SymbolTable) ForEach(visit func(*SymbolEntry)) {
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			visit(e)
		}
	}
}

func (t *SymbolTable) Len() int {
	return t.symbolCount
}

func (t *SymbolTable) Size() int {
	return len(t.buckets)
}

func (t *SymbolTable) LoadFactor() float64 {
	return float64(t.symbolCount) / float64(len(t.buckets))
}

func (t *SymbolTable) Stats() TableStats {
	return t.stats
}

// Clear drops every entry (and, transitively, every reference) and resets
// the statistics counters. The bucket count is kept.
func (t *SymbolTable) Clear() {
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.symbolCount = 0
	t.stats = TableStats{}
}

func (t *SymbolTable) chainLength(idx int) int {
	n := 0
	for e := t.buckets[idx]; e != nil; e = e.next {
		n++
	}
	return n
}
