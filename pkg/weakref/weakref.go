// Package weakref implements a generational weak-reference table: callers
// hold a small (partition, index, generation) tuple instead of a pointer,
// and a lookup only succeeds if the generation still matches what was
// handed out at insert time. This lets pkg/inode's cache index hand out
// references to entries that can be reclaimed and reused without the
// holder of a stale reference silently reading through to a different
// object that happens to occupy the same slot.
package weakref

import "sync"

// numPartitions shards the table to reduce lock contention, mirroring the
// reference design's address-hash partitioning.
const numPartitions = 16

// Ref is an opaque weak reference. The zero Ref never matches a live slot.
type Ref struct {
	partition  uint32
	index      uint32
	generation uint64
}

type slot[T any] struct {
	value      T
	generation uint64
	used       bool
}

type partition[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// Table is a sharded, generation-checked table of values of type T.
type Table[T any] struct {
	partitions [numPartitions]*partition[T]
	nextGen    uint64
	genMu      sync.Mutex
}

// New creates an empty Table.
func New[T any]() *Table[T] {
	t := &Table[T]{}
	for i := range t.partitions {
		t.partitions[i] = &partition[T]{}
	}
	return t
}

func (t *Table[T]) nextGeneration() uint64 {
	t.genMu.Lock()
	t.nextGen++
	g := t.nextGen
	t.genMu.Unlock()
	return g
}

func partitionFor(seed uint32) uint32 {
	return seed % numPartitions
}

// Insert stores value and returns a Ref that can be used to look it up or
// delete it, as long as the slot hasn't since been reused by another
// Insert.
func (t *Table[T]) Insert(seed uint32, value T) Ref {
	gen := t.nextGeneration()
	pidx := partitionFor(seed)
	p := t.partitions[pidx]

	p.mu.Lock()
	defer p.mu.Unlock()

	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[idx] = slot[T]{value: value, generation: gen, used: true}
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, slot[T]{value: value, generation: gen, used: true})
	}

	return Ref{partition: pidx, index: idx, generation: gen}
}

// Lookup returns the value stored at ref, if the slot is still occupied by
// the same generation that Insert returned.
func (t *Table[T]) Lookup(ref Ref) (T, bool) {
	p := t.partitions[ref.partition]

	p.mu.Lock()
	defer p.mu.Unlock()

	if int(ref.index) >= len(p.slots) {
		var zero T
		return zero, false
	}
	s := p.slots[ref.index]
	if !s.used || s.generation != ref.generation {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Delete removes the value at ref if its generation still matches, freeing
// the slot for reuse. Returns false if ref was already stale.
func (t *Table[T]) Delete(ref Ref) bool {
	p := t.partitions[ref.partition]

	p.mu.Lock()
	defer p.mu.Unlock()

	if int(ref.index) >= len(p.slots) {
		return false
	}
	s := &p.slots[ref.index]
	if !s.used || s.generation != ref.generation {
		return false
	}

	var zero T
	s.value = zero
	s.used = false
	p.free = append(p.free, ref.index)
	return true
}

// Update replaces the value at ref in place, keeping its generation. Returns
// false if ref is stale.
func (t *Table[T]) Update(ref Ref, value T) bool {
	p := t.partitions[ref.partition]

	p.mu.Lock()
	defer p.mu.Unlock()

	if int(ref.index) >= len(p.slots) {
		return false
	}
	s := &p.slots[ref.index]
	if !s.used || s.generation != ref.generation {
		return false
	}
	s.value = value
	return true
}
