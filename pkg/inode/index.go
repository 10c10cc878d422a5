package inode

import (
	"context"
	"sync"

	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/handle"
	"github.com/vfscache/corefs/pkg/weakref"
)

// numShards is fixed at init, per §4.D ("the shard count is fixed at
// init"). Each shard has its own reader/writer lock, so operations on
// different shards never contend.
const numShards = 32

type shard struct {
	mu      sync.RWMutex
	entries map[backing.ID]*Entry
}

// Index is the sharded handle-to-entry cache index (§4.D).
type Index struct {
	shards [numShards]*shard
	lru    *LRU
	weak   *weakref.Table[*Entry]
}

// NewIndex constructs an empty index backed by lru for eviction bookkeeping.
func NewIndex(lru *LRU) *Index {
	idx := &Index{lru: lru, weak: weakref.New[*Entry]()}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: make(map[backing.ID]*Entry)}
	}
	return idx
}

func (idx *Index) shardFor(key backing.ID) *shard {
	h := handle.HashBacking(0, []byte(key))
	return idx.shards[h%uint64(numShards)]
}

// Get returns the entry for key if present, incrementing its refcount.
// Callers must Unref when done. Per §4.J, an attempt to ref an entry whose
// refcount has already reached zero (lost the race with a concurrent
// reclaim) reports ErrDeadEntry rather than ErrNotFound, since the key was
// genuinely present at lookup time.
func (idx *Index) Get(key backing.ID) (*Entry, error) {
	sh := idx.shardFor(key)

	sh.mu.RLock()
	e, ok := sh.entries[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, backing.NewError(backing.ErrNotFound, "get", string(key), nil)
	}
	if !idx.lru.Ref(e) {
		return nil, backing.NewError(backing.ErrDeadEntry, "get", string(key), nil)
	}
	return e, nil
}

// GetOrInsert returns the existing entry for key (with an incremented
// refcount), or creates one via makeFn and installs it under the shard's
// write lock. wasCreated reports which branch was taken.
func (idx *Index) GetOrInsert(key backing.ID, makeFn func() (backing.Store, Kind, backing.Attr, uint64)) (entry *Entry, wasCreated bool) {
	sh := idx.shardFor(key)

	for {
		sh.mu.Lock()
		if e, ok := sh.entries[key]; ok {
			sh.mu.Unlock()
			if idx.lru.Ref(e) {
				return e, false
			}
			// Lost the race with a concurrent reclaim of this entry; the
			// shard's delete happens under sh.mu so retrying observes it.
			continue
		}
		break
	}

	store, kind, attr, hash := makeFn()
	e := newEntry(key, store, kind, attr)
	idx.lru.Insert(e, hash)
	e.weak = idx.weak.Insert(uint32(hash), e)
	sh.entries[key] = e
	sh.mu.Unlock()

	// One extra ref for the caller on top of the sentinel ref Insert grants.
	idx.lru.Ref(e)
	return e, true
}

// Delete removes key from the index, returning the entry so the caller can
// release the sentinel reference via Unref.
func (idx *Index) Delete(key backing.ID) (*Entry, bool) {
	sh := idx.shardFor(key)

	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
		idx.weak.Delete(e.weak)
	}
	sh.mu.Unlock()
	return e, ok
}

// Evict removes e from the index as part of background entry reclamation
// (§4.G): the key map entry and weak-ref slot go first via Delete, then the
// sentinel reference is dropped via Unref, which removes e from the LRU and
// runs the same content-handle cleanup a caller-driven Release would. This
// is the second half of the same Delete-then-Unref pairing Cache.Kill uses.
func (idx *Index) Evict(e *Entry) {
	if _, ok := idx.Delete(e.Key); ok && idx.lru.Unref(e) {
		e.contentMu.Lock()
		if e.regular != nil && e.regular.handle != nil {
			e.regular.handle.Close()
			e.regular.handle = nil
		}
		e.contentMu.Unlock()
	}
}

// ResolveWeak promotes a weak reference to a strong one via the LRU, per
// §4.B's contract: the caller must promote immediately or the candidate may
// be reclaimed by another goroutine. A stale generation (the slot was
// reused or freed outright) reports ErrStaleHandle; a live slot whose
// refcount has already reached zero reports ErrDeadEntry (§4.J).
func (idx *Index) ResolveWeak(ref weakref.Ref) (*Entry, error) {
	e, ok := idx.weak.Lookup(ref)
	if !ok {
		return nil, backing.NewError(backing.ErrStaleHandle, "resolve_weak", "", nil)
	}
	if !idx.lru.Ref(e) {
		return nil, backing.NewError(backing.ErrDeadEntry, "resolve_weak", "", nil)
	}
	return e, nil
}

// Unref releases a strong reference obtained from Get, GetOrInsert, or
// ResolveWeak. When the refcount reaches zero it runs the clean path:
// detach from the index (if still present), release the backing adapter's
// resources, and drop the sentinel reference.
func (idx *Index) Unref(ctx context.Context, e *Entry) {
	if !idx.lru.Unref(e) {
		return
	}

	sh := idx.shardFor(e.Key)
	sh.mu.Lock()
	if cur, ok := sh.entries[e.Key]; ok && cur == e {
		delete(sh.entries, e.Key)
	}
	sh.mu.Unlock()
	idx.weak.Delete(e.weak)

	e.contentMu.Lock()
	if e.regular != nil && e.regular.handle != nil {
		e.regular.handle.Close()
		e.regular.handle = nil
	}
	e.contentMu.Unlock()
}
