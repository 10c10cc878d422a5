package inode

import (
	"context"
	"time"

	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/handle"
	"github.com/vfscache/corefs/pkg/metrics"
	"github.com/vfscache/corefs/pkg/weakref"
)

// Config configures a Cache's LRU/pin subsystem and reclaimer.
type Config struct {
	EntryHiwat      int64
	EntryLowat      int64
	OpenFDHiwat     int64
	WorkPerWake     int
	ReclaimInterval time.Duration
	Metrics         metrics.CacheMetrics
}

// Cache ties the cache index and LRU/pin subsystem to a single backing
// store, exposing the entry lifecycle operations pkg/ops drives.
type Cache struct {
	store backing.Store
	index *Index
	lru   *LRU
}

// New constructs a Cache against store.
func New(store backing.Store, cfg Config) *Cache {
	lru := NewLRU(LRUConfig{
		EntryHiwat:      cfg.EntryHiwat,
		EntryLowat:      cfg.EntryLowat,
		FDHiwat:         cfg.OpenFDHiwat,
		WorkPerWake:     cfg.WorkPerWake,
		ReclaimInterval: cfg.ReclaimInterval,
		Metrics:         cfg.Metrics,
	})
	return &Cache{
		store: store,
		index: NewIndex(lru),
		lru:   lru,
	}
}

// Start launches the background reclaimer.
func (c *Cache) Start(interval time.Duration) {
	c.lru.StartReclaimer(interval, closeCachedFD(c.lru), c.index.Evict)
}

// Stop halts the background reclaimer.
func (c *Cache) Stop() {
	c.lru.StopReclaimer()
}

// Store returns the backing store this cache fronts.
func (c *Cache) Store() backing.Store {
	return c.store
}

// EntryCount returns the number of live entries.
func (c *Cache) EntryCount() int64 {
	return c.lru.EntryCount()
}

// OpenFDCount returns the number of cached descriptors.
func (c *Cache) OpenFDCount() int64 {
	return c.lru.OpenFDCount()
}

// Lookup resolves key to a live entry, installing a new entry built from
// the caller-supplied kind and attr on first sight; it makes no backing
// store call and always returns a nil error. The caller owns the
// returned strong reference and must call Release when done.
func (c *Cache) Lookup(ctx context.Context, key backing.ID, kind backing.Kind, attr backing.Attr) (*Entry, error) {
	e, _ := c.index.GetOrInsert(key, func() (backing.Store, Kind, backing.Attr, uint64) {
		return c.store, fromBackingKind(kind), attr, handle.HashBacking(0, []byte(key))
	})
	return e, nil
}

// Get returns the entry for key if already cached, without touching the
// backing store. The caller owns the returned strong reference. Returns a
// *backing.CoreError (ErrNotFound or, per §4.J, ErrDeadEntry) on failure.
func (c *Cache) Get(key backing.ID) (*Entry, error) {
	return c.index.Get(key)
}

// ResolveWeak promotes a dirent or parent weak reference to a strong one.
// The caller owns the returned reference and must Release it. Returns a
// *backing.CoreError (ErrStaleHandle or, per §4.J, ErrDeadEntry) on failure.
func (c *Cache) ResolveWeak(ref weakref.Ref) (*Entry, error) {
	return c.index.ResolveWeak(ref)
}

// OpenForIO and CloseCached forward to the entry's open-fd bookkeeping
// (§4.H), threading this cache's LRU so fd counters stay accurate. Callers
// must hold e's content lock.
func (c *Cache) OpenForIO(ctx context.Context, e *Entry, need OpenFlags) (backing.FileHandle, error) {
	return e.OpenForIO(ctx, c.lru, need)
}

func (c *Cache) CloseCached(e *Entry) {
	e.CloseIfCached(c.lru)
}

// Release drops a strong reference obtained from Lookup/Get/ResolveWeak.
func (c *Cache) Release(ctx context.Context, e *Entry) {
	c.index.Unref(ctx, e)
}

// Touch repositions an entry in the LRU according to intent.
func (c *Cache) Touch(e *Entry, intent Intent) {
	c.lru.Touch(e, intent)
}

// AttachState and DetachState pair Entry's AddState/RemoveState with the
// LRU's Pin/Unpin; pkg/ops calls them from Open and Close.
func (c *Cache) AttachState(e *Entry) {
	e.AddState()
	c.lru.Pin(e)
}

func (c *Cache) DetachState(e *Entry) {
	e.RemoveState()
	if !e.HasState() {
		c.lru.Unpin(e)
	}
}

// Kill marks an entry as gone per §3's Kill lifecycle: if it holds no
// state, it is fully removed from the index and weak-ref table (via
// Delete+Unref of the sentinel reference), so dirent slots that point at it
// no longer resolve (the dirent indexes themselves are not edited); if it holds
// state it is left addressable so in-flight state holders see a stale
// handle on next use, and is simply invalidated.
func (c *Cache) Kill(ctx context.Context, key backing.ID) {
	if e, err := c.index.Get(key); err == nil {
		e.InvalidateAttr()
		e.InvalidateContent()
		c.index.Unref(ctx, e)
	}

	sh := c.index.shardFor(key)
	sh.mu.RLock()
	e, present := sh.entries[key]
	sh.mu.RUnlock()
	if !present || e.HasState() {
		return
	}

	if _, ok := c.index.Delete(key); ok {
		c.lru.Unref(e)
	}
}

func fromBackingKind(k backing.Kind) Kind {
	switch k {
	case backing.KindDirectory:
		return KindDirectory
	case backing.KindSymlink:
		return KindSymlink
	default:
		return KindRegular
	}
}
