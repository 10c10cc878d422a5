package inode

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vfscache/corefs/pkg/metrics"
)

// Tier is the LRU's two-level hierarchy: L1 holds entries fetched for
// normal use, L2 holds entries demoted by a scan pass or the reclaimer.
type Tier int

const (
	TierL1 Tier = iota
	TierL2
)

// Intent describes why an entry is being fetched, which decides where it
// lands in the LRU (§4.G).
type Intent int

const (
	IntentInitial Intent = iota // ordinary lookup/open: MRU of L1
	IntentScan                  // readdir-like pass: MRU of L2, does not pollute L1
)

// NumLanes is fixed at 7 (prime) to match the reference design this spec is
// distilled from (reduces collision between lane assignments derived from a
// hash).
const NumLanes = 7

// SentinelRefCount is the refcount an entry holds purely by virtue of being
// present in the cache index; a victim is reclaimable only at exactly this
// count.
const SentinelRefCount = 1

// queue is an intrusive doubly-linked list of entries sharing a lane, tier,
// and pinned state. The zero value is an empty queue.
type queue struct {
	head, tail *Entry
	size       int
}

func (q *queue) pushFront(e *Entry) {
	e.prev = nil
	e.next = q.head
	if q.head != nil {
		q.head.prev = e
	}
	q.head = e
	if q.tail == nil {
		q.tail = e
	}
	q.size++
}

func (q *queue) remove(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if q.head == e {
		q.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if q.tail == e {
		q.tail = e.prev
	}
	e.prev, e.next = nil, nil
	q.size--
}

func (q *queue) popBack() *Entry {
	if q.tail == nil {
		return nil
	}
	e := q.tail
	q.remove(e)
	return e
}

// lane holds the four partitions (L1/L2 x unpinned/pinned) for one shard of
// the LRU, each with its own queue under a single lane mutex.
type lane struct {
	mu         sync.Mutex
	l1Unpinned queue
	l1Pinned   queue
	l2Unpinned queue
	l2Pinned   queue
}

func (l *lane) queueFor(e *Entry) *queue {
	switch {
	case e.tier == TierL1 && !e.pinned:
		return &l.l1Unpinned
	case e.tier == TierL1 && e.pinned:
		return &l.l1Pinned
	case e.tier == TierL2 && !e.pinned:
		return &l.l2Unpinned
	default:
		return &l.l2Pinned
	}
}

// LRU is the multi-tier, multi-lane reference-count lifecycle and
// background reclaimer described in §4.G.
type LRU struct {
	lanes [NumLanes]*lane

	entryHiwat int64
	entryLowat int64
	fdHiwat    int64
	workPerWake int

	entryCount atomic.Int64
	openFDs    atomic.Int64
	reclaiming atomic.Bool

	metrics metrics.CacheMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// LRUConfig configures an LRU instance; zero values fall back to the
// defaults used throughout this core.
type LRUConfig struct {
	EntryHiwat      int64
	EntryLowat      int64
	FDHiwat         int64
	WorkPerWake     int
	ReclaimInterval time.Duration
	Metrics         metrics.CacheMetrics
}

// NewLRU constructs an LRU with the given configuration.
func NewLRU(cfg LRUConfig) *LRU {
	if cfg.WorkPerWake <= 0 {
		cfg.WorkPerWake = 10
	}
	l := &LRU{
		entryHiwat:  cfg.EntryHiwat,
		entryLowat:  cfg.EntryLowat,
		fdHiwat:     cfg.FDHiwat,
		workPerWake: cfg.WorkPerWake,
		metrics:     cfg.Metrics,
	}
	for i := range l.lanes {
		l.lanes[i] = &lane{}
	}
	return l
}

func laneIndex(hash uint64) int {
	return int(hash % uint64(NumLanes))
}

// Insert places a freshly created entry at the MRU of its lane's L1
// unpinned partition.
func (l *LRU) Insert(e *Entry, hash uint64) {
	li := laneIndex(hash)
	ln := l.lanes[li]

	e.lane = li
	e.tier = TierL1
	e.pinned = false
	e.refcount = SentinelRefCount

	ln.mu.Lock()
	ln.l1Unpinned.pushFront(e)
	ln.mu.Unlock()

	n := l.entryCount.Add(1)
	if l.metrics != nil {
		l.metrics.RecordEntryCount(int(n))
	}
}

// Ref increments an entry's refcount, failing if it has already reached
// zero (meaning another goroutine won the race to reclaim it).
func (l *LRU) Ref(e *Entry) bool {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if e.refcount == 0 {
		return false
	}
	e.refcount++
	return true
}

// Unref decrements an entry's refcount. When it reaches zero the caller
// owns cleanup (detach from index, dirent index, weak-ref table, backing
// cleanup, free); Unref itself only removes the entry from its LRU queue.
func (l *LRU) Unref(e *Entry) (shouldClean bool) {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	defer ln.mu.Unlock()

	e.refcount--
	if e.refcount > 0 {
		return false
	}

	ln.queueFor(e).remove(e)
	n := l.entryCount.Add(-1)
	if l.metrics != nil {
		l.metrics.RecordEntryCount(int(n))
	}
	return true
}

// Pin moves an entry into the pinned partition of its current tier
// ("granted a state holder", §4.G).
func (l *LRU) Pin(e *Entry) {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	if e.pinned {
		ln.mu.Unlock()
		return
	}
	ln.queueFor(e).remove(e)
	e.pinned = true
	ln.queueFor(e).pushFront(e)
	ln.mu.Unlock()
	if l.metrics != nil {
		l.metrics.RecordPinned(l.countPinnedLocked())
	}
}

// Unpin moves an entry back into the unpinned partition of its current
// tier ("lost last state holder", §4.G).
func (l *LRU) Unpin(e *Entry) {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if !e.pinned {
		return
	}
	ln.queueFor(e).remove(e)
	e.pinned = false
	ln.queueFor(e).pushFront(e)
}

// countPinnedLocked sums the pinned partitions across all lanes, taking
// each lane's mutex in turn; callers must hold no lane mutex. Used only
// for metrics and therefore tolerant of being slightly stale.
func (l *LRU) countPinnedLocked() int {
	total := 0
	for _, ln := range l.lanes {
		ln.mu.Lock()
		total += ln.l1Pinned.size + ln.l2Pinned.size
		ln.mu.Unlock()
	}
	return total
}

// Touch moves an entry to the MRU of the tier appropriate for intent,
// without changing its pinned state.
func (l *LRU) Touch(e *Entry, intent Intent) {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	defer ln.mu.Unlock()

	ln.queueFor(e).remove(e)
	if intent == IntentScan {
		e.tier = TierL2
	} else {
		e.tier = TierL1
	}
	ln.queueFor(e).pushFront(e)
}

// Demote moves an entry to L2-unpinned, used by the reclaimer's scan pass
// so the entry is not re-examined within the same cycle.
func (l *LRU) Demote(e *Entry) {
	ln := l.lanes[e.lane]
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if e.tier == TierL2 && !e.pinned {
		return
	}
	ln.queueFor(e).remove(e)
	e.tier = TierL2
	e.pinned = false
	ln.queueFor(e).pushFront(e)
}

// EntryCount returns the current number of entries tracked by the LRU.
func (l *LRU) EntryCount() int64 {
	return l.entryCount.Load()
}

// OpenFDCount returns the current process-wide count of cached
// descriptors this LRU is aware of.
func (l *LRU) OpenFDCount() int64 {
	return l.openFDs.Load()
}

// RecordFDOpened/RecordFDClosed track the process-wide open-fd counter
// referenced by §4.H and §4.G's reclamation high-water mark.
func (l *LRU) RecordFDOpened() {
	n := l.openFDs.Add(1)
	if l.metrics != nil {
		l.metrics.RecordOpenFD(int(n))
	}
}

func (l *LRU) RecordFDClosed() {
	n := l.openFDs.Add(-1)
	if l.metrics != nil {
		l.metrics.RecordOpenFD(int(n))
		l.metrics.RecordOpenFDEviction()
	}
}

// AboveFDHiwat reports whether the open-fd count exceeds the configured
// high-water mark and fd reclamation should run.
func (l *LRU) AboveFDHiwat() bool {
	return l.fdHiwat > 0 && l.openFDs.Load() > l.fdHiwat
}

// ReclaimFDs visits up to workPerWake entries per lane in L1, demoting each
// to L2 regardless of outcome (so it is not re-examined this pass); for an
// entry with a cached fd and no state it closes the descriptor under the
// entry's content lock. close is supplied by the caller (pkg/inode's Cache)
// since closing requires access to the backing Store held by the entry.
func (l *LRU) ReclaimFDs(closeFD func(e *Entry)) {
	for _, ln := range l.lanes {
		var victims []*Entry

		ln.mu.Lock()
		e := ln.l1Unpinned.tail
		for i := 0; i < l.workPerWake && e != nil; i++ {
			prev := e.prev
			victims = append(victims, e)
			e = prev
		}
		ln.mu.Unlock()

		for _, v := range victims {
			l.Demote(v)
			closeFD(v)
		}
	}
}

// StartReclaimer launches the background reclamation loop at interval,
// invoking closeFD for candidate fd closure and evictEntry for each
// sentinel-refcount entry picked as a reclaim victim. It toggles the
// reclaiming flag once entry count crosses entryHiwat, clearing it below
// entryLowat.
func (l *LRU) StartReclaimer(interval time.Duration, closeFD func(e *Entry), evictEntry func(e *Entry)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})

	go func() {
		defer close(l.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.reclaimCycle(closeFD, evictEntry)
			}
		}
	}()
}

// StopReclaimer stops the background loop started by StartReclaimer and
// waits for it to exit.
func (l *LRU) StopReclaimer() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.doneCh
}

func (l *LRU) reclaimCycle(closeFD func(e *Entry), evictEntry func(e *Entry)) {
	count := l.entryCount.Load()
	switch {
	case l.entryHiwat > 0 && count > l.entryHiwat:
		l.reclaiming.Store(true)
	case l.entryLowat > 0 && count < l.entryLowat:
		l.reclaiming.Store(false)
	}

	l.ReclaimEntries(evictEntry)

	if l.AboveFDHiwat() {
		l.ReclaimFDs(closeFD)
	}
}

// ReclaimEntries is the entry-count half of the reclaimer (§4.G): once the
// reclaiming flag is set, it visits each lane's L2-unpinned tail (entries
// already through a scan/demote pass), falling back to the L1-unpinned tail
// when a lane has no L2 candidates, and hands every entry still sitting at
// exactly SentinelRefCount to evictEntry. It does not itself remove entries
// from the index's key map or weak-ref table; that belongs to evictEntry
// (the Index owns both), mirroring Cache.Kill's Delete-then-Unref pairing.
func (l *LRU) ReclaimEntries(evictEntry func(e *Entry)) {
	if !l.reclaiming.Load() {
		return
	}

	for _, ln := range l.lanes {
		if l.entryLowat > 0 && l.entryCount.Load() <= l.entryLowat {
			return
		}

		var victims []*Entry
		ln.mu.Lock()
		e := ln.l2Unpinned.tail
		for i := 0; i < l.workPerWake && e != nil; i++ {
			prev := e.prev
			if e.refcount == SentinelRefCount {
				victims = append(victims, e)
			}
			e = prev
		}
		if len(victims) == 0 {
			e = ln.l1Unpinned.tail
			for i := 0; i < l.workPerWake && e != nil; i++ {
				prev := e.prev
				if e.refcount == SentinelRefCount {
					victims = append(victims, e)
				}
				e = prev
			}
		}
		ln.mu.Unlock()

		for _, v := range victims {
			evictEntry(v)
		}
	}
}
