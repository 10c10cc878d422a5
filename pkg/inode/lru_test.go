package inode

import (
	"fmt"
	"testing"

	"github.com/vfscache/corefs/pkg/backing"
)

func TestLRUInsertRefUnref(t *testing.T) {
	l := NewLRU(LRUConfig{})
	e := &Entry{Key: "k"}
	l.Insert(e, 42)

	if l.EntryCount() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.EntryCount())
	}
	if !l.Ref(e) {
		t.Fatalf("expected ref to succeed")
	}
	if l.Unref(e) {
		t.Fatalf("expected unref to report no cleanup yet (refcount still 1)")
	}
	if !l.Unref(e) {
		t.Fatalf("expected final unref to report cleanup")
	}
	if l.EntryCount() != 0 {
		t.Fatalf("expected 0 entries after full unref, got %d", l.EntryCount())
	}
}

func TestLRURefAfterZeroFails(t *testing.T) {
	l := NewLRU(LRUConfig{})
	e := &Entry{Key: "k"}
	l.Insert(e, 1)
	l.Unref(e)

	if l.Ref(e) {
		t.Fatalf("expected ref on a fully unreffed entry to fail")
	}
}

func TestLRUPinUnpin(t *testing.T) {
	l := NewLRU(LRUConfig{})
	e := &Entry{Key: "k"}
	l.Insert(e, 1)

	l.Pin(e)
	if !e.pinned {
		t.Fatalf("expected entry pinned")
	}
	l.Unpin(e)
	if e.pinned {
		t.Fatalf("expected entry unpinned")
	}
}

func TestLRUTouchIntentMovesTier(t *testing.T) {
	l := NewLRU(LRUConfig{})
	e := &Entry{Key: "k"}
	l.Insert(e, 1)

	l.Touch(e, IntentScan)
	if e.tier != TierL2 {
		t.Fatalf("expected scan intent to land in L2, got %v", e.tier)
	}
	l.Touch(e, IntentInitial)
	if e.tier != TierL1 {
		t.Fatalf("expected initial intent to land in L1, got %v", e.tier)
	}
}

func TestLaneIndexIsStableForSameHash(t *testing.T) {
	if laneIndex(100) != laneIndex(100) {
		t.Fatalf("expected deterministic lane assignment")
	}
	if laneIndex(100) >= NumLanes {
		t.Fatalf("lane index out of range")
	}
}

func TestReclaimEntriesNoopUntilReclaiming(t *testing.T) {
	l := NewLRU(LRUConfig{EntryHiwat: 4, EntryLowat: 2, WorkPerWake: 10})
	e := &Entry{Key: "k"}
	l.Insert(e, 1)

	var evicted []*Entry
	l.ReclaimEntries(func(v *Entry) { evicted = append(evicted, v) })
	if len(evicted) != 0 {
		t.Fatalf("expected no eviction before reclaiming is toggled on, got %d", len(evicted))
	}
}

func TestReclaimEntriesEvictsSentinelOnlyEntries(t *testing.T) {
	l := NewLRU(LRUConfig{EntryHiwat: 4, EntryLowat: 2, WorkPerWake: 10})
	var entries []*Entry
	for i := 0; i < 5; i++ {
		e := &Entry{Key: backing.ID(fmt.Sprintf("k%d", i))}
		l.Insert(e, uint64(i))
		entries = append(entries, e)
	}
	if l.EntryCount() != 5 {
		t.Fatalf("expected 5 entries, got %d", l.EntryCount())
	}

	l.reclaiming.Store(true)
	var evicted []*Entry
	l.ReclaimEntries(func(v *Entry) {
		evicted = append(evicted, v)
		l.Unref(v)
	})

	if len(evicted) == 0 {
		t.Fatalf("expected at least one sentinel-refcount entry to be evicted")
	}
	if l.EntryCount() > l.entryLowat {
		t.Fatalf("expected entry count at or below lowat (%d) after reclaim, got %d", l.entryLowat, l.EntryCount())
	}
}

func TestReclaimEntriesSkipsReferencedEntries(t *testing.T) {
	l := NewLRU(LRUConfig{EntryHiwat: 1, EntryLowat: 0, WorkPerWake: 10})
	e := &Entry{Key: "held"}
	l.Insert(e, 1)
	if !l.Ref(e) {
		t.Fatalf("expected ref to succeed")
	}

	l.reclaiming.Store(true)
	var evicted []*Entry
	l.ReclaimEntries(func(v *Entry) { evicted = append(evicted, v) })

	if len(evicted) != 0 {
		t.Fatalf("expected a referenced entry not to be reclaimed, got %d evictions", len(evicted))
	}
	if l.EntryCount() != 1 {
		t.Fatalf("expected entry to remain cached, got count %d", l.EntryCount())
	}
}

func TestFDCounters(t *testing.T) {
	l := NewLRU(LRUConfig{FDHiwat: 2})
	l.RecordFDOpened()
	l.RecordFDOpened()
	if l.AboveFDHiwat() {
		t.Fatalf("expected not above fd hiwat when count equals hiwat")
	}
	l.RecordFDOpened()
	if !l.AboveFDHiwat() {
		t.Fatalf("expected above fd hiwat once count exceeds it")
	}
	l.RecordFDClosed()
	if l.OpenFDCount() != 2 {
		t.Fatalf("expected 2 open fds after one close, got %d", l.OpenFDCount())
	}
}
