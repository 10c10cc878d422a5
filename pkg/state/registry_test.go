package state

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestConfirmAndGrant(t *testing.T) {
	r := New(Config{LeaseDuration: time.Minute})
	id := r.NewClientID("alice", [8]byte{1})
	if !r.ConfirmClient(id) {
		t.Fatalf("expected confirm to succeed")
	}

	e, err := r.Grant(id, "file-1", KindShare, "owner-1", false)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !r.HasState("file-1") {
		t.Fatalf("expected key to hold state")
	}

	r.Release(e)
	if r.HasState("file-1") {
		t.Fatalf("expected key to hold no state after release")
	}
}

func TestConflictingLocksRejected(t *testing.T) {
	id1 := uuid.New()
	id2 := uuid.New()

	e1 := &Entry{ClientID: id1, Owner: "o1", Kind: KindLock, LockExclusive: true, LockOffset: 0, LockLength: 100}
	overlap := &Entry{ClientID: id2, Owner: "o2", Kind: KindLock, LockExclusive: true, LockOffset: 50, LockLength: 50}
	if !conflicts(e1, overlap) {
		t.Fatalf("expected overlapping exclusive locks from different owners to conflict")
	}

	nonOverlap := &Entry{ClientID: id2, Owner: "o2", Kind: KindLock, LockExclusive: true, LockOffset: 200, LockLength: 50}
	if conflicts(e1, nonOverlap) {
		t.Fatalf("expected non-overlapping locks not to conflict")
	}
}

func TestSameOwnerNeverConflicts(t *testing.T) {
	id := uuid.New()
	a := &Entry{ClientID: id, Owner: "o", Kind: KindDelegation, Delegation: DelegationWrite}
	b := &Entry{ClientID: id, Owner: "o", Kind: KindDelegation, Delegation: DelegationWrite}
	if conflicts(a, b) {
		t.Fatalf("expected same owner never to conflict")
	}
}

func TestWriteDelegationConflictsWithReadFromOtherClient(t *testing.T) {
	a := &Entry{ClientID: uuid.New(), Owner: "o1", Kind: KindDelegation, Delegation: DelegationWrite}
	b := &Entry{ClientID: uuid.New(), Owner: "o2", Kind: KindDelegation, Delegation: DelegationRead}
	if !conflicts(a, b) {
		t.Fatalf("expected write delegation to conflict with a read delegation from another client")
	}
}

func TestGraceBlocksNonReclaimGrants(t *testing.T) {
	r := New(Config{LeaseDuration: time.Minute, GracePeriod: time.Minute})
	id := r.NewClientID("a", [8]byte{1})
	r.ConfirmClient(id)
	r.SeedGrace([]uuid.UUID{id})

	if _, err := r.Grant(id, "f", KindShare, "o", false); err != ErrGrace {
		t.Fatalf("expected non-reclaim grant to be rejected during grace, got %v", err)
	}

	if _, err := r.Grant(id, "f", KindShare, "o", true); err != nil {
		t.Fatalf("expected reclaim grant to succeed during grace: %v", err)
	}
	if r.InGrace() {
		t.Fatalf("expected grace to end once the only expected client reclaimed")
	}
}

func TestDelegationGrantHeuristicRejectsHighFrequency(t *testing.T) {
	r := New(Config{LeaseDuration: time.Minute, MaxOpenFrequencyHz: 0.001})
	id := r.NewClientID("a", [8]byte{1})
	r.ConfirmClient(id)

	// Force many opens in a short window to exceed the frequency threshold.
	for i := 0; i < 10; i++ {
		r.fileStatsFor("f").numOpens++
	}

	if r.ShouldGrantDelegation(id, "f") {
		t.Fatalf("expected heuristic to reject a high open-frequency file")
	}
}

func TestRecallCompleteTracksFailures(t *testing.T) {
	r := New(Config{LeaseDuration: time.Minute})
	id := r.NewClientID("a", [8]byte{1})
	r.ConfirmClient(id)

	e, err := r.Grant(id, "f", KindDelegation, "o", false)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	r.RecallDelegation(e)
	r.CompleteRecall(e, false)

	r.mu.RLock()
	c := r.confirmed[id]
	r.mu.RUnlock()
	if c.RecallFailureRatio() != 1 {
		t.Fatalf("expected failure ratio 1 after a single failed recall, got %v", c.RecallFailureRatio())
	}
}
