package state

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGraceEndsWhenAllReclaim(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	g := NewGracePeriod(time.Minute, []uuid.UUID{a, b})

	if !g.Active() {
		t.Fatalf("expected grace to start active")
	}
	g.Reclaim(a)
	if !g.Active() {
		t.Fatalf("expected grace to stay active with one client still outstanding")
	}
	g.Reclaim(b)
	if g.Active() {
		t.Fatalf("expected grace to end once all expected clients reclaimed")
	}
}

func TestGraceEndsOnTimeout(t *testing.T) {
	g := NewGracePeriod(time.Millisecond, []uuid.UUID{uuid.New()})
	time.Sleep(5 * time.Millisecond)
	if g.Active() {
		t.Fatalf("expected grace to end after its timeout elapsed")
	}
}

func TestNoGraceWithoutExpectedClients(t *testing.T) {
	g := NewGracePeriod(time.Minute, nil)
	if g.Active() {
		t.Fatalf("expected no grace period when there are no expected clients")
	}
}

func TestDeclineCountsTowardEarlyExit(t *testing.T) {
	id := uuid.New()
	g := NewGracePeriod(time.Minute, []uuid.UUID{id})
	g.Decline(id)
	if g.Active() {
		t.Fatalf("expected a decline to count toward early exit same as a reclaim")
	}
}
