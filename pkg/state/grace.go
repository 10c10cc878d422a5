package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// GracePeriod implements the v4 restart-recovery grace window (§4.L,
// supplemented from original_source): while active, only reclaim-flagged
// state requests are admitted. It ends early once every seeded client has
// reclaimed, or at a fixed timeout, whichever comes first. Grounded on the
// teacher's GracePeriodManager state machine (pkg/metadata/lock/grace.go).
type GracePeriod struct {
	mu        sync.Mutex
	active    bool
	end       time.Time
	expected  map[uuid.UUID]bool
	reclaimed map[uuid.UUID]bool
}

// NewGracePeriod starts a grace period of duration expecting reclaims from
// expected. A zero-length expected set or duration means grace is not
// entered at all.
func NewGracePeriod(duration time.Duration, expected []uuid.UUID) *GracePeriod {
	if duration <= 0 || len(expected) == 0 {
		return &GracePeriod{active: false}
	}
	g := &GracePeriod{
		active:    true,
		end:       time.Now().Add(duration),
		expected:  make(map[uuid.UUID]bool, len(expected)),
		reclaimed: make(map[uuid.UUID]bool, len(expected)),
	}
	for _, id := range expected {
		g.expected[id] = true
	}
	return g
}

// Active reports whether the grace period is still in effect, checking the
// timeout as a side effect.
func (g *GracePeriod) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return false
	}
	if time.Now().After(g.end) {
		g.active = false
		return false
	}
	return true
}

// Reclaim records that clientID successfully reclaimed its state, ending
// the grace period early once every expected client has done so.
func (g *GracePeriod) Reclaim(clientID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return
	}
	g.reclaimed[clientID] = true
	if len(g.reclaimed) >= len(g.expected) {
		g.active = false
	}
}

// Decline records that clientID will not reclaim (e.g. it never
// reconnected), which also counts toward early grace-period exit.
func (g *GracePeriod) Decline(clientID uuid.UUID) {
	g.Reclaim(clientID)
}

// End forces the grace period to end immediately.
func (g *GracePeriod) End() {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
}
