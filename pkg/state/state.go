// Package state implements the client/lease/delegation registry: client
// records, open/lock/delegation state entries, conflict detection, the
// delegation grant heuristic and recall path, grace-period admission, and
// the lease reaper (§4.L).
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vfscache/corefs/pkg/backing"
)

// Kind distinguishes the three state entry kinds named in §3.
type Kind int

const (
	KindShare Kind = iota
	KindLock
	KindDelegation
)

// DelegationType distinguishes read and write delegations for conflict
// checking and the grant heuristic.
type DelegationType int

const (
	DelegationRead DelegationType = iota
	DelegationWrite
)

// Entry is one open/lock/delegation state entry attached to a cache entry,
// owned by a client.
type Entry struct {
	ID       uuid.UUID
	Kind     Kind
	Owner    string // opaque open/lock owner bytes, per-client
	ClientID uuid.UUID
	Key      backing.ID // the cache entry this state is attached to

	// Delegation-specific fields; zero for share/lock entries.
	Delegation    DelegationType
	GrantedAt     time.Time
	Recalled      bool
	RecallStarted time.Time
	Reclaimed     bool

	// Lock-specific fields; zero for share/delegation entries.
	LockExclusive bool
	LockOffset    uint64
	LockLength    uint64
}

// conflicts reports whether two state entries on the same key, held by
// different owners, are mutually exclusive. Grounded on the reference
// pack's lease/oplock conflict table (§4.L): same owner never conflicts;
// an exclusive/write-granting state conflicts with any other read- or
// write-granting state from a different owner; handle-only/read-only
// grants coexist.
func conflicts(a, b *Entry) bool {
	if a.ClientID == b.ClientID && a.Owner == b.Owner {
		return false
	}
	if a.Kind == KindLock && b.Kind == KindLock {
		if !a.LockExclusive && !b.LockExclusive {
			return false
		}
		return rangesOverlap(a.LockOffset, a.LockLength, b.LockOffset, b.LockLength)
	}
	aWrite := isWriteGranting(a)
	bWrite := isWriteGranting(b)
	if aWrite || bWrite {
		return true
	}
	return false
}

func isWriteGranting(e *Entry) bool {
	switch e.Kind {
	case KindShare:
		return true // a share reservation's write bit is enforced by its owner's open mode upstream
	case KindLock:
		return e.LockExclusive
	case KindDelegation:
		return e.Delegation == DelegationWrite
	default:
		return false
	}
}

func rangesOverlap(off1, len1, off2, len2 uint64) bool {
	end1 := off1 + len1
	end2 := off2 + len2
	if len1 == 0 {
		end1 = ^uint64(0)
	}
	if len2 == 0 {
		end2 = ^uint64(0)
	}
	return off1 < end2 && off2 < end1
}

// Client is a client record: verifier, principal, lease expiry, and the
// set of state entries it owns.
type Client struct {
	ID         uuid.UUID
	Verifier   [8]byte
	Principal  string
	LeaseUntil time.Time
	Confirmed  bool

	mu     sync.Mutex
	states map[uuid.UUID]*Entry

	recallFailures int
	recallTotal    int
}

func newClient(id uuid.UUID, verifier [8]byte, principal string, leaseUntil time.Time) *Client {
	return &Client{
		ID:         id,
		Verifier:   verifier,
		Principal:  principal,
		LeaseUntil: leaseUntil,
		states:     make(map[uuid.UUID]*Entry),
	}
}

// RecallFailureRatio returns the client's recent recall failure rate, used
// by the delegation grant heuristic.
func (c *Client) RecallFailureRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recallTotal == 0 {
		return 0
	}
	return float64(c.recallFailures) / float64(c.recallTotal)
}
