package state

import (
	"testing"
	"time"
)

func TestReapCycleExpiresStaleClients(t *testing.T) {
	r := New(Config{LeaseDuration: time.Millisecond})
	id := r.NewClientID("a", [8]byte{1})
	r.ConfirmClient(id)

	r.mu.RLock()
	c := r.confirmed[id]
	r.mu.RUnlock()
	c.mu.Lock()
	c.LeaseUntil = time.Now().Add(-time.Second)
	c.mu.Unlock()

	var expired *Client
	r.reapCycle(func(cl *Client) { expired = cl })

	if expired == nil || expired.ID != id {
		t.Fatalf("expected expired client to be reported")
	}
	r.mu.RLock()
	_, stillPresent := r.confirmed[id]
	r.mu.RUnlock()
	if stillPresent {
		t.Fatalf("expected expired client removed from confirmed table")
	}
}

func TestExpireClientStatesReleasesAll(t *testing.T) {
	r := New(Config{LeaseDuration: time.Minute})
	id := r.NewClientID("a", [8]byte{1})
	r.ConfirmClient(id)

	e, err := r.Grant(id, "f", KindShare, "o", false)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	r.mu.RLock()
	c := r.confirmed[id]
	r.mu.RUnlock()
	// The client is still in the confirmed table here, whereas reapCycle
	// would have removed it before calling onExpire; ExpireClientStates only
	// needs the client's own state map, which survives that removal.
	r.ExpireClientStates(c)

	if r.HasState("f") {
		t.Fatalf("expected state released after client expiry")
	}
	_ = e
}
