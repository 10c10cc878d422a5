package state

import (
	"time"

	"github.com/google/uuid"
)

// StartReaper launches the background lease-expiry reaper at a fixed
// interval (half the lease duration, capped at 10 seconds, per §4.L).
// onExpire is invoked (after the client is removed from the confirmed
// table) for every expired client so callers can release its state
// entries via Release under the proper per-entry lock order.
func (r *Registry) StartReaper(onExpire func(c *Client)) {
	interval := r.cfg.LeaseDuration / 2
	if interval > 10*time.Second {
		interval = 10 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.reapCycle(onExpire)
			}
		}
	}()
}

// StopReaper stops the background loop started by StartReaper and waits
// for it to exit.
func (r *Registry) StopReaper() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

// reapCycle scans confirmed clients for expired leases, removing them from
// the confirmed table before invoking onExpire (so a racing renewal sees a
// clean miss rather than a half-removed client).
func (r *Registry) reapCycle(onExpire func(c *Client)) {
	now := time.Now()

	r.mu.Lock()
	var expired []*Client
	for id, c := range r.confirmed {
		c.mu.Lock()
		isExpired := now.After(c.LeaseUntil)
		c.mu.Unlock()
		if isExpired {
			expired = append(expired, c)
			delete(r.confirmed, id)
		}
	}
	count := len(r.confirmed)
	r.mu.Unlock()

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordClients(count)
	}

	for _, c := range expired {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordLeaseExpiry()
		}
		if onExpire != nil {
			onExpire(c)
		}
	}
}

// ExpireClientStates releases every state entry a just-expired client
// held; intended to be passed (wrapped) as StartReaper's onExpire.
func (r *Registry) ExpireClientStates(c *Client) {
	c.mu.Lock()
	entries := make([]*Entry, 0, len(c.states))
	for _, e := range c.states {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		r.Release(e)
	}
}

// UnconfirmedClientIDs returns the ids of every client record currently in
// the unconfirmed table, for diagnostics.
func (r *Registry) UnconfirmedClientIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.unconfirmed))
	for id := range r.unconfirmed {
		out = append(out, id)
	}
	return out
}

// ConfirmedClientIDs returns the ids of every currently confirmed client,
// used to seed a subsequent process's grace period via RecoveryStore.
func (r *Registry) ConfirmedClientIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.confirmed))
	for id := range r.confirmed {
		out = append(out, id)
	}
	return out
}
