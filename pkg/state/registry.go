package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vfscache/corefs/pkg/backing"
	"github.com/vfscache/corefs/pkg/metrics"
)

// ErrGrace is returned when a non-reclaim state request arrives while the
// registry is in its grace period.
var ErrGrace = backing.NewError(backing.ErrGrace, "state", "", nil)

// ErrStateConflict is returned by Grant when a conflicting state entry is
// already held by a different owner.
var ErrStateConflict = backing.NewError(backing.ErrStateConflict, "state", "", nil)

// Config configures delegation heuristics and timers.
type Config struct {
	LeaseDuration            time.Duration
	GracePeriod              time.Duration
	DelegationRecallTimeout  time.Duration
	MaxOpenFrequencyHz       float64
	AcceptableRecallFailRate float64
	MinAvgHoldDuration       time.Duration
	Metrics                  metrics.StateMetrics
}

// fileStats tracks the per-file bookkeeping the delegation grant heuristic
// and recall path consult (§4.L).
type fileStats struct {
	mu              sync.Mutex
	firstOpen       time.Time
	numOpens        int
	currDelegations int
	avgHoldNanos    int64
	holdSamples     int
}

// Registry is the client/lease/delegation registry (§4.L).
type Registry struct {
	cfg Config

	mu          sync.RWMutex
	unconfirmed map[uuid.UUID]*Client
	confirmed   map[uuid.UUID]*Client

	statesMu sync.RWMutex
	byKey    map[backing.ID]map[uuid.UUID]*Entry

	filesMu sync.Mutex
	files   map[backing.ID]*fileStats

	grace *GracePeriod

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an empty Registry.
func New(cfg Config) *Registry {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 90 * time.Second
	}
	if cfg.DelegationRecallTimeout <= 0 {
		cfg.DelegationRecallTimeout = 10 * time.Second
	}
	return &Registry{
		cfg:         cfg,
		unconfirmed: make(map[uuid.UUID]*Client),
		confirmed:   make(map[uuid.UUID]*Client),
		byKey:       make(map[backing.ID]map[uuid.UUID]*Entry),
		files:       make(map[backing.ID]*fileStats),
	}
}

// SeedGrace starts the registry in grace period, expecting reclaims from
// the given previously confirmed client ids.
func (r *Registry) SeedGrace(expected []uuid.UUID) {
	r.grace = NewGracePeriod(r.cfg.GracePeriod, expected)
}

// InGrace reports whether the registry currently requires reclaim-flagged
// state requests.
func (r *Registry) InGrace() bool {
	return r.grace != nil && r.grace.Active()
}

// NewClientID mints a client record in the unconfirmed table.
func (r *Registry) NewClientID(principal string, verifier [8]byte) uuid.UUID {
	id := uuid.New()
	c := newClient(id, verifier, principal, time.Now().Add(r.cfg.LeaseDuration))

	r.mu.Lock()
	r.unconfirmed[id] = c
	r.mu.Unlock()
	return id
}

// ConfirmClient promotes a client from unconfirmed to confirmed, the
// NFSv4 SETCLIENTID_CONFIRM step.
func (r *Registry) ConfirmClient(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.unconfirmed[id]
	if !ok {
		return false
	}
	delete(r.unconfirmed, id)
	c.Confirmed = true
	r.confirmed[id] = c
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordClients(len(r.confirmed))
	}
	return true
}

// RenewLease extends a confirmed client's lease.
func (r *Registry) RenewLease(id uuid.UUID) bool {
	r.mu.RLock()
	c, ok := r.confirmed[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	c.LeaseUntil = time.Now().Add(r.cfg.LeaseDuration)
	c.mu.Unlock()
	return true
}

func (r *Registry) fileStatsFor(key backing.ID) *fileStats {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()
	fs, ok := r.files[key]
	if !ok {
		fs = &fileStats{firstOpen: time.Now()}
		r.files[key] = fs
	}
	return fs
}

// Grant attaches a new state entry for client on key, failing with
// ErrGrace if the registry is in grace and the request isn't reclaim-
// flagged, or ErrStateConflict if it conflicts with an existing holder.
func (r *Registry) Grant(clientID uuid.UUID, key backing.ID, kind Kind, owner string, reclaim bool) (*Entry, error) {
	if r.InGrace() && !reclaim {
		return nil, ErrGrace
	}

	e := &Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Owner:     owner,
		ClientID:  clientID,
		Key:       key,
		GrantedAt: time.Now(),
		Reclaimed: reclaim,
	}

	r.statesMu.Lock()
	holders := r.byKey[key]
	for _, existing := range holders {
		if conflicts(existing, e) {
			r.statesMu.Unlock()
			return nil, ErrStateConflict
		}
	}
	if holders == nil {
		holders = make(map[uuid.UUID]*Entry)
		r.byKey[key] = holders
	}
	holders[e.ID] = e
	r.statesMu.Unlock()

	r.mu.RLock()
	c := r.confirmed[clientID]
	r.mu.RUnlock()
	if c != nil {
		c.mu.Lock()
		c.states[e.ID] = e
		c.mu.Unlock()
	}

	if reclaim && r.grace != nil {
		r.grace.Reclaim(clientID)
	}

	fs := r.fileStatsFor(key)
	fs.mu.Lock()
	fs.numOpens++
	if kind == KindDelegation {
		fs.currDelegations++
	}
	fs.mu.Unlock()

	return e, nil
}

// Release detaches a state entry, recording hold duration for delegation
// entries so the heuristic can average it.
func (r *Registry) Release(e *Entry) {
	r.statesMu.Lock()
	if holders, ok := r.byKey[e.Key]; ok {
		delete(holders, e.ID)
		if len(holders) == 0 {
			delete(r.byKey, e.Key)
		}
	}
	r.statesMu.Unlock()

	r.mu.RLock()
	c := r.confirmed[e.ClientID]
	r.mu.RUnlock()
	if c != nil {
		c.mu.Lock()
		delete(c.states, e.ID)
		c.mu.Unlock()
	}

	if e.Kind == KindDelegation {
		fs := r.fileStatsFor(e.Key)
		fs.mu.Lock()
		fs.currDelegations--
		held := time.Since(e.GrantedAt)
		fs.avgHoldNanos = (fs.avgHoldNanos*int64(fs.holdSamples) + held.Nanoseconds()) / int64(fs.holdSamples+1)
		fs.holdSamples++
		fs.mu.Unlock()
	}
}

// HasState reports whether key has any attached state entries.
func (r *Registry) HasState(key backing.ID) bool {
	r.statesMu.RLock()
	defer r.statesMu.RUnlock()
	return len(r.byKey[key]) > 0
}

// StatesFor returns a snapshot of the state entries attached to key.
func (r *Registry) StatesFor(key backing.ID) []*Entry {
	r.statesMu.RLock()
	defer r.statesMu.RUnlock()
	holders := r.byKey[key]
	out := make([]*Entry, 0, len(holders))
	for _, e := range holders {
		out = append(out, e)
	}
	return out
}

// ShouldGrantDelegation evaluates the grant heuristic (§4.L): open
// frequency below threshold, the client's recall failure rate acceptable,
// and the file's average delegation hold duration meets the configured
// minimum (skipped if no prior delegation has ever been held).
func (r *Registry) ShouldGrantDelegation(clientID uuid.UUID, key backing.ID) bool {
	fs := r.fileStatsFor(key)

	fs.mu.Lock()
	age := time.Since(fs.firstOpen).Seconds()
	opens := fs.numOpens
	avgHold := fs.avgHoldNanos
	samples := fs.holdSamples
	fs.mu.Unlock()

	if r.cfg.MaxOpenFrequencyHz > 0 && age > 0 {
		freq := float64(opens) / age
		if freq >= r.cfg.MaxOpenFrequencyHz {
			return false
		}
	}

	r.mu.RLock()
	c := r.confirmed[clientID]
	r.mu.RUnlock()
	if c != nil && r.cfg.AcceptableRecallFailRate > 0 {
		if c.RecallFailureRatio() > r.cfg.AcceptableRecallFailRate {
			return false
		}
	}

	if samples > 0 && r.cfg.MinAvgHoldDuration > 0 {
		if time.Duration(avgHold) < r.cfg.MinAvgHoldDuration {
			return false
		}
	}

	return true
}

// RecallDelegation marks e recalled and returns the deadline by which the
// client must acknowledge before the recall is treated as a timeout.
func (r *Registry) RecallDelegation(e *Entry) time.Time {
	e.Recalled = true
	e.RecallStarted = time.Now()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordDelegationRecall("started")
	}
	return e.RecallStarted.Add(r.cfg.DelegationRecallTimeout)
}

// CompleteRecall resolves a pending recall: ok=true means the client
// acknowledged within the deadline and the delegation is simply released;
// ok=false means it timed out, the delegation is revoked, and the client's
// recall failure counter feeds back into future grant decisions.
func (r *Registry) CompleteRecall(e *Entry, ok bool) {
	r.mu.RLock()
	c := r.confirmed[e.ClientID]
	r.mu.RUnlock()

	if c != nil {
		c.mu.Lock()
		c.recallTotal++
		if !ok {
			c.recallFailures++
		}
		c.mu.Unlock()
	}

	if r.cfg.Metrics != nil {
		outcome := "returned"
		if !ok {
			outcome = "revoked"
		}
		r.cfg.Metrics.RecordDelegationRecall(outcome)
	}

	r.Release(e)
}
