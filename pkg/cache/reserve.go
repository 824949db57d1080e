package cache

import (
	"sync"
	"time"

	"github.com/yesqlkv/yesqlkv/pkg/id"
)

// CacheReserveTime is the interval by which a server's advanceTs leads
// real time (spec.md 4.G CACHE_RESERVE_TIME, "~1.5s").
const CacheReserveTime = 1500 * time.Millisecond

// ReserveTracker is the server-side half of the consistent client cache
// protocol: it owns versionNo and advanceTs for this server and enforces
// the invariant that advanceTs only advances while no transaction
// touching cacheable data is mid-Prepare (spec.md 4.G, "maintained by (a)
// only advancing advanceTs when preparing == 0").
type ReserveTracker struct {
	reserveTime time.Duration
	throttle    time.Duration

	mu          sync.Mutex
	versionNo   uint64
	advanceTs   id.Timestamp
	preparing   int
	lastRefresh time.Time
}

// NewReserveTracker returns a tracker starting at version 0, leading real
// time by CacheReserveTime once RefreshAdvanceTs starts being called.
func NewReserveTracker() *ReserveTracker {
	return NewReserveTrackerWithReserveTime(CacheReserveTime)
}

// NewReserveTrackerWithReserveTime is NewReserveTracker with an explicit
// reserve interval (config.Config.CacheReserveTime overrides the package
// default when set).
func NewReserveTrackerWithReserveTime(reserveTime time.Duration) *ReserveTracker {
	return &ReserveTracker{reserveTime: reserveTime, throttle: reserveTime / 10}
}

// BeginPreparing registers that a transaction touching cacheable data has
// entered Prepare; it must be paired with EndPreparing.
func (r *ReserveTracker) BeginPreparing() {
	r.mu.Lock()
	r.preparing++
	r.mu.Unlock()
}

// EndPreparing unregisters a completed Prepare.
func (r *ReserveTracker) EndPreparing() {
	r.mu.Lock()
	r.preparing--
	r.mu.Unlock()
}

// LiftProposeTs applies spec.md 4.G's rule (b): for a transaction that
// touches cacheable data, proposeTs must be lifted above advanceTs + ε so
// the cache-reserve promise is never violated by a concurrent commit.
func (r *ReserveTracker) LiftProposeTs(proposeTs id.Timestamp) id.Timestamp {
	r.mu.Lock()
	floor := r.advanceTs.AddEpsilon()
	r.mu.Unlock()
	return id.Max(proposeTs, floor)
}

// Advance extends advanceTs to at least target, but only takes effect
// while no Prepare touching cacheable data is in flight; otherwise it is a
// no-op and the caller should retry once preparing drains to zero. Version
// is bumped whenever the cachemap this advance covers was invalidated by
// the caller (pass bumpVersion=true on whole-cache invalidation).
func (r *ReserveTracker) Advance(target id.Timestamp, bumpVersion bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.preparing != 0 {
		return false
	}
	if bumpVersion {
		r.versionNo++
	}
	if r.advanceTs.Less(target) {
		r.advanceTs = target
	}
	return true
}

// Snapshot returns the {versionNo, advanceTs} pair piggybacked on RPC
// responses (spec.md 4.G / 4.F step 6).
func (r *ReserveTracker) Snapshot() (versionNo uint64, advanceTs id.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versionNo, r.advanceTs
}

// RefreshAdvanceTs pushes advanceTs to lead now by the tracker's reserve
// interval, matching the original's updateAdvanceTs(): throttled to at most
// once per reserveTime/10 and skipped while any cacheable Prepare is in
// flight (Advance's own preparing gate handles that half). Called on every
// RPC response so advanceTs keeps leading real time even when no
// transaction is committing.
func (r *ReserveTracker) RefreshAdvanceTs(now id.Timestamp) {
	r.mu.Lock()
	wall := time.Now()
	if !r.lastRefresh.IsZero() && wall.Sub(r.lastRefresh) < r.throttle {
		r.mu.Unlock()
		return
	}
	r.lastRefresh = wall
	r.mu.Unlock()

	r.Advance(now.Add(r.reserveTime), false)
}
