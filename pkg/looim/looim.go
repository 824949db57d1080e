// Package looim implements the log-of-one-object-in-memory: the
// per-coid MVCC log plus pending-writes list that is the hard core of
// the storage server (spec.md 4.C, component C). A Looim is created
// lazily on first reference (read or write) to a coid and is never removed during normal
// operation (log truncation is out of scope, spec.md 3).
package looim

import (
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// Sleim ("single-log-entry-in-memory") is one versioned record in a
// Looim: either a committed logentries entry or a yes-voted-but-not-yet-
// resolved pendingentries entry.
type Sleim struct {
	Ts     id.Timestamp
	Tid    id.Tid
	Ticoid *Ticoid
	Result *value.Object // materialized object state as of Ts

	mu      sync.Mutex
	waiters []chan struct{} // readers parked on this pending sleim
}

func newSleim(ts id.Timestamp, tid id.Tid, tc *Ticoid) *Sleim {
	return &Sleim{Ts: ts, Tid: tid, Ticoid: tc}
}

// wait registers a channel that will be closed when this sleim resolves
// (spec.md 5 "suspension points": reads parked on a pending sleim).
func (s *Sleim) wait() <-chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()
	return ch
}

// resolve wakes every reader parked on this sleim.
func (s *Sleim) resolve() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Looim is the per-object MVCC log: a chronologically ordered
// logentries list (strictly increasing timestamps, invariant I1), a
// pendingentries list of yes-voted-but-unresolved entries, and the
// high-water read mark LastRead.
type Looim struct {
	mu sync.RWMutex

	Coid        id.Coid
	CellType    value.CellType
	KeyInfo     *value.KeyInfo
	logentries  []*Sleim // strictly increasing Ts
	pendingentries []*Sleim
	LastRead    id.Timestamp
}

// New returns an empty Looim for coid.
func New(coid id.Coid) *Looim {
	return &Looim{Coid: coid}
}

// ReadResult is what ReadCoid returns on a non-deferred read.
type ReadResult struct {
	Found     bool
	Object    *value.Object
	ReadTsActual id.Timestamp
}

// ReadCoid returns the effective object at readTs (spec.md 4.C
// readCOid). If a pending entry exists with Ts <= readTs, the read
// defers: it returns (nil, waitCh) and the caller must wait on
// waitCh then retry ReadCoid (normally at the same readTs; it may defer
// again on a different sleim). LastRead is advanced unconditionally,
// even on a deferred read, so a subsequent Prepare sees the high-water
// mark (spec.md 4.F step 3).
func (l *Looim) ReadCoid(readTs id.Timestamp) (*ReadResult, <-chan struct{}) {
	l.mu.Lock()
	if l.LastRead.Less(readTs) {
		l.LastRead = readTs
	}
	for _, p := range l.pendingentries {
		if p.Ts.LessEqual(readTs) {
			waitCh := p.wait()
			l.mu.Unlock()
			return nil, waitCh
		}
	}
	// Find the latest logentries entry with Ts <= readTs (logentries is
	// kept sorted ascending by Ts, invariant I1).
	var found *Sleim
	for i := len(l.logentries) - 1; i >= 0; i-- {
		if l.logentries[i].Ts.LessEqual(readTs) {
			found = l.logentries[i]
			break
		}
	}
	l.mu.Unlock()

	if found == nil {
		return &ReadResult{Found: false, ReadTsActual: readTs}, nil
	}
	return &ReadResult{Found: true, Object: found.Result, ReadTsActual: readTs}, nil
}

// Peek returns the latest committed object, or nil if none exists yet.
// It is a read-only snapshot used by RPC handlers that report a
// best-effort cell count/size for a write still buffered in a PTI (the
// authoritative count is only known once the transaction commits).
func (l *Looim) Peek() *value.Object {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestCommitted()
}

// scanConflictsLocked is ConflictScan's body, run with l.mu already held.
func (l *Looim) scanConflictsLocked(startTs id.Timestamp, newTicoid *Ticoid) (maxTsSeen id.Timestamp, conflict bool) {
	maxTsSeen = l.LastRead
	for i := len(l.logentries) - 1; i >= 0; i-- {
		e := l.logentries[i]
		if !e.Ts.Greater(startTs) {
			break
		}
		if newTicoid.HasConflicts(e.Ticoid, l.CellType, l.KeyInfo) {
			return maxTsSeen, true
		}
	}
	for _, p := range l.pendingentries {
		if newTicoid.HasConflicts(p.Ticoid, l.CellType, l.KeyInfo) {
			return maxTsSeen, true
		}
	}
	return maxTsSeen, false
}

// addPendingLocked is AddPending's body, run with l.mu already held.
func (l *Looim) addPendingLocked(proposeTs id.Timestamp, tid id.Tid, tc *Ticoid) *Sleim {
	ts := proposeTs
	for {
		collides := false
		for _, p := range l.pendingentries {
			if p.Ts == ts {
				collides = true
				break
			}
		}
		if !collides {
			break
		}
		ts = ts.AddEpsilon()
	}
	s := newSleim(ts, tid, tc)
	l.pendingentries = append(l.pendingentries, s)
	return s
}

// ConflictScan acquires the write latch, checks newTicoid against every
// logentries entry with Ts > startTs and every pendingentries entry
// (spec.md 4.F step 3), then releases the latch. It returns the looim's
// LastRead (so the caller can bump proposeTs to at least LastRead) and
// whether a conflict was found.
//
// This standalone form releases the latch before returning, so it must
// not be used to decide a Prepare vote: spec.md 4.F steps 3/4 require the
// latch to stay held from the scan through the pending-sleim insertion,
// or two concurrent Prepares on the same coid can both scan clean before
// either adds its sleim. Coordinator.Prepare uses AcquireWriteLatch
// instead; this form remains for tests and other read-only callers.
func (l *Looim) ConflictScan(startTs id.Timestamp, newTicoid *Ticoid) (maxTsSeen id.Timestamp, conflict bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scanConflictsLocked(startTs, newTicoid)
}

// AddPending adds a pending sleim at proposeTs (spec.md 4.C
// auxAddSleimToPendingentries), acquiring and releasing the write latch
// itself. If another pending entry already uses proposeTs, the timestamp
// is bumped by epsilon until unique (I1 extended to pending entries).
//
// This standalone form is for callers with no conflict scan to hold the
// latch across, namely crash recovery replaying a log that was already
// conflict-checked before it was written. Coordinator.Prepare uses
// AcquireWriteLatch instead, to keep the latch held from its conflict
// scan through this insertion.
func (l *Looim) AddPending(proposeTs id.Timestamp, tid id.Tid, tc *Ticoid) *Sleim {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addPendingLocked(proposeTs, tid, tc)
}

// WriteLatch is a coid's write latch held across the scan-then-add
// sequence spec.md 4.F steps 3/4 require: acquire, scan for conflicts,
// and — only on an overall yes vote — add the pending sleim, all without
// an intervening unlock that would let a concurrent Prepare on the same
// coid interleave between the scan and the add.
type WriteLatch struct {
	l *Looim
}

// AcquireWriteLatch locks the looim's write latch and returns a handle
// for the scan-then-add sequence. The caller must call Release exactly
// once, whether or not ScanConflicts found a conflict.
func (l *Looim) AcquireWriteLatch() *WriteLatch {
	l.mu.Lock()
	return &WriteLatch{l: l}
}

// ScanConflicts is ConflictScan without acquiring the latch; the caller
// already holds it via AcquireWriteLatch.
func (w *WriteLatch) ScanConflicts(startTs id.Timestamp, newTicoid *Ticoid) (maxTsSeen id.Timestamp, conflict bool) {
	return w.l.scanConflictsLocked(startTs, newTicoid)
}

// AddPending is AddPending without acquiring the latch; the caller
// already holds it via AcquireWriteLatch.
func (w *WriteLatch) AddPending(proposeTs id.Timestamp, tid id.Tid, tc *Ticoid) *Sleim {
	return w.l.addPendingLocked(proposeTs, tid, tc)
}

// Release unlocks the write latch.
func (w *WriteLatch) Release() {
	w.l.mu.Unlock()
}

// latestCommitted returns the materialized object as of the last
// logentries entry, or nil if none exists.
func (l *Looim) latestCommitted() *value.Object {
	if len(l.logentries) == 0 {
		return nil
	}
	return l.logentries[len(l.logentries)-1].Result
}

// Commit moves sleim from pendingentries into logentries at finalTs,
// materializes its effective object via ApplyTicoid on top of the
// previously committed state, and wakes every reader parked on it
// (spec.md 4.C removeOrMovePendingToLogentries, commit path).
func (l *Looim) Commit(sleim *Sleim, finalTs id.Timestamp) (*value.Object, int, error) {
	l.mu.Lock()
	base := l.latestCommitted()
	obj, nupdates, err := ApplyTicoid(base, sleim.Ticoid, l.CellType, l.KeyInfo)
	if err != nil {
		l.mu.Unlock()
		sleim.resolve()
		return nil, 0, err
	}
	if obj != nil && obj.SV != nil && l.CellType == value.CellTypeComposite && l.KeyInfo == nil {
		l.KeyInfo = obj.SV.KeyInfo
	}
	sleim.Ts = finalTs
	sleim.Result = obj
	l.removePending(sleim)
	l.insertSorted(sleim)
	l.mu.Unlock()

	sleim.resolve()
	return obj, nupdates, nil
}

// Abort removes sleim from pendingentries without materializing it, and
// wakes every reader parked on it (spec.md 4.C removeOrMovePending...,
// abort path).
func (l *Looim) Abort(sleim *Sleim) {
	l.mu.Lock()
	l.removePending(sleim)
	l.mu.Unlock()
	sleim.resolve()
}

func (l *Looim) removePending(sleim *Sleim) {
	for i, p := range l.pendingentries {
		if p == sleim {
			l.pendingentries = append(l.pendingentries[:i], l.pendingentries[i+1:]...)
			return
		}
	}
}

func (l *Looim) insertSorted(sleim *Sleim) {
	i := len(l.logentries)
	for i > 0 && l.logentries[i-1].Ts.Greater(sleim.Ts) {
		i--
	}
	l.logentries = append(l.logentries, nil)
	copy(l.logentries[i+1:], l.logentries[i:])
	l.logentries[i] = sleim
}

// SetCellType fixes the node/value shape the first time a super-value
// write establishes it, and sticky-sets KeyInfo (spec.md 9 "KeyInfo
// proliferation").
func (l *Looim) SetCellType(ct value.CellType, ki *value.KeyInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.logentries) == 0 && len(l.pendingentries) == 0 {
		l.CellType = ct
		if l.KeyInfo == nil {
			l.KeyInfo = ki
		}
	}
}

// PendingTimestamps returns a snapshot of the current pending sleims'
// timestamps.
func (l *Looim) PendingTimestamps() []id.Timestamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]id.Timestamp, len(l.pendingentries))
	for i, p := range l.pendingentries {
		out[i] = p.Ts
	}
	return out
}
