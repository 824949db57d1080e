// Package pti implements the pending-transaction table (spec.md 4.D): the
// server-side record of what an in-flight transaction has done to each
// coid it has touched, keyed by Tid. A PTI exists from the transaction's
// first write until Commit/Abort removes it.
package pti

import (
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
)

// Status is a PTI's position in the 2PC state machine (spec.md 4.F).
type Status int

const (
	StatusActive Status = iota
	StatusVotedYes
	StatusVotedNo
	StatusCommitted
	StatusAborted
)

// PTI ("pending-transaction-info") is the accumulated per-coid effects of
// one in-flight transaction, plus its 2PC status. Status and
// UpdatesCacheable are exported for direct reads by the coordinator, which
// only ever drives a given Tid's Prepare then Commit from one goroutine at
// a time (the RPC layer never issues Commit before Prepare's reply), so
// the happens-before relation from that sequencing makes the unsynchronized
// reads safe without an accessor round-trip.
type PTI struct {
	Tid    id.Tid
	Status Status

	// UpdatesCacheable is true once any write has touched a cacheable
	// coid (spec.md 4.A "cacheable"); it governs the proposeTs-lifting
	// rule in Prepare step 2 (spec.md 4.F).
	UpdatesCacheable bool

	mu       sync.Mutex
	coidinfo map[id.Coid]*looim.Ticoid
}

func newPTI(tid id.Tid) *PTI {
	return &PTI{Tid: tid, Status: StatusActive, coidinfo: make(map[id.Coid]*looim.Ticoid)}
}

// LookupInsert returns the Ticoid accumulating this transaction's effects
// on coid, allocating an empty one on first reference (spec.md 4.D
// lookupInsert: "the first write to a coid allocates a TxInfoCoid;
// subsequent writes accumulate").
func (p *PTI) LookupInsert(coid id.Coid) *looim.Ticoid {
	p.mu.Lock()
	defer p.mu.Unlock()
	tc, ok := p.coidinfo[coid]
	if !ok {
		tc = looim.NewTicoid()
		p.coidinfo[coid] = tc
	}
	return tc
}

// SetStatus transitions the PTI's position in the 2PC state machine
// (spec.md 4.F: Active -> VotedYes -> Committed/Aborted, or
// Active -> VotedNo -> Aborted, or Active -> Aborted directly).
func (p *PTI) SetStatus(s Status) {
	p.mu.Lock()
	p.Status = s
	p.mu.Unlock()
}

// GetStatus returns the PTI's current 2PC state.
func (p *PTI) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Status
}

// MarkCacheable records that coid is a cacheable coid this transaction has
// written, if it is (spec.md 4.A "cacheable" predicate is evaluated by the
// caller via id.IsCoidCachable; this just latches the sticky flag).
func (p *PTI) MarkCacheable() {
	p.mu.Lock()
	p.UpdatesCacheable = true
	p.mu.Unlock()
}

// Coids returns a snapshot of every coid this transaction has touched, in
// ascending order — the deadlock-free latch-acquisition order Prepare
// iterates in (spec.md 4.F step 3).
func (p *PTI) Coids() []id.Coid {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]id.Coid, 0, len(p.coidinfo))
	for c := range p.coidinfo {
		out = append(out, c)
	}
	sortCoids(out)
	return out
}

// Ticoid returns the accumulated effects on coid, or nil if this
// transaction never touched it.
func (p *PTI) Ticoid(coid id.Coid) *looim.Ticoid {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coidinfo[coid]
}

func sortCoids(cs []id.Coid) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].Less(cs[j-1]); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// Table is the server-wide map of in-flight PTIs, keyed by Tid.
type Table struct {
	mu   sync.Mutex
	ptis map[id.Tid]*PTI
}

// NewTable returns an empty pending-transaction table.
func NewTable() *Table {
	return &Table{ptis: make(map[id.Tid]*PTI)}
}

// GetInfo returns (creating if absent) the PTI for tid (spec.md 4.D
// getInfo).
func (t *Table) GetInfo(tid id.Tid) *PTI {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ptis[tid]
	if !ok {
		p = newPTI(tid)
		t.ptis[tid] = p
	}
	return p
}

// GetInfoNoCreate returns the PTI for tid, failing with NotFound if absent
// (spec.md 4.D getInfoNoCreate — used by Commit, where a missing PTI may
// be legitimate due to the write-on-prepare optimization eliding it, so
// callers must treat this error as acceptable rather than fatal).
func (t *Table) GetInfoNoCreate(tid id.Tid) (*PTI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ptis[tid]
	if !ok {
		return nil, kverrors.NotFound
	}
	return p, nil
}

// RemoveInfo removes tid's PTI, if any (spec.md 4.D removeInfo).
func (t *Table) RemoveInfo(tid id.Tid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ptis, tid)
}

// Len reports the number of in-flight transactions, used by metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ptis)
}
