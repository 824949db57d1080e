// Package coordinator implements the two-phase-commit state machine
// (spec.md 4.F): Prepare validates and durably logs a transaction's
// effects across every coid it touched; Commit resolves the outcome,
// materializing committed writes into their LOOIMs or discarding them.
package coordinator

import (
	"context"
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/log"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/metrics"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// Vote is a Prepare outcome.
type Vote int

const (
	VoteYes Vote = iota
	VoteNo
)

// Outcome is the disposition a client-driven Commit asks the coordinator
// to apply.
type Outcome int

const (
	OutcomeCommit Outcome = iota
	OutcomeAbort
	OutcomeAppAbort // aborted before ever preparing; no log record needed
)

// PiggyWrite is the write-on-prepare optimization (spec.md 4.F): the last
// write of a transaction, carried on the Prepare RPC itself instead of a
// separate Write RPC.
type PiggyWrite struct {
	Coid  id.Coid
	Value []byte
}

// PrepareResult is the reply to a Prepare call.
type PrepareResult struct {
	Vote           Vote
	MinCommitTs    id.Timestamp
	CacheVersionNo uint64
	CacheAdvanceTs id.Timestamp
}

// CommitResult is the reply to a Commit call.
type CommitResult struct {
	// WaitingTs is the largest per-coid pending timestamp actually
	// assigned to this transaction's sleims (spec.md 4.F: "accumulate
	// maximum waitingts seen on any pending sleim"). A caller honoring the
	// cache-reserve promise for a cacheable write delays responding to
	// the client until real time catches up to this timestamp.
	WaitingTs id.Timestamp
}

// Splitter receives post-commit notifications so the B-tree split engine
// can check whether a node just grew past its size threshold (spec.md
// 4.F "Enqueue splits for any coid whose ticoid performed listadd/
// listdelrange/writesv and whose post-commit super-value exceeds split
// thresholds"). Defined here, implemented by pkg/btree, to avoid a
// dependency cycle (btree's splitter needs the coordinator's commit hook,
// not the other way around).
type Splitter interface {
	MaybeEnqueueSplit(coid id.Coid, obj *value.Object, nupdates int)
}

type pendingTx struct {
	coids  []id.Coid
	sleims map[id.Coid]*looim.Sleim
}

// Coordinator ties together the per-object logs (component C), the
// pending-transaction table (component D), the disk log (component E),
// and the client cache's server-side reserve tracker (component G) to
// implement the 2PC state machine.
type Coordinator struct {
	looims  *looim.Registry
	ptis    *pti.Table
	log     *disklog.DiskLog
	reserve *cache.ReserveTracker
	splitter Splitter

	mu      sync.Mutex
	pending map[id.Tid]*pendingTx
}

// New returns a Coordinator wired to the given subsystems. splitter may be
// nil (no post-commit split checks, useful in tests of the 2PC machinery
// alone, or when the splitter needs the coordinator itself to construct
// and must be wired in afterwards via SetSplitter).
func New(looims *looim.Registry, ptis *pti.Table, log *disklog.DiskLog, reserve *cache.ReserveTracker, splitter Splitter) *Coordinator {
	return &Coordinator{
		looims:  looims,
		ptis:    ptis,
		log:     log,
		reserve: reserve,
		splitter: splitter,
		pending: make(map[id.Tid]*pendingTx),
	}
}

// SetSplitter wires in (or replaces) the post-commit splitter, breaking
// the construction-order cycle between a coordinator and a splitter
// (e.g. pkg/btree's Tree) that needs a reference to the coordinator it
// enqueues commits through.
func (c *Coordinator) SetSplitter(splitter Splitter) {
	c.mu.Lock()
	c.splitter = splitter
	c.mu.Unlock()
}

// Prepare runs spec.md 4.F's Prepare algorithm: lift proposeTs above the
// cache reserve horizon for cacheable writes, scan every touched coid's
// LOOIM for conflicts in ascending coid order (deadlock-free), and on a
// yes vote add pending sleims, release the latches, durably log the
// transaction, and (for oneShot transactions) immediately commit.
func (c *Coordinator) Prepare(ctx context.Context, tid id.Tid, startTs id.Timestamp, piggyWrite *PiggyWrite, oneShot bool) (*PrepareResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PrepareDuration)

	pt := c.ptis.GetInfo(tid)

	if piggyWrite != nil {
		existing := pt.Ticoid(piggyWrite.Coid)
		if existing == nil || !existing.HasWrite {
			tc := pt.LookupInsert(piggyWrite.Coid)
			if err := tc.SetWrite(piggyWrite.Value); err != nil {
				c.ptis.RemoveInfo(tid)
				return nil, err
			}
		} else {
			log.Logger.Debug().
				Str("tid", tid.String()).
				Str("coid", piggyWrite.Coid.String()).
				Msg("piggybacked write discarded: explicit write already present")
		}
		if id.IsCoidCachable(piggyWrite.Coid) {
			pt.MarkCacheable()
		}
	}

	if pt.UpdatesCacheable {
		c.reserve.BeginPreparing()
	}

	proposeTs := startTs
	if pt.UpdatesCacheable {
		proposeTs = c.reserve.LiftProposeTs(proposeTs)
	}

	coids := pt.Coids()
	if len(coids) == 0 {
		if pt.UpdatesCacheable {
			c.reserve.EndPreparing()
		}
		c.ptis.RemoveInfo(tid)
		return nil, kverrors.NotFound
	}

	// spec.md 4.F steps 3/4: each coid's write latch is acquired once and
	// held across both the conflict scan and (on an overall yes vote) the
	// pending-sleim insertion, so two concurrent Prepares touching the
	// same coid cannot both scan clean before either adds its sleim.
	// Latches are taken in pt.Coids()'s sorted order and released as soon
	// as every coid has been scanned (and, on yes, added to) — before any
	// later step, since the oneShot optimization below calls Commit on
	// this same tid, which re-locks these same looims.
	latches := make([]*looim.WriteLatch, 0, len(coids))
	releaseLatches := func() {
		for _, w := range latches {
			w.Release()
		}
		latches = nil
	}

	conflicted := false
	for _, coid := range coids {
		tc := pt.Ticoid(coid)
		l := c.looims.GetOrCreate(coid)
		if tc.HasWriteSV {
			l.SetCellType(tc.WriteSV.CellType, tc.WriteSV.KeyInfo)
		}
		w := l.AcquireWriteLatch()
		latches = append(latches, w)
		maxTsSeen, conflict := w.ScanConflicts(startTs, tc)
		if conflict {
			conflicted = true
			break
		}
		proposeTs = id.Max(proposeTs, maxTsSeen)
	}

	if conflicted {
		releaseLatches()
		if pt.UpdatesCacheable {
			c.reserve.EndPreparing()
		}
		c.ptis.RemoveInfo(tid)
		return &PrepareResult{Vote: VoteNo}, nil
	}

	sleims := make(map[id.Coid]*looim.Sleim, len(coids))
	for i, coid := range coids {
		tc := pt.Ticoid(coid)
		sleims[coid] = latches[i].AddPending(proposeTs, tid, tc)
	}
	releaseLatches()

	writes := make([]disklog.CoidWrite, len(coids))
	for i, coid := range coids {
		writes[i] = disklog.CoidWrite{Coid: coid, Ticoid: pt.Ticoid(coid)}
	}
	notify := make(chan struct{})
	if c.log.LogUpdatesAndYesVote(tid, proposeTs, writes, notify) {
		// Nothing else flushes a partly filled buffer, so flush it here
		// rather than wait for later records to fill it.
		c.log.Flush()
		select {
		case <-notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pt.SetStatus(pti.StatusVotedYes)

	c.mu.Lock()
	c.pending[tid] = &pendingTx{coids: coids, sleims: sleims}
	c.mu.Unlock()

	if oneShot {
		committs := proposeTs.AddEpsilon()
		if _, err := c.Commit(ctx, tid, committs, OutcomeCommit); err != nil {
			return nil, err
		}
	}

	vno, advTs := c.reserve.Snapshot()
	return &PrepareResult{Vote: VoteYes, MinCommitTs: proposeTs, CacheVersionNo: vno, CacheAdvanceTs: advTs}, nil
}

// Commit runs spec.md 4.F's Commit algorithm. A missing PTI/pending set is
// acceptable (the write-on-prepare optimization, or a transaction that
// already resolved) and is a no-op rather than an error.
func (c *Coordinator) Commit(ctx context.Context, tid id.Tid, committs id.Timestamp, outcome Outcome) (*CommitResult, error) {
	c.mu.Lock()
	pend, ok := c.pending[tid]
	if ok {
		delete(c.pending, tid)
	}
	c.mu.Unlock()

	pt, err := c.ptis.GetInfoNoCreate(tid)
	hasPTI := err == nil

	if !ok {
		if hasPTI {
			c.ptis.RemoveInfo(tid)
		}
		return &CommitResult{}, nil
	}

	if hasPTI && pt.UpdatesCacheable {
		c.reserve.EndPreparing()
		if outcome == OutcomeCommit {
			c.reserve.Advance(committs, true)
		}
	}

	var waitingTs id.Timestamp
	if outcome == OutcomeCommit {
		for _, coid := range pend.coids {
			sleim := pend.sleims[coid]
			if sleim.Ts.Greater(waitingTs) {
				waitingTs = sleim.Ts
			}
			l := c.looims.GetOrCreate(coid)
			obj, nupdates, err := l.Commit(sleim, committs)
			if err != nil {
				return nil, err
			}
			if nupdates > 0 && c.splitter != nil {
				c.splitter.MaybeEnqueueSplit(coid, obj, nupdates)
			}
		}
		c.log.LogCommitAsync(tid, committs)
	} else {
		wasVotedYes := hasPTI && pt.GetStatus() == pti.StatusVotedYes
		for _, coid := range pend.coids {
			l := c.looims.GetOrCreate(coid)
			l.Abort(pend.sleims[coid])
		}
		if wasVotedYes {
			c.log.LogAbortAsync(tid, committs)
		}
	}

	if hasPTI {
		c.ptis.RemoveInfo(tid)
	}

	return &CommitResult{WaitingTs: waitingTs}, nil
}
