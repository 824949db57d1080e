package btree

import (
	"context"

	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// Txn is one client-driven transaction against the coordinator and
// LOOIM registry (spec.md 4.F/4.I). Tree operations and the split
// engine both build on it; per the "split location" open question
// (DESIGN.md), this implementation always runs a Txn in the same
// process as the coordinator it drives.
type Txn struct {
	tid     id.Tid
	startTs id.Timestamp
	coord   *coordinator.Coordinator
	looims  *looim.Registry
	ptis    *pti.Table
	pt      *pti.PTI // nil until the first write
}

func beginTxn(tids *id.TidIssuer, clock *id.Clock, coord *coordinator.Coordinator, looims *looim.Registry, ptis *pti.Table) *Txn {
	return &Txn{
		tid:     tids.New(),
		startTs: clock.New(),
		coord:   coord,
		looims:  looims,
		ptis:    ptis,
	}
}

// Read returns the effective object at the transaction's snapshot
// timestamp, parking on any pending write that covers it until it
// resolves (spec.md 5 "suspension points").
func (t *Txn) Read(ctx context.Context, coid id.Coid) (*value.Object, error) {
	l := t.looims.GetOrCreate(coid)
	for {
		res, waitCh := l.ReadCoid(t.startTs)
		if waitCh == nil {
			if !res.Found {
				return nil, nil
			}
			return res.Object, nil
		}
		select {
		case <-waitCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Txn) ticoid(coid id.Coid) *looim.Ticoid {
	if t.pt == nil {
		t.pt = t.ptis.GetInfo(t.tid)
	}
	return t.pt.LookupInsert(coid)
}

// Write stages a plain put on coid.
func (t *Txn) Write(coid id.Coid, buf []byte) error { return t.ticoid(coid).SetWrite(buf) }

// WriteSV stages a full super-value write on coid.
func (t *Txn) WriteSV(coid id.Coid, sv *value.SuperValue) error {
	return t.ticoid(coid).SetWriteSV(sv)
}

// ListAdd stages a cell insertion on coid's super-value.
func (t *Txn) ListAdd(coid id.Coid, c value.Cell) error { return t.ticoid(coid).AddListAdd(c) }

// DelRange stages a range deletion on coid's super-value.
func (t *Txn) DelRange(coid id.Coid, lo, hi value.Cell, it looim.IntervalType) error {
	return t.ticoid(coid).AddDelRange(lo, hi, it)
}

// AttrSet stages an attribute assignment on coid's super-value.
func (t *Txn) AttrSet(coid id.Coid, idx int, val int64) error {
	return t.ticoid(coid).AddAttrSet(idx, val)
}

// Commit runs two-phase commit to completion (spec.md 4.F): Prepare,
// then — on a yes vote — an explicit Commit one epsilon past Prepare's
// minimum commit timestamp. A read-only transaction that staged no writes is a no-op.
// Returns kverrors.Conflict on a no vote.
func (t *Txn) Commit(ctx context.Context) error {
	if t.pt == nil {
		return nil
	}
	res, err := t.coord.Prepare(ctx, t.tid, t.startTs, nil, false)
	if err != nil {
		return err
	}
	if res.Vote == coordinator.VoteNo {
		return kverrors.Conflict
	}
	committs := res.MinCommitTs.AddEpsilon()
	_, err = t.coord.Commit(ctx, t.tid, committs, coordinator.OutcomeCommit)
	return err
}

// Abort discards every operation this transaction staged.
func (t *Txn) Abort(ctx context.Context) {
	if t.pt == nil {
		return
	}
	_, _ = t.coord.Commit(ctx, t.tid, t.startTs, coordinator.OutcomeAppAbort)
}
