package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

type fakeSplitter struct {
	calls []id.Coid
}

func (f *fakeSplitter) MaybeEnqueueSplit(coid id.Coid, obj *value.Object, nupdates int) {
	f.calls = append(f.calls, coid)
}

func newTestCoordinator(t *testing.T, splitter Splitter) (*Coordinator, *looim.Registry, *pti.Table) {
	dir := t.TempDir()
	dl, err := disklog.Open(filepath.Join(dir, "log.bin"), filepath.Join(dir, "super.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { dl.Close() })

	looims := looim.NewRegistry()
	ptis := pti.NewTable()
	reserve := cache.NewReserveTracker()
	return New(looims, ptis, dl, reserve, splitter), looims, ptis
}

func testCoid(n uint64) id.Coid {
	return id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(0, 0, n)}
}

func TestOneShotPrepareCommitsImmediately(t *testing.T) {
	c, looims, ptis := newTestCoordinator(t, nil)
	tid := id.Tid{ProcessID: 1, Counter: 1}
	coid := testCoid(1)

	pt := ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	assert.NoError(t, tc.SetWrite([]byte("hello")))

	res, err := c.Prepare(context.Background(), tid, id.Timestamp{Hi: 1}, nil, true)
	assert.NoError(t, err)
	assert.Equal(t, VoteYes, res.Vote)

	l := looims.Get(coid)
	assert.NotNil(t, l)
	read, waitCh := l.ReadCoid(res.MinCommitTs.AddEpsilon())
	assert.Nil(t, waitCh)
	assert.True(t, read.Found)
	assert.Equal(t, []byte("hello"), read.Object.Value)

	_, err = ptis.GetInfoNoCreate(tid)
	assert.Error(t, err, "oneShot commit must remove the PTI")
}

func TestTwoPhaseCommitExplicit(t *testing.T) {
	splitter := &fakeSplitter{}
	c, looims, ptis := newTestCoordinator(t, splitter)
	tid := id.Tid{ProcessID: 2, Counter: 1}
	coid := testCoid(2)

	pt := ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	assert.NoError(t, tc.AddListAdd(value.Cell{NKey: 1, Value: 100}))

	res, err := c.Prepare(context.Background(), tid, id.Timestamp{Hi: 1}, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, VoteYes, res.Vote)

	committs := res.MinCommitTs.AddEpsilon()
	cres, err := c.Commit(context.Background(), tid, committs, OutcomeCommit)
	assert.NoError(t, err)
	assert.True(t, cres.WaitingTs.LessEqual(committs))

	l := looims.Get(coid)
	read, _ := l.ReadCoid(committs)
	assert.True(t, read.Found)
	assert.Len(t, read.Object.SV.Cells, 1)
	assert.Len(t, splitter.calls, 1)
}

func TestConflictingWritesSecondVotesNo(t *testing.T) {
	c, _, ptis := newTestCoordinator(t, nil)
	coid := testCoid(3)

	tid1 := id.Tid{ProcessID: 3, Counter: 1}
	pt1 := ptis.GetInfo(tid1)
	assert.NoError(t, pt1.LookupInsert(coid).SetWrite([]byte("a")))
	res1, err := c.Prepare(context.Background(), tid1, id.Timestamp{Hi: 1}, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, VoteYes, res1.Vote)

	tid2 := id.Tid{ProcessID: 3, Counter: 2}
	pt2 := ptis.GetInfo(tid2)
	assert.NoError(t, pt2.LookupInsert(coid).SetWrite([]byte("b")))
	res2, err := c.Prepare(context.Background(), tid2, id.Timestamp{Hi: 1}, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, VoteNo, res2.Vote, "two pending plain writes to the same coid must conflict")

	_, err = ptis.GetInfoNoCreate(tid2)
	assert.Error(t, err, "a no-vote must remove the PTI immediately")
}

func TestConcurrentConflictingPreparesExactlyOneYes(t *testing.T) {
	c, _, ptis := newTestCoordinator(t, nil)
	coid := testCoid(30)

	const n = 8
	results := make([]*PrepareResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		tid := id.Tid{ProcessID: 30, Counter: uint64(i + 1)}
		pt := ptis.GetInfo(tid)
		assert.NoError(t, pt.LookupInsert(coid).SetWrite([]byte{byte(i)}))

		wg.Add(1)
		go func(i int, tid id.Tid) {
			defer wg.Done()
			res, err := c.Prepare(context.Background(), tid, id.Timestamp{Hi: 1}, nil, false)
			assert.NoError(t, err)
			results[i] = res
		}(i, tid)
	}
	wg.Wait()

	yesVotes := 0
	for _, res := range results {
		if res.Vote == VoteYes {
			yesVotes++
		}
	}
	assert.Equal(t, 1, yesVotes, "exactly one of N concurrent conflicting plain writes to the same coid must vote yes")
}

func TestAbortRemovesPendingAndWakesReaders(t *testing.T) {
	c, looims, ptis := newTestCoordinator(t, nil)
	tid := id.Tid{ProcessID: 4, Counter: 1}
	coid := testCoid(4)

	pt := ptis.GetInfo(tid)
	assert.NoError(t, pt.LookupInsert(coid).SetWrite([]byte("x")))
	res, err := c.Prepare(context.Background(), tid, id.Timestamp{Hi: 1}, nil, false)
	assert.NoError(t, err)
	assert.Equal(t, VoteYes, res.Vote)

	l := looims.Get(coid)
	_, waitCh := l.ReadCoid(res.MinCommitTs)
	assert.NotNil(t, waitCh, "a read at the pending ts must defer")

	_, err = c.Commit(context.Background(), tid, res.MinCommitTs, OutcomeAbort)
	assert.NoError(t, err)

	select {
	case <-waitCh:
	default:
		t.Fatal("abort must wake readers deferred on the aborted sleim")
	}

	read, _ := l.ReadCoid(res.MinCommitTs)
	assert.False(t, read.Found, "aborted write must never materialize")
}

func TestPiggyWriteDiscardedWhenExplicitWriteAlreadyPresent(t *testing.T) {
	c, looims, ptis := newTestCoordinator(t, nil)
	tid := id.Tid{ProcessID: 5, Counter: 1}
	coid := testCoid(5)

	pt := ptis.GetInfo(tid)
	assert.NoError(t, pt.LookupInsert(coid).SetWrite([]byte("explicit")))

	res, err := c.Prepare(context.Background(), tid, id.Timestamp{Hi: 1}, &PiggyWrite{Coid: coid, Value: []byte("piggy")}, true)
	assert.NoError(t, err)
	assert.Equal(t, VoteYes, res.Vote)

	l := looims.Get(coid)
	read, _ := l.ReadCoid(res.MinCommitTs.AddEpsilon())
	assert.Equal(t, []byte("explicit"), read.Object.Value, "explicit write must win over a piggybacked one")
}
