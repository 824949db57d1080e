package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

func cellInt(k int64) value.Cell { return value.Cell{NKey: k, Value: k} }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	dlog, err := disklog.Open(filepath.Join(dir, "log.bin"), filepath.Join(dir, "super.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dlog.Close() })

	looims := looim.NewRegistry()
	ptis := pti.NewTable()
	reserve := cache.NewReserveTracker()
	coord := coordinator.New(looims, ptis, dlog, reserve, nil)
	return NewServer(1, id.NewClock(), looims, ptis, dlog, reserve, coord)
}

func TestWriteReadPrepareCommitRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	tids := id.NewTidIssuer()
	coid := id.Coid{Cid: id.NewCid(1, 1), Oid: id.Oid(1)}

	tid := tids.New()
	_, err := s.Write(ctx, tid, coid, []byte("hi"))
	require.NoError(t, err)

	startTs := s.Clock.New()
	prep, err := s.Prepare(ctx, tid, startTs, nil, false)
	require.NoError(t, err)
	require.Equal(t, coordinator.VoteYes, prep.Vote)

	committs := prep.MinCommitTs.AddEpsilon()
	_, err = s.Commit(ctx, tid, committs, coordinator.OutcomeCommit)
	require.NoError(t, err)

	buf, readTs, found, _, err := s.Read(ctx, coid, committs)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hi", string(buf))
	assert.True(t, readTs.GreaterEqual(committs))
}

func TestReadDefersOnPendingThenResolves(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	tids := id.NewTidIssuer()
	coid := id.Coid{Cid: id.NewCid(1, 1), Oid: id.Oid(2)}

	writer := tids.New()
	_, err := s.Write(ctx, writer, coid, []byte("v1"))
	require.NoError(t, err)
	startTs := s.Clock.New()
	prep, err := s.Prepare(ctx, writer, startTs, nil, false)
	require.NoError(t, err)
	require.Equal(t, coordinator.VoteYes, prep.Vote)

	readTs := prep.MinCommitTs

	done := make(chan struct{})
	var foundVal string
	go func() {
		buf, _, found, _, err := s.Read(ctx, coid, readTs)
		require.NoError(t, err)
		if found {
			foundVal = string(buf)
		}
		close(done)
	}()

	committs := prep.MinCommitTs.AddEpsilon()
	_, err = s.Commit(ctx, writer, committs, coordinator.OutcomeCommit)
	require.NoError(t, err)

	<-done
	assert.Equal(t, "v1", foundVal)
}

func TestTwoWriterConflictOneAborts(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	tids := id.NewTidIssuer()
	coid := id.Coid{Cid: id.NewCid(1, 1), Oid: id.Oid(3)}

	a, b := tids.New(), tids.New()
	startTs := s.Clock.New()

	_, err := s.Write(ctx, a, coid, []byte("from-a"))
	require.NoError(t, err)
	_, err = s.Write(ctx, b, coid, []byte("from-b"))
	require.NoError(t, err)

	prepA, err := s.Prepare(ctx, a, startTs, nil, false)
	require.NoError(t, err)
	require.Equal(t, coordinator.VoteYes, prepA.Vote)
	_, err = s.Commit(ctx, a, prepA.MinCommitTs.AddEpsilon(), coordinator.OutcomeCommit)
	require.NoError(t, err)

	prepB, err := s.Prepare(ctx, b, startTs, nil, false)
	require.NoError(t, err)
	assert.Equal(t, coordinator.VoteNo, prepB.Vote)
}

func TestListAddPreviewCountsBeforeCommit(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	tids := id.NewTidIssuer()
	coid := id.Coid{Cid: id.CidForTable(1, 1), Oid: id.RootOid}

	tid := tids.New()
	n, size, _, err := s.ListAdd(ctx, tid, coid, cellInt(1), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Greater(t, size, 0)
}
