package disklog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
)

func tempPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "log.bin"), filepath.Join(dir, "super.db")
}

func TestLogUpdatesAndYesVoteDeferredUntilFlush(t *testing.T) {
	logPath, superPath := tempPaths(t)
	d, err := Open(logPath, superPath)
	assert.NoError(t, err)
	defer d.Close()

	tid := id.Tid{ProcessID: 1, Counter: 1}
	ts := id.Timestamp{Hi: 1}
	tc := looim.NewTicoid()
	_ = tc.SetWrite([]byte("v"))
	writes := []CoidWrite{{Coid: id.Coid{}, Ticoid: tc}}

	notify := make(chan struct{})
	deferred := d.LogUpdatesAndYesVote(tid, ts, writes, notify)
	assert.True(t, deferred, "small record should not force an inline flush")

	select {
	case <-notify:
		t.Fatal("notify fired before an explicit flush")
	default:
	}

	d.Flush()
	<-notify // must not block forever
}

func TestLogCommitAsyncThenReplay(t *testing.T) {
	logPath, superPath := tempPaths(t)
	d, err := Open(logPath, superPath)
	assert.NoError(t, err)

	tid := id.Tid{ProcessID: 2, Counter: 5}
	ts := id.Timestamp{Hi: 10}
	tc := looim.NewTicoid()
	_ = tc.AddAttrSet(0, 7)
	writes := []CoidWrite{{Coid: id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(1, 1, 1)}, Ticoid: tc}}

	notify := make(chan struct{})
	d.LogUpdatesAndYesVote(tid, ts, writes, notify)
	d.LogCommitAsync(tid, ts.AddEpsilon())
	d.Flush()
	<-notify
	assert.NoError(t, d.Close())

	d2, err := Open(logPath, superPath)
	assert.NoError(t, err)
	defer d2.Close()

	var kinds []EntryType
	err = d2.Replay(func(r Record) error {
		kinds = append(kinds, r.Type)
		if r.Type == EntryMultiWrite {
			assert.Len(t, r.Writes, 1)
			assert.Equal(t, int64(7), r.Writes[0].Ticoid.AttrSet[0])
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []EntryType{EntryMultiWrite, EntryVoteYes, EntryCommit}, kinds)
}

func TestReopenResumesAtDurableOffset(t *testing.T) {
	logPath, superPath := tempPaths(t)
	d, err := Open(logPath, superPath)
	assert.NoError(t, err)

	tid := id.Tid{ProcessID: 3}
	d.LogCommitAsync(tid, id.Timestamp{Hi: 1})
	d.Flush()
	offsetAfterFirst := d.offset
	assert.NoError(t, d.Close())

	d2, err := Open(logPath, superPath)
	assert.NoError(t, err)
	defer d2.Close()
	assert.Equal(t, offsetAfterFirst, d2.offset)

	d2.LogAbortAsync(tid, id.Timestamp{Hi: 2})
	d2.Flush()

	var kinds []EntryType
	err = d2.Replay(func(r Record) error {
		kinds = append(kinds, r.Type)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []EntryType{EntryCommit, EntryAbort}, kinds)
}
