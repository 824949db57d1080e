package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/id"
)

func TestReportStaleVersionIgnored(t *testing.T) {
	s := newServerState()
	s.Report(2, id.Timestamp{Hi: 5}, id.Timestamp{Hi: 10})
	s.Report(1, id.Timestamp{Hi: 100}, id.Timestamp{Hi: 200})
	assert.Equal(t, uint64(2), s.VersionNo())
	assert.Equal(t, id.Timestamp{Hi: 10}, s.AdvanceTs())
}

func TestReportSameVersionOnlyRaisesAdvanceTs(t *testing.T) {
	s := newServerState()
	s.Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 10})
	s.Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 5})
	assert.Equal(t, id.Timestamp{Hi: 10}, s.AdvanceTs(), "advanceTs must never move backward")
	s.Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 20})
	assert.Equal(t, id.Timestamp{Hi: 20}, s.AdvanceTs())
}

func TestReportNewerVersionClearsCache(t *testing.T) {
	coid := id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(1, 1, 1)}
	s := newServerState()
	s.Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 10})
	s.Set(coid, []byte("v1"))

	s.Report(2, id.Timestamp{Hi: 11}, id.Timestamp{Hi: 20})
	_, ok := s.Lookup(coid, id.Timestamp{Hi: 15})
	assert.False(t, ok, "version bump must wholesale-invalidate the cachemap")
}

func TestLookupWindow(t *testing.T) {
	coid := id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(1, 1, 1)}
	s := newServerState()
	s.Report(1, id.Timestamp{Hi: 5}, id.Timestamp{Hi: 15})
	s.Set(coid, []byte("v1"))

	_, ok := s.Lookup(coid, id.Timestamp{Hi: 3})
	assert.False(t, ok, "readTs <= ts must miss")

	_, ok = s.Lookup(coid, id.Timestamp{Hi: 20})
	assert.False(t, ok, "readTs > advanceTs must miss")

	buf, ok := s.Lookup(coid, id.Timestamp{Hi: 10})
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), buf)
}

func TestSetSameValueTwiceOK(t *testing.T) {
	coid := id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(1, 1, 1)}
	s := newServerState()
	s.Set(coid, []byte("v1"))
	assert.NotPanics(t, func() { s.Set(coid, []byte("v1")) })
}

func TestSetConflictingValuePanics(t *testing.T) {
	coid := id.Coid{Cid: id.NewCid(1, 0), Oid: id.NewOid(1, 1, 1)}
	s := newServerState()
	s.Set(coid, []byte("v1"))
	assert.Panics(t, func() { s.Set(coid, []byte("v2")) })
}

func TestReserveTrackerLiftProposeTs(t *testing.T) {
	r := NewReserveTracker()
	r.Advance(id.Timestamp{Hi: 10}, false)
	lifted := r.LiftProposeTs(id.Timestamp{Hi: 5})
	assert.Equal(t, id.Timestamp{Hi: 10}.AddEpsilon(), lifted)

	lifted2 := r.LiftProposeTs(id.Timestamp{Hi: 100})
	assert.Equal(t, id.Timestamp{Hi: 100}, lifted2)
}

func TestReserveTrackerAdvanceBlockedWhilePreparing(t *testing.T) {
	r := NewReserveTracker()
	r.BeginPreparing()
	ok := r.Advance(id.Timestamp{Hi: 10}, false)
	assert.False(t, ok, "advanceTs must not move while a cacheable Prepare is in flight")
	r.EndPreparing()
	ok = r.Advance(id.Timestamp{Hi: 10}, false)
	assert.True(t, ok)
}

func TestCacheServerIsolation(t *testing.T) {
	c := New()
	c.Server(1).Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 10})
	c.Server(2).Report(1, id.Timestamp{Hi: 1}, id.Timestamp{Hi: 20})
	assert.Equal(t, id.Timestamp{Hi: 10}, c.Server(1).AdvanceTs())
	assert.Equal(t, id.Timestamp{Hi: 20}, c.Server(2).AdvanceTs())
}
