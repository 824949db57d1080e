package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/id"
)

func TestRefreshAdvanceTsLeadsNow(t *testing.T) {
	r := NewReserveTrackerWithReserveTime(100 * time.Millisecond)
	now := id.Timestamp{Hi: 1_000_000}
	r.RefreshAdvanceTs(now)

	_, adv := r.Snapshot()
	assert.True(t, adv.Greater(now), "advanceTs must lead the reported time by the reserve interval")
	assert.Equal(t, now.Add(100*time.Millisecond), adv)
}

func TestRefreshAdvanceTsThrottled(t *testing.T) {
	r := NewReserveTrackerWithReserveTime(time.Hour)
	r.RefreshAdvanceTs(id.Timestamp{Hi: 1})
	_, first := r.Snapshot()

	// A second refresh arriving immediately after must be a no-op: the
	// throttle interval (reserveTime/10) has not elapsed.
	r.RefreshAdvanceTs(id.Timestamp{Hi: 2})
	_, second := r.Snapshot()
	assert.Equal(t, first, second, "refresh within the throttle window must not move advanceTs")
}

func TestRefreshAdvanceTsNoopWhilePreparing(t *testing.T) {
	r := NewReserveTrackerWithReserveTime(100 * time.Millisecond)
	r.BeginPreparing()
	defer r.EndPreparing()

	r.RefreshAdvanceTs(id.Timestamp{Hi: 1_000_000})
	_, adv := r.Snapshot()
	assert.True(t, adv.IsIllegal(), "a refresh during a cacheable Prepare must not advance advanceTs")
}
