package looim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TestDelRangeBoundaryMatrix reproduces the nine-interval survivor
// matrix from spec.md 8: populate {0,2,4,6,8}, delrange(2,6) under each
// type, assert the documented survivors.
func TestDelRangeBoundaryMatrix(t *testing.T) {
	cases := []struct {
		typ       IntervalType
		survivors []int64
	}{
		{0, []int64{0, 2, 6, 8}},
		{1, []int64{0, 2, 8}},
		{2, []int64{0, 2}},
		{3, []int64{0, 6, 8}},
		{4, []int64{0, 8}},
		{5, []int64{0}},
		{6, []int64{6, 8}},
		{7, []int64{8}},
		{8, []int64{}},
	}

	seed := []int64{0, 2, 4, 6, 8}
	for _, c := range cases {
		survivors := []int64{}
		for _, k := range seed {
			if !Contains(2, 6, k, c.typ, cmpInt) {
				survivors = append(survivors, k)
			}
		}
		assert.Equal(t, c.survivors, survivors, "type %d", c.typ)
	}
}

func TestOverlapsSymmetric(t *testing.T) {
	// [2,6] and [6,8]: share the single point 6.
	assert.True(t, Overlaps(2, 6, IntervalClosedClosed, 6, 8, IntervalClosedClosed, cmpInt))
	// (2,6) and (6,8): 6 excluded from both, no overlap.
	assert.False(t, Overlaps(2, 6, IntervalOpenOpen, 6, 8, IntervalOpenOpen, cmpInt))
	// [2,6] and (6,8): boundary 6 excluded from the second, no overlap.
	assert.False(t, Overlaps(2, 6, IntervalClosedClosed, 6, 8, IntervalOpenOpen, cmpInt))
	// disjoint ranges never overlap regardless of openness.
	assert.False(t, Overlaps(0, 1, IntervalClosedClosed, 5, 6, IntervalClosedClosed, cmpInt))
	// unbounded-both always overlaps anything.
	assert.True(t, Overlaps(0, 0, IntervalUnboundedBothDir, 100, 200, IntervalClosedClosed, cmpInt))
}
