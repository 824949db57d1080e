package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockMonotonic(t *testing.T) {
	c := NewClock()
	prev := c.New()
	for i := 0; i < 1000; i++ {
		next := c.New()
		assert.True(t, prev.Less(next), "timestamp %d did not advance: %v -> %v", i, prev, next)
		prev = next
	}
}

func TestClockCatchup(t *testing.T) {
	c := NewClock()
	future := Timestamp{Hi: ^uint64(0) / 2, Lo: 42}
	c.Catchup(future)
	got := c.New()
	assert.True(t, got.Greater(future), "New() after Catchup(%v) returned %v", future, got)
}

// TestClockCatchupHighLo uses a far-future Hi (forcing New() onto the
// skew floor rather than real time, as TestClockCatchup does) paired with
// a large Lo, as another process's counter/uid pair would produce. A
// clock that only tracked skew.Hi would land on the floor with its own
// counter restarting near zero and lose the comparison on Lo alone.
func TestClockCatchupHighLo(t *testing.T) {
	c := NewClock()
	future := Timestamp{Hi: ^uint64(0) / 2, Lo: (5 << 48) | 0xABCDEF}
	c.Catchup(future)
	got := c.New()
	assert.True(t, got.Greater(future), "New() after Catchup(%v) returned %v", future, got)
}

func TestAddEpsilon(t *testing.T) {
	ts := Timestamp{Hi: 5, Lo: ^uint64(0)}
	next := ts.AddEpsilon()
	assert.True(t, ts.Less(next))
	assert.Equal(t, uint64(6), next.Hi)
	assert.Equal(t, uint64(0), next.Lo)

	ts2 := Timestamp{Hi: 5, Lo: 10}
	next2 := ts2.AddEpsilon()
	assert.Equal(t, Timestamp{Hi: 5, Lo: 11}, next2)
}

func TestIllegalIsMinimum(t *testing.T) {
	c := NewClock()
	ts := c.New()
	assert.True(t, Illegal.Less(ts))
	assert.True(t, Illegal.IsIllegal())
	assert.False(t, ts.IsIllegal())
}

func TestMax(t *testing.T) {
	a := Timestamp{Hi: 1, Lo: 5}
	b := Timestamp{Hi: 1, Lo: 9}
	assert.Equal(t, b, Max(a, b))
	assert.Equal(t, b, Max(b, a))
}

func TestTwoClocksDoNotCollide(t *testing.T) {
	c1, c2 := NewClock(), NewClock()
	ts1 := c1.New()
	ts2 := c2.New()
	assert.NotEqual(t, ts1, ts2)
}
