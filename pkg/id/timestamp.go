package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Timestamp is a 128-bit, totally ordered point in the system's logical
// time. Hi carries a real-time clock reading; Lo packs a 16-bit
// tie-breaking counter over a 48-bit unique suffix. The zero value is the
// distinguished "illegal" timestamp (spec.md 4.A): the arithmetic minimum,
// smaller than every timestamp a Clock will ever issue.
type Timestamp struct {
	Hi uint64
	Lo uint64
}

// Illegal is the distinguished minimum timestamp used to mean "no
// timestamp" (e.g. a LOOIM with no entries yet).
var Illegal = Timestamp{}

// Less reports whether ts orders strictly before other.
func (ts Timestamp) Less(other Timestamp) bool {
	if ts.Hi != other.Hi {
		return ts.Hi < other.Hi
	}
	return ts.Lo < other.Lo
}

// LessEqual reports whether ts orders at or before other.
func (ts Timestamp) LessEqual(other Timestamp) bool {
	return !other.Less(ts)
}

// Greater reports whether ts orders strictly after other.
func (ts Timestamp) Greater(other Timestamp) bool { return other.Less(ts) }

// GreaterEqual reports whether ts orders at or after other.
func (ts Timestamp) GreaterEqual(other Timestamp) bool { return !ts.Less(other) }

// Equal reports value equality.
func (ts Timestamp) Equal(other Timestamp) bool { return ts == other }

// Max returns the larger of two timestamps.
func Max(a, b Timestamp) Timestamp {
	if a.Less(b) {
		return b
	}
	return a
}

// IsIllegal reports whether ts is the zero/illegal timestamp.
func (ts Timestamp) IsIllegal() bool { return ts == Illegal }

// AddEpsilon returns the smallest timestamp strictly greater than ts.
func (ts Timestamp) AddEpsilon() Timestamp {
	if ts.Lo == ^uint64(0) {
		return Timestamp{Hi: ts.Hi + 1, Lo: 0}
	}
	return Timestamp{Hi: ts.Hi, Lo: ts.Lo + 1}
}

// Add returns ts shifted d into the future, leaving Lo's tie-breaking
// counter at zero (the caller is moving a real-time reading forward, not
// ordering it against other timestamps issued at the same instant).
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp{Hi: ts.Hi + uint64(d.Nanoseconds()), Lo: 0}
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("%016x.%016x", ts.Hi, ts.Lo)
}

// Proto converts ts's Hi component to a protobuf wall-clock timestamp,
// useful for log correlation; Lo is dropped. RPC messages (pkg/rpc) carry
// Timestamp itself as JSON {Hi, Lo}, not this form, and all ordering
// decisions use Hi/Lo.
func (ts Timestamp) Proto() *timestamppb.Timestamp {
	return timestamppb.New(time.Unix(0, int64(ts.Hi)))
}

// Clock issues strictly increasing Timestamps for one logical process
// (typically one storage server or one client transaction coordinator).
// It is safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	lastHi   uint64
	counter  uint16
	uniqueID uint64    // low 48 bits significant, derived once from uuid
	skew     Timestamp // high-water mark set by Catchup; New() never returns <= this
}

// NewClock creates a Clock with a process-unique suffix derived from a
// random UUID, so timestamps issued by distinct processes never collide
// even if their real-time clocks read identically.
func NewClock() *Clock {
	u := uuid.New()
	var unique uint64
	for _, b := range u[:6] {
		unique = (unique << 8) | uint64(b)
	}
	return &Clock{uniqueID: unique & 0xFFFFFFFFFFFF}
}

// New returns a Timestamp strictly greater than any previously issued by
// this Clock and strictly greater than the Catchup high-water mark.
func (c *Clock) New() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	floor := max64(c.lastHi, c.skew.Hi)
	hi := uint64(time.Now().UnixNano())
	if hi > floor {
		c.lastHi = hi
		c.counter = 0
	} else {
		// Clock has not visibly advanced past the floor (rapid calls
		// within one tick, or a Catchup pushed us ahead of real time):
		// stay on the floor and break ties with the counter.
		c.lastHi = floor
		c.counter++
	}
	ts := Timestamp{Hi: c.lastHi, Lo: (uint64(c.counter) << 48) | c.uniqueID}
	// The counter-break above only orders us past this clock's own prior
	// issues. If skew shares our Hi, its Lo may still sit above ours (it
	// was stamped by a different clock's uniqueID/counter), so bump the
	// counter until we clear it too.
	for !ts.Greater(c.skew) {
		c.counter++
		ts = Timestamp{Hi: c.lastHi, Lo: (uint64(c.counter) << 48) | c.uniqueID}
	}
	return ts
}

// Catchup advances the clock's skew so that every subsequent New() call
// yields a timestamp strictly greater than t.
func (c *Clock) Catchup(t Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Greater(c.skew) {
		c.skew = t
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
