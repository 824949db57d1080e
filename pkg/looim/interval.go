package looim

// IntervalType enumerates the nine boundary combinations spec.md 4.C
// defines for ListDelRange and for detecting delrange/delrange and
// listadd/delrange conflicts.
type IntervalType int

const (
	IntervalOpenOpen         IntervalType = 0
	IntervalOpenClosed       IntervalType = 1
	IntervalOpenUnbounded    IntervalType = 2
	IntervalClosedOpen       IntervalType = 3
	IntervalClosedClosed     IntervalType = 4
	IntervalClosedUnbounded  IntervalType = 5
	IntervalUnboundedOpen    IntervalType = 6
	IntervalUnboundedClosed  IntervalType = 7
	IntervalUnboundedBothDir IntervalType = 8
)

// lowerUnbounded reports whether t's lower bound is -infinity.
func lowerUnbounded(t IntervalType) bool { return t == IntervalUnboundedOpen || t == IntervalUnboundedClosed || t == IntervalUnboundedBothDir }

// upperUnbounded reports whether t's upper bound is +infinity.
func upperUnbounded(t IntervalType) bool {
	return t == IntervalOpenUnbounded || t == IntervalClosedUnbounded || t == IntervalUnboundedBothDir
}

// lowerClosed reports whether t's (bounded) lower bound includes its
// endpoint.
func lowerClosed(t IntervalType) bool {
	switch t {
	case IntervalClosedOpen, IntervalClosedClosed, IntervalClosedUnbounded:
		return true
	default:
		return false
	}
}

// upperClosed reports whether t's (bounded) upper bound includes its
// endpoint.
func upperClosed(t IntervalType) bool {
	switch t {
	case IntervalOpenClosed, IntervalClosedClosed, IntervalUnboundedClosed:
		return true
	default:
		return false
	}
}

// Contains reports whether key lies within the interval (lo, hi) of the
// given type, where cmp(a,b) follows the usual <0/==0/>0 convention.
func Contains(lo, hi, key int64, t IntervalType, cmp func(a, b int64) int) bool {
	if !lowerUnbounded(t) {
		c := cmp(key, lo)
		if lowerClosed(t) {
			if c < 0 {
				return false
			}
		} else if c <= 0 {
			return false
		}
	}
	if !upperUnbounded(t) {
		c := cmp(key, hi)
		if upperClosed(t) {
			if c > 0 {
				return false
			}
		} else if c >= 0 {
			return false
		}
	}
	return true
}

// Overlaps reports whether two intervals (lo1,hi1,t1) and (lo2,hi2,t2)
// share at least one point, used to detect conflicting delranges.
func Overlaps(lo1, hi1 int64, t1 IntervalType, lo2, hi2 int64, t2 IntervalType, cmp func(a, b int64) int) bool {
	// Two intervals overlap iff each interval's lower bound does not
	// strictly exceed the other's upper bound (accounting for openness
	// at a shared boundary point).
	if !boundOK(lo1, t1, true, hi2, t2, true, cmp) {
		return false
	}
	if !boundOK(lo2, t2, true, hi1, t1, true, cmp) {
		return false
	}
	return true
}

// boundOK reports whether bound 'a' (lower if aLower, else upper) of one
// interval does not exclude overlap with bound 'b' (upper if !aLower) of
// the other, i.e. a <= b, strict if either side is open at an equal
// point.
func boundOK(aVal int64, aType IntervalType, aIsLowerOfFirst bool, bVal int64, bType IntervalType, bIsUpperOfSecond bool, cmp func(a, b int64) int) bool {
	aUnb := aIsLowerOfFirst && lowerUnbounded(aType)
	bUnb := bIsUpperOfSecond && upperUnbounded(bType)
	if aUnb || bUnb {
		return true
	}
	c := cmp(aVal, bVal)
	if c < 0 {
		return true
	}
	if c > 0 {
		return false
	}
	// aVal == bVal: overlap at the shared point requires both bounds to
	// include it.
	aClosed := lowerClosed(aType)
	bClosed := upperClosed(bType)
	return aClosed && bClosed
}
