package looim

import (
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// DelRange is one ListDelRange operation collected on a Ticoid.
type DelRange struct {
	Lo, Hi value.Cell
	Type   IntervalType
}

// Ticoid ("transaction's effects on one coid") is the accumulated set of
// operations a single transaction has applied to a single object: at
// most one plain write OR one super-value write, plus any number of
// list-adds, delranges, and attribute sets against that super-value
// (spec.md 3 "Pending transaction state"). A committed transaction's
// Ticoid ends up embedded in the Sleim that represents it in a LOOIM's
// logentries; Go's garbage collector keeps it alive for as long as any
// Sleim (or the owning PTI) still references it, so unlike the
// reference-counted C++ original there is no manual lifetime management
// here.
type Ticoid struct {
	HasWrite bool
	Write    []byte

	HasWriteSV bool
	WriteSV    *value.SuperValue

	ListAdds  []value.Cell
	DelRanges []DelRange
	AttrSet   map[int]int64
}

// NewTicoid returns an empty Ticoid.
func NewTicoid() *Ticoid { return &Ticoid{AttrSet: make(map[int]int64)} }

func (t *Ticoid) hasSVOps() bool {
	return t.HasWriteSV || len(t.ListAdds) > 0 || len(t.DelRanges) > 0 || len(t.AttrSet) > 0
}

// SetWrite records a plain put. Illegal if the tx already has
// super-value operations on this coid (spec.md 3 "illegal to have
// Writevalue coexist with SV operations").
func (t *Ticoid) SetWrite(buf []byte) error {
	if t.hasSVOps() {
		return kverrors.WrongType
	}
	t.HasWrite = true
	t.Write = buf
	return nil
}

// SetWriteSV records a full super-value write. Illegal once a plain
// write is already recorded.
func (t *Ticoid) SetWriteSV(sv *value.SuperValue) error {
	if t.HasWrite {
		return kverrors.WrongType
	}
	t.HasWriteSV = true
	t.WriteSV = sv
	return nil
}

// AddListAdd records a cell insertion. Illegal once a plain write is
// already recorded on this coid.
func (t *Ticoid) AddListAdd(c value.Cell) error {
	if t.HasWrite {
		return kverrors.WrongType
	}
	t.ListAdds = append(t.ListAdds, c)
	return nil
}

// AddDelRange records a range deletion.
func (t *Ticoid) AddDelRange(lo, hi value.Cell, it IntervalType) error {
	if t.HasWrite {
		return kverrors.WrongType
	}
	t.DelRanges = append(t.DelRanges, DelRange{Lo: lo, Hi: hi, Type: it})
	return nil
}

// AddAttrSet records an attribute assignment.
func (t *Ticoid) AddAttrSet(idx int, val int64) error {
	if t.HasWrite {
		return kverrors.WrongType
	}
	t.AttrSet[idx] = val
	return nil
}

func cellKeyCmp(ct value.CellType, ki *value.KeyInfo) func(a, b value.Cell) int {
	return func(a, b value.Cell) int {
		if ct == value.CellTypeInt {
			switch {
			case a.NKey < b.NKey:
				return -1
			case a.NKey > b.NKey:
				return 1
			default:
				return 0
			}
		}
		if ki == nil {
			ki = value.DefaultKeyInfo
		}
		return ki.Compare(a.PKey, b.PKey)
	}
}

// containsCell reports whether cell c's key lies within dr's interval,
// under the same nine-type boundary algebra as Contains (spec.md 4.C),
// specialized to compare value.Cell keys instead of bare int64s.
func containsCell(c value.Cell, dr DelRange, cmp func(a, b value.Cell) int) bool {
	if !lowerUnbounded(dr.Type) {
		cl := cmp(c, dr.Lo)
		if lowerClosed(dr.Type) {
			if cl < 0 {
				return false
			}
		} else if cl <= 0 {
			return false
		}
	}
	if !upperUnbounded(dr.Type) {
		cu := cmp(c, dr.Hi)
		if upperClosed(dr.Type) {
			if cu > 0 {
				return false
			}
		} else if cu >= 0 {
			return false
		}
	}
	return true
}

// rangesOverlap reports whether two delrange intervals share a key,
// under the nine-type boundary algebra (spec.md 4.C "two delranges
// conflict iff their intervals overlap").
func rangesOverlap(a, b DelRange, ct value.CellType, ki *value.KeyInfo) bool {
	return overlapsCell(a, b, cellKeyCmp(ct, ki))
}

func overlapsCell(a, b DelRange, cmp func(x, y value.Cell) int) bool {
	if !boundOKCell(a.Lo, a.Type, true, b.Hi, b.Type, true, cmp) {
		return false
	}
	if !boundOKCell(b.Lo, b.Type, true, a.Hi, a.Type, true, cmp) {
		return false
	}
	return true
}

func boundOKCell(aVal value.Cell, aType IntervalType, aIsLower bool, bVal value.Cell, bType IntervalType, bIsUpper bool, cmp func(x, y value.Cell) int) bool {
	if aIsLower && lowerUnbounded(aType) {
		return true
	}
	if bIsUpper && upperUnbounded(bType) {
		return true
	}
	c := cmp(aVal, bVal)
	if c < 0 {
		return true
	}
	if c > 0 {
		return false
	}
	return lowerClosed(aType) && upperClosed(bType)
}

// HasConflicts reports whether t and other, applied to the same coid,
// are non-commutative under spec.md 4.C's rules.
func (t *Ticoid) HasConflicts(other *Ticoid, ct value.CellType, ki *value.KeyInfo) bool {
	if t.HasWrite && other.HasWrite {
		return true
	}
	if t.HasWrite && other.hasSVOps() {
		return true
	}
	if other.HasWrite && t.hasSVOps() {
		return true
	}
	// A super-value write conflicts with any other operation on the same
	// coid, including another super-value write.
	if t.HasWriteSV && (other.HasWriteSV || other.hasSVOps() || other.HasWrite) {
		return true
	}
	if other.HasWriteSV && (t.hasSVOps() || t.HasWrite) {
		return true
	}
	for idx, v := range t.AttrSet {
		if ov, ok := other.AttrSet[idx]; ok && ov != v {
			return true
		}
	}
	for _, add := range t.ListAdds {
		for _, oadd := range other.ListAdds {
			if add.Equal(oadd, ct, ki) {
				return true
			}
		}
		for _, dr := range other.DelRanges {
			if containsCell(add, dr, cellKeyCmp(ct, ki)) {
				return true
			}
		}
	}
	for _, oadd := range other.ListAdds {
		for _, dr := range t.DelRanges {
			if containsCell(oadd, dr, cellKeyCmp(ct, ki)) {
				return true
			}
		}
	}
	for _, dr1 := range t.DelRanges {
		for _, dr2 := range other.DelRanges {
			if rangesOverlap(dr1, dr2, ct, ki) {
				return true
			}
		}
	}
	return false
}

// ApplyTicoid builds the new object state by applying delta's effects on
// top of base (spec.md 4.C applyTicoid): purely functional w.r.t. its
// inputs, never mutating base. Returns the number of cell-level updates
// applied (listadds + delrange removals + attrsets), used by the
// splitter to decide whether a post-commit size check is worthwhile.
func ApplyTicoid(base *value.Object, delta *Ticoid, ct value.CellType, ki *value.KeyInfo) (*value.Object, int, error) {
	if delta.HasWrite {
		return &value.Object{Value: delta.Write}, 1, nil
	}
	if delta.HasWriteSV {
		return &value.Object{SV: delta.WriteSV.Clone()}, 1, nil
	}
	if !delta.hasSVOps() {
		// No-op delta (e.g. a sleim materialized for an unrelated
		// optimization): base passes through unchanged.
		return base, 0, nil
	}
	var sv *value.SuperValue
	if base != nil && base.SV != nil {
		sv = base.SV.Clone()
	} else if base != nil && base.Value != nil {
		return nil, 0, kverrors.WrongType
	} else {
		sv = value.NewSuperValue(ct, ki)
	}
	if ki != nil && sv.KeyInfo == nil {
		sv.KeyInfo = ki
	}
	nupdates := 0

	adds := make([]value.Cell, len(delta.ListAdds))
	copy(adds, delta.ListAdds)
	cmp := cellKeyCmp(ct, sv.KeyInfo)
	sortCells(adds, cmp)
	for _, c := range adds {
		sv.InsertCell(c)
		nupdates++
	}

	for _, dr := range delta.DelRanges {
		i := 0
		for i < len(sv.Cells) {
			if containsCell(sv.Cells[i], dr, cellKeyCmp(ct, sv.KeyInfo)) {
				sv.DeleteCellAt(i)
				nupdates++
				continue
			}
			i++
		}
	}

	for idx, v := range delta.AttrSet {
		sv.Attrs.Set(idx, v)
		nupdates++
	}

	return &value.Object{SV: sv}, nupdates, nil
}

func sortCells(cells []value.Cell, cmp func(a, b value.Cell) int) {
	// Simple insertion sort: ListAdds per transaction is small in
	// practice (spec.md load-split hints operate on individual cells).
	for i := 1; i < len(cells); i++ {
		for j := i; j > 0 && cmp(cells[j], cells[j-1]) < 0; j-- {
			cells[j], cells[j-1] = cells[j-1], cells[j]
		}
	}
}
