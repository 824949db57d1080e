// Package value implements the in-memory representation of keys, plain
// values, and super-values (spec.md 3): the sole payload types a LOOIM
// ever stores. Every object is, at any timestamp, in exactly one of the
// two forms; mixing them within a transaction is a WrongType error
// (enforced by pkg/looim's Ticoid, not here — this package only models
// the data).
package value

import (
	"bytes"
	"sort"

	"github.com/yesqlkv/yesqlkv/pkg/id"
)

// CellType distinguishes integer-keyed cells (B-tree leaves over an
// INTKEY table) from composite-keyed cells (arbitrary byte-string keys
// compared through a KeyInfo collation descriptor).
type CellType int

const (
	CellTypeInt CellType = iota
	CellTypeComposite
)

// KeyInfo is the collation descriptor composite keys are compared
// through. It must be attached on the first super-value write for an
// object and is "sticky-set" (copied forward) on every subsequent
// operation that doesn't carry its own (spec.md 9, "KeyInfo
// proliferation"). Collations are not compared for equality; the byte
// content is opaque to this package and interpreted only by Compare.
type KeyInfo struct {
	// Collations names the per-column ordering, one entry per key
	// column. Binary is plain lexicographic byte comparison; the other
	// names are placeholders a SQL front-end (out of scope) would map to
	// locale-aware collations.
	Collations []string
}

// DefaultKeyInfo is used when a composite-keyed super-value is created
// without an explicit KeyInfo.
var DefaultKeyInfo = &KeyInfo{Collations: []string{"binary"}}

// Compare orders two composite keys under ki's collation. Only "binary"
// is implemented; any other named collation also falls back to binary
// ordering (out of scope: locale-aware collation, per spec.md 1).
func (ki *KeyInfo) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Cell is one entry in a super-value's ordered cell list:
// (nKey, pKey?, value). For an inner B-tree node, Value is the oid of
// the child subtree whose keys are <= this cell's key; pkg/btree leaves
// it zero in leaf cells and stores application data under a separate
// data coid.
type Cell struct {
	NKey  int64  // used when the owning super-value's CellType is Int
	PKey  []byte // used when CellType is Composite; nil for int cells
	Value int64
}

// Less orders two cells by key under the given cell type and KeyInfo.
func (c Cell) Less(other Cell, ct CellType, ki *KeyInfo) bool {
	if ct == CellTypeInt {
		return c.NKey < other.NKey
	}
	if ki == nil {
		ki = DefaultKeyInfo
	}
	return ki.Compare(c.PKey, other.PKey) < 0
}

// Equal reports key equality (ignoring Value) under ct/ki.
func (c Cell) Equal(other Cell, ct CellType, ki *KeyInfo) bool {
	if ct == CellTypeInt {
		return c.NKey == other.NKey
	}
	if ki == nil {
		ki = DefaultKeyInfo
	}
	return ki.Compare(c.PKey, other.PKey) == 0
}

// Attrs holds a fixed-size, sparse array of super-value attributes
// (flags, height, leftPtr, rightPtr, lastPtr, ... for B-tree nodes; the
// set is open-ended so the scheme generalizes beyond tree nodes).
type Attrs struct {
	set    uint64 // bitset of which indices are present, up to 64 attrs
	values [64]int64
}

// NewAttrs returns an empty attribute array.
func NewAttrs() *Attrs { return &Attrs{} }

// Get returns the attribute at idx and whether it was set.
func (a *Attrs) Get(idx int) (int64, bool) {
	if idx < 0 || idx >= 64 {
		return 0, false
	}
	return a.values[idx], a.set&(1<<uint(idx)) != 0
}

// Set stores an attribute value.
func (a *Attrs) Set(idx int, v int64) {
	if idx < 0 || idx >= 64 {
		return
	}
	a.values[idx] = v
	a.set |= 1 << uint(idx)
}

// Entries returns every set attribute as index->value pairs, used to
// marshal an Attrs onto the wire (pkg/rpc), where the fixed-size backing
// array is not itself exported.
func (a *Attrs) Entries() map[int]int64 {
	out := make(map[int]int64)
	if a == nil {
		return out
	}
	for i := 0; i < 64; i++ {
		if a.set&(1<<uint(i)) != 0 {
			out[i] = a.values[i]
		}
	}
	return out
}

// AttrsFromEntries is the inverse of Entries, reconstructing an Attrs
// from its wire representation.
func AttrsFromEntries(entries map[int]int64) *Attrs {
	a := NewAttrs()
	for idx, v := range entries {
		a.Set(idx, v)
	}
	return a
}

// Clone returns a deep copy, used whenever a SuperValue is mutated
// functionally (applyTicoid never mutates its base in place).
func (a *Attrs) Clone() *Attrs {
	if a == nil {
		return NewAttrs()
	}
	cp := *a
	return &cp
}

// SuperValue is the structured object representation used by B-tree
// nodes (spec.md 3): attributes plus an ordered set of cells, with an
// optional KeyInfo when CellType is Composite.
type SuperValue struct {
	Attrs    *Attrs
	CellType CellType
	KeyInfo  *KeyInfo // nil when CellType == CellTypeInt
	Cells    []Cell   // kept sorted by key at all times
}

// NewSuperValue returns an empty super-value of the given cell type.
func NewSuperValue(ct CellType, ki *KeyInfo) *SuperValue {
	return &SuperValue{Attrs: NewAttrs(), CellType: ct, KeyInfo: ki}
}

// Clone returns a deep copy so callers (e.g. ApplyTicoid and the split
// engine, which build new node states from a base) can mutate the copy
// without aliasing the original.
func (sv *SuperValue) Clone() *SuperValue {
	if sv == nil {
		return nil
	}
	cells := make([]Cell, len(sv.Cells))
	copy(cells, sv.Cells)
	for i, c := range cells {
		if c.PKey != nil {
			pk := make([]byte, len(c.PKey))
			copy(pk, c.PKey)
			cells[i].PKey = pk
		}
	}
	return &SuperValue{
		Attrs:    sv.Attrs.Clone(),
		CellType: sv.CellType,
		KeyInfo:  sv.KeyInfo,
		Cells:    cells,
	}
}

// Find returns the index of the cell equal to key (by NKey or PKey
// depending on CellType) and whether it was found.
func (sv *SuperValue) Find(key Cell) (int, bool) {
	i := sort.Search(len(sv.Cells), func(i int) bool {
		return !sv.Cells[i].Less(key, sv.CellType, sv.KeyInfo)
	})
	if i < len(sv.Cells) && sv.Cells[i].Equal(key, sv.CellType, sv.KeyInfo) {
		return i, true
	}
	return i, false
}

// InsertCell inserts or replaces a cell, keeping Cells sorted.
func (sv *SuperValue) InsertCell(c Cell) {
	i, found := sv.Find(c)
	if found {
		sv.Cells[i] = c
		return
	}
	sv.Cells = append(sv.Cells, Cell{})
	copy(sv.Cells[i+1:], sv.Cells[i:])
	sv.Cells[i] = c
}

// DeleteCellAt removes Cells[i].
func (sv *SuperValue) DeleteCellAt(i int) {
	sv.Cells = append(sv.Cells[:i], sv.Cells[i+1:]...)
}

// NBytes estimates the serialized byte size of sv, used by the split
// engine's size thresholds (spec.md 4.H DTREE_SPLIT_SIZE_BYTES).
func (sv *SuperValue) NBytes() int {
	n := 8 * len(sv.Cells) // one 8-byte word per cell
	for _, c := range sv.Cells {
		n += len(c.PKey)
	}
	return n
}

// Object is the unified payload a LOOIM entry stores: exactly one of
// Value or SV is non-nil (spec.md 3 "object invariant").
type Object struct {
	Value []byte      // plain put
	SV    *SuperValue // super-value write
}

// IsSuperValue reports whether o holds a super-value.
func (o *Object) IsSuperValue() bool { return o != nil && o.SV != nil }

// Coid re-exported for convenience in doc comments elsewhere in this
// package's callers.
type Coid = id.Coid
