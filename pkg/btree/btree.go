// Package btree implements the range-partitioned distributed B-tree
// (spec.md 4.H/4.I): nodes stored as super-value objects in the LOOIM
// layer, a split engine that keeps nodes within a size budget, and the
// client-facing operations (Insert/Delete/Lookup/Update/Scan) that
// traverse the tree through ordinary transactions.
package btree

// Attribute indices within a B-tree node's super-value (spec.md 4.H
// "{flags, height, leftPtr, rightPtr, lastPtr, ...}").
const (
	AttrFlags = iota
	AttrHeight
	AttrLeftPtr
	AttrRightPtr
	AttrLastPtr
)

// Node flag bits (spec.md 4.H "flags & LEAF and flags & INTKEY are the
// key attribute bits").
const (
	FlagLeaf   int64 = 1 << 0
	FlagIntKey int64 = 1 << 1
)

// Split thresholds. spec.md 4.H names DTREE_SPLIT_SIZE,
// DTREE_SPLIT_SIZE_BYTES, DTREE_SPLIT_MINSIZE, and DTREE_MAX_LEVELS but
// never assigns them numeric values; chosen here (see DESIGN.md) small
// enough that tests exercise splitting and cascading without needing
// thousands of inserts.
const (
	DtreeSplitSize      = 16   // max cells before a size-driven split triggers
	DtreeSplitSizeBytes = 4096 // max serialized byte size before a split triggers
	DtreeSplitMinSize   = 2    // minimum cells for a load-driven (cell) split
	DtreeMaxLevels      = 32   // bound on parent-lookup and root-to-leaf traversal
)

// counterOid is the reserved oid, within a table's tree container, that
// backs GetMonotonicInt (spec.md 9 supplemented feature, grounded on
// S6's "shared counter" workload).
const counterOid = 1
