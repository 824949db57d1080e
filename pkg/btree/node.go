package btree

import (
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// Node is a B-tree node's super-value, addressed by the coid it lives
// at. Invariants T1-T3 (spec.md 4.H) are maintained by the split engine
// and the tree operations; Node itself is a thin accessor.
type Node struct {
	Coid id.Coid
	SV   *value.SuperValue
}

// newNodeSV builds a fresh node super-value with the given flags and
// height; the INTKEY flag is derived from ct rather than passed
// explicitly.
func newNodeSV(ct value.CellType, ki *value.KeyInfo, flags int64, height int64) *value.SuperValue {
	sv := value.NewSuperValue(ct, ki)
	if ct == value.CellTypeInt {
		flags |= FlagIntKey
	}
	sv.Attrs.Set(AttrFlags, flags)
	sv.Attrs.Set(AttrHeight, height)
	return sv
}

// nodeFromObject interprets a LOOIM object as a B-tree node, failing if
// the object isn't a super-value (e.g. it's a leaf's application-data
// payload, which is stored separately — see Tree.dataCoid).
func nodeFromObject(coid id.Coid, obj *value.Object) (*Node, error) {
	if obj == nil || !obj.IsSuperValue() {
		return nil, kverrors.WrongType
	}
	return &Node{Coid: coid, SV: obj.SV}, nil
}

func (n *Node) flags() int64 {
	v, _ := n.SV.Attrs.Get(AttrFlags)
	return v
}

// IsLeaf reports whether this node is a B-tree leaf.
func (n *Node) IsLeaf() bool { return n.flags()&FlagLeaf != 0 }

// IsInner reports whether this node has children.
func (n *Node) IsInner() bool { return !n.IsLeaf() }

// Height is the node's distance to a leaf (spec.md T3).
func (n *Node) Height() int64 {
	v, _ := n.SV.Attrs.Get(AttrHeight)
	return v
}

// LeftPtr is the left-sibling oid at this node's level, or 0 if none.
func (n *Node) LeftPtr() id.Oid {
	v, _ := n.SV.Attrs.Get(AttrLeftPtr)
	return id.Oid(v)
}

// RightPtr is the right-sibling oid at this node's level, or 0 if this
// is the rightmost node at its level (spec.md T2).
func (n *Node) RightPtr() id.Oid {
	v, _ := n.SV.Attrs.Get(AttrRightPtr)
	return id.Oid(v)
}

// LastPtr is the rightmost child pointer of an inner node.
func (n *Node) LastPtr() id.Oid {
	v, _ := n.SV.Attrs.Get(AttrLastPtr)
	return id.Oid(v)
}

// childFor returns the child pointer a root-to-leaf traversal for key
// should follow from this inner node: the value of the first cell whose
// key is >= key, or lastPtr if key exceeds every cell (spec.md 4.H:
// "each cell's value is the oid of the child whose keys are <= cell.key;
// lastPtr is the rightmost child").
func (n *Node) childFor(key value.Cell, ct value.CellType, ki *value.KeyInfo) id.Oid {
	for _, c := range n.SV.Cells {
		if !c.Less(key, ct, ki) {
			return id.Oid(c.Value)
		}
	}
	return n.LastPtr()
}

// removeCellRange deletes sv.Cells[lo:hiExclusive] in place.
func removeCellRange(sv *value.SuperValue, lo, hiExclusive int) {
	sv.Cells = append(sv.Cells[:lo], sv.Cells[hiExclusive:]...)
}
