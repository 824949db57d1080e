package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

func TestNewNodeSVSetsFlagsAndHeight(t *testing.T) {
	sv := newNodeSV(value.CellTypeInt, nil, FlagLeaf, 0)
	n := &Node{SV: sv}
	assert.True(t, n.IsLeaf())
	assert.False(t, n.IsInner())
	assert.EqualValues(t, 0, n.Height())
	flags, _ := sv.Attrs.Get(AttrFlags)
	assert.True(t, flags&FlagIntKey != 0, "int-keyed nodes must carry INTKEY (T3 node shape)")
}

func TestChildForPicksFirstCellGEKey(t *testing.T) {
	sv := newNodeSV(value.CellTypeInt, nil, 0, 1)
	sv.Cells = []value.Cell{
		{NKey: 10, Value: 100},
		{NKey: 20, Value: 200},
	}
	sv.Attrs.Set(AttrLastPtr, 300)
	n := &Node{SV: sv}

	assert.EqualValues(t, 100, n.childFor(value.Cell{NKey: 5}, value.CellTypeInt, nil))
	assert.EqualValues(t, 100, n.childFor(value.Cell{NKey: 10}, value.CellTypeInt, nil))
	assert.EqualValues(t, 200, n.childFor(value.Cell{NKey: 15}, value.CellTypeInt, nil))
	assert.EqualValues(t, 300, n.childFor(value.Cell{NKey: 25}, value.CellTypeInt, nil))
}

func TestNodeFromObjectRejectsPlainValue(t *testing.T) {
	_, err := nodeFromObject(id.Coid{}, &value.Object{Value: []byte("x")})
	assert.Error(t, err)
}

func TestRemoveCellRange(t *testing.T) {
	sv := value.NewSuperValue(value.CellTypeInt, nil)
	sv.Cells = []value.Cell{{NKey: 1}, {NKey: 2}, {NKey: 3}, {NKey: 4}}
	removeCellRange(sv, 0, 2)
	assert.Len(t, sv.Cells, 2)
	assert.EqualValues(t, 3, sv.Cells[0].NKey)
}
