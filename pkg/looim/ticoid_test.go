package looim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

func TestTwoPlainWritesConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.SetWrite([]byte("x"))
	_ = b.SetWrite([]byte("y"))
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestWriteAndSVOpConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.SetWrite([]byte("x"))
	_ = b.AddListAdd(value.Cell{NKey: 1})
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestAttrSetsConflictOnlyWhenDifferent(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddAttrSet(3, 10)
	_ = b.AddAttrSet(3, 10)
	assert.False(t, a.HasConflicts(b, value.CellTypeInt, nil))

	c := NewTicoid()
	_ = c.AddAttrSet(3, 11)
	assert.True(t, a.HasConflicts(c, value.CellTypeInt, nil))
}

func TestAttrSetsOnDifferentIndicesDoNotConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddAttrSet(1, 1)
	_ = b.AddAttrSet(2, 2)
	assert.False(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestListAddInsideDelRangeConflicts(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddListAdd(value.Cell{NKey: 4})
	_ = b.AddDelRange(value.Cell{NKey: 2}, value.Cell{NKey: 6}, IntervalClosedClosed)
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestListAddOutsideDelRangeDoesNotConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddListAdd(value.Cell{NKey: 100})
	_ = b.AddDelRange(value.Cell{NKey: 2}, value.Cell{NKey: 6}, IntervalClosedClosed)
	assert.False(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestTwoListAddsSameKeyConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddListAdd(value.Cell{NKey: 4})
	_ = b.AddListAdd(value.Cell{NKey: 4})
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestTwoDelRangesOverlapConflict(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.AddDelRange(value.Cell{NKey: 0}, value.Cell{NKey: 5}, IntervalClosedClosed)
	_ = b.AddDelRange(value.Cell{NKey: 5}, value.Cell{NKey: 10}, IntervalClosedClosed)
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestSVWriteConflictsWithAnything(t *testing.T) {
	a, b := NewTicoid(), NewTicoid()
	_ = a.SetWriteSV(value.NewSuperValue(value.CellTypeInt, nil))
	_ = b.AddAttrSet(0, 1)
	assert.True(t, a.HasConflicts(b, value.CellTypeInt, nil))
}

func TestApplyTicoidListAddThenDelRange(t *testing.T) {
	base := &value.Object{SV: value.NewSuperValue(value.CellTypeInt, nil)}
	add := NewTicoid()
	_ = add.AddListAdd(value.Cell{NKey: 5, Value: 50})
	obj, n, err := ApplyTicoid(base, add, value.CellTypeInt, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, obj.SV.Cells, 1)

	del := NewTicoid()
	_ = del.AddDelRange(value.Cell{NKey: 5}, value.Cell{NKey: 5}, IntervalClosedClosed)
	obj2, n2, err := ApplyTicoid(obj, del, value.CellTypeInt, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, n2)
	assert.Empty(t, obj2.SV.Cells)
}

func TestApplyTicoidWrongType(t *testing.T) {
	base := &value.Object{Value: []byte("plain")}
	delta := NewTicoid()
	_ = delta.AddListAdd(value.Cell{NKey: 1})
	_, _, err := ApplyTicoid(base, delta, value.CellTypeInt, nil)
	assert.Error(t, err)
}
