package pti

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yesqlkv/yesqlkv/pkg/id"
)

func TestGetInfoCreatesOnce(t *testing.T) {
	tbl := NewTable()
	tid := id.Tid{ProcessID: 1, Counter: 1}
	p1 := tbl.GetInfo(tid)
	p2 := tbl.GetInfo(tid)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, tbl.Len())
}

func TestGetInfoNoCreateMissing(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.GetInfoNoCreate(id.Tid{ProcessID: 9, Counter: 9})
	assert.Error(t, err)
}

func TestRemoveInfo(t *testing.T) {
	tbl := NewTable()
	tid := id.Tid{ProcessID: 2, Counter: 2}
	tbl.GetInfo(tid)
	tbl.RemoveInfo(tid)
	assert.Equal(t, 0, tbl.Len())
	_, err := tbl.GetInfoNoCreate(tid)
	assert.Error(t, err)
}

func TestLookupInsertAccumulates(t *testing.T) {
	p := newPTI(id.Tid{ProcessID: 1})
	c := id.Coid{Cid: id.NewCid(1, 1), Oid: id.NewOid(1, 1, 1)}

	tc1 := p.LookupInsert(c)
	err := tc1.SetWrite([]byte("a"))
	assert.NoError(t, err)

	tc2 := p.LookupInsert(c)
	assert.Same(t, tc1, tc2)
	assert.Equal(t, []byte("a"), tc2.Write)
}

func TestCoidsSortedAscending(t *testing.T) {
	p := newPTI(id.Tid{ProcessID: 1})
	c1 := id.Coid{Cid: id.NewCid(1, 1), Oid: id.NewOid(0, 0, 2)}
	c2 := id.Coid{Cid: id.NewCid(1, 1), Oid: id.NewOid(0, 0, 1)}
	p.LookupInsert(c1)
	p.LookupInsert(c2)

	coids := p.Coids()
	assert.Len(t, coids, 2)
	assert.True(t, coids[0].Less(coids[1]))
}

func TestMarkCacheable(t *testing.T) {
	p := newPTI(id.Tid{ProcessID: 1})
	assert.False(t, p.UpdatesCacheable)
	p.MarkCacheable()
	assert.True(t, p.UpdatesCacheable)
}
