package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCidForTableIsTreeNode(t *testing.T) {
	cid := CidForTable(7, 3)
	assert.True(t, cid.IsTreeNode())
	assert.Equal(t, uint64(7), cid.Dbid())
	assert.Equal(t, uint64(3), cid.TableID())
	assert.Equal(t, NewCid(7, 3), cid.DataCid())
}

func TestOidRoundTrip(t *testing.T) {
	oid := NewOid(123, 45, 6)
	assert.Equal(t, uint64(123), oid.Issuerid())
	assert.Equal(t, uint64(45), oid.Counter())
	assert.Equal(t, uint64(6), oid.Serverid())

	oid2 := oid.WithServerid(99)
	assert.Equal(t, uint64(99), oid2.Serverid())
	assert.Equal(t, oid.Issuerid(), oid2.Issuerid())
	assert.Equal(t, oid.Counter(), oid2.Counter())
}

func TestIsCoidCachable(t *testing.T) {
	metadata := Coid{Cid: NewCid(5, 0), Oid: RootOid}
	assert.True(t, IsCoidCachable(metadata))

	tableRoot := Coid{Cid: CidForTable(5, 2), Oid: RootOid}
	assert.False(t, IsCoidCachable(tableRoot))

	dataObj := Coid{Cid: NewCid(5, 0), Oid: NewOid(1, 1, 1)}
	assert.False(t, IsCoidCachable(dataObj))

	bookkeeping := Coid{Cid: NewCid(0, 0), Oid: RootOid}
	assert.False(t, IsCoidCachable(bookkeeping))
}

func TestCoidOrdering(t *testing.T) {
	a := Coid{Cid: NewCid(1, 0), Oid: NewOid(0, 0, 0)}
	b := Coid{Cid: NewCid(1, 0), Oid: NewOid(0, 1, 0)}
	c := Coid{Cid: NewCid(2, 0), Oid: NewOid(0, 0, 0)}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
}
