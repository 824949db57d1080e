package id

import "fmt"

// Bit layout for Cid and Oid, following the "new allocation" scheme
// documented in the original source's coid.h: a 64-bit Cid packing
// dbid|tree-node-flag|tableid, and a 64-bit Oid packing
// issuerid|counter|serverid.
const (
	cidTreeNodeBit = uint64(1) << 31 // bit 31: set => this cid names a B-tree node container
	cidTableMask   = uint64(0x7FFFFFFF)

	oidServeridBits = 16
	oidCounterBits  = 16
	oidServeridMask = uint64(0xFFFF)
	oidCounterMask  = uint64(0xFFFF)
)

// Cid identifies a container: a table (or its B-tree) within a database.
type Cid uint64

// Oid identifies an object within a container.
type Oid uint64

// Coid is a full container+object identifier.
type Coid struct {
	Cid Cid
	Oid Oid
}

func (c Coid) String() string { return fmt.Sprintf("%016x:%016x", uint64(c.Cid), uint64(c.Oid)) }

// Less gives Coid a total order so it can be used as a sort/iteration key
// (prepare acquires per-looim latches in coid-ascending order, spec.md
// 4.F step 3).
func (c Coid) Less(other Coid) bool {
	if c.Cid != other.Cid {
		return c.Cid < other.Cid
	}
	return c.Oid < other.Oid
}

// Dbid returns the database id packed into cid.
func (c Cid) Dbid() uint64 { return uint64(c) >> 32 }

// TableID returns the table id packed into cid (high bit of the 31-bit
// field marks a transient table, per coid.h).
func (c Cid) TableID() uint64 { return uint64(c) & cidTableMask }

// IsTreeNode reports whether this cid names a B-tree node container
// rather than a plain data container.
func (c Cid) IsTreeNode() bool { return uint64(c)&cidTreeNodeBit != 0 }

// DataCid returns the data-container cid associated with a tree cid
// (clears the tree-node bit).
func (c Cid) DataCid() Cid { return Cid(uint64(c) &^ cidTreeNodeBit) }

// NewCid packs a database id and table id into a plain (non-tree) cid.
func NewCid(dbid, tableid uint64) Cid {
	return Cid((dbid << 32) | (tableid & cidTableMask))
}

// CidForTable returns the cid of the B-tree node container for table
// iTable within database dbid (the original source's getCidTable).
func CidForTable(dbid, iTable uint64) Cid {
	return Cid((dbid << 32) | cidTreeNodeBit | (iTable & cidTableMask))
}

// Issuerid returns the client id that allocated this oid.
func (o Oid) Issuerid() uint64 {
	return uint64(o) >> (oidCounterBits + oidServeridBits)
}

// Counter returns the per-issuer monotonic counter component of this oid.
func (o Oid) Counter() uint64 {
	return (uint64(o) >> oidServeridBits) & oidCounterMask
}

// Serverid returns the server-id component of this oid.
func (o Oid) Serverid() uint64 { return uint64(o) & oidServeridMask }

// NewOid packs an issuer id, counter, and server id into an Oid.
func NewOid(issuerid, counter, serverid uint64) Oid {
	return Oid((issuerid << (oidCounterBits + oidServeridBits)) |
		((counter & oidCounterMask) << oidServeridBits) |
		(serverid & oidServeridMask))
}

// WithServerid returns oid with its server-id component replaced,
// equivalent to the original source's setRandomServerid when serverid is
// chosen at random by the caller.
func (o Oid) WithServerid(serverid uint64) Oid {
	return Oid((uint64(o) &^ oidServeridMask) | (serverid & oidServeridMask))
}

// RootOid is oid 0: by convention the root node of a table's B-tree, or
// the metadata object of a database.
const RootOid = Oid(0)

// IsCoidCachable reports whether coid names table metadata eligible for
// the consistent client cache (spec.md 3: dbid != 0, tableid == 0,
// oid == 0).
func IsCoidCachable(c Coid) bool {
	return c.Cid.Dbid() != 0 && c.Cid.TableID() == 0 && c.Oid == RootOid
}
