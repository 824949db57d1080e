package btree

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// oidAllocator hands out oids unique to this process (spec.md 4.A), with
// newRandomServer additionally randomizing the server-id component
// (original source's "setRandomServerid policy" for new tree nodes,
// which spreads a table's nodes across the cluster's storage servers).
type oidAllocator struct {
	issuerID uint64

	mu      sync.Mutex
	counter uint64
}

func newOidAllocator(issuerID uint64) *oidAllocator {
	return &oidAllocator{issuerID: issuerID}
}

func (a *oidAllocator) new() id.Oid {
	a.mu.Lock()
	a.counter++
	c := a.counter
	a.mu.Unlock()
	return id.NewOid(a.issuerID, c, 0)
}

func (a *oidAllocator) newRandomServer() id.Oid {
	return a.new().WithServerid(uint64(rand.Uint32() & 0xFFFF))
}

// Tree is a range-partitioned B-tree over one table's coid container
// (spec.md 4.H/4.I). Operations run as client-driven transactions
// against the coordinator; the split engine runs asynchronously off the
// same Tree (see Splitter).
type Tree struct {
	Cid      id.Cid
	CellType value.CellType
	KeyInfo  *value.KeyInfo

	tids   *id.TidIssuer
	clock  *id.Clock
	coord  *coordinator.Coordinator
	looims *looim.Registry
	ptis   *pti.Table
	oids   *oidAllocator

	splitter *Splitter

	mu          sync.Mutex
	parentCache map[id.Oid]id.Oid // child oid -> best-known parent oid
}

// New returns a Tree over cid, wired to the given coordinator and
// registries. oidIssuerID distinguishes this process's oid allocations
// from every other process's (spec.md 4.A).
func New(cid id.Cid, ct value.CellType, ki *value.KeyInfo, tids *id.TidIssuer, clock *id.Clock, coord *coordinator.Coordinator, looims *looim.Registry, ptis *pti.Table, oidIssuerID uint64) *Tree {
	t := &Tree{
		Cid:         cid,
		CellType:    ct,
		KeyInfo:     ki,
		tids:        tids,
		clock:       clock,
		coord:       coord,
		looims:      looims,
		ptis:        ptis,
		oids:        newOidAllocator(oidIssuerID),
		parentCache: make(map[id.Oid]id.Oid),
	}
	t.splitter = NewSplitter(t.doSplit)
	return t
}

// Splitter returns the tree's split engine, wired into
// coordinator.New(...) as the coordinator.Splitter implementation.
func (t *Tree) Splitter() *Splitter { return t.splitter }

// Close stops the tree's background split worker.
func (t *Tree) Close() { t.splitter.Close() }

func (t *Tree) begin() *Txn { return beginTxn(t.tids, t.clock, t.coord, t.looims, t.ptis) }

func (t *Tree) rootCoid() id.Coid { return id.Coid{Cid: t.Cid, Oid: id.RootOid} }

// dataCoid returns the coid an application value for key is stored
// under. Leaf cells only ever record that a key exists (and, for inner
// cells, a child pointer); the actual bytes live in the table's data
// container (id.Cid.DataCid()), keyed by a value derived from the key,
// so a node's super-value size reflects key/pointer overhead only, not
// arbitrary-sized application payloads (spec.md 4.H split thresholds
// operate on the node, not the data it indexes).
func (t *Tree) dataCoid(key value.Cell) id.Coid {
	if t.CellType == value.CellTypeInt {
		return id.Coid{Cid: t.Cid.DataCid(), Oid: id.Oid(uint64(key.NKey))}
	}
	h := fnv.New64a()
	_, _ = h.Write(key.PKey)
	return id.Coid{Cid: t.Cid.DataCid(), Oid: id.Oid(h.Sum64())}
}

// ensureRoot creates an empty leaf root the first time the tree is used.
// A conflict here means a concurrent caller created it first, which is
// not an error.
func (t *Tree) ensureRoot(ctx context.Context) error {
	txn := t.begin()
	obj, err := txn.Read(ctx, t.rootCoid())
	if err != nil {
		return err
	}
	if obj != nil {
		return nil
	}
	sv := newNodeSV(t.CellType, t.KeyInfo, FlagLeaf, 0)
	if err := txn.WriteSV(t.rootCoid(), sv); err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil && !errors.Is(err, kverrors.Conflict) {
		return err
	}
	return nil
}

func (t *Tree) recordParent(child, parent id.Oid) {
	t.mu.Lock()
	t.parentCache[child] = parent
	t.mu.Unlock()
}

// locateLeaf walks from the root to the leaf that would store key,
// recording inner-node parent pointers as it goes (spec.md 4.I: "traverse
// from root to leaf using the cached inner-node store").
func (t *Tree) locateLeaf(ctx context.Context, txn *Txn, key value.Cell) (id.Coid, error) {
	coid := t.rootCoid()
	for level := 0; level < DtreeMaxLevels; level++ {
		obj, err := txn.Read(ctx, coid)
		if err != nil {
			return id.Coid{}, err
		}
		node, err := nodeFromObject(coid, obj)
		if err != nil {
			return id.Coid{}, err
		}
		if node.IsLeaf() {
			return coid, nil
		}
		child := node.childFor(key, t.CellType, t.KeyInfo)
		t.recordParent(child, coid.Oid)
		coid = id.Coid{Cid: t.Cid, Oid: child}
	}
	return id.Coid{}, kverrors.NotFound
}

// LocateLeaf returns the oid of the leaf node that would store key
// (original source's DdGetOid).
func (t *Tree) LocateLeaf(ctx context.Context, key int64) (id.Oid, error) {
	if err := t.ensureRoot(ctx); err != nil {
		return 0, err
	}
	txn := t.begin()
	leaf, err := t.locateLeaf(ctx, txn, value.Cell{NKey: key})
	if err != nil {
		return 0, err
	}
	return leaf.Oid, nil
}

// ReportAccess records that key was the first cell observed during a
// read of coid, hinting the split engine toward a load-split at that
// location the next time coid is written (spec.md 4.I).
func (t *Tree) ReportAccess(coid id.Coid, key value.Cell) {
	t.splitter.ReportHint(coid, key)
}

// Insert adds key -> val to the tree (spec.md 4.I).
func (t *Tree) Insert(ctx context.Context, key int64, val []byte) error {
	if err := t.ensureRoot(ctx); err != nil {
		return err
	}
	txn := t.begin()
	cell := value.Cell{NKey: key}
	leaf, err := t.locateLeaf(ctx, txn, cell)
	if err != nil {
		return err
	}
	if err := txn.ListAdd(leaf, cell); err != nil {
		return err
	}
	if err := txn.Write(t.dataCoid(cell), val); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// Delete removes key from the tree, if present (spec.md 4.I).
func (t *Tree) Delete(ctx context.Context, key int64) error {
	if err := t.ensureRoot(ctx); err != nil {
		return err
	}
	txn := t.begin()
	cell := value.Cell{NKey: key}
	leaf, err := t.locateLeaf(ctx, txn, cell)
	if err != nil {
		return err
	}
	if err := txn.DelRange(leaf, cell, cell, looim.IntervalClosedClosed); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// Lookup returns key's value and whether it was found (spec.md 4.I).
func (t *Tree) Lookup(ctx context.Context, key int64) ([]byte, bool, error) {
	if err := t.ensureRoot(ctx); err != nil {
		return nil, false, err
	}
	txn := t.begin()
	cell := value.Cell{NKey: key}
	leaf, err := t.locateLeaf(ctx, txn, cell)
	if err != nil {
		return nil, false, err
	}
	leafObj, err := txn.Read(ctx, leaf)
	if err != nil {
		return nil, false, err
	}
	node, err := nodeFromObject(leaf, leafObj)
	if err != nil {
		return nil, false, err
	}
	if len(node.SV.Cells) > 0 {
		t.ReportAccess(leaf, node.SV.Cells[0])
	}
	if _, found := node.SV.Find(cell); !found {
		return nil, false, nil
	}
	dataObj, err := txn.Read(ctx, t.dataCoid(cell))
	if err != nil {
		return nil, false, err
	}
	if dataObj == nil {
		return nil, false, nil
	}
	return dataObj.Value, true, nil
}

// Update reads key's current value (nil if absent), applies mutate, and
// writes back the result (spec.md 4.I). Returns kverrors.NotFound if key
// does not exist in the tree.
func (t *Tree) Update(ctx context.Context, key int64, mutate func(cur []byte) []byte) error {
	if err := t.ensureRoot(ctx); err != nil {
		return err
	}
	txn := t.begin()
	cell := value.Cell{NKey: key}
	leaf, err := t.locateLeaf(ctx, txn, cell)
	if err != nil {
		return err
	}
	leafObj, err := txn.Read(ctx, leaf)
	if err != nil {
		return err
	}
	node, err := nodeFromObject(leaf, leafObj)
	if err != nil {
		return err
	}
	if _, found := node.SV.Find(cell); !found {
		return kverrors.NotFound
	}
	dataObj, err := txn.Read(ctx, t.dataCoid(cell))
	if err != nil {
		return err
	}
	var cur []byte
	if dataObj != nil {
		cur = dataObj.Value
	}
	if err := txn.Write(t.dataCoid(cell), mutate(cur)); err != nil {
		return err
	}
	return txn.Commit(ctx)
}

// ScanCallback receives one scanned element, a zero-based sequence
// number, and an eof flag; when eof is true, key and data are zero
// (spec.md 4.I "DdScan").
type ScanCallback func(key int64, data []byte, n int, eof bool)

// Scan walks the tree starting at the first key >= startKey for up to
// nelems elements, following leaf right-sibling pointers (spec.md 4.I).
// If fetchData is false, only keys are returned.
func (t *Tree) Scan(ctx context.Context, startKey int64, nelems int, cb ScanCallback, fetchData bool) error {
	if err := t.ensureRoot(ctx); err != nil {
		return err
	}
	txn := t.begin()
	cell := value.Cell{NKey: startKey}
	leaf, err := t.locateLeaf(ctx, txn, cell)
	if err != nil {
		return err
	}

	count := 0
	first := true
	for {
		obj, err := txn.Read(ctx, leaf)
		if err != nil {
			return err
		}
		node, err := nodeFromObject(leaf, obj)
		if err != nil {
			return err
		}
		start := 0
		if first {
			start, _ = node.SV.Find(cell)
			first = false
		}
		for i := start; i < len(node.SV.Cells) && count < nelems; i++ {
			c := node.SV.Cells[i]
			var data []byte
			if fetchData {
				dataObj, err := txn.Read(ctx, t.dataCoid(c))
				if err != nil {
					return err
				}
				if dataObj != nil {
					data = dataObj.Value
				}
			}
			cb(c.NKey, data, count, false)
			count++
		}
		if count >= nelems {
			cb(0, nil, count, true)
			return nil
		}
		right := node.RightPtr()
		if right == 0 {
			cb(0, nil, count, true)
			return nil
		}
		leaf = id.Coid{Cid: t.Cid, Oid: right}
	}
}

// GetMonotonicInt returns a key strictly greater than every value
// previously returned for this tree's container (spec.md 9 supplemented
// feature, grounded on scenario S6's shared-counter workload): a small
// transaction against the reserved counter object.
func (t *Tree) GetMonotonicInt(ctx context.Context) (int64, error) {
	coid := id.Coid{Cid: t.Cid, Oid: counterOid}
	txn := t.begin()
	obj, err := txn.Read(ctx, coid)
	if err != nil {
		return 0, err
	}
	next := int64(1)
	if obj != nil && len(obj.Value) == 8 {
		next = int64(binary.LittleEndian.Uint64(obj.Value)) + 1
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(next))
	if err := txn.Write(coid, buf); err != nil {
		return 0, err
	}
	if err := txn.Commit(ctx); err != nil {
		return 0, err
	}
	return next, nil
}
