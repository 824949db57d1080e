package btree

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

type splitReq struct {
	coid id.Coid
	cell *value.Cell
}

// Splitter implements coordinator.Splitter: it receives a post-commit
// notification for every coid a transaction wrote to, decides whether
// the node now exceeds the split thresholds, and runs DtSplit
// asynchronously on a background worker (spec.md 4.F "enqueue splits...",
// 4.H "cascading, bounded by tree height"). The shipped server always
// executes splits server-side, in-process with the coordinator that
// enqueues them (DESIGN.md "split location").
type Splitter struct {
	doSplit func(ctx context.Context, toSplit id.Coid, cell *value.Cell, enqueueMore func(id.Coid, *value.Cell)) error

	mu    sync.Mutex
	hints map[id.Coid]value.Cell

	queue chan splitReq
	done  chan struct{}

	enabled atomic.Bool
}

// NewSplitter starts a background worker that drains split requests by
// calling doSplit. Close stops the worker.
func NewSplitter(doSplit func(ctx context.Context, toSplit id.Coid, cell *value.Cell, enqueueMore func(id.Coid, *value.Cell)) error) *Splitter {
	s := &Splitter{
		doSplit: doSplit,
		hints:   make(map[id.Coid]value.Cell),
		queue:   make(chan splitReq, 256),
		done:    make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.run()
	return s
}

// Close stops the background split worker.
func (s *Splitter) Close() { close(s.done) }

// SetEnabled gates MaybeEnqueueSplit, backing the administrative
// StartSplitter/Shutdown(splitter-only) RPCs (spec.md 6). Disabling does
// not stop work already queued; it only prevents new enqueues.
func (s *Splitter) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

func (s *Splitter) run() {
	for {
		select {
		case req := <-s.queue:
			_ = s.doSplit(context.Background(), req.coid, req.cell, s.enqueue)
		case <-s.done:
			return
		}
	}
}

func (s *Splitter) enqueue(coid id.Coid, cell *value.Cell) {
	select {
	case s.queue <- splitReq{coid: coid, cell: cell}:
	default:
		// Queue full: drop. Splitting is a best-effort load-balancing
		// hint, not a correctness requirement — a future write to the
		// same node re-triggers the threshold check.
	}
}

// ReportHint records the first cell a read observed at coid, giving the
// next split of that node a load-split (cell-driven) location instead of
// a size-driven midpoint (spec.md 4.I "ReportAccess").
func (s *Splitter) ReportHint(coid id.Coid, cell value.Cell) {
	s.mu.Lock()
	s.hints[coid] = cell
	s.mu.Unlock()
}

func (s *Splitter) takeHint(coid id.Coid) *value.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.hints[coid]
	if !ok {
		return nil
	}
	delete(s.hints, coid)
	return &c
}

// MaybeEnqueueSplit implements coordinator.Splitter (spec.md 4.F:
// "enqueue splits for any coid whose ticoid performed listadd/
// listdelrange/writesv and whose post-commit super-value exceeds split
// thresholds").
func (s *Splitter) MaybeEnqueueSplit(coid id.Coid, obj *value.Object, nupdates int) {
	if !s.enabled.Load() || obj == nil || !obj.IsSuperValue() || nupdates == 0 {
		return
	}
	sv := obj.SV
	if len(sv.Cells) <= DtreeSplitSize && sv.NBytes() <= DtreeSplitSizeBytes {
		return
	}
	s.enqueue(coid, s.takeHint(coid))
}

// doSplit runs DtSplit (spec.md 4.H) against toSplit: the no-op
// threshold checks, split-at-middle vs split-at-cell index selection,
// the root-split special case, and the seven-step non-root split
// transaction, grounded on original_source/src/dtreesplit.cpp.
func (t *Tree) doSplit(ctx context.Context, toSplit id.Coid, cell *value.Cell, enqueueMore func(id.Coid, *value.Cell)) error {
	txn := t.begin()
	obj, err := txn.Read(ctx, toSplit)
	if err != nil || obj == nil {
		return err
	}
	node, err := nodeFromObject(toSplit, obj)
	if err != nil {
		return nil // not a tree node (shouldn't happen); nothing to split
	}

	ncells := len(node.SV.Cells)
	var splitIndex int
	if cell == nil {
		if ncells <= DtreeSplitSize && node.SV.NBytes() <= DtreeSplitSizeBytes {
			return nil
		}
		splitIndex = ncells / 2
	} else {
		if ncells < DtreeSplitMinSize {
			return nil
		}
		idx, _ := node.SV.Find(*cell)
		splitIndex = idx
		if splitIndex == 0 {
			splitIndex++
		}
		if splitIndex >= ncells {
			splitIndex = ncells - 1
		}
	}

	pivot := node.SV.Cells[splitIndex]
	leftOid := t.oids.newRandomServer()
	leftCoid := id.Coid{Cid: toSplit.Cid, Oid: leftOid}
	oldLeft := node.LeftPtr()

	leftSV := newNodeSV(t.CellType, t.KeyInfo, node.flags(), node.Height())
	leftCellCount := splitIndex
	if node.IsLeaf() {
		leftCellCount++ // leaves keep the pivot cell itself on the left
	}
	leftSV.Cells = append(leftSV.Cells, node.SV.Cells[:leftCellCount]...)
	leftSV.Attrs.Set(AttrLastPtr, pivot.Value)
	leftSV.Attrs.Set(AttrLeftPtr, int64(oldLeft))

	if toSplit.Oid == id.RootOid {
		return t.splitRoot(ctx, txn, toSplit, node, leftCoid, leftSV, pivot, oldLeft, ncells, splitIndex, enqueueMore)
	}
	return t.splitNonRoot(ctx, txn, toSplit, node, leftCoid, leftSV, pivot, oldLeft, ncells, splitIndex, enqueueMore)
}

func (t *Tree) splitRoot(ctx context.Context, txn *Txn, rootCoid id.Coid, node *Node, leftCoid id.Coid, leftSV *value.SuperValue, pivot value.Cell, oldLeft id.Oid, ncells, splitIndex int, enqueueMore func(id.Coid, *value.Cell)) error {
	// The old root's content moves to a freshly allocated oid (spec.md
	// 4.H "the old root keeps its oid assigned to a fresh child"); oid 0
	// becomes the new root with a single pivot cell.
	newRightOid := t.oids.newRandomServer()
	newRightCoid := id.Coid{Cid: rootCoid.Cid, Oid: newRightOid}

	rightSV := node.SV.Clone()
	removeCellRange(rightSV, 0, splitIndex+1)
	rightSV.Attrs.Set(AttrLeftPtr, int64(leftCoid.Oid))

	leftSV.Attrs.Set(AttrRightPtr, int64(newRightOid))

	rootSV := newNodeSV(t.CellType, t.KeyInfo, node.flags()&^FlagLeaf, node.Height()+1)
	rootSV.Attrs.Set(AttrLastPtr, int64(newRightOid))
	pivotForRoot := pivot
	pivotForRoot.Value = int64(leftCoid.Oid)
	rootSV.Cells = append(rootSV.Cells, pivotForRoot)

	if err := txn.WriteSV(leftCoid, leftSV); err != nil {
		return err
	}
	if err := txn.WriteSV(newRightCoid, rightSV); err != nil {
		return err
	}
	if err := txn.WriteSV(rootCoid, rootSV); err != nil {
		return err
	}
	if oldLeft != 0 {
		if err := txn.AttrSet(id.Coid{Cid: rootCoid.Cid, Oid: oldLeft}, AttrRightPtr, int64(leftCoid.Oid)); err != nil {
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	t.recordParent(leftCoid.Oid, rootCoid.Oid)
	t.recordParent(newRightOid, rootCoid.Oid)

	if enqueueMore != nil {
		if len(leftSV.Cells) > DtreeSplitSize || leftSV.NBytes() > DtreeSplitSizeBytes {
			enqueueMore(leftCoid, nil)
		}
		if len(rightSV.Cells) > DtreeSplitSize || rightSV.NBytes() > DtreeSplitSizeBytes {
			enqueueMore(newRightCoid, nil)
		}
	}
	return nil
}

func (t *Tree) splitNonRoot(ctx context.Context, txn *Txn, toSplit id.Coid, node *Node, leftCoid id.Coid, leftSV *value.SuperValue, pivot value.Cell, oldLeft id.Oid, ncells, splitIndex int, enqueueMore func(id.Coid, *value.Cell)) error {
	parentOid, err := t.findParent(ctx, txn, toSplit, node.SV.Cells[0])
	if err != nil {
		return err
	}
	parentCoid := id.Coid{Cid: toSplit.Cid, Oid: parentOid}

	leftSV.Attrs.Set(AttrRightPtr, int64(toSplit.Oid))

	pivotForParent := pivot
	pivotForParent.Value = int64(leftCoid.Oid)

	if err := txn.ListAdd(parentCoid, pivotForParent); err != nil {
		return err
	}
	if err := txn.WriteSV(leftCoid, leftSV); err != nil {
		return err
	}
	if err := txn.AttrSet(toSplit, AttrLeftPtr, int64(leftCoid.Oid)); err != nil {
		return err
	}
	if oldLeft != 0 {
		if err := txn.AttrSet(id.Coid{Cid: toSplit.Cid, Oid: oldLeft}, AttrRightPtr, int64(leftCoid.Oid)); err != nil {
			return err
		}
	}
	// Delete cells (-inf..splitIndex] from toSplit (spec.md 4.H step 6).
	if err := txn.DelRange(toSplit, value.Cell{}, pivot, looim.IntervalUnboundedClosed); err != nil {
		return err
	}

	if err := txn.Commit(ctx); err != nil {
		return err
	}

	t.recordParent(leftCoid.Oid, parentOid)

	if enqueueMore != nil {
		remaining := ncells - splitIndex - 1
		if remaining > DtreeSplitSize {
			enqueueMore(toSplit, nil)
		}
		if len(leftSV.Cells) > DtreeSplitSize || leftSV.NBytes() > DtreeSplitSizeBytes {
			enqueueMore(leftCoid, nil)
		}
		enqueueMore(parentCoid, nil) // cheap re-check; no-op if still under threshold
	}
	return nil
}

// findParent resolves toSplit's parent via the cache-assisted traversal,
// falling back to a full root-to-leaf traversal (spec.md 4.H
// "FindParentCache"/"FindParentReal").
func (t *Tree) findParent(ctx context.Context, txn *Txn, target id.Coid, firstCell value.Cell) (id.Oid, error) {
	if p, ok := t.findParentCache(ctx, txn, target, firstCell); ok {
		return p, nil
	}
	return t.findParentReal(ctx, txn, target, firstCell)
}

func (t *Tree) findParentCache(ctx context.Context, txn *Txn, target id.Coid, firstCell value.Cell) (id.Oid, bool) {
	t.mu.Lock()
	cached, ok := t.parentCache[target.Oid]
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	obj, err := txn.Read(ctx, id.Coid{Cid: target.Cid, Oid: cached})
	if err != nil || obj == nil {
		return 0, false
	}
	node, err := nodeFromObject(id.Coid{Cid: target.Cid, Oid: cached}, obj)
	if err != nil {
		return 0, false
	}
	if node.childFor(firstCell, t.CellType, t.KeyInfo) == target.Oid {
		return cached, true
	}
	return 0, false
}

func (t *Tree) findParentReal(ctx context.Context, txn *Txn, target id.Coid, firstCell value.Cell) (id.Oid, error) {
	if target.Oid == id.RootOid {
		return 0, kverrors.NotFound
	}
	coid := id.Coid{Cid: target.Cid, Oid: id.RootOid}
	for level := 0; level < DtreeMaxLevels; level++ {
		obj, err := txn.Read(ctx, coid)
		if err != nil {
			return 0, err
		}
		node, err := nodeFromObject(coid, obj)
		if err != nil {
			return 0, err
		}
		child := node.childFor(firstCell, t.CellType, t.KeyInfo)
		if child == target.Oid {
			return coid.Oid, nil
		}
		if node.IsLeaf() {
			break
		}
		coid = id.Coid{Cid: target.Cid, Oid: child}
	}
	return 0, kverrors.NotFound
}
