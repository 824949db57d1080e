// Package storage assembles the storage server (spec.md 2, the "Data
// flow" row): the per-object logs (pkg/looim), the pending-transaction
// table (pkg/pti), the durable log (pkg/disklog), the 2PC coordinator
// (pkg/coordinator), and the server-side half of the consistent client
// cache (pkg/cache) behind the RPC surface named in spec.md 6. It is the
// process-level equivalent of original_source/src/storageserver.cpp, and
// plays the same "assemble every subsystem" role warren's pkg/manager
// played for the cluster control plane.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/log"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/metrics"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// SplitController is the administrative surface the StartSplitter and
// Shutdown(splitter-only) RPCs act on. *btree.Splitter implements this;
// it is an interface here so pkg/storage does not need to import
// pkg/btree (which itself imports pkg/coordinator, wired in from the
// caller of NewServer instead — see DESIGN.md "Coordinator/Tree
// construction cycle").
type SplitController interface {
	SetEnabled(enabled bool)
}

// ShutdownLevel distinguishes the two Shutdown RPC levels (spec.md 6).
type ShutdownLevel int

const (
	ShutdownSplitterOnly ShutdownLevel = iota
	ShutdownFull
)

// Piggyback is the {versionNoForCache, tsForCache, reserveTsForCache}
// tuple spec.md 6 requires on every non-administrative response.
type Piggyback struct {
	VersionNo uint64
	Ts        id.Timestamp
	ReserveTs id.Timestamp
}

// Server is one storage server: everything needed to answer the RPC
// surface of spec.md 6 for every coid whose cid names a container this
// process owns.
type Server struct {
	ServerID uint64

	Clock   *id.Clock
	Looims  *looim.Registry
	Ptis    *pti.Table
	Log     *disklog.DiskLog
	Reserve *cache.ReserveTracker
	Coord   *coordinator.Coordinator

	splitter SplitController
	shutdown bool
}

// NewServer wires a storage server's subsystems together. The caller is
// responsible for constructing coord with a Splitter (or wiring one in
// later via coord.SetSplitter, per DESIGN.md) before serving traffic.
func NewServer(serverID uint64, clock *id.Clock, looims *looim.Registry, ptis *pti.Table, dlog *disklog.DiskLog, reserve *cache.ReserveTracker, coord *coordinator.Coordinator) *Server {
	return &Server{
		ServerID: serverID,
		Clock:    clock,
		Looims:   looims,
		Ptis:     ptis,
		Log:      dlog,
		Reserve:  reserve,
		Coord:    coord,
	}
}

// SetSplitController wires the administrative StartSplitter/Shutdown
// surface to a concrete split engine.
func (s *Server) SetSplitController(sc SplitController) { s.splitter = sc }

// Recover replays the durable disk log (spec.md 7 "Recovery") and
// reconstructs the in-memory LOOIMs it names, then discards any yes-vote
// left open with no matching commit or abort record. It must run once,
// before the server starts accepting RPCs.
func (s *Server) Recover(ctx context.Context) error {
	logger := log.WithComponent("recovery")

	type pending struct {
		ts     id.Timestamp
		sleims map[id.Coid]*looim.Sleim
	}
	open := map[id.Tid]*pending{}
	var nrecords, ncommits, naborts, ndiscarded int

	err := s.Log.Replay(func(rec disklog.Record) error {
		nrecords++
		switch rec.Type {
		case disklog.EntryMultiWrite, disklog.EntryVoteYes:
			p, ok := open[rec.Tid]
			if !ok {
				p = &pending{ts: rec.Ts, sleims: map[id.Coid]*looim.Sleim{}}
				open[rec.Tid] = p
			}
			for _, w := range rec.Writes {
				l := s.Looims.GetOrCreate(w.Coid)
				p.sleims[w.Coid] = l.AddPending(rec.Ts, rec.Tid, w.Ticoid)
			}
		case disklog.EntryCommit:
			p, ok := open[rec.Tid]
			if !ok {
				return nil
			}
			for coid, sleim := range p.sleims {
				l := s.Looims.GetOrCreate(coid)
				if _, _, err := l.Commit(sleim, rec.Ts); err != nil {
					return fmt.Errorf("storage: recovery: commit %s: %w", coid, err)
				}
			}
			delete(open, rec.Tid)
			ncommits++
		case disklog.EntryAbort:
			p, ok := open[rec.Tid]
			if !ok {
				return nil
			}
			for coid, sleim := range p.sleims {
				l := s.Looims.GetOrCreate(coid)
				l.Abort(sleim)
			}
			delete(open, rec.Tid)
			naborts++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: recovery: replay: %w", err)
	}

	for tid, p := range open {
		for coid, sleim := range p.sleims {
			l := s.Looims.GetOrCreate(coid)
			l.Abort(sleim)
		}
		logger.Warn().Str("tid", tid.String()).Msg("discarding yes-vote with no matching commit or abort")
		ndiscarded++
	}

	logger.Info().
		Int("records", nrecords).
		Int("commits", ncommits).
		Int("aborts", naborts).
		Int("discarded", ndiscarded).
		Msg("recovery complete")
	return nil
}

func (s *Server) piggyback() Piggyback {
	ts := s.Clock.New()
	s.Reserve.RefreshAdvanceTs(ts)
	vno, adv := s.Reserve.Snapshot()
	return Piggyback{VersionNo: vno, Ts: ts, ReserveTs: adv}
}

// Write implements the Write RPC (spec.md 6): tid, coid, buf.
func (s *Server) Write(ctx context.Context, tid id.Tid, coid id.Coid, buf []byte) (Piggyback, error) {
	metrics.RPCRequestsTotal.WithLabelValues("Write", "ok").Inc()
	pt := s.Ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	if err := tc.SetWrite(buf); err != nil {
		return Piggyback{}, err
	}
	if id.IsCoidCachable(coid) {
		pt.MarkCacheable()
	}
	return s.piggyback(), nil
}

// Read implements the Read RPC (spec.md 6 / 4.C readCOid): coid, ts.
// A pending entry at or before ts parks the call on its resolution
// channel until it is retried (spec.md 5 "suspension points").
func (s *Server) Read(ctx context.Context, coid id.Coid, ts id.Timestamp) (buf []byte, readTs id.Timestamp, found bool, pb Piggyback, err error) {
	l := s.Looims.GetOrCreate(coid)
	for {
		res, waitCh := l.ReadCoid(ts)
		if waitCh != nil {
			metrics.RPCRequestsTotal.WithLabelValues("Read", "defer").Inc()
			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				return nil, id.Illegal, false, Piggyback{}, ctx.Err()
			}
		}
		if !res.Found {
			return nil, res.ReadTsActual, false, s.piggyback(), nil
		}
		if res.Object.IsSuperValue() {
			return nil, id.Illegal, false, Piggyback{}, kverrors.WrongType
		}
		return res.Object.Value, res.ReadTsActual, true, s.piggyback(), nil
	}
}

// FullRead implements the FullRead RPC: tid, coid, ts, optional cell-hint
// carrying spec.md 4.I's ReportAccess load-split hint (supplemented
// feature, SPEC_FULL.md).
func (s *Server) FullRead(ctx context.Context, coid id.Coid, ts id.Timestamp, cellHint *value.Cell) (sv *value.SuperValue, readTs id.Timestamp, found bool, pb Piggyback, err error) {
	l := s.Looims.GetOrCreate(coid)
	for {
		res, waitCh := l.ReadCoid(ts)
		if waitCh != nil {
			metrics.RPCRequestsTotal.WithLabelValues("FullRead", "defer").Inc()
			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				return nil, id.Illegal, false, Piggyback{}, ctx.Err()
			}
		}
		if !res.Found {
			return nil, res.ReadTsActual, false, s.piggyback(), nil
		}
		if !res.Object.IsSuperValue() {
			return nil, id.Illegal, false, Piggyback{}, kverrors.WrongType
		}
		if hinter, ok := s.splitter.(interface {
			ReportHint(id.Coid, value.Cell)
		}); ok && cellHint != nil {
			hinter.ReportHint(coid, *cellHint)
		}
		metrics.RPCRequestsTotal.WithLabelValues("FullRead", "ok").Inc()
		return res.Object.SV, res.ReadTsActual, true, s.piggyback(), nil
	}
}

// FullWrite implements the FullWrite RPC: tid, coid, and a full
// super-value payload.
func (s *Server) FullWrite(ctx context.Context, tid id.Tid, coid id.Coid, sv *value.SuperValue) (Piggyback, error) {
	pt := s.Ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	if err := tc.SetWriteSV(sv); err != nil {
		return Piggyback{}, err
	}
	if id.IsCoidCachable(coid) {
		pt.MarkCacheable()
	}
	metrics.RPCRequestsTotal.WithLabelValues("FullWrite", "ok").Inc()
	return s.piggyback(), nil
}

// ListAddFlags, per spec.md 6: bit0 = check-scope, bit1 = bypass-throttle.
type ListAddFlags uint32

const (
	ListAddCheckScope     ListAddFlags = 1 << 0
	ListAddBypassThrottle ListAddFlags = 1 << 1
)

// ListAdd implements the ListAdd RPC. ncells/size in the reply are a
// best-effort preview computed against the coid's latest committed state
// plus this transaction's ticoid (other transactions' buffered
// operations are not included), since the
// operation itself does not take effect until commit (spec.md 4.C/4.D).
func (s *Server) ListAdd(ctx context.Context, tid id.Tid, coid id.Coid, c value.Cell, ki *value.KeyInfo, flags ListAddFlags) (ncells int, size int, pb Piggyback, err error) {
	pt := s.Ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	if flags&ListAddCheckScope != 0 {
		if err := checkScope(s.Looims.GetOrCreate(coid), c); err != nil {
			return 0, 0, Piggyback{}, err
		}
	}
	if err := tc.AddListAdd(c); err != nil {
		return 0, 0, Piggyback{}, err
	}
	l := s.Looims.GetOrCreate(coid)
	if ki != nil {
		l.SetCellType(value.CellTypeComposite, ki)
	}
	preview, _, err := looim.ApplyTicoid(l.Peek(), tc, l.CellType, l.KeyInfo)
	if err != nil {
		return 0, 0, Piggyback{}, err
	}
	if preview != nil && preview.SV != nil {
		ncells = len(preview.SV.Cells)
		size = preview.SV.NBytes()
	}
	metrics.RPCRequestsTotal.WithLabelValues("ListAdd", "ok").Inc()
	return ncells, size, s.piggyback(), nil
}

// checkScope rejects a list-add whose key would fall outside a leaf's
// recorded [leftmost, rightmost] scope, catching a stale client routing a
// write at a node that has since split (spec.md 6 CELL_OUTRANGE).
func checkScope(l *looim.Looim, c value.Cell) error {
	obj := l.Peek()
	if obj == nil || !obj.IsSuperValue() || len(obj.SV.Cells) == 0 {
		return nil
	}
	sv := obj.SV
	lo, hi := sv.Cells[0], sv.Cells[len(sv.Cells)-1]
	if c.Less(lo, sv.CellType, sv.KeyInfo) && !c.Equal(lo, sv.CellType, sv.KeyInfo) {
		return kverrors.CellOutrange
	}
	if hi.Less(c, sv.CellType, sv.KeyInfo) {
		return kverrors.CellOutrange
	}
	return nil
}

// ListDelRange implements the ListDelRange RPC: tid, coid, cell1, cell2,
// intervalType (0-8, spec.md 4.C interval algebra), pki.
func (s *Server) ListDelRange(ctx context.Context, tid id.Tid, coid id.Coid, lo, hi value.Cell, it looim.IntervalType, ki *value.KeyInfo) (Piggyback, error) {
	pt := s.Ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	if err := tc.AddDelRange(lo, hi, it); err != nil {
		return Piggyback{}, err
	}
	if ki != nil {
		s.Looims.GetOrCreate(coid).SetCellType(value.CellTypeComposite, ki)
	}
	metrics.RPCRequestsTotal.WithLabelValues("ListDelRange", "ok").Inc()
	return s.piggyback(), nil
}

// AttrSet implements the AttrSet RPC: tid, coid, attrid, attrvalue.
func (s *Server) AttrSet(ctx context.Context, tid id.Tid, coid id.Coid, attrID int, attrValue int64) error {
	pt := s.Ptis.GetInfo(tid)
	tc := pt.LookupInsert(coid)
	metrics.RPCRequestsTotal.WithLabelValues("AttrSet", "ok").Inc()
	return tc.AddAttrSet(attrID, attrValue)
}

// Prepare implements the Prepare RPC, delegating to the 2PC coordinator.
func (s *Server) Prepare(ctx context.Context, tid id.Tid, startTs id.Timestamp, piggyWrite *coordinator.PiggyWrite, oneShot bool) (*coordinator.PrepareResult, error) {
	metrics.PendingTransactions.Inc()
	defer metrics.PendingTransactions.Dec()
	res, err := s.Coord.Prepare(ctx, tid, startTs, piggyWrite, oneShot)
	vote := "no"
	if err == nil && res.Vote == coordinator.VoteYes {
		vote = "yes"
	}
	metrics.PrepareTotal.WithLabelValues(vote).Inc()
	return res, err
}

// Commit implements the Commit RPC, delegating to the 2PC coordinator.
func (s *Server) Commit(ctx context.Context, tid id.Tid, committs id.Timestamp, outcome coordinator.Outcome) (*coordinator.CommitResult, error) {
	res, err := s.Coord.Commit(ctx, tid, committs, outcome)
	outcomeLabel := "abort"
	if outcome == coordinator.OutcomeCommit {
		outcomeLabel = "commit"
	}
	metrics.CommitTotal.WithLabelValues(outcomeLabel).Inc()
	return res, err
}

// Shutdown implements the Shutdown RPC. ShutdownSplitterOnly disables
// the split engine without tearing down the server; ShutdownFull also
// flushes the disk log and marks the server unavailable to new RPCs.
func (s *Server) Shutdown(ctx context.Context, level ShutdownLevel) error {
	if s.splitter != nil {
		s.splitter.SetEnabled(false)
	}
	if level == ShutdownFull {
		s.Log.Flush()
		s.shutdown = true
	}
	log.WithComponent("storage").Info().Int("level", int(level)).Msg("shutdown")
	return nil
}

// StartSplitter implements the StartSplitter RPC: re-enables the split
// engine after a prior Shutdown(splitter-only).
func (s *Server) StartSplitter(ctx context.Context) error {
	if s.splitter == nil {
		return kverrors.NotFound
	}
	s.splitter.SetEnabled(true)
	return nil
}

// Unavailable reports whether a full Shutdown has been issued; the RPC
// dispatch layer (pkg/rpc) rejects new requests once this is true.
func (s *Server) Unavailable() bool { return s.shutdown }

// snapshotLine is one JSON-lines record written by FlushFile and read
// back by LoadFile: a single coid's committed plain-value payload. Only
// plain values are snapshotted; super-value (tree node) containers are
// reconstructed by ordinary B-tree operations, not by file replay
// (SPEC_FULL.md "FlushFile/LoadFile").
type snapshotLine struct {
	Cid   uint64 `json:"cid"`
	Oid   uint64 `json:"oid"`
	Value []byte `json:"value"`
}

// FlushFile implements the FlushFile RPC: dumps every plain-valued coid
// in container cid that this server knows about as a JSON-lines
// snapshot of its value at the server's current timestamp (SPEC_FULL.md,
// grounded on original_source/extra/shelldt.cpp's dump command).
func (s *Server) FlushFile(ctx context.Context, filename string, cid id.Cid) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("storage: flushfile: %w", err)
	}
	defer f.Close()

	ts := s.Clock.New()
	w := bufio.NewWriter(f)
	coids := s.Looims.All()
	sort.Slice(coids, func(i, j int) bool { return coids[i].Less(coids[j]) })
	for _, coid := range coids {
		if coid.Cid != cid {
			continue
		}
		l := s.Looims.Get(coid)
		if l == nil {
			continue
		}
		res, waitCh := l.ReadCoid(ts)
		if waitCh != nil {
			continue // best-effort snapshot: skip objects with an in-flight pending write
		}
		if !res.Found || res.Object.IsSuperValue() {
			continue
		}
		line := snapshotLine{Cid: uint64(coid.Cid), Oid: uint64(coid.Oid), Value: res.Object.Value}
		buf, err := json.Marshal(line)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// LoadFile implements the LoadFile RPC: replays a FlushFile snapshot as
// a sequence of single-coid, one-phase-commit transactions (SPEC_FULL.md).
func (s *Server) LoadFile(ctx context.Context, filename string, tids *id.TidIssuer) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("storage: loadfile: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line snapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("storage: loadfile: %w", err)
		}
		coid := id.Coid{Cid: id.Cid(line.Cid), Oid: id.Oid(line.Oid)}
		tid := tids.New()
		if _, err := s.Write(ctx, tid, coid, line.Value); err != nil {
			return err
		}
		res, err := s.Prepare(ctx, tid, s.Clock.New(), nil, true)
		if err != nil {
			return err
		}
		if res.Vote != coordinator.VoteYes {
			return fmt.Errorf("storage: loadfile: %s: prepare voted no replaying a snapshot", coid)
		}
	}
	return scanner.Err()
}
