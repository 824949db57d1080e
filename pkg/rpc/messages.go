// Package rpc implements the wire surface of spec.md 6: request/response
// messages for every RPC the storage server exposes, a hand-written
// grpc.ServiceDesc (no protoc in this exercise, see DESIGN.md), and a
// JSON encoding.Codec, selected by content-subtype, instead of generated
// protobuf marshaling.
package rpc

import (
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/storage"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// CachePiggyback is the {versionNoForCache, tsForCache, reserveTsForCache}
// tuple spec.md 6 requires on every non-administrative response. An
// Illegal ReserveTs means "cache disabled for this server".
type CachePiggyback struct {
	VersionNo uint64       `json:"versionNo"`
	Ts        id.Timestamp `json:"ts"`
	ReserveTs id.Timestamp `json:"reserveTs"`
}

func PiggybackToWire(pb storage.Piggyback) CachePiggyback {
	return CachePiggyback{VersionNo: pb.VersionNo, Ts: pb.Ts, ReserveTs: pb.ReserveTs}
}

// WireCell is value.Cell's wire representation.
type WireCell struct {
	NKey  int64  `json:"nKey,omitempty"`
	PKey  []byte `json:"pKey,omitempty"`
	Value int64  `json:"value"`
}

func CellToWire(c value.Cell) WireCell {
	return WireCell{NKey: c.NKey, PKey: c.PKey, Value: c.Value}
}

func CellFromWire(w WireCell) value.Cell {
	return value.Cell{NKey: w.NKey, PKey: w.PKey, Value: w.Value}
}

// WireKeyInfo is value.KeyInfo's wire representation.
type WireKeyInfo struct {
	Collations []string `json:"collations"`
}

func KeyInfoToWire(ki *value.KeyInfo) *WireKeyInfo {
	if ki == nil {
		return nil
	}
	return &WireKeyInfo{Collations: ki.Collations}
}

func KeyInfoFromWire(w *WireKeyInfo) *value.KeyInfo {
	if w == nil {
		return nil
	}
	return &value.KeyInfo{Collations: w.Collations}
}

// WireSuperValue is value.SuperValue's wire representation (spec.md 6
// FullWrite/FullRead: nattrs/ncells/celltype/attrs/celloids/pki).
type WireSuperValue struct {
	Attrs    map[int]int64 `json:"attrs"`
	CellType int           `json:"cellType"`
	KeyInfo  *WireKeyInfo  `json:"keyInfo,omitempty"`
	Cells    []WireCell    `json:"cells"`
}

func SVToWire(sv *value.SuperValue) *WireSuperValue {
	if sv == nil {
		return nil
	}
	cells := make([]WireCell, len(sv.Cells))
	for i, c := range sv.Cells {
		cells[i] = CellToWire(c)
	}
	return &WireSuperValue{
		Attrs:    sv.Attrs.Entries(),
		CellType: int(sv.CellType),
		KeyInfo:  KeyInfoToWire(sv.KeyInfo),
		Cells:    cells,
	}
}

func SVFromWire(w *WireSuperValue) *value.SuperValue {
	if w == nil {
		return nil
	}
	cells := make([]value.Cell, len(w.Cells))
	for i, c := range w.Cells {
		cells[i] = CellFromWire(c)
	}
	return &value.SuperValue{
		Attrs:    value.AttrsFromEntries(w.Attrs),
		CellType: value.CellType(w.CellType),
		KeyInfo:  KeyInfoFromWire(w.KeyInfo),
		Cells:    cells,
	}
}

// --- Write ---

type WriteRequest struct {
	Tid  id.Tid  `json:"tid"`
	Coid id.Coid `json:"coid"`
	Ts   id.Timestamp `json:"ts"`
	Buf  []byte  `json:"buf"`
}

type WriteResponse struct {
	Code       kvCode         `json:"code"`
	Piggyback  CachePiggyback `json:"piggyback"`
}

// --- Read ---

type ReadRequest struct {
	Tid  id.Tid       `json:"tid"`
	Coid id.Coid      `json:"coid"`
	Ts   id.Timestamp `json:"ts"`
}

type ReadResponse struct {
	Code      kvCode         `json:"code"`
	ReadTs    id.Timestamp   `json:"readTs"`
	Found     bool           `json:"found"`
	Buf       []byte         `json:"buf"`
	Piggyback CachePiggyback `json:"piggyback"`
}

// --- FullWrite ---

type FullWriteRequest struct {
	Tid  id.Tid          `json:"tid"`
	Coid id.Coid         `json:"coid"`
	SV   *WireSuperValue `json:"sv"`
}

type FullWriteResponse struct {
	Code      kvCode         `json:"code"`
	Piggyback CachePiggyback `json:"piggyback"`
}

// --- FullRead ---

type FullReadRequest struct {
	Tid      id.Tid       `json:"tid"`
	Coid     id.Coid      `json:"coid"`
	Ts       id.Timestamp `json:"ts"`
	CellHint *WireCell    `json:"cellHint,omitempty"`
}

type FullReadResponse struct {
	Code      kvCode         `json:"code"`
	ReadTs    id.Timestamp   `json:"readTs"`
	Found     bool           `json:"found"`
	SV        *WireSuperValue `json:"sv"`
	Piggyback CachePiggyback `json:"piggyback"`
}

// --- ListAdd ---

type ListAddRequest struct {
	Tid     id.Tid       `json:"tid"`
	Coid    id.Coid      `json:"coid"`
	Cell    WireCell     `json:"cell"`
	KeyInfo *WireKeyInfo `json:"keyInfo,omitempty"`
	Flags   uint32       `json:"flags"` // bit0 check-scope, bit1 bypass-throttle
}

type ListAddResponse struct {
	Code      kvCode         `json:"code"`
	NCells    int            `json:"nCells"`
	Size      int            `json:"size"`
	Piggyback CachePiggyback `json:"piggyback"`
}

// --- ListDelRange ---

type ListDelRangeRequest struct {
	Tid          id.Tid       `json:"tid"`
	Coid         id.Coid      `json:"coid"`
	Cell1        WireCell     `json:"cell1"`
	Cell2        WireCell     `json:"cell2"`
	IntervalType int          `json:"intervalType"` // 0-8, spec.md 4.C
	KeyInfo      *WireKeyInfo `json:"keyInfo,omitempty"`
}

type ListDelRangeResponse struct {
	Code      kvCode         `json:"code"`
	Piggyback CachePiggyback `json:"piggyback"`
}

// --- AttrSet ---

type AttrSetRequest struct {
	Tid       id.Tid  `json:"tid"`
	Coid      id.Coid `json:"coid"`
	AttrID    int     `json:"attrId"`
	AttrValue int64   `json:"attrValue"`
}

type AttrSetResponse struct {
	Code kvCode `json:"code"`
}

// --- Prepare ---

type PrepareRequest struct {
	Tid        id.Tid       `json:"tid"`
	StartTs    id.Timestamp `json:"startTs"`
	OneShot    bool         `json:"oneShot"`
	PiggyCoid  *id.Coid     `json:"piggyCoid,omitempty"`
	PiggyValue []byte       `json:"piggyValue,omitempty"`
}

type PrepareResponse struct {
	Code        kvCode         `json:"code"`
	Vote        int            `json:"vote"` // 0 yes, 1 no (coordinator.Vote)
	MinCommitTs id.Timestamp   `json:"minCommitTs"`
	Piggyback   CachePiggyback `json:"piggyback"`
}

// --- Commit ---

type CommitRequest struct {
	Tid      id.Tid       `json:"tid"`
	CommitTs id.Timestamp `json:"commitTs"`
	Outcome  int          `json:"outcome"` // coordinator.Outcome
}

type CommitResponse struct {
	Code      kvCode       `json:"code"`
	WaitingTs id.Timestamp `json:"waitingTs"`
}

// --- Shutdown ---

type ShutdownRequest struct {
	Level int `json:"level"` // storage.ShutdownLevel
}

type ShutdownResponse struct {
	Code kvCode `json:"code"`
}

// --- StartSplitter ---

type StartSplitterRequest struct{}

type StartSplitterResponse struct {
	Code kvCode `json:"code"`
}

// --- FlushFile / LoadFile ---

type FlushFileRequest struct {
	Filename string  `json:"filename"`
	Cid      id.Cid  `json:"cid"`
}

type FlushFileResponse struct {
	Code kvCode `json:"code"`
}

type LoadFileRequest struct {
	Filename string `json:"filename"`
}

type LoadFileResponse struct {
	Code kvCode `json:"code"`
}

func OutcomeFromWire(o int) coordinator.Outcome { return coordinator.Outcome(o) }

func IntervalFromWire(it int) looim.IntervalType { return looim.IntervalType(it) }
