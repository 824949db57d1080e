package rpc

import (
	"context"

	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/storage"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// storageAdapter implements StorageServer by converting wire messages to
// and from pkg/storage.Server's Go-native calls. It carries no state of
// its own; it is the seam protoc-gen-go-grpc's generated server stubs
// would normally occupy.
type storageAdapter struct {
	srv  *storage.Server
	tids *id.TidIssuer
}

// NewStorageAdapter wraps srv as a StorageServer. tids is used only by
// LoadFile, which must mint a fresh transaction id per replayed line.
func NewStorageAdapter(srv *storage.Server, tids *id.TidIssuer) StorageServer {
	return &storageAdapter{srv: srv, tids: tids}
}

func (a *storageAdapter) unavailable() error {
	if a.srv.Unavailable() {
		return kverrors.ServerDown
	}
	return nil
}

func (a *storageAdapter) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	if err := a.unavailable(); err != nil {
		return &WriteResponse{Code: codeOf(err)}, nil
	}
	pb, err := a.srv.Write(ctx, req.Tid, req.Coid, req.Buf)
	return &WriteResponse{Code: codeOf(err), Piggyback: PiggybackToWire(pb)}, nil
}

func (a *storageAdapter) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	if err := a.unavailable(); err != nil {
		return &ReadResponse{Code: codeOf(err)}, nil
	}
	buf, readTs, found, pb, err := a.srv.Read(ctx, req.Coid, req.Ts)
	return &ReadResponse{
		Code:      codeOf(err),
		ReadTs:    readTs,
		Found:     found,
		Buf:       buf,
		Piggyback: PiggybackToWire(pb),
	}, nil
}

func (a *storageAdapter) FullWrite(ctx context.Context, req *FullWriteRequest) (*FullWriteResponse, error) {
	if err := a.unavailable(); err != nil {
		return &FullWriteResponse{Code: codeOf(err)}, nil
	}
	pb, err := a.srv.FullWrite(ctx, req.Tid, req.Coid, SVFromWire(req.SV))
	return &FullWriteResponse{Code: codeOf(err), Piggyback: PiggybackToWire(pb)}, nil
}

func (a *storageAdapter) FullRead(ctx context.Context, req *FullReadRequest) (*FullReadResponse, error) {
	if err := a.unavailable(); err != nil {
		return &FullReadResponse{Code: codeOf(err)}, nil
	}
	var hint *value.Cell
	if req.CellHint != nil {
		c := CellFromWire(*req.CellHint)
		hint = &c
	}
	sv, readTs, found, pb, err := a.srv.FullRead(ctx, req.Coid, req.Ts, hint)
	return &FullReadResponse{
		Code:      codeOf(err),
		ReadTs:    readTs,
		Found:     found,
		SV:        SVToWire(sv),
		Piggyback: PiggybackToWire(pb),
	}, nil
}

func (a *storageAdapter) ListAdd(ctx context.Context, req *ListAddRequest) (*ListAddResponse, error) {
	if err := a.unavailable(); err != nil {
		return &ListAddResponse{Code: codeOf(err)}, nil
	}
	ncells, size, pb, err := a.srv.ListAdd(ctx, req.Tid, req.Coid, CellFromWire(req.Cell), KeyInfoFromWire(req.KeyInfo), storage.ListAddFlags(req.Flags))
	return &ListAddResponse{Code: codeOf(err), NCells: ncells, Size: size, Piggyback: PiggybackToWire(pb)}, nil
}

func (a *storageAdapter) ListDelRange(ctx context.Context, req *ListDelRangeRequest) (*ListDelRangeResponse, error) {
	if err := a.unavailable(); err != nil {
		return &ListDelRangeResponse{Code: codeOf(err)}, nil
	}
	pb, err := a.srv.ListDelRange(ctx, req.Tid, req.Coid, CellFromWire(req.Cell1), CellFromWire(req.Cell2), IntervalFromWire(req.IntervalType), KeyInfoFromWire(req.KeyInfo))
	return &ListDelRangeResponse{Code: codeOf(err), Piggyback: PiggybackToWire(pb)}, nil
}

func (a *storageAdapter) AttrSet(ctx context.Context, req *AttrSetRequest) (*AttrSetResponse, error) {
	if err := a.unavailable(); err != nil {
		return &AttrSetResponse{Code: codeOf(err)}, nil
	}
	err := a.srv.AttrSet(ctx, req.Tid, req.Coid, req.AttrID, req.AttrValue)
	return &AttrSetResponse{Code: codeOf(err)}, nil
}

func (a *storageAdapter) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResponse, error) {
	if err := a.unavailable(); err != nil {
		return &PrepareResponse{Code: codeOf(err)}, nil
	}
	var pw *coordinator.PiggyWrite
	if req.PiggyCoid != nil {
		pw = &coordinator.PiggyWrite{Coid: *req.PiggyCoid, Value: req.PiggyValue}
	}
	res, err := a.srv.Prepare(ctx, req.Tid, req.StartTs, pw, req.OneShot)
	if err != nil {
		return &PrepareResponse{Code: codeOf(err)}, nil
	}
	return &PrepareResponse{
		Code:        codeOf(nil),
		Vote:        int(res.Vote),
		MinCommitTs: res.MinCommitTs,
		Piggyback:   CachePiggyback{VersionNo: res.CacheVersionNo, ReserveTs: res.CacheAdvanceTs},
	}, nil
}

func (a *storageAdapter) Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	if err := a.unavailable(); err != nil {
		return &CommitResponse{Code: codeOf(err)}, nil
	}
	res, err := a.srv.Commit(ctx, req.Tid, req.CommitTs, OutcomeFromWire(req.Outcome))
	if err != nil {
		return &CommitResponse{Code: codeOf(err)}, nil
	}
	return &CommitResponse{Code: codeOf(nil), WaitingTs: res.WaitingTs}, nil
}

func (a *storageAdapter) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	err := a.srv.Shutdown(ctx, storage.ShutdownLevel(req.Level))
	return &ShutdownResponse{Code: codeOf(err)}, nil
}

func (a *storageAdapter) StartSplitter(ctx context.Context, req *StartSplitterRequest) (*StartSplitterResponse, error) {
	err := a.srv.StartSplitter(ctx)
	return &StartSplitterResponse{Code: codeOf(err)}, nil
}

func (a *storageAdapter) FlushFile(ctx context.Context, req *FlushFileRequest) (*FlushFileResponse, error) {
	err := a.srv.FlushFile(ctx, req.Filename, req.Cid)
	return &FlushFileResponse{Code: codeOf(err)}, nil
}

func (a *storageAdapter) LoadFile(ctx context.Context, req *LoadFileRequest) (*LoadFileResponse, error) {
	err := a.srv.LoadFile(ctx, req.Filename, a.tids)
	return &LoadFileResponse{Code: codeOf(err)}, nil
}
