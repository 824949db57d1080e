package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// StorageClient is a thin typed wrapper over a grpc.ClientConn that
// invokes the RPC surface of spec.md 6, always selecting the JSON codec
// (DESIGN.md "protoc unavailable").
type StorageClient struct {
	conn *grpc.ClientConn
}

// NewStorageClient wraps an established connection. pkg/client owns
// connection lifecycle (dialing, retry, closing).
func NewStorageClient(conn *grpc.ClientConn) *StorageClient { return &StorageClient{conn: conn} }

func (c *StorageClient) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(jsonCodecName))
}

func (c *StorageClient) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	resp := new(WriteResponse)
	return resp, c.invoke(ctx, "Write", req, resp)
}

func (c *StorageClient) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	resp := new(ReadResponse)
	return resp, c.invoke(ctx, "Read", req, resp)
}

func (c *StorageClient) FullWrite(ctx context.Context, req *FullWriteRequest) (*FullWriteResponse, error) {
	resp := new(FullWriteResponse)
	return resp, c.invoke(ctx, "FullWrite", req, resp)
}

func (c *StorageClient) FullRead(ctx context.Context, req *FullReadRequest) (*FullReadResponse, error) {
	resp := new(FullReadResponse)
	return resp, c.invoke(ctx, "FullRead", req, resp)
}

func (c *StorageClient) ListAdd(ctx context.Context, req *ListAddRequest) (*ListAddResponse, error) {
	resp := new(ListAddResponse)
	return resp, c.invoke(ctx, "ListAdd", req, resp)
}

func (c *StorageClient) ListDelRange(ctx context.Context, req *ListDelRangeRequest) (*ListDelRangeResponse, error) {
	resp := new(ListDelRangeResponse)
	return resp, c.invoke(ctx, "ListDelRange", req, resp)
}

func (c *StorageClient) AttrSet(ctx context.Context, req *AttrSetRequest) (*AttrSetResponse, error) {
	resp := new(AttrSetResponse)
	return resp, c.invoke(ctx, "AttrSet", req, resp)
}

func (c *StorageClient) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResponse, error) {
	resp := new(PrepareResponse)
	return resp, c.invoke(ctx, "Prepare", req, resp)
}

func (c *StorageClient) Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	resp := new(CommitResponse)
	return resp, c.invoke(ctx, "Commit", req, resp)
}

func (c *StorageClient) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	resp := new(ShutdownResponse)
	return resp, c.invoke(ctx, "Shutdown", req, resp)
}

func (c *StorageClient) StartSplitter(ctx context.Context, req *StartSplitterRequest) (*StartSplitterResponse, error) {
	resp := new(StartSplitterResponse)
	return resp, c.invoke(ctx, "StartSplitter", req, resp)
}

func (c *StorageClient) FlushFile(ctx context.Context, req *FlushFileRequest) (*FlushFileResponse, error) {
	resp := new(FlushFileResponse)
	return resp, c.invoke(ctx, "FlushFile", req, resp)
}

func (c *StorageClient) LoadFile(ctx context.Context, req *LoadFileRequest) (*LoadFileResponse, error) {
	resp := new(LoadFileResponse)
	return resp, c.invoke(ctx, "LoadFile", req, resp)
}
