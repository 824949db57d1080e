// Package client is the high-level library user code links against: it
// dials a storage server over gRPC, converts between pkg/id/pkg/value
// domain types and pkg/rpc's wire messages, retries transient failures
// with backoff, and keeps pkg/cache's consistent client cache up to date
// from every response's piggybacked {versionNo, ts, advanceTs}.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/rpc"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// retryMaxElapsed bounds how long a single call retries a transient
// ServerDown before giving up and returning it to the caller.
const retryMaxElapsed = 10 * time.Second

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// Client is one connection to one storage server, plus the server-keyed
// slot of the process-wide consistent cache this server's cacheable
// responses update.
type Client struct {
	conn       *grpc.ClientConn
	rpc        *rpc.StorageClient
	serverno   uint64
	cache      *cache.Cache
	cacheState *cache.ServerState
}

// Dial connects to addr (serverno identifies it within cache) without
// transport security, matching this exercise's single-trust-domain
// deployment (spec.md carries no auth surface; see SPEC_FULL.md
// Non-goals).
func Dial(ctx context.Context, addr string, serverno uint64, shared *cache.Cache) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	if shared == nil {
		shared = cache.New()
	}
	return &Client{
		conn:       conn,
		rpc:        rpc.NewStorageClient(conn),
		serverno:   serverno,
		cache:      shared,
		cacheState: shared.Server(serverno),
	}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// withRetry runs op, retrying with exponential backoff on transient
// (ServerDown) failures up to retryMaxElapsed, per spec.md 7's note that
// clients are expected to retry unavailable-server errors themselves.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if kverrors.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

func (c *Client) reportPiggyback(pb rpc.CachePiggyback) {
	c.cacheState.Report(pb.VersionNo, pb.Ts, pb.ReserveTs)
}

// Write performs the Write RPC.
func (c *Client) Write(ctx context.Context, tid id.Tid, coid id.Coid, buf []byte) error {
	return withRetry(ctx, func() error {
		resp, err := c.rpc.Write(ctx, &rpc.WriteRequest{Tid: tid, Coid: coid, Buf: buf})
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		return kverrors.FromCode(resp.Code)
	})
}

// Read performs the Read RPC, consulting the client cache first for
// cacheable coids within the server's advertised reserve window (spec.md
// 4.G).
func (c *Client) Read(ctx context.Context, coid id.Coid, ts id.Timestamp) ([]byte, id.Timestamp, bool, error) {
	if id.IsCoidCachable(coid) {
		if buf, ok := c.cacheState.Lookup(coid, ts); ok {
			return buf, ts, true, nil
		}
	}
	var buf []byte
	var readTs id.Timestamp
	var found bool
	err := withRetry(ctx, func() error {
		resp, err := c.rpc.Read(ctx, &rpc.ReadRequest{Coid: coid, Ts: ts})
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		if code := kverrors.FromCode(resp.Code); code != nil {
			return code
		}
		buf, readTs, found = resp.Buf, resp.ReadTs, resp.Found
		if found && id.IsCoidCachable(coid) {
			c.cacheState.Set(coid, buf)
		}
		return nil
	})
	return buf, readTs, found, err
}

// FullWrite performs the FullWrite RPC.
func (c *Client) FullWrite(ctx context.Context, tid id.Tid, coid id.Coid, sv *value.SuperValue) error {
	return withRetry(ctx, func() error {
		resp, err := c.rpc.FullWrite(ctx, &rpc.FullWriteRequest{Tid: tid, Coid: coid, SV: rpc.SVToWire(sv)})
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		return kverrors.FromCode(resp.Code)
	})
}

// FullRead performs the FullRead RPC, optionally carrying a load-split
// hint (SPEC_FULL.md "FullRead cellHint").
func (c *Client) FullRead(ctx context.Context, coid id.Coid, ts id.Timestamp, cellHint *value.Cell) (*value.SuperValue, id.Timestamp, bool, error) {
	var sv *value.SuperValue
	var readTs id.Timestamp
	var found bool
	err := withRetry(ctx, func() error {
		req := &rpc.FullReadRequest{Coid: coid, Ts: ts}
		if cellHint != nil {
			w := rpc.CellToWire(*cellHint)
			req.CellHint = &w
		}
		resp, err := c.rpc.FullRead(ctx, req)
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		if code := kverrors.FromCode(resp.Code); code != nil {
			return code
		}
		sv, readTs, found = rpc.SVFromWire(resp.SV), resp.ReadTs, resp.Found
		return nil
	})
	return sv, readTs, found, err
}

// ListAdd performs the ListAdd RPC.
func (c *Client) ListAdd(ctx context.Context, tid id.Tid, coid id.Coid, cell value.Cell, ki *value.KeyInfo, flags uint32) (ncells, size int, err error) {
	err = withRetry(ctx, func() error {
		resp, err := c.rpc.ListAdd(ctx, &rpc.ListAddRequest{Tid: tid, Coid: coid, Cell: rpc.CellToWire(cell), KeyInfo: rpc.KeyInfoToWire(ki), Flags: flags})
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		if code := kverrors.FromCode(resp.Code); code != nil {
			return code
		}
		ncells, size = resp.NCells, resp.Size
		return nil
	})
	return ncells, size, err
}

// ListDelRange performs the ListDelRange RPC.
func (c *Client) ListDelRange(ctx context.Context, tid id.Tid, coid id.Coid, lo, hi value.Cell, it looim.IntervalType, ki *value.KeyInfo) error {
	return withRetry(ctx, func() error {
		resp, err := c.rpc.ListDelRange(ctx, &rpc.ListDelRangeRequest{Tid: tid, Coid: coid, Cell1: rpc.CellToWire(lo), Cell2: rpc.CellToWire(hi), IntervalType: int(it), KeyInfo: rpc.KeyInfoToWire(ki)})
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		return kverrors.FromCode(resp.Code)
	})
}

// AttrSet performs the AttrSet RPC.
func (c *Client) AttrSet(ctx context.Context, tid id.Tid, coid id.Coid, attrID int, attrValue int64) error {
	return withRetry(ctx, func() error {
		resp, err := c.rpc.AttrSet(ctx, &rpc.AttrSetRequest{Tid: tid, Coid: coid, AttrID: attrID, AttrValue: attrValue})
		if err != nil {
			return kverrors.ServerDown
		}
		return kverrors.FromCode(resp.Code)
	})
}

// PrepareResult mirrors coordinator.PrepareResult on the client side.
type PrepareResult struct {
	Vote        coordinator.Vote
	MinCommitTs id.Timestamp
}

// Prepare performs the Prepare RPC, optionally piggybacking the
// transaction's last write (spec.md 4.F write-on-prepare).
func (c *Client) Prepare(ctx context.Context, tid id.Tid, startTs id.Timestamp, piggyWrite *coordinator.PiggyWrite, oneShot bool) (PrepareResult, error) {
	var out PrepareResult
	err := withRetry(ctx, func() error {
		req := &rpc.PrepareRequest{Tid: tid, StartTs: startTs, OneShot: oneShot}
		if piggyWrite != nil {
			req.PiggyCoid = &piggyWrite.Coid
			req.PiggyValue = piggyWrite.Value
		}
		resp, err := c.rpc.Prepare(ctx, req)
		if err != nil {
			return kverrors.ServerDown
		}
		c.reportPiggyback(resp.Piggyback)
		if code := kverrors.FromCode(resp.Code); code != nil {
			return code
		}
		out = PrepareResult{Vote: coordinator.Vote(resp.Vote), MinCommitTs: resp.MinCommitTs}
		return nil
	})
	return out, err
}

// Commit performs the Commit RPC, then blocks until real time reaches the
// returned waiting timestamp if the caller asks for the cache-reserve
// promise to be honored before it observes the commit as durable
// (spec.md 4.F "wait for waitingts").
func (c *Client) Commit(ctx context.Context, tid id.Tid, committs id.Timestamp, outcome coordinator.Outcome, clock *id.Clock) (id.Timestamp, error) {
	var waitingTs id.Timestamp
	err := withRetry(ctx, func() error {
		resp, err := c.rpc.Commit(ctx, &rpc.CommitRequest{Tid: tid, CommitTs: committs, Outcome: int(outcome)})
		if err != nil {
			return kverrors.ServerDown
		}
		if code := kverrors.FromCode(resp.Code); code != nil {
			return code
		}
		waitingTs = resp.WaitingTs
		return nil
	})
	if err != nil || clock == nil {
		return waitingTs, err
	}
	for clock.New().Less(waitingTs) {
		time.Sleep(time.Millisecond)
	}
	return waitingTs, nil
}

// Shutdown performs the administrative Shutdown RPC.
func (c *Client) Shutdown(ctx context.Context, level int) error {
	resp, err := c.rpc.Shutdown(ctx, &rpc.ShutdownRequest{Level: level})
	if err != nil {
		return kverrors.ServerDown
	}
	return kverrors.FromCode(resp.Code)
}

// StartSplitter performs the administrative StartSplitter RPC.
func (c *Client) StartSplitter(ctx context.Context) error {
	resp, err := c.rpc.StartSplitter(ctx, &rpc.StartSplitterRequest{})
	if err != nil {
		return kverrors.ServerDown
	}
	return kverrors.FromCode(resp.Code)
}

// FlushFile performs the administrative FlushFile RPC.
func (c *Client) FlushFile(ctx context.Context, filename string, cid id.Cid) error {
	resp, err := c.rpc.FlushFile(ctx, &rpc.FlushFileRequest{Filename: filename, Cid: cid})
	if err != nil {
		return kverrors.ServerDown
	}
	return kverrors.FromCode(resp.Code)
}

// LoadFile performs the administrative LoadFile RPC.
func (c *Client) LoadFile(ctx context.Context, filename string) error {
	resp, err := c.rpc.LoadFile(ctx, &rpc.LoadFileRequest{Filename: filename})
	if err != nil {
		return kverrors.ServerDown
	}
	return kverrors.FromCode(resp.Code)
}
