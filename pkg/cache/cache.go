// Package cache implements the consistent client cache (spec.md 4.G): a
// client-side cache of cacheable table-metadata objects that can be read
// without a round trip, as long as the server's advertised reserve
// timestamp covers the desired read.
package cache

import (
	"bytes"
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/id"
)

// ServerState is the cache state for one remote server: a version number
// that increments whenever the server invalidates the cache wholesale, the
// timestamp as of the last report, the reserve horizon up to which the
// server promises no update to cacheable data, and the cached objects
// themselves.
type ServerState struct {
	mu        sync.RWMutex
	versionNo uint64
	ts        id.Timestamp
	advanceTs id.Timestamp
	cachemap  map[id.Coid][]byte
}

func newServerState() *ServerState {
	return &ServerState{cachemap: make(map[id.Coid][]byte)}
}

// Report folds a server's piggybacked {versionNo, ts, advanceTs} onto this
// cache's view of that server (spec.md 4.G report). A stale (lower)
// version is ignored; an equal version only ever raises advanceTs; a newer
// version wholesale-invalidates the cache.
func (s *ServerState) Report(vno uint64, ts, advanceTs id.Timestamp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case vno < s.versionNo:
		return
	case vno == s.versionNo:
		if s.advanceTs.Less(advanceTs) {
			s.advanceTs = advanceTs
		}
	default:
		s.cachemap = make(map[id.Coid][]byte)
		s.versionNo = vno
		s.ts = ts
		s.advanceTs = advanceTs
	}
}

// Lookup returns the cached buffer for coid if readTs falls within the
// window this server has promised is stable: (ts, advanceTs] (spec.md 4.G
// lookup).
func (s *ServerState) Lookup(coid id.Coid, readTs id.Timestamp) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !(s.ts.Less(readTs) && readTs.LessEqual(s.advanceTs)) {
		return nil, false
	}
	buf, ok := s.cachemap[coid]
	return buf, ok
}

// Set inserts buf for coid if absent. If already present, it is asserted
// byte-equal (a cacheable coid's value cannot change within the server's
// reserve window, so two reports of it must agree) — a debug invariant
// check, not load-bearing for correctness under normal operation.
func (s *ServerState) Set(coid id.Coid, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cachemap[coid]; ok {
		if !bytes.Equal(existing, buf) {
			panic("cache: conflicting values reported for the same cacheable coid within one reserve window")
		}
		return
	}
	s.cachemap[coid] = buf
}

// VersionNo returns the cache's current view of the server's version.
func (s *ServerState) VersionNo() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionNo
}

// AdvanceTs returns the cache's current reserve horizon for this server.
func (s *ServerState) AdvanceTs() id.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advanceTs
}

// Cache is the client-wide table of per-server cache states, keyed by
// server number.
type Cache struct {
	mu      sync.Mutex
	servers map[uint64]*ServerState
}

// New returns an empty client cache.
func New() *Cache {
	return &Cache{servers: make(map[uint64]*ServerState)}
}

// Server returns (creating if absent) the cache state for serverno.
func (c *Cache) Server(serverno uint64) *ServerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.servers[serverno]
	if !ok {
		s = newServerState()
		c.servers[serverno] = s
	}
	return s
}
