package looim

import (
	"sync"

	"github.com/yesqlkv/yesqlkv/pkg/id"
)

// Registry is the server-wide table of Looims, keyed by Coid. Looims are
// created lazily on first reference (read or write) and never removed
// (spec.md 3).
type Registry struct {
	mu     sync.RWMutex
	looims map[id.Coid]*Looim
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{looims: make(map[id.Coid]*Looim)}
}

// GetOrCreate returns the Looim for coid, creating it if this is the
// first reference.
func (r *Registry) GetOrCreate(coid id.Coid) *Looim {
	r.mu.RLock()
	l, ok := r.looims[coid]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.looims[coid]; ok {
		return l
	}
	l = New(coid)
	r.looims[coid] = l
	return l
}

// Get returns the Looim for coid if GetOrCreate has ever created it, or
// nil.
func (r *Registry) Get(coid id.Coid) *Looim {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.looims[coid]
}

// All returns a snapshot of every coid currently tracked, used by crash
// recovery and administrative snapshotting (FlushFile).
func (r *Registry) All() []id.Coid {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]id.Coid, 0, len(r.looims))
	for c := range r.looims {
		out = append(out, c)
	}
	return out
}
