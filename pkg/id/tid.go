package id

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Tid is a transaction identifier: a process-unique id concatenated with
// a per-process monotonic counter, making collisions across machines
// impossible (spec.md 4.A).
type Tid struct {
	ProcessID uint64
	Counter   uint64
}

func (t Tid) String() string { return fmt.Sprintf("%016x-%016x", t.ProcessID, t.Counter) }

// TidIssuer hands out unique Tids for one process.
type TidIssuer struct {
	processID uint64
	counter   uint64
	once      sync.Once
}

// NewTidIssuer derives a process-unique id from a random UUID.
func NewTidIssuer() *TidIssuer {
	u := uuid.New()
	var pid uint64
	for _, b := range u[:8] {
		pid = (pid << 8) | uint64(b)
	}
	return &TidIssuer{processID: pid}
}

// New returns a fresh Tid, unique within this issuer's process and
// globally unique across processes by construction.
func (i *TidIssuer) New() Tid {
	c := atomic.AddUint64(&i.counter, 1)
	return Tid{ProcessID: i.processID, Counter: c}
}
