// Package disklog implements the sequential, block-aligned transaction log
// (spec.md 4.E): the durability substrate the 2PC coordinator consults
// before replying yes to a Prepare, and the source of truth crash recovery
// replays against the in-memory LOOIMs (component C).
package disklog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/metrics"
)

// AlignBufSize is the power-of-two block size records are batched and
// flushed in (spec.md 4.E ALIGNBUFSIZE).
const AlignBufSize = 4096

// EntryType distinguishes the record kinds spec.md 4.E names.
type EntryType uint8

const (
	EntryMultiWrite EntryType = iota
	EntryVoteYes
	EntryCommit
	EntryAbort
)

func (t EntryType) String() string {
	switch t {
	case EntryMultiWrite:
		return "MultiWrite"
	case EntryVoteYes:
		return "VoteYes"
	case EntryCommit:
		return "Commit"
	case EntryAbort:
		return "Abort"
	default:
		return "Unknown"
	}
}

// CoidWrite is one coid's contribution to a MultiWrite record: the full
// accumulated Ticoid the transaction built up for that coid.
type CoidWrite struct {
	Coid   id.Coid
	Ticoid *looim.Ticoid
}

// Record is one durable log entry. Writes is populated only for
// EntryMultiWrite.
type Record struct {
	Type   EntryType
	Tid    id.Tid
	Ts     id.Timestamp
	Writes []CoidWrite `json:",omitempty"`
}

var superbucket = []byte("disklog")
var offsetKey = []byte("offset")

// DiskLog is the append-only block log plus its bbolt-backed recovery
// superblock. One DiskLog per storage server.
type DiskLog struct {
	mu       sync.Mutex
	file     *os.File
	buf      []byte
	waiters  []chan struct{}
	offset   int64
	nrecords int // records appended since the last flush

	super *bolt.DB
}

// Open opens (creating if absent) the log file at logPath and its recovery
// superblock at superPath, positioning for append at the last known
// block-aligned offset.
func Open(logPath, superPath string) (*DiskLog, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("disklog: create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("disklog: open log file: %w", err)
	}

	super, err := bolt.Open(superPath, 0600, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disklog: open superblock: %w", err)
	}
	var offset int64
	err = super.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(superbucket)
		if err != nil {
			return err
		}
		if v := b.Get(offsetKey); v != nil {
			offset = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	if err != nil {
		f.Close()
		super.Close()
		return nil, fmt.Errorf("disklog: read superblock: %w", err)
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		super.Close()
		return nil, fmt.Errorf("disklog: seek to offset %d: %w", offset, err)
	}
	return &DiskLog{file: f, offset: offset, super: super}, nil
}

// Close flushes any buffered records and releases the underlying files.
func (d *DiskLog) Close() error {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
	if err := d.file.Close(); err != nil {
		return err
	}
	return d.super.Close()
}

func encodeRecord(buf []byte, rec Record) []byte {
	payload, err := json.Marshal(rec)
	if err != nil {
		// Records hold only plain structs of ints, byte slices, and maps;
		// a marshal failure here indicates a programming error, not a
		// runtime condition callers can recover from.
		panic(fmt.Sprintf("disklog: marshal record: %v", err))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	buf = append(buf, hdr[:]...)
	return append(buf, payload...)
}

func (d *DiskLog) appendLocked(rec Record) {
	d.buf = encodeRecord(d.buf, rec)
	d.nrecords++
}

// flushLocked pads the buffer to the next AlignBufSize boundary, writes and
// fsyncs it, advances the durable offset, and wakes everyone waiting on
// this batch. Must be called with mu held.
func (d *DiskLog) flushLocked() {
	if len(d.buf) == 0 {
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DiskLogFlushDuration)
	metrics.DiskLogGroupCommitSize.Observe(float64(d.nrecords))
	d.nrecords = 0

	padded := ((len(d.buf) + AlignBufSize - 1) / AlignBufSize) * AlignBufSize
	for len(d.buf) < padded {
		d.buf = append(d.buf, 0)
	}
	if _, err := d.file.Write(d.buf); err != nil {
		// The log is the durability source of truth; a write failure here
		// is unrecoverable for this process.
		panic(fmt.Sprintf("disklog: write: %v", err))
	}
	if err := d.file.Sync(); err != nil {
		panic(fmt.Sprintf("disklog: fsync: %v", err))
	}
	d.offset += int64(len(d.buf))
	d.buf = d.buf[:0]

	offsetBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(offsetBytes, uint64(d.offset))
	_ = d.super.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(superbucket).Put(offsetKey, offsetBytes)
	})

	waiters := d.waiters
	d.waiters = nil
	for _, ch := range waiters {
		close(ch)
	}
}

// Flush forces any buffered records to become durable immediately.
func (d *DiskLog) Flush() {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
}

// LogUpdatesAndYesVote durably logs the MultiWrite payload for a yes-voted
// Prepare followed by its VoteYes record (spec.md 4.E: "a VoteYes is
// durable no later than the MultiWrite it certifies"). If the batch buffer
// is still below AlignBufSize after appending, the write is deferred:
// LogUpdatesAndYesVote returns true and notify will be closed once a
// subsequent flush (buffer fill or explicit Flush) makes it durable. If
// the append already crossed the boundary, the flush happens inline and
// the call returns false: the record is durable before it returns.
func (d *DiskLog) LogUpdatesAndYesVote(tid id.Tid, proposeTs id.Timestamp, writes []CoidWrite, notify chan struct{}) (deferred bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.appendLocked(Record{Type: EntryMultiWrite, Tid: tid, Ts: proposeTs, Writes: writes})
	d.appendLocked(Record{Type: EntryVoteYes, Tid: tid, Ts: proposeTs})

	if len(d.buf) >= AlignBufSize {
		d.flushLocked()
		return false
	}
	d.waiters = append(d.waiters, notify)
	return true
}

// LogCommitAsync appends a fire-and-forget Commit record (spec.md 4.E:
// "Commit/Abort have no durability ordering requirement w.r.t. subsequent
// reads because the log-in-memory already reflects the outcome").
func (d *DiskLog) LogCommitAsync(tid id.Tid, ts id.Timestamp) {
	d.mu.Lock()
	d.appendLocked(Record{Type: EntryCommit, Tid: tid, Ts: ts})
	if len(d.buf) >= AlignBufSize {
		d.flushLocked()
	}
	d.mu.Unlock()
}

// LogAbortAsync appends a fire-and-forget Abort record.
func (d *DiskLog) LogAbortAsync(tid id.Tid, ts id.Timestamp) {
	d.mu.Lock()
	d.appendLocked(Record{Type: EntryAbort, Tid: tid, Ts: ts})
	if len(d.buf) >= AlignBufSize {
		d.flushLocked()
	}
	d.mu.Unlock()
}

// Replay decodes every durable record in block order from the start of the
// log file, invoking visit for each. It is used once at startup (spec.md 7
// "Recovery") to reconstruct LOOIMs and discard yes-votes with no matching
// commit/abort record; it does not touch the live append position, which
// Open already restored from the superblock.
func (d *DiskLog) Replay(visit func(Record) error) error {
	f, err := os.Open(d.file.Name())
	if err != nil {
		return fmt.Errorf("disklog: reopen for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var read int64
	for read < d.offset {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("disklog: replay header: %w", err)
		}
		n := binary.BigEndian.Uint32(hdr[:])
		read += 4
		if n == 0 {
			// Zero-length header inside a block means we've hit the
			// zero-padding tail of the last written block; the block is
			// fully consumed by advancing to its boundary.
			skip := AlignBufSize - int(read%AlignBufSize)
			if skip == AlignBufSize {
				skip = 0
			}
			if skip > 0 {
				if _, err := io.CopyN(io.Discard, r, int64(skip)); err != nil {
					return fmt.Errorf("disklog: replay pad skip: %w", err)
				}
				read += int64(skip)
			}
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("disklog: replay payload: %w", err)
		}
		read += int64(n)

		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("disklog: replay decode: %w", err)
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}
