package turn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

var logMagic = [6]byte{'C', 'X', 'T', 'L', 0, 1}

// Log is the append-only turns.log plus its turn_id->offset index and
// a derived in-memory chain index (turn_id -> parent/depth) used to
// walk ancestor chains without re-parsing full records at every hop.
type Log struct {
	mu     sync.Mutex // serializes appends; readers use positional reads
	file   *os.File
	offset uint64

	idxMu sync.RWMutex
	index map[uint64]uint64 // turn_id -> offset

	chainMu sync.RWMutex
	chain   map[uint64]chainNode // turn_id -> (parent, depth), derived secondary index (spec §4.2)
}

type chainNode struct {
	parent uint64
	depth  uint32
}

// Open opens (or creates) turns.log under dir and rebuilds the
// turn_id index (and derived chain index) by scanning it, since the
// index is not separately persisted to disk — a scan of the
// append-only log is its own durable source of truth (spec permits
// this; only blobs.idx and heads.tbl have a persisted sibling file).
func Open(dir string) (*Log, error) {
	path := filepath.Join(dir, "turns.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open turns.log: %w: %v", cxerr.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat turns.log: %w: %v", cxerr.ErrIO, err)
	}

	l := &Log{
		file:  f,
		index: make(map[uint64]uint64),
		chain: make(map[uint64]chainNode),
	}

	if info.Size() == 0 {
		if _, err := f.Write(logMagic[:]); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write turns.log magic: %w: %v", cxerr.ErrIO, err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("sync turns.log magic: %w: %v", cxerr.ErrIO, err)
		}
		l.offset = uint64(len(logMagic))
		return l, nil
	}

	hdr := make([]byte, len(logMagic))
	if _, err := f.ReadAt(hdr, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read turns.log magic: %w: %v", cxerr.ErrCorrupt, err)
	}
	if string(hdr) != string(logMagic[:]) {
		_ = f.Close()
		return nil, fmt.Errorf("turns.log: %w: bad magic", cxerr.ErrCorrupt)
	}

	l.offset = uint64(len(logMagic))
	if err := l.rebuild(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) Close() error { return l.file.Close() }

// rebuild replays the log from just past the magic header, populating
// the turn_id index and chain index, and advancing l.offset to end of
// the last complete record. A truncated trailing record is silently
// dropped (spec §5: "an orphan turn record ... is visible in the log
// but not reachable"; here the symmetric case is a half-written record
// which startup never makes visible at all).
func (l *Log) rebuild() error {
	size, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek turns.log: %w: %v", cxerr.ErrIO, err)
	}
	r := io.NewSectionReader(l.file, int64(len(logMagic)), size-int64(len(logMagic)))
	br := bufio.NewReader(r)

	offset := uint64(len(logMagic))
	for {
		rec, n, err := readOneRecord(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // truncated/corrupt trailing record: stop, not fatal
		}
		t, err := decodeRecord(rec)
		if err != nil {
			break
		}
		l.index[t.TurnID] = offset
		l.chain[t.TurnID] = chainNode{parent: t.ParentTurnID, depth: t.Depth}
		offset += uint64(n)
	}
	l.offset = offset
	return nil
}

// readOneRecord reads exactly one self-describing record (see
// codec.go) from br, returning its raw bytes and length.
func readOneRecord(br *bufio.Reader) ([]byte, int, error) {
	fixed := make([]byte, 8+8+4+32+2)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return nil, 0, err
	}
	typeLen := int(binary.LittleEndian.Uint16(fixed[len(fixed)-2:]))
	rest := make([]byte, typeLen+4+1+1+4+8+4)
	if _, err := io.ReadFull(br, rest); err != nil {
		return nil, 0, err
	}
	buf := append(fixed, rest...)
	return buf, len(buf), nil
}

// Append writes t's record and fsyncs before returning, satisfying
// the durability-barrier step "Turn-log record appended and fsynced"
// (spec §5). Callers must hold whatever per-context serialization is
// required; Append itself only guarantees atomicity of this one write.
func (l *Log) Append(t Turn) error {
	rec, err := encodeRecord(t)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	offset := l.offset
	if _, err := l.file.WriteAt(rec, int64(offset)); err != nil {
		return fmt.Errorf("append turns.log: %w: %v", cxerr.ErrIO, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync turns.log: %w: %v", cxerr.ErrIO, err)
	}
	l.offset = offset + uint64(len(rec))

	l.idxMu.Lock()
	l.index[t.TurnID] = offset
	l.idxMu.Unlock()

	l.chainMu.Lock()
	l.chain[t.TurnID] = chainNode{parent: t.ParentTurnID, depth: t.Depth}
	l.chainMu.Unlock()

	return nil
}

// Get returns the full turn record by ID.
func (l *Log) Get(turnID uint64) (Turn, error) {
	l.idxMu.RLock()
	offset, ok := l.index[turnID]
	l.idxMu.RUnlock()
	if !ok {
		return Turn{}, fmt.Errorf("turn %d: %w", turnID, cxerr.ErrNotFound)
	}

	r := io.NewSectionReader(l.file, int64(offset), 1<<20)
	br := bufio.NewReader(r)
	raw, _, err := readOneRecord(br)
	if err != nil {
		return Turn{}, fmt.Errorf("turn %d: %w: %v", turnID, cxerr.ErrCorrupt, err)
	}
	return decodeRecord(raw)
}

// Exists reports whether turnID is present, without reading the log.
func (l *Log) Exists(turnID uint64) bool {
	if turnID == 0 {
		return false
	}
	l.idxMu.RLock()
	_, ok := l.index[turnID]
	l.idxMu.RUnlock()
	return ok
}

// ParentAndDepth returns the cached (parent_turn_id, depth) for
// turnID from the chain index, without reading the log at all. Used
// by get_last's ancestor walk.
func (l *Log) ParentAndDepth(turnID uint64) (parent uint64, depth uint32, ok bool) {
	l.chainMu.RLock()
	defer l.chainMu.RUnlock()
	n, ok := l.chain[turnID]
	return n.parent, n.depth, ok
}
