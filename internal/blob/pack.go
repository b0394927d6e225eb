package blob

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// packMagic is the 6-byte header of blobs.pack (spec §6.1).
var packMagic = [6]byte{'C', 'X', 'B', 'P', 0, 1}

const packRecordHeaderLen = 32 + 1 + 4 + 4 // hash + compression_tag + uncompressed_len + stored_len

// pack is the append-only blob data file. A single writer goroutine
// appends; readers use positional reads and never touch the writer's
// offset, so reads never block on a write in progress (spec §5).
type pack struct {
	mu     sync.Mutex // serializes writers only
	file   *os.File
	offset uint64 // next write offset; advanced only by append
}

func openPack(path string) (*pack, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w: %v", path, cxerr.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat pack %s: %w: %v", path, cxerr.ErrIO, err)
	}
	if info.Size() == 0 {
		if _, err := f.Write(packMagic[:]); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write pack magic %s: %w: %v", path, cxerr.ErrIO, err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("sync pack magic %s: %w: %v", path, cxerr.ErrIO, err)
		}
		return &pack{file: f, offset: uint64(len(packMagic))}, nil
	}

	hdr := make([]byte, len(packMagic))
	if _, err := f.ReadAt(hdr, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read pack magic %s: %w: %v", path, cxerr.ErrCorrupt, err)
	}
	if string(hdr) != string(packMagic[:]) {
		_ = f.Close()
		return nil, fmt.Errorf("pack %s: %w: bad magic", path, cxerr.ErrCorrupt)
	}
	return &pack{file: f, offset: uint64(info.Size())}, nil
}

func (p *pack) close() error { return p.file.Close() }

// append writes one record and fsyncs before returning, satisfying
// the durability-barrier step "pack bytes written and fsynced" (spec §5).
// Returns the offset the record was written at.
func (p *pack) append(hash Hash, compression Compression, uncompressedLen uint32, stored []byte) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hdr := make([]byte, packRecordHeaderLen)
	copy(hdr[0:32], hash[:])
	hdr[32] = byte(compression)
	binary.LittleEndian.PutUint32(hdr[33:37], uncompressedLen)
	binary.LittleEndian.PutUint32(hdr[37:41], uint32(len(stored)))

	offset := p.offset
	if _, err := p.file.WriteAt(hdr, int64(offset)); err != nil {
		return 0, fmt.Errorf("append pack header: %w: %v", cxerr.ErrIO, err)
	}
	if _, err := p.file.WriteAt(stored, int64(offset)+int64(len(hdr))); err != nil {
		return 0, fmt.Errorf("append pack body: %w: %v", cxerr.ErrIO, err)
	}
	if err := p.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync pack: %w: %v", cxerr.ErrIO, err)
	}
	p.offset = offset + uint64(len(hdr)) + uint64(len(stored))
	return offset, nil
}

// readAt reads the stored (possibly compressed) bytes for a record at
// a known offset/length, without touching the writer's cursor.
func (p *pack) readAt(offset uint64, storedLen uint32) ([]byte, error) {
	buf := make([]byte, storedLen)
	if _, err := p.file.ReadAt(buf, int64(offset)+packRecordHeaderLen); err != nil {
		return nil, fmt.Errorf("read pack body at %d: %w: %v", offset, cxerr.ErrCorrupt, err)
	}
	return buf, nil
}

// scan replays every record in the pack from the start (used for
// index rebuild) calling fn with each record's metadata and offset.
// A truncated trailing record (partial write before a crash) stops
// the scan without error: the orphan bytes are ignored, per spec §5's
// "orphaned blob bytes ... reclaimed by startup index rebuild".
func (p *pack) scan(fn func(rec Entry) error) error {
	r := io.NewSectionReader(p.file, int64(len(packMagic)), int64(p.offset)-int64(len(packMagic)))
	br := bufio.NewReader(r)
	offset := uint64(len(packMagic))
	hdr := make([]byte, packRecordHeaderLen)
	for {
		n, err := io.ReadFull(br, hdr)
		if err == io.EOF {
			return nil
		}
		if err != nil || n < packRecordHeaderLen {
			return nil // truncated trailing record: stop, don't error
		}
		var rec Entry
		copy(rec.Hash[:], hdr[0:32])
		rec.Compression = Compression(hdr[32])
		rec.UncompressedLen = binary.LittleEndian.Uint32(hdr[33:37])
		rec.StoredLen = binary.LittleEndian.Uint32(hdr[37:41])
		rec.Offset = offset

		body := make([]byte, rec.StoredLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil // truncated body: stop, don't error
		}
		if err := fn(rec); err != nil {
			return err
		}
		offset += uint64(packRecordHeaderLen) + uint64(rec.StoredLen)
	}
}
