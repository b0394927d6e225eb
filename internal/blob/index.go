package blob

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

var idxMagic = [6]byte{'C', 'X', 'B', 'I', 0, 1}

const idxEntryLen = 32 + 8 + 4 + 1 + 4 // hash + offset + stored_len + compression_tag + uncompressed_len
const idxTrailerLen = 4 + 8            // crc32(body) + count

// index is the in-memory hash->location table, mirrored to
// blobs.idx on disk. Reads take the read lock; a put under the pack's
// writer lock also takes the write lock briefly, matching spec §5's
// "writes under the per-context lock also hold the table write lock
// briefly" policy applied to the blob index.
type index struct {
	mu      sync.RWMutex
	entries map[Hash]Entry
	path    string
}

func newIndex(path string) *index {
	return &index{entries: make(map[Hash]Entry), path: path}
}

// load reads blobs.idx. It returns (false, nil) if the file is absent
// or fails its magic/CRC check — callers should then rebuild from the
// pack, per spec §4.1 "rebuilt from the pack on startup if the on-disk
// index is missing or stale".
func (ix *index) load() (ok bool, err error) {
	b, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	if len(b) < len(idxMagic)+idxTrailerLen {
		return false, nil
	}
	if !bytes.Equal(b[:len(idxMagic)], idxMagic[:]) {
		return false, nil
	}
	body := b[len(idxMagic) : len(b)-idxTrailerLen]
	trailer := b[len(b)-idxTrailerLen:]
	wantCRC := binary.LittleEndian.Uint32(trailer[0:4])
	wantCount := binary.LittleEndian.Uint64(trailer[4:12])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return false, nil
	}
	if len(body)%idxEntryLen != 0 || uint64(len(body)/idxEntryLen) != wantCount {
		return false, nil
	}

	entries := make(map[Hash]Entry, wantCount)
	for off := 0; off < len(body); off += idxEntryLen {
		rec := body[off : off+idxEntryLen]
		var e Entry
		copy(e.Hash[:], rec[0:32])
		e.Offset = binary.LittleEndian.Uint64(rec[32:40])
		e.StoredLen = binary.LittleEndian.Uint32(rec[40:44])
		e.Compression = Compression(rec[44])
		e.UncompressedLen = binary.LittleEndian.Uint32(rec[45:49])
		entries[e.Hash] = e
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return true, nil
}

// save writes the full index to disk and fsyncs, satisfying the
// durability-barrier step "blob index updated and fsynced" (spec §5).
func (ix *index) save() error {
	ix.mu.RLock()
	sorted := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		sorted = append(sorted, e)
	}
	ix.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Hash[:], sorted[j].Hash[:]) < 0
	})

	body := make([]byte, 0, len(sorted)*idxEntryLen)
	for _, e := range sorted {
		rec := make([]byte, idxEntryLen)
		copy(rec[0:32], e.Hash[:])
		binary.LittleEndian.PutUint64(rec[32:40], e.Offset)
		binary.LittleEndian.PutUint32(rec[40:44], e.StoredLen)
		rec[44] = byte(e.Compression)
		binary.LittleEndian.PutUint32(rec[45:49], e.UncompressedLen)
		body = append(body, rec...)
	}

	trailer := make([]byte, idxTrailerLen)
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint64(trailer[4:12], uint64(len(sorted)))

	out := make([]byte, 0, len(idxMagic)+len(body)+len(trailer))
	out = append(out, idxMagic[:]...)
	out = append(out, body...)
	out = append(out, trailer...)

	tmp := ix.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	if _, err := f.Write(out); err != nil {
		_ = f.Close()
		return fmt.Errorf("write index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	if err := os.Rename(tmp, ix.path); err != nil {
		return fmt.Errorf("rename index %s: %w: %v", ix.path, cxerr.ErrIO, err)
	}
	return nil
}

func (ix *index) get(h Hash) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[h]
	return e, ok
}

func (ix *index) put(e Entry) {
	ix.mu.Lock()
	ix.entries[e.Hash] = e
	ix.mu.Unlock()
}

func (ix *index) rebuildFrom(p *pack) error {
	entries := make(map[Hash]Entry)
	err := p.scan(func(rec Entry) error {
		entries[rec.Hash] = rec
		return nil
	})
	if err != nil {
		return err
	}
	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return nil
}
