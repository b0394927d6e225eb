package blob

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/zeebo/blake3"
)

// Store is the blob CAS (spec §4.1). The zero value is not usable;
// construct with Open.
type Store struct {
	pack   *pack
	index  *index
	policy Policy

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (or creates) the pack and index files under dir
// ("<dir>/blobs.pack", "<dir>/blobs.idx") and rebuilds the index from
// the pack if the on-disk index is missing or fails its check.
func Open(dir string, policy Policy) (*Store, error) {
	p, err := openPack(filepath.Join(dir, "blobs.pack"))
	if err != nil {
		return nil, err
	}
	ix := newIndex(filepath.Join(dir, "blobs.idx"))
	ok, err := ix.load()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	if !ok {
		if err := ix.rebuildFrom(p); err != nil {
			_ = p.close()
			return nil, err
		}
		if err := ix.save(); err != nil {
			_ = p.close()
			return nil, err
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(policy.ZstdLevel)))
	if err != nil {
		_ = p.close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = p.close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	return &Store{pack: p, index: ix, policy: policy, encoder: enc, decoder: dec}, nil
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Close releases the pack file handle. The index is always persisted
// by the time a call returns, so Close never needs to flush it.
func (s *Store) Close() error {
	s.encoder.Close()
	_ = s.decoder
	return s.pack.close()
}

// Put computes BLAKE3(bytes) and stores the payload if not already
// present (spec B2 dedup). Returns the hash either way.
func (s *Store) Put(data []byte) (Hash, error) {
	h := blake3.Sum256(data)
	if _, ok := s.index.get(h); ok {
		return h, nil
	}

	compression := CompressionNone
	stored := data
	if len(data) >= s.policy.ThresholdBytes {
		compressed := s.encoder.EncodeAll(data, nil)
		if float64(len(compressed)) <= s.policy.RatioThreshold*float64(len(data)) {
			compression = CompressionZstd
			stored = compressed
		}
	}

	offset, err := s.pack.append(h, compression, uint32(len(data)), stored)
	if err != nil {
		return Hash{}, err
	}

	entry := Entry{
		Hash:            h,
		Offset:          offset,
		StoredLen:       uint32(len(stored)),
		Compression:     compression,
		UncompressedLen: uint32(len(data)),
	}
	s.index.put(entry)
	if err := s.index.save(); err != nil {
		return Hash{}, err
	}
	return h, nil
}

// Exists reports whether hash is present, consulting only the index
// (spec: "Index lookup only; never reads pack").
func (s *Store) Exists(h Hash) bool {
	_, ok := s.index.get(h)
	return ok
}

// Info returns the index entry for hash, letting callers (e.g. the
// turn store) learn which compression tag and uncompressed length a
// Put landed on without re-reading the pack.
func (s *Store) Info(h Hash) (Entry, bool) {
	return s.index.get(h)
}

// Get returns the uncompressed bytes for hash, verifying
// BLAKE3(result) == hash before returning.
func (s *Store) Get(h Hash) ([]byte, error) {
	entry, ok := s.index.get(h)
	if !ok {
		return nil, fmt.Errorf("blob %x: %w", h, cxerr.ErrNotFound)
	}

	stored, err := s.pack.readAt(entry.Offset, entry.StoredLen)
	if err != nil {
		return nil, err
	}

	var raw []byte
	switch entry.Compression {
	case CompressionNone:
		raw = stored
	case CompressionZstd:
		raw, err = s.decoder.DecodeAll(stored, make([]byte, 0, entry.UncompressedLen))
		if err != nil {
			return nil, fmt.Errorf("blob %x: decompress: %w: %v", h, cxerr.ErrCorrupt, err)
		}
	default:
		return nil, fmt.Errorf("blob %x: %w: unknown compression tag %d", h, cxerr.ErrCorrupt, entry.Compression)
	}

	got := blake3.Sum256(raw)
	if !bytes.Equal(got[:], h[:]) {
		return nil, fmt.Errorf("blob %x: %w: hash mismatch (got %x)", h, cxerr.ErrCorrupt, got)
	}
	return raw, nil
}

// Reader opens a streaming reader over Get's result. Used by the wire
// protocol's PUT_BLOB/GET_BLOB framing for large payloads.
func (s *Store) Reader(h Hash) (io.Reader, error) {
	raw, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}
