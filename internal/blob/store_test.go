package blob

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/strongdm/cxdb/internal/cxerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	data := []byte("hello, CXDB")

	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Exists(h) {
		t.Fatalf("Exists(h) = false after Put")
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
}

func TestPutDedup(t *testing.T) {
	s := openTestStore(t)
	data := []byte(strings.Repeat("dedup-me ", 100))

	h1, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	h2, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %x vs %x", h1, h2)
	}
	if len(s.index.entries) != 1 {
		t.Fatalf("index has %d entries after duplicate puts, want 1", len(s.index.entries))
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	var h Hash
	_, err := s.Get(h)
	if !errors.Is(err, cxerr.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCompressionThreshold(t *testing.T) {
	s := openTestStore(t)

	small := bytes.Repeat([]byte{'a'}, s.policy.ThresholdBytes-1)
	hSmall, err := s.Put(small)
	if err != nil {
		t.Fatalf("Put small: %v", err)
	}
	entry, ok := s.index.get(hSmall)
	if !ok {
		t.Fatalf("missing index entry for small blob")
	}
	if entry.Compression != CompressionNone {
		t.Fatalf("small payload (len=%d) compressed, want uncompressed", len(small))
	}

	compressible := bytes.Repeat([]byte{'b'}, s.policy.ThresholdBytes)
	hBig, err := s.Put(compressible)
	if err != nil {
		t.Fatalf("Put compressible: %v", err)
	}
	entry, ok = s.index.get(hBig)
	if !ok {
		t.Fatalf("missing index entry for compressible blob")
	}
	if entry.Compression != CompressionZstd {
		t.Fatalf("highly compressible payload at threshold length stored uncompressed")
	}
}

func TestCorruptHashMismatch(t *testing.T) {
	s := openTestStore(t)
	data := []byte("integrity check payload")
	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, _ := s.index.get(h)
	corrupt := entry
	corrupt.Hash[0] ^= 0xFF
	s.index.put(corrupt)

	_, err = s.Get(corrupt.Hash)
	if !errors.Is(err, cxerr.ErrCorrupt) {
		t.Fatalf("Get(corrupt) err = %v, want ErrCorrupt", err)
	}
}

func TestReopenRebuildsFromPack(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data := []byte("persisted across reopen")
	h, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Remove(dir + "/blobs.idx"); err != nil {
		t.Fatalf("remove index: %v", err)
	}

	s2, err := Open(dir, DefaultPolicy())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(h)
	if err != nil {
		t.Fatalf("Get after rebuild: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get after rebuild = %q, want %q", got, data)
	}
}
