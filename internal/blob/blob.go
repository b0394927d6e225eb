// Package blob implements CXDB's content-addressed blob store (spec
// §4.1): hashing, compression, packed append-only storage, and the
// in-memory index that serves get/exists without touching the pack.
package blob

// Hash is a BLAKE3-256 digest of uncompressed payload bytes (spec B1).
type Hash [32]byte

// Compression tags a blob's on-disk encoding (spec §6.1).
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Entry is one blob's index record.
type Entry struct {
	Hash            Hash
	Offset          uint64
	StoredLen       uint32
	Compression     Compression
	UncompressedLen uint32
}

// Policy controls the compression decision (spec §4.1 "Compression
// policy"). Zero value is invalid; use DefaultPolicy.
type Policy struct {
	// ThresholdBytes: payloads shorter than this are never compressed.
	ThresholdBytes int
	// RatioThreshold: compress only if compressed_len <= RatioThreshold * uncompressed_len.
	RatioThreshold float64
	// ZstdLevel is the zstd encoder level used when compressing.
	ZstdLevel int
}

// DefaultPolicy matches spec §4.1 and §6.4 defaults.
func DefaultPolicy() Policy {
	return Policy{ThresholdBytes: 512, RatioThreshold: 0.88, ZstdLevel: 3}
}
