// Package turn implements CXDB's append-only turn log (spec §4.2):
// turn allocation, the fixed-layout on-disk record format (spec §6.1),
// and the in-memory chain index that makes "walk the parent chain"
// O(1) per hop without re-reading full turn records.
package turn

// Encoding tags a turn's payload encoding (spec §3). Only msgpack
// exists today.
type Encoding uint8

const EncodingMsgpack Encoding = 0

// Compression mirrors blob.Compression but is recorded per-turn too,
// since the turn record is the authoritative declaration of how its
// blob is encoded (spec §6.1 turns.log layout).
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// Turn is the immutable record described in spec §3.
type Turn struct {
	TurnID              uint64
	ParentTurnID        uint64 // 0 = root
	Depth               uint32
	ContentHash         [32]byte
	DeclaredTypeID      string
	DeclaredTypeVersion uint32
	Encoding            Encoding
	Compression         Compression
	UncompressedLen     uint32
	CreatedAtMS         int64
}

// IsRoot reports whether t has no parent (depth 0).
func (t Turn) IsRoot() bool { return t.ParentTurnID == 0 }
