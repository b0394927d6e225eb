package turn

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// encodeRecord produces the bit-exact turns.log record body (spec
// §6.1), including the trailing CRC32 of everything before it.
//
//	turn_id(u64 LE) ‖ parent_turn_id(u64 LE) ‖ depth(u32 LE) ‖
//	content_hash(32) ‖ type_id_len(u16 LE) ‖ type_id(utf8) ‖
//	type_version(u32 LE) ‖ encoding(1) ‖ compression(1) ‖
//	uncompressed_len(u32 LE) ‖ created_at_ms(i64 LE) ‖ crc32(body)(u32 LE)
func encodeRecord(t Turn) ([]byte, error) {
	if len(t.DeclaredTypeID) > 0xFFFF {
		return nil, fmt.Errorf("type_id too long (%d bytes)", len(t.DeclaredTypeID))
	}
	bodyLen := 8 + 8 + 4 + 32 + 2 + len(t.DeclaredTypeID) + 4 + 1 + 1 + 4 + 8
	buf := make([]byte, bodyLen+4)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], t.TurnID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], t.ParentTurnID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], t.Depth)
	off += 4
	copy(buf[off:off+32], t.ContentHash[:])
	off += 32
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(t.DeclaredTypeID)))
	off += 2
	copy(buf[off:off+len(t.DeclaredTypeID)], t.DeclaredTypeID)
	off += len(t.DeclaredTypeID)
	binary.LittleEndian.PutUint32(buf[off:], t.DeclaredTypeVersion)
	off += 4
	buf[off] = byte(t.Encoding)
	off++
	buf[off] = byte(t.Compression)
	off++
	binary.LittleEndian.PutUint32(buf[off:], t.UncompressedLen)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(t.CreatedAtMS))
	off += 8

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf, nil
}

// decodeRecord parses a record previously produced by encodeRecord and
// verifies its CRC, surfacing cxerr.ErrCorrupt on any mismatch or
// truncation (spec §7 "Corrupt").
func decodeRecord(buf []byte) (Turn, error) {
	const minLen = 8 + 8 + 4 + 32 + 2 + 4 + 1 + 1 + 4 + 8 + 4
	if len(buf) < minLen {
		return Turn{}, fmt.Errorf("turn record: %w: too short (%d bytes)", cxerr.ErrCorrupt, len(buf))
	}
	off := 0
	var t Turn
	t.TurnID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.ParentTurnID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	t.Depth = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(t.ContentHash[:], buf[off:off+32])
	off += 32
	typeLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+typeLen+4+1+1+4+8+4 {
		return Turn{}, fmt.Errorf("turn record: %w: truncated type_id", cxerr.ErrCorrupt)
	}
	t.DeclaredTypeID = string(buf[off : off+typeLen])
	off += typeLen
	t.DeclaredTypeVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	t.Encoding = Encoding(buf[off])
	off++
	t.Compression = Compression(buf[off])
	off++
	t.UncompressedLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	t.CreatedAtMS = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	wantCRC := binary.LittleEndian.Uint32(buf[off:])
	gotCRC := crc32.ChecksumIEEE(buf[:off])
	if gotCRC != wantCRC {
		return Turn{}, fmt.Errorf("turn %d: %w: crc mismatch", t.TurnID, cxerr.ErrCorrupt)
	}
	return t, nil
}
