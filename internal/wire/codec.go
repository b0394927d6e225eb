package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/strongdm/cxdb/internal/ctxstore"
	"github.com/strongdm/cxdb/internal/store"
)

// decodeAppendRequest parses an OpAppend payload. Layout mirrors
// clients/go/turn.go's AppendTurn encoder exactly: context_id(u64) ‖
// parent_turn_id(u64) ‖ type_id_len(u32) ‖ type_id ‖ type_version(u32)
// ‖ encoding(u32) ‖ compression(u32) ‖ uncompressed_len(u32) ‖
// content_hash(32) ‖ payload_len(u32) ‖ payload ‖
// idempotency_key_len(u32) ‖ idempotency_key.
//
// content_hash travels in the request so the server can reject a
// request whose declared hash does not match the payload it actually
// received (a transport-corruption check independent of the CAS's own
// recompute-on-put); uncompressed_len here is the client's stated
// pre-compression length; CXDB always receives an uncompressed
// msgpack payload over the wire (compression is an internal blob-CAS
// decision, not a wire concern), so it is checked against len(payload)
// rather than reproducing client-side compression.
func decodeAppendRequest(body []byte) (store.AppendRequest, error) {
	r := bytes.NewReader(body)

	var contextID, parentTurnID uint64
	if err := binary.Read(r, binary.LittleEndian, &contextID); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: context_id: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &parentTurnID); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: parent_turn_id: %w", err)
	}

	typeID, err := readLenPrefixedString(r)
	if err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: type_id: %w", err)
	}

	var typeVersion, encoding, compression, uncompressedLen uint32
	if err := binary.Read(r, binary.LittleEndian, &typeVersion); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: type_version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &encoding); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: encoding: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &compression); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: compression: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &uncompressedLen); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: uncompressed_len: %w", err)
	}

	var contentHash [32]byte
	if _, err := io.ReadFull(r, contentHash[:]); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: content_hash: %w", err)
	}

	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: payload_len: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: payload: %w", err)
	}
	if uint32(len(payload)) != uncompressedLen {
		return store.AppendRequest{}, fmt.Errorf("wire: append: uncompressed_len %d does not match payload_len %d", uncompressedLen, len(payload))
	}
	if blake3.Sum256(payload) != contentHash {
		return store.AppendRequest{}, fmt.Errorf("wire: append: content_hash does not match payload")
	}

	idempotencyKey, err := readLenPrefixedString(r)
	if err != nil {
		return store.AppendRequest{}, fmt.Errorf("wire: append: idempotency_key: %w", err)
	}

	return store.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   parentTurnID,
		TypeID:         typeID,
		TypeVersion:    typeVersion,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// encodeAppendResponse matches AppendResult's 52-byte wire layout:
// context_id(u64) ‖ turn_id(u64) ‖ depth(u32) ‖ payload_hash(32).
func encodeAppendResponse(contextID uint64, t store.Turn) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, contextID)
	_ = binary.Write(buf, binary.LittleEndian, t.TurnID)
	_ = binary.Write(buf, binary.LittleEndian, t.Depth)
	buf.Write(t.ContentHash[:])
	return buf.Bytes()
}

// decodeGetLastRequest parses an OpGetLast payload: context_id(u64) ‖
// limit(u32) ‖ include_payload(u32).
func decodeGetLastRequest(body []byte) (contextID uint64, limit uint32, includePayload bool, err error) {
	r := bytes.NewReader(body)
	if err = binary.Read(r, binary.LittleEndian, &contextID); err != nil {
		return 0, 0, false, fmt.Errorf("wire: get_last: context_id: %w", err)
	}
	if err = binary.Read(r, binary.LittleEndian, &limit); err != nil {
		return 0, 0, false, fmt.Errorf("wire: get_last: limit: %w", err)
	}
	var raw uint32
	if err = binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return 0, 0, false, fmt.Errorf("wire: get_last: include_payload: %w", err)
	}
	return contextID, limit, raw != 0, nil
}

// encodeTurnRecords matches parseTurnRecords' layout: count(u32) then,
// per record, turn_id(u64) ‖ parent_id(u64) ‖ depth(u32) ‖
// type_id_len(u32) ‖ type_id ‖ type_version(u32) ‖ encoding(u32) ‖
// compression(u32) ‖ uncompressed_len(u32) ‖ payload_hash(32) ‖
// payload_len(u32) ‖ payload (empty when includePayload is false).
func encodeTurnRecords(turns []store.Turn, payloads [][]byte, includePayload bool) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(turns)))
	for i, t := range turns {
		_ = binary.Write(buf, binary.LittleEndian, t.TurnID)
		_ = binary.Write(buf, binary.LittleEndian, t.ParentTurnID)
		_ = binary.Write(buf, binary.LittleEndian, t.Depth)
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(t.DeclaredTypeID)))
		buf.WriteString(t.DeclaredTypeID)
		_ = binary.Write(buf, binary.LittleEndian, t.DeclaredTypeVersion)
		_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // encoding: msgpack
		_ = binary.Write(buf, binary.LittleEndian, compressionWireCode(t.Compression))
		_ = binary.Write(buf, binary.LittleEndian, t.UncompressedLen)
		buf.Write(t.ContentHash[:])
		var payload []byte
		if includePayload && i < len(payloads) {
			payload = payloads[i]
		}
		_ = binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
		buf.Write(payload)
	}
	return buf.Bytes()
}

func compressionWireCode(name string) uint32 {
	if name == "zstd" {
		return 1
	}
	return 0
}

// decodeCreateContextRequest parses an OpCreateContext payload:
// base_turn_id(u64) ‖ client_tag_len(u32) ‖ client_tag ‖
// session_id_len(u32) ‖ session_id ‖ title_len(u32) ‖ title.
// clients/go/context.go's CreateContext encodes this layout, using the
// same length-prefixed-string convention AppendTurn uses.
func decodeCreateContextRequest(body []byte) (baseTurnID uint64, md ctxstore.Metadata, err error) {
	r := bytes.NewReader(body)
	if err = binary.Read(r, binary.LittleEndian, &baseTurnID); err != nil {
		return 0, ctxstore.Metadata{}, fmt.Errorf("wire: create_context: base_turn_id: %w", err)
	}
	if md.ClientTag, err = readLenPrefixedString(r); err != nil {
		return 0, ctxstore.Metadata{}, fmt.Errorf("wire: create_context: client_tag: %w", err)
	}
	if md.SessionID, err = readLenPrefixedString(r); err != nil {
		return 0, ctxstore.Metadata{}, fmt.Errorf("wire: create_context: session_id: %w", err)
	}
	if md.Title, err = readLenPrefixedString(r); err != nil {
		return 0, ctxstore.Metadata{}, fmt.Errorf("wire: create_context: title: %w", err)
	}
	return baseTurnID, md, nil
}

// encodeContextResponse matches the field order of AppendResult /
// TurnRecord responses: context_id(u64) ‖ head_turn_id(u64) ‖
// head_depth(u32).
func encodeContextResponse(c ctxstore.Context) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, c.ContextID)
	_ = binary.Write(buf, binary.LittleEndian, c.HeadTurnID)
	_ = binary.Write(buf, binary.LittleEndian, c.HeadDepth)
	return buf.Bytes()
}

// decodeForkContextRequest parses an OpForkContext payload:
// base_turn_id(u64) ‖ owning_context_id(u64) ‖ spawn_reason_len(u32)
// ‖ spawn_reason.
func decodeForkContextRequest(body []byte) (baseTurnID, owningContextID uint64, spawnReason string, err error) {
	r := bytes.NewReader(body)
	if err = binary.Read(r, binary.LittleEndian, &baseTurnID); err != nil {
		return 0, 0, "", fmt.Errorf("wire: fork_context: base_turn_id: %w", err)
	}
	if err = binary.Read(r, binary.LittleEndian, &owningContextID); err != nil {
		return 0, 0, "", fmt.Errorf("wire: fork_context: owning_context_id: %w", err)
	}
	if spawnReason, err = readLenPrefixedString(r); err != nil {
		return 0, 0, "", fmt.Errorf("wire: fork_context: spawn_reason: %w", err)
	}
	return baseTurnID, owningContextID, spawnReason, nil
}

// decodePutBlobRequest parses an OpPutBlob payload: payload_len(u32) ‖
// payload. The response is hash(32)+raw_len(4); the hash is computed
// server-side by the blob CAS itself, so the request need only carry
// the raw bytes.
func decodePutBlobRequest(body []byte) ([]byte, error) {
	r := bytes.NewReader(body)
	var payloadLen uint32
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, fmt.Errorf("wire: put_blob: payload_len: %w", err)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: put_blob: payload: %w", err)
	}
	return payload, nil
}

// encodePutBlobResponse matches the cited PUT_BLOB framing:
// hash(32) ‖ raw_len(u32 LE).
func encodePutBlobResponse(hash [32]byte, rawLen uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Write(hash[:])
	_ = binary.Write(buf, binary.LittleEndian, rawLen)
	return buf.Bytes()
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
