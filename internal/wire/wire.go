// Package wire implements CXDB's binary write protocol (spec §6.2):
// a length-prefixed, little-endian framing scheme carrying append,
// context-creation, and blob-put requests. The envelope is
// opcode ‖ request_id ‖ body, itself length-prefixed.
//
// Read-mostly operations named in spec §6.3 (get_turns pagination,
// get_context, list_contexts, get_children, get_blob, publish_bundle,
// get_bundle, get_descriptor) are the HTTP gateway's responsibility
// (internal/gateway), not this package's. GetLast is kept here too
// because the client file defines it as a binary-protocol call
// (a tail read convenient to serve without leaving the append
// connection).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Opcode identifies a binary-protocol request.
type Opcode uint8

const (
	OpAppend        Opcode = 1
	OpGetLast       Opcode = 2
	OpCreateContext Opcode = 3
	OpForkContext   Opcode = 4
	OpPutBlob       Opcode = 5
)

// Status is the one-byte result code prefixing every response frame.
type Status uint8

const (
	StatusOK Status = 0
	// StatusError covers every error kind in spec §7; the human-readable
	// reason (cxerr.Kind plus the error's message) travels in the
	// response body rather than in separate per-kind status codes, so
	// adding an error kind never requires a wire-format change.
	StatusError Status = 1
)

// maxFrameLen bounds a single frame so a corrupt or hostile length
// prefix cannot make the server allocate without limit.
const maxFrameLen = 64 << 20

// readFrame reads one length-prefixed frame: frame_len(u32 LE) followed
// by frame_len bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds max %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeFrame writes body as one length-prefixed frame.
func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// request is one decoded request frame: opcode ‖ request_id(u64 LE) ‖
// the operation-specific payload the codec functions in request.go
// know how to parse.
type request struct {
	Opcode    Opcode
	RequestID uint64
	Payload   []byte
}

// readRequest reads and splits one request frame.
func readRequest(r *bufio.Reader) (request, error) {
	body, err := readFrame(r)
	if err != nil {
		return request{}, err
	}
	if len(body) < 9 {
		return request{}, fmt.Errorf("wire: request frame too short (%d bytes)", len(body))
	}
	return request{
		Opcode:    Opcode(body[0]),
		RequestID: binary.LittleEndian.Uint64(body[1:9]),
		Payload:   body[9:],
	}, nil
}

// writeResponse frames and writes one response: status(1) ‖
// request_id(u64 LE) ‖ payload.
func writeResponse(w io.Writer, requestID uint64, status Status, payload []byte) error {
	body := make([]byte, 0, 9+len(payload))
	body = append(body, byte(status))
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], requestID)
	body = append(body, idBuf[:]...)
	body = append(body, payload...)
	return writeFrame(w, body)
}
