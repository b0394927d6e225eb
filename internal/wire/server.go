package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/projection"
	"github.com/strongdm/cxdb/internal/store"
)

// Server dispatches binary-protocol connections against a *store.Store.
type Server struct {
	store *store.Store
}

// NewServer builds a Server bound to st.
func NewServer(st *store.Store) *Server {
	return &Server{store: st}
}

// Serve accepts connections on ln until it returns an error (including
// a listener Close from the caller, which Accept reports as an error
// this function then returns so the caller can distinguish a clean
// shutdown from a real failure).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn serves one connection until it errors or the peer closes
// it. Each request is handled to completion before the next is read
// (the protocol is not pipelined); concurrency across connections is
// what gives the append path its throughput, matching the per-context
// lock design in internal/store.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := readRequest(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// A malformed frame corrupts framing for every later
				// request on this connection; there is nothing left
				// to resynchronize on, so the connection is dropped.
				return
			}
			return
		}
		status, payload := s.dispatch(req)
		if err := writeResponse(conn, req.RequestID, status, payload); err != nil {
			return
		}
	}
}

// dispatch routes one decoded request to the matching store operation
// and encodes its result, or encodes the error per spec §7 (kind name
// plus message, so the caller can classify without a wire-format
// change per error kind).
func (s *Server) dispatch(req request) (Status, []byte) {
	switch req.Opcode {
	case OpAppend:
		return s.dispatchAppend(req.Payload)
	case OpGetLast:
		return s.dispatchGetLast(req.Payload)
	case OpCreateContext:
		return s.dispatchCreateContext(req.Payload)
	case OpForkContext:
		return s.dispatchForkContext(req.Payload)
	case OpPutBlob:
		return s.dispatchPutBlob(req.Payload)
	default:
		return errResponse(fmt.Errorf("wire: unknown opcode %d", req.Opcode))
	}
}

func (s *Server) dispatchAppend(body []byte) (Status, []byte) {
	areq, err := decodeAppendRequest(body)
	if err != nil {
		return errResponse(err)
	}
	t, err := s.store.AppendTurn(areq)
	if err != nil {
		return errResponse(err)
	}
	return StatusOK, encodeAppendResponse(areq.ContextID, t)
}

func (s *Server) dispatchGetLast(body []byte) (Status, []byte) {
	contextID, limit, includePayload, err := decodeGetLastRequest(body)
	if err != nil {
		return errResponse(err)
	}
	if limit == 0 {
		limit = 10
	}
	opts := store.DefaultReadOptions()
	opts.View = projection.ViewRaw
	batch, err := s.store.GetTurns(contextID, int(limit), 0, opts)
	if err != nil {
		return errResponse(err)
	}

	turns := make([]store.Turn, len(batch.Turns))
	payloads := make([][]byte, len(batch.Turns))
	for i, v := range batch.Turns {
		turns[i] = v.Turn
	}
	if includePayload {
		for i, t := range turns {
			p, err := s.store.Blobs().Get(t.ContentHash)
			if err != nil {
				return errResponse(err)
			}
			payloads[i] = p
		}
	}
	return StatusOK, encodeTurnRecords(turns, payloads, includePayload)
}

func (s *Server) dispatchCreateContext(body []byte) (Status, []byte) {
	baseTurnID, md, err := decodeCreateContextRequest(body)
	if err != nil {
		return errResponse(err)
	}
	c, err := s.store.Contexts().CreateContext(baseTurnID, md)
	if err != nil {
		return errResponse(err)
	}
	return StatusOK, encodeContextResponse(c)
}

func (s *Server) dispatchForkContext(body []byte) (Status, []byte) {
	baseTurnID, owningContextID, spawnReason, err := decodeForkContextRequest(body)
	if err != nil {
		return errResponse(err)
	}
	c, err := s.store.Contexts().Fork(baseTurnID, owningContextID, spawnReason)
	if err != nil {
		return errResponse(err)
	}
	return StatusOK, encodeContextResponse(c)
}

func (s *Server) dispatchPutBlob(body []byte) (Status, []byte) {
	payload, err := decodePutBlobRequest(body)
	if err != nil {
		return errResponse(err)
	}
	hash, err := s.store.Blobs().Put(payload)
	if err != nil {
		return errResponse(err)
	}
	return StatusOK, encodePutBlobResponse(hash, uint32(len(payload)))
}

// errResponse encodes an error as kind_len(u32) ‖ kind ‖
// message_len(u32) ‖ message,
// where kind is cxerr.Kind(err) (empty string if the error is not one
// of the classified sentinels).
func errResponse(err error) (Status, []byte) {
	kind := cxerr.Kind(err)
	msg := err.Error()
	buf := make([]byte, 0, 8+len(kind)+len(msg))
	buf = appendUint32LenPrefixed(buf, kind)
	buf = appendUint32LenPrefixed(buf, msg)
	return StatusError, buf
}

func appendUint32LenPrefixed(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}
