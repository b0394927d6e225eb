// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package cxdb is a client for CXDB's binary write protocol (spec
// §6.2): AppendRequest/TurnRecord/AppendResult shapes encoded
// field-by-field with binary.Write, talking to an internal/wire.Server.
package cxdb

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/strongdm/cxdb/internal/wire"
)

// ErrInvalidResponse is returned when the server's response frame is
// malformed or too short for the operation that requested it.
var ErrInvalidResponse = errors.New("cxdb: invalid response")

// Encoding/Compression constants mirror turn.Encoding/turn.Compression
// (spec §6.1) without importing the internal package, matching the
// client's independence from the server's internal types.
const (
	EncodingMsgpack uint32 = 0

	CompressionNone uint32 = 0
	CompressionZstd uint32 = 1
)

// Client is a connection to one CXDB binary-protocol endpoint.
// AppendTurn/GetLast/etc. are safe for concurrent use: each call
// claims the connection for the duration of its request/response
// round-trip under mu, since the protocol is not pipelined
// (internal/wire.Server reads one request to completion before the
// next).
type Client struct {
	conn net.Conn
	r    *bufio.Reader

	mu        sync.Mutex
	nextReqID uint64
}

// Dial connects to a CXDB binary-protocol listener at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cxdb: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// response is one decoded response frame.
type response struct {
	status  wire.Status
	payload []byte
}

// sendRequest frames opcode+payload as one request, writes it, and
// reads back the matching response by request_id.
func (c *Client) sendRequest(ctx context.Context, opcode wire.Opcode, payload []byte) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextReqID++
	reqID := c.nextReqID

	body := make([]byte, 0, 9+len(payload))
	body = append(body, byte(opcode))
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], reqID)
	body = append(body, idBuf[:]...)
	body = append(body, payload...)

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("cxdb: write request: %w", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		return nil, fmt.Errorf("cxdb: write request: %w", err)
	}

	respLenBuf := [4]byte{}
	if _, err := io.ReadFull(c.r, respLenBuf[:]); err != nil {
		return nil, fmt.Errorf("cxdb: read response: %w", err)
	}
	n := binary.LittleEndian.Uint32(respLenBuf[:])
	respBody := make([]byte, n)
	if _, err := io.ReadFull(c.r, respBody); err != nil {
		return nil, fmt.Errorf("cxdb: read response: %w", err)
	}
	if len(respBody) < 9 {
		return nil, fmt.Errorf("%w: response frame too short (%d bytes)", ErrInvalidResponse, len(respBody))
	}
	gotReqID := binary.LittleEndian.Uint64(respBody[1:9])
	if gotReqID != reqID {
		return nil, fmt.Errorf("%w: request_id mismatch (got %d, want %d)", ErrInvalidResponse, gotReqID, reqID)
	}

	resp := &response{status: wire.Status(respBody[0]), payload: respBody[9:]}
	if resp.status != wire.StatusOK {
		pe, err := wire.DecodeProtocolError(resp.payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return nil, pe
	}
	return resp, nil
}
