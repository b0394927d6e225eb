// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cxdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/strongdm/cxdb/internal/wire"
)

// ContextMetadata is the caller-supplied metadata attached to a
// create_context or fork_context call.
type ContextMetadata struct {
	ClientTag string
	SessionID string
	Title     string
}

// ContextHead is a context's current branch pointer, the shape
// AppendResult and TurnRecord already establish for turn references.
type ContextHead struct {
	ContextID  uint64
	HeadTurnID uint64
	HeadDepth  uint32
}

// CreateContext allocates a new context rooted at baseTurnID (0 for
// an empty context).
func (c *Client) CreateContext(ctx context.Context, baseTurnID uint64, md ContextMetadata) (*ContextHead, error) {
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, baseTurnID)
	writeLenPrefixedString(payload, md.ClientTag)
	writeLenPrefixedString(payload, md.SessionID)
	writeLenPrefixedString(payload, md.Title)

	resp, err := c.sendRequest(ctx, wire.OpCreateContext, payload.Bytes())
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	return parseContextHead(resp.payload)
}

// ForkContext creates a new context whose head is baseTurnID,
// recording owningContextID and spawnReason as provenance.
func (c *Client) ForkContext(ctx context.Context, baseTurnID, owningContextID uint64, spawnReason string) (*ContextHead, error) {
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, baseTurnID)
	_ = binary.Write(payload, binary.LittleEndian, owningContextID)
	writeLenPrefixedString(payload, spawnReason)

	resp, err := c.sendRequest(ctx, wire.OpForkContext, payload.Bytes())
	if err != nil {
		return nil, fmt.Errorf("fork context: %w", err)
	}
	return parseContextHead(resp.payload)
}

func parseContextHead(data []byte) (*ContextHead, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("%w: context response too short (%d bytes)", ErrInvalidResponse, len(data))
	}
	return &ContextHead{
		ContextID:  binary.LittleEndian.Uint64(data[0:8]),
		HeadTurnID: binary.LittleEndian.Uint64(data[8:16]),
		HeadDepth:  binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	if len(s) > 0 {
		buf.WriteString(s)
	}
}
