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

// PutBlobResult is the outcome of a put_blob call: the content hash
// CXDB computed and the raw (uncompressed) length it recorded.
type PutBlobResult struct {
	Hash   [32]byte
	RawLen uint32
}

// PutBlob stores data in the blob CAS directly, without attaching it
// to a turn. The response is hash(32)+raw_len(4).
func (c *Client) PutBlob(ctx context.Context, data []byte) (*PutBlobResult, error) {
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, uint32(len(data)))
	payload.Write(data)

	resp, err := c.sendRequest(ctx, wire.OpPutBlob, payload.Bytes())
	if err != nil {
		return nil, fmt.Errorf("put blob: %w", err)
	}
	if len(resp.payload) != 36 {
		return nil, fmt.Errorf("%w: put_blob response length %d, want 36", ErrInvalidResponse, len(resp.payload))
	}
	result := &PutBlobResult{RawLen: binary.LittleEndian.Uint32(resp.payload[32:36])}
	copy(result.Hash[:], resp.payload[0:32])
	return result, nil
}
