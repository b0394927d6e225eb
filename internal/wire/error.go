package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtocolError is what a client decodes a StatusError response into:
// the error kind (per cxerr.Kind, empty if unclassified) and message
// the server encoded in errResponse.
type ProtocolError struct {
	Kind    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// DecodeProtocolError parses a StatusError response body into a
// ProtocolError. Exported for clients/go, which speaks this same
// wire format against internal/wire.Server.
func DecodeProtocolError(body []byte) (*ProtocolError, error) {
	kind, rest, err := readUint32LenPrefixed(body)
	if err != nil {
		return nil, fmt.Errorf("wire: decode error response: kind: %w", err)
	}
	msg, _, err := readUint32LenPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: decode error response: message: %w", err)
	}
	return &ProtocolError{Kind: kind, Message: msg}, nil
}

func readUint32LenPrefixed(body []byte) (string, []byte, error) {
	if len(body) < 4 {
		return "", nil, fmt.Errorf("wire: truncated length prefix")
	}
	n := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < n {
		return "", nil, fmt.Errorf("wire: truncated string (want %d, have %d)", n, len(body))
	}
	return string(body[:n]), body[n:], nil
}
