package cxdb

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/store"
	"github.com/strongdm/cxdb/internal/wire"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	st, err := store.Open(t.TempDir(), blob.Policy{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	srv := wire.NewServer(st)
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCreateContextAndAppendTurn(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	head, err := c.CreateContext(ctx, 0, ContextMetadata{ClientTag: "it-test"})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if head.ContextID == 0 {
		t.Fatalf("ContextID = 0")
	}

	result, err := c.AppendTurn(ctx, &AppendRequest{
		ContextID:   head.ContextID,
		TypeID:      "com.example.Message",
		TypeVersion: 1,
		Payload:     []byte("hello"),
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if result.ContextID != head.ContextID {
		t.Fatalf("result.ContextID = %d, want %d", result.ContextID, head.ContextID)
	}
	if result.Depth != 0 {
		t.Fatalf("result.Depth = %d, want 0", result.Depth)
	}
}

func TestClientAppendUnknownContextReturnsProtocolError(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	_, err := c.AppendTurn(ctx, &AppendRequest{
		ContextID:   12345,
		TypeID:      "com.example.Message",
		TypeVersion: 1,
		Payload:     []byte("x"),
	})
	if err == nil {
		t.Fatalf("AppendTurn: expected error")
	}
	var pe *wire.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *wire.ProtocolError", err, err)
	}
	if pe.Kind != "ContextNotFound" {
		t.Fatalf("Kind = %q, want ContextNotFound", pe.Kind)
	}
}

func TestClientGetLastAfterMultipleAppends(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	head, err := c.CreateContext(ctx, 0, ContextMetadata{})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	var parent uint64
	for i := 0; i < 3; i++ {
		result, err := c.AppendTurn(ctx, &AppendRequest{
			ContextID:    head.ContextID,
			ParentTurnID: parent,
			TypeID:       "com.example.Message",
			TypeVersion:  1,
			Payload:      []byte("turn"),
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		parent = result.TurnID
	}

	records, err := c.GetLast(ctx, head.ContextID, GetLastOptions{Limit: 10, IncludePayload: true})
	if err != nil {
		t.Fatalf("GetLast: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("GetLast returned %d records, want 3", len(records))
	}
	for _, rec := range records {
		if string(rec.Payload) != "turn" {
			t.Fatalf("payload = %q, want %q", rec.Payload, "turn")
		}
	}
}

func TestClientForkContext(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	head, err := c.CreateContext(ctx, 0, ContextMetadata{})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	result, err := c.AppendTurn(ctx, &AppendRequest{
		ContextID:   head.ContextID,
		TypeID:      "com.example.Message",
		TypeVersion: 1,
		Payload:     []byte("root"),
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	fork, err := c.ForkContext(ctx, result.TurnID, head.ContextID, "branch-test")
	if err != nil {
		t.Fatalf("ForkContext: %v", err)
	}
	if fork.HeadTurnID != result.TurnID {
		t.Fatalf("fork.HeadTurnID = %d, want %d", fork.HeadTurnID, result.TurnID)
	}
	if fork.ContextID == head.ContextID {
		t.Fatalf("fork.ContextID should differ from the original context")
	}
}

func TestClientPutBlob(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	result, err := c.PutBlob(ctx, []byte("blob payload"))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if result.RawLen != uint32(len("blob payload")) {
		t.Fatalf("RawLen = %d, want %d", result.RawLen, len("blob payload"))
	}
}
