package main

import (
	"fmt"
	"os"
	"strconv"

	cxdb "github.com/strongdm/cxdb/clients/go"
)

func cmdCreateContext(args []string) {
	var addr, clientTag, sessionID, title string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				flagErr("--addr")
			}
			addr = args[i]
		case "--client-tag":
			i++
			if i >= len(args) {
				flagErr("--client-tag")
			}
			clientTag = args[i]
		case "--session-id":
			i++
			if i >= len(args) {
				flagErr("--session-id")
			}
			sessionID = args[i]
		case "--title":
			i++
			if i >= len(args) {
				flagErr("--title")
			}
			title = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if addr == "" {
		flagErr("--addr")
	}

	ctx, cancel := requireCtx()
	defer cancel()
	c, err := cxdb.Dial(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	head, err := c.CreateContext(ctx, 0, cxdb.ContextMetadata{
		ClientTag: clientTag,
		SessionID: sessionID,
		Title:     title,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("context_id=%d\n", head.ContextID)
	fmt.Printf("head_turn_id=%d\n", head.HeadTurnID)
	fmt.Printf("head_depth=%d\n", head.HeadDepth)
}

func cmdAppendTurn(args []string) {
	var addr, typeID, payload string
	var contextID, parentTurnID uint64
	var typeVersion uint64 = 1
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				flagErr("--addr")
			}
			addr = args[i]
		case "--context":
			i++
			if i >= len(args) {
				flagErr("--context")
			}
			contextID = mustParseUint(args[i], "--context")
		case "--parent":
			i++
			if i >= len(args) {
				flagErr("--parent")
			}
			parentTurnID = mustParseUint(args[i], "--parent")
		case "--type":
			i++
			if i >= len(args) {
				flagErr("--type")
			}
			typeID = args[i]
		case "--type-version":
			i++
			if i >= len(args) {
				flagErr("--type-version")
			}
			typeVersion = mustParseUint(args[i], "--type-version")
		case "--payload":
			i++
			if i >= len(args) {
				flagErr("--payload")
			}
			payload = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if addr == "" {
		flagErr("--addr")
	}
	if typeID == "" {
		flagErr("--type")
	}

	ctx, cancel := requireCtx()
	defer cancel()
	c, err := cxdb.Dial(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	result, err := c.AppendTurn(ctx, &cxdb.AppendRequest{
		ContextID:    contextID,
		ParentTurnID: parentTurnID,
		TypeID:       typeID,
		TypeVersion:  uint32(typeVersion),
		Payload:      []byte(payload),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("turn_id=%d\n", result.TurnID)
	fmt.Printf("depth=%d\n", result.Depth)
	fmt.Printf("payload_hash=%x\n", result.PayloadHash)
}

func cmdGetLast(args []string) {
	var addr string
	var contextID uint64
	var limit uint64 = 10
	var includePayload bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			if i >= len(args) {
				flagErr("--addr")
			}
			addr = args[i]
		case "--context":
			i++
			if i >= len(args) {
				flagErr("--context")
			}
			contextID = mustParseUint(args[i], "--context")
		case "--limit":
			i++
			if i >= len(args) {
				flagErr("--limit")
			}
			limit = mustParseUint(args[i], "--limit")
		case "--payload":
			includePayload = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if addr == "" {
		flagErr("--addr")
	}

	ctx, cancel := requireCtx()
	defer cancel()
	c, err := cxdb.Dial(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	records, err := c.GetLast(ctx, contextID, cxdb.GetLastOptions{
		Limit:          uint32(limit),
		IncludePayload: includePayload,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("count=%d\n", len(records))
	for _, rec := range records {
		fmt.Printf("turn_id=%d parent_id=%d depth=%d type_id=%s type_version=%d", rec.TurnID, rec.ParentID, rec.Depth, rec.TypeID, rec.TypeVersion)
		if includePayload {
			fmt.Printf(" payload=%s", string(rec.Payload))
		}
		fmt.Println()
	}
}

func mustParseUint(s, flag string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid integer %q\n", flag, s)
		os.Exit(1)
	}
	return v
}
