// Package main implements cxdbctl, CXDB's operator CLI: a top-level
// os.Args switch over subcommands, each with its own per-flag parsing
// loop, printing key=value stdout lines for machine-parseable output.
package main

import (
	"context"
	"fmt"
	"os"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus(os.Args[2:])
	case "create-context":
		cmdCreateContext(os.Args[2:])
	case "append-turn":
		cmdAppendTurn(os.Args[2:])
	case "get-last":
		cmdGetLast(os.Args[2:])
	case "publish-bundle":
		cmdPublishBundle(os.Args[2:])
	case "get-bundle":
		cmdGetBundle(os.Args[2:])
	case "get-descriptor":
		cmdGetDescriptor(os.Args[2:])
	case "--version", "-v", "version":
		fmt.Println("cxdbctl (dev)")
		os.Exit(0)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  cxdbctl status --http <base_url>")
	fmt.Fprintln(os.Stderr, "  cxdbctl create-context --addr <host:port> [--client-tag <tag>] [--session-id <id>] [--title <title>]")
	fmt.Fprintln(os.Stderr, "  cxdbctl append-turn --addr <host:port> --context <id> --type <type_id> [--type-version <n>] [--parent <turn_id>] --payload <text>")
	fmt.Fprintln(os.Stderr, "  cxdbctl get-last --addr <host:port> --context <id> [--limit <n>] [--payload]")
	fmt.Fprintln(os.Stderr, "  cxdbctl publish-bundle --http <base_url> --bundle-id <id> --file <bundle.json>")
	fmt.Fprintln(os.Stderr, "  cxdbctl get-bundle --http <base_url> --bundle-id <id>")
	fmt.Fprintln(os.Stderr, "  cxdbctl get-descriptor --http <base_url> --type <type_id> --type-version <n>")
}

func flagErr(flag string) {
	fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
	os.Exit(1)
}

func requireCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
