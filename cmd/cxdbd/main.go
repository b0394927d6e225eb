// Package main implements cxdbd, CXDB's server daemon: it loads a
// config file, opens a store, and serves both the binary write
// protocol (internal/wire) and the JSON read gateway
// (internal/gateway) against it until signaled to stop. Subcommand
// dispatch is a manual os.Args switch, and shutdown is driven by a
// cancel-on-signal context.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/config"
	"github.com/strongdm/cxdb/internal/gateway"
	"github.com/strongdm/cxdb/internal/store"
	"github.com/strongdm/cxdb/internal/wire"
)

// blobPolicyFromConfig carries the config file's compression knobs
// (spec §6.4) into the blob store's Policy.
func blobPolicyFromConfig(cfg config.Config) blob.Policy {
	p := blob.DefaultPolicy()
	if cfg.CompressionThresholdBytes > 0 {
		p.ThresholdBytes = cfg.CompressionThresholdBytes
	}
	if cfg.CompressionRatioThreshold > 0 {
		p.RatioThreshold = cfg.CompressionRatioThreshold
	}
	if cfg.ZstdLevel > 0 {
		p.ZstdLevel = cfg.ZstdLevel
	}
	return p
}

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "--version", "-v", "version":
		fmt.Println("cxdbd (dev)")
		os.Exit(0)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  cxdbd serve --config <cxdbd.yaml>")
	fmt.Fprintln(os.Stderr, "  cxdbd --version")
}

func serve(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	blobPolicy := blobPolicyFromConfig(cfg)
	st, err := store.Open(cfg.DataDir, blobPolicy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	binLn, err := net.Listen("tcp", cfg.BindBinary)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = binLn.Close() }()

	wireSrv := wire.NewServer(st)
	binDone := make(chan error, 1)
	go func() { binDone <- wireSrv.Serve(binLn) }()

	gw := gateway.New(gateway.Config{Addr: cfg.BindHTTP}, st)
	gwDone := make(chan error, 1)
	go func() { gwDone <- gw.ListenAndServe() }()

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	fmt.Printf("binary_addr=%s\n", cfg.BindBinary)
	fmt.Printf("http_addr=%s\n", cfg.BindHTTP)
	fmt.Printf("data_dir=%s\n", cfg.DataDir)

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
		gw.Shutdown()
		_ = binLn.Close()
		<-binDone
		os.Exit(0)
	case err := <-gwDone:
		_ = binLn.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case err := <-binDone:
		gw.Shutdown()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
}
