// Package gateway implements CXDB's JSON read gateway (spec §6.3): an
// HTTP surface over internal/store for get_turns, get_context,
// list_contexts, get_children, get_blob, publish_bundle, get_bundle,
// and get_descriptor. Server construction and shutdown use Go 1.22's
// http.ServeMux method+pattern routing with signal-driven graceful
// shutdown.
package gateway

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strongdm/cxdb/internal/store"
)

// Config holds the gateway's listen configuration.
type Config struct {
	Addr string
}

// Server is CXDB's HTTP read gateway.
type Server struct {
	config  Config
	store   *store.Store
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
	logger  *log.Logger
}

// New builds a Server bound to st, registering every route on its
// ServeMux below.
func New(cfg Config, st *store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		store:   st,
		baseCtx: ctx,
		cancel:  cancel,
		logger:  log.New(os.Stderr, "[cxdb-gateway] ", log.LstdFlags),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/contexts", s.handleCreateContext)
	mux.HandleFunc("GET /v1/contexts", s.handleListContexts)
	mux.HandleFunc("GET /v1/contexts/{id}", s.handleGetContext)
	mux.HandleFunc("POST /v1/contexts/{id}/fork", s.handleForkContext)
	mux.HandleFunc("GET /v1/contexts/{id}/turns", s.handleGetTurns)
	mux.HandleFunc("POST /v1/contexts/{id}/turns", s.handleAppendTurn)
	mux.HandleFunc("GET /v1/contexts/{id}/children", s.handleGetChildren)
	mux.HandleFunc("GET /v1/blobs/{hash}", s.handleGetBlob)
	mux.HandleFunc("PUT /v1/registry/bundles/{id}", s.handlePublishBundle)
	mux.HandleFunc("GET /v1/registry/bundles/{id}", s.handleGetBundle)
	mux.HandleFunc("GET /v1/registry/types/{type_id}/versions/{version}", s.handleGetDescriptor)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// ListenAndServe starts the gateway and blocks until Shutdown is
// called (directly, or via SIGINT/SIGTERM).
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Printf("received %s, shutting down...", sig)
		s.Shutdown()
	}()

	s.logger.Printf("listening on %s", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, then cancels the
// gateway's base context.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}
