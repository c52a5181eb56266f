// Package httpserver provides the status endpoint of warmstart-server.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// Server is the status HTTP server. It can be stopped and started again on
// another address, which lets a checkpoint close the listening socket and a
// restore bind it to the reconciled port.
//
// @req RQ-0301
// @design DS-0301
type Server struct {
	handler http.Handler
	logger  logger.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// New creates a new HTTP server.
//
// @design DS-0301
func New(handler http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{handler: handler, logger: log}
}

// Start listens on addr and serves in the background.
//
// @design DS-0301
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("http server already listening on %s", s.listener.Addr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	s.httpServer, s.listener, s.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" when the server is stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server. It is a no-op when the server
// is stopped.
//
// @design DS-0301
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpServer, s.done
	s.httpServer, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Rebind stops the server and starts it again on addr.
func (s *Server) Rebind(ctx context.Context, addr string) error {
	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	return s.Start(addr)
}
