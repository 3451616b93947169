// Package httpserver implements the Listener and Router components: TCP
// accept/graceful shutdown grounded on cmd/sandbox/main.go, and URL/method
// dispatch plus the middleware chain (auth, rate limit, CORS) grounded on
// cmd/sandbox/handler.go's request-handling shape.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps an http.Server with the teacher's construction idiom:
// generous read/write timeouts suited to long-lived SSE connections, a short
// idle timeout, and signal-driven graceful shutdown left to the caller (see
// cmd/gatewayd), which owns the process lifecycle and may need to close other
// resources (stores, limiters) alongside the listener.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithReadTimeout(d time.Duration) Option  { return func(s *Server) { s.httpServer.ReadTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(s *Server) { s.httpServer.WriteTimeout = d } }

// NewServer binds addr (host:port) and wraps handler, with the same generous
// timeouts cmd/sandbox/main.go uses for long-running requests.
func NewServer(addr string, handler http.Handler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds the configured address and serves until the listener
// is closed or Shutdown is called. It returns nil once Shutdown has closed
// the server, and the listen or serve error otherwise.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.httpServer.Addr, err)
	}
	if s.logger != nil {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
	}
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
