package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ragbase/backend/go/pkg/logger"
)

// Server wraps http.Server with graceful shutdown and logging.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadHeaderTimeout = d
	}
}

// NewServer creates a Server serving handler, by default on :8000.
func NewServer(handler http.Handler, opts ...ServerOption) *Server {
	srv := &Server{
		httpServer: &http.Server{
			Addr:              ":8000",
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger.New("http"),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("HTTP 服务器启动")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP 服务器正在关闭")
	return s.httpServer.Shutdown(ctx)
}
