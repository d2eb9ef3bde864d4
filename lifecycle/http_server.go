package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
}

type ServerOption func(*HTTPServer)

func NewHTTPServer(handler http.Handler, options ...ServerOption) *HTTPServer {
	srv := &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(srv)
	}

	return srv
}

func WithAddress(address string) ServerOption {
	return func(srv *HTTPServer) {
		srv.server.Addr = address
	}
}

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(srv *HTTPServer) {
		srv.logger = logger
	}
}

// Start serves until Stop is called. A clean shutdown is not an error.
func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server", "address", s.server.Addr)
	return s.server.Shutdown(ctx)
}
