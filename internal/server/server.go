// Package server hosts the local HTTP API the patient or provider UI uses to
// drive a session: run checks, join, end the call and leave feedback.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wraps the chi router and the listening http.Server.
type Server struct {
	Router *chi.Mux
	Addr   string

	logger  *slog.Logger
	httpSrv *http.Server
}

// New creates a server with the common middleware stack installed. Routes are
// registered by the caller on Router.
func New(addr string, logger *slog.Logger, token string) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(TokenMiddleware(token))

	// Streaming requests derive from base and end when shutdown begins.
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           otelhttp.NewHandler(r, "televisit-api"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)

	return &Server{
		Router:  r,
		Addr:    addr,
		logger:  logger,
		httpSrv: srv,
	}
}

// Handler returns the traced root handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start listens on Addr and serves until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("local api listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
