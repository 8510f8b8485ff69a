package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/julienstroheker/tcprelay/internal/logging"
	"github.com/julienstroheker/tcprelay/internal/metrics"
	"github.com/julienstroheker/tcprelay/proxy/http/handlers"
	"github.com/julienstroheker/tcprelay/proxy/http/middleware"
)

// DefaultAddr is used when Options.Addr is empty
const DefaultAddr = "127.0.0.1:9090"

// Server is the admin HTTP server exposing health, metrics and relay stats
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *logging.Logger

	// cancels the base context so hijacked stream connections stop too
	cancel context.CancelFunc
}

// Options configures the admin server
type Options struct {
	Addr           string
	Stats          handlers.StatsSource
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
	StreamInterval time.Duration
}

// NewServer creates a new admin server instance
func NewServer(opts *Options) *Server {
	if opts == nil {
		opts = &Options{}
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HealthHandler)
	mux.HandleFunc("/readyz", handlers.NewReadyHandler(opts.Stats))
	mux.Handle("/metrics", opts.Metrics.Handler())
	mux.HandleFunc("/api/stats", handlers.NewStatsHandler(opts.Stats))
	mux.HandleFunc("/api/stats/stream", handlers.NewStatsStreamHandler(opts.Stats, opts.StreamInterval))

	// Outermost first: ids exist before logging, metrics see the final status
	var handler http.Handler = mux
	handler = middleware.Metrics(opts.Metrics)(handler)
	handler = middleware.Logger(opts.Logger)(handler)
	handler = middleware.Telemetry(handler)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		},
		logger: opts.Logger,
		cancel: cancel,
	}
}

// Listen binds the admin address so that bind faults surface before serving
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve serves on the bound listener, binding first if Listen was not called.
// It returns nil after Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("Admin server listening", logging.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.server.Shutdown(ctx)
}

// Close immediately closes the server, including a listener that was never served
func (s *Server) Close() error {
	s.cancel()
	err := s.server.Close()
	if s.listener != nil {
		// already closed when Serve was running
		_ = s.listener.Close()
	}
	return err
}

// Addr returns the bound address, or the configured one before Listen
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}
