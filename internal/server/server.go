// Package server wires the render pipeline, the route manifest, static
// assets and the development endpoints into one HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/conneroisu/tagserve/internal/livereload"
	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/pipeline"
	"github.com/conneroisu/tagserve/internal/registry"
	"github.com/conneroisu/tagserve/internal/routes"
)

// Endpoint paths served next to the manifest routes.
const (
	HealthPath = "/__health"
	TagsPath   = "/__tags"
)

// Options configures a Server.
type Options struct {
	Addr string
	// Fs and StaticDir locate the files served for unmatched paths. A nil Fs
	// uses the OS file system; an empty StaticDir disables static serving.
	Fs        afero.Fs
	StaticDir string
	Manifest  *routes.Manifest
	// LiveReload is mounted at livereload.DefaultPath when set.
	LiveReload http.Handler
	Logger     logging.Logger
}

// Server is the tagserve HTTP server.
type Server struct {
	router   *chi.Mux
	registry *registry.Registry
	logger   logging.Logger
	addr     string

	serverMutex  sync.Mutex
	httpServer   *http.Server
	shutdownOnce sync.Once
	started      time.Time
}

// New builds the router. Manifest routes take precedence over static
// files.
func New(p *pipeline.Pipeline, reg *registry.Registry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("server")

	s := &Server{
		router:   chi.NewRouter(),
		registry: reg,
		logger:   logger,
		addr:     opts.Addr,
		started:  time.Now(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(logger))
	s.router.Use(middleware.Recoverer)

	s.router.Get(HealthPath, s.handleHealth)
	s.router.Get(TagsPath, s.handleTags)
	if opts.LiveReload != nil {
		s.router.Handle(livereload.DefaultPath, opts.LiveReload)
	}

	if opts.Manifest != nil {
		routes.Mount(s.router, p, opts.Manifest)
	}

	if opts.StaticDir != "" {
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		s.router.NotFound(http.FileServer(afero.NewHttpFs(fs).Dir(opts.StaticDir)).ServeHTTP)
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown is
// called. It returns nil after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.serverMutex.Lock()
		server := s.httpServer
		s.serverMutex.Unlock()

		if server != nil {
			s.logger.Info(ctx, "Shutting down server")
			shutdownErr = server.Shutdown(ctx)
		}
	})
	return shutdownErr
}
