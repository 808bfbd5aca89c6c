// Package server wires the texbuilder HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/texbuilder/internal/compile"
	"git.home.luguber.info/inful/texbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
	"git.home.luguber.info/inful/texbuilder/internal/metrics"
	"git.home.luguber.info/inful/texbuilder/internal/server/handlers"
	smw "git.home.luguber.info/inful/texbuilder/internal/server/middleware"
)

// Options carries optional server dependencies.
type Options struct {
	// Gatherer exposes metrics on the configured path when non-nil.
	Gatherer  prom.Gatherer
	StartTime time.Time
}

// Server serves the document, compile and monitoring endpoints.
type Server struct {
	cfg          *config.Config
	router       *mux.Router
	httpServer   *http.Server
	errorAdapter *ferrors.HTTPErrorAdapter
}

// New builds the router. Call Start to listen.
func New(cfg *config.Config, coord *compile.Coordinator, opts Options) *Server {
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	s := &Server{
		cfg:          cfg,
		errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default()),
	}
	s.router = s.routes(coord, opts)
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(coord *compile.Coordinator, opts Options) *mux.Router {
	r := mux.NewRouter()
	r.Use(smw.Chain(slog.Default(), s.errorAdapter))

	docs := handlers.NewDocumentHandlers(coord)
	compiles := handlers.NewCompileHandlers(coord)
	monitoring := handlers.NewMonitoringHandlers(coord, opts.StartTime)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/files", docs.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/file/{name}", docs.HandleGet).Methods(http.MethodGet)
	api.HandleFunc("/file", docs.HandleSave).Methods(http.MethodPost)
	api.HandleFunc("/file/{name}", docs.HandleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/delete/{name}", docs.HandleDelete).Methods(http.MethodDelete, http.MethodPost)
	api.HandleFunc("/pdf/{name}", docs.HandlePDF).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/compile", compiles.HandleCompile).Methods(http.MethodPost)
	api.HandleFunc("/engines", compiles.HandleEngines).Methods(http.MethodGet)

	r.HandleFunc("/healthz", monitoring.HandleHealthCheck).Methods(http.MethodGet)
	if opts.Gatherer != nil && s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, metrics.HTTPHandler(opts.Gatherer)).Methods(http.MethodGet)
	}
	return r
}

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("http startup failed: %w", err)
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout.Std(),
		WriteTimeout:      s.cfg.Server.WriteTimeout.Std(),
		IdleTimeout:       2 * time.Minute,
	}
	slog.Info("HTTP server listening", slog.String("address", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", logfields.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
