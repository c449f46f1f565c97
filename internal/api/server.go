// Package api exposes the leaflet chat over a JSON REST API.
//
// Endpoints:
//
//	GET    /health                          liveness probe
//	POST   /api/sessions                    create a session
//	GET    /api/sessions/{id}               session snapshot
//	DELETE /api/sessions/{id}               discard a session
//	POST   /api/sessions/{id}/search        registry search (full reset)
//	POST   /api/sessions/{id}/select        select a product, load leaflet
//	POST   /api/sessions/{id}/chat          one chat turn (SSE stream)
//	POST   /api/sessions/{id}/chat/clear    clear the transcript
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aluque/prospecto/internal/log"
	"github.com/aluque/prospecto/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds request header reads (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout applies to keep-alive connections.
	// There is no WriteTimeout: chat turns stream over SSE and may
	// legitimately outlive any fixed write deadline.
	IdleTimeout = 120 * time.Second
)

// Config errors.
var (
	ErrStoreNil    = errors.New("api: session store is required")
	ErrSearcherNil = errors.New("api: searcher is required")
	ErrFetcherNil  = errors.New("api: leaflet fetcher is required")
	ErrEngineNil   = errors.New("api: turn engine is required")
)

// ServerConfig carries the server's collaborators.
type ServerConfig struct {
	Logger   log.Logger
	Store    *session.Store
	Searcher session.Searcher
	Fetcher  session.LeafletFetcher
	Engine   session.TurnEngine
}

func (c ServerConfig) validate() error {
	if c.Store == nil {
		return ErrStoreNil
	}
	if c.Searcher == nil {
		return ErrSearcherNil
	}
	if c.Fetcher == nil {
		return ErrFetcherNil
	}
	if c.Engine == nil {
		return ErrEngineNil
	}
	return nil
}

// Server is the HTTP server for the leaflet chat API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	sh := &sessionHandler{
		store:    cfg.Store,
		searcher: cfg.Searcher,
		fetcher:  cfg.Fetcher,
		logger:   logger,
	}
	ch := &chatHandler{
		store:  cfg.Store,
		engine: cfg.Engine,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health)

	mux.HandleFunc("POST /api/sessions", sh.create)
	mux.HandleFunc("GET /api/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", sh.delete)
	mux.HandleFunc("POST /api/sessions/{id}/search", sh.search)
	mux.HandleFunc("POST /api/sessions/{id}/select", sh.selectProduct)
	mux.HandleFunc("POST /api/sessions/{id}/chat", ch.stream)
	mux.HandleFunc("POST /api/sessions/{id}/chat/clear", ch.clear)

	return &Server{mux: mux, logger: logger}, nil
}

// Handler returns the server as an http.Handler with middleware applied.
// Middleware order: recovery → logging → routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// health is the liveness probe.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
