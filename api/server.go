// Package api exposes the query pipeline and session management over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat/floatchat/internal/history"
	"github.com/floatchat/floatchat/internal/log"
	"github.com/floatchat/floatchat/internal/pipeline"
)

// QueryProcessor runs one natural language query through the pipeline.
type QueryProcessor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Response
}

// SessionStore is the session surface the API exposes. Satisfied by
// history.Store.
type SessionStore interface {
	CreateSession() (uuid.UUID, time.Time)
	ListSessions(ctx context.Context) ([]history.SessionInfo, error)
	RecentHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]history.Turn, error)
}

// Pinger reports whether the backing store is reachable. Satisfied by
// pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig contains the dependencies for a Server.
type ServerConfig struct {
	Logger   log.Logger
	Pipeline QueryProcessor // Required
	Sessions SessionStore   // Required
	DB       Pinger         // Optional: nil makes /ready always succeed
}

// Server is the FloatChat HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a Server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	mux := http.NewServeMux()

	query := &queryHandler{pipeline: cfg.Pipeline, logger: cfg.Logger}
	sessions := &sessionsHandler{store: cfg.Sessions, logger: cfg.Logger}
	health := &healthHandler{db: cfg.DB}

	mux.HandleFunc("POST /api/v1/query", query.process)
	mux.HandleFunc("POST /api/v1/sessions", sessions.create)
	mux.HandleFunc("GET /api/v1/sessions", sessions.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", sessions.getHistory)
	mux.HandleFunc("GET /health", health.alive)
	mux.HandleFunc("GET /ready", health.ready)

	return &Server{mux: mux, logger: cfg.Logger}, nil
}

// ServeHTTP implements http.Handler with the middleware stack applied:
// recovery outermost, then request logging, then routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.Handler = s.mux
	handler = loggingMiddleware(s.logger)(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	handler.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
