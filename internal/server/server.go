// Package server exposes the control plane over HTTP: thread CRUD and
// messaging, interactive prompt answers, live event streams (SSE and
// WebSocket), and the filesystem/git helper endpoints the UI uses.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/config"
	"github.com/mainthread/mainthread/internal/logging"
	"github.com/mainthread/mainthread/internal/metrics"
	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/taskreg"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the control plane.
type Server struct {
	cfg   *config.Config
	store *store.Store
	bus   *bus.Bus
	orch  *orchestrator.Orchestrator
	tasks *taskreg.Registry
	log   *slog.Logger

	http    *http.Server
	started time.Time

	// Closed when shutdown begins so new stream requests are rejected
	// instead of being cut off mid-handshake.
	shutdownCh chan struct{}
}

func New(cfg *config.Config, st *store.Store, b *bus.Bus, orch *orchestrator.Orchestrator, tasks *taskreg.Registry, log *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		bus:        b,
		orch:       orch,
		tasks:      tasks,
		log:        log.With("component", "server"),
		started:    time.Now(),
		shutdownCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(s.cors(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/time", s.handleTime)
	mux.HandleFunc("GET /api/cwd", s.handleCwd)
	mux.HandleFunc("GET /api/browse", s.handleBrowse)
	mux.HandleFunc("POST /api/directories", s.handleCreateDirectory)
	mux.HandleFunc("GET /api/directories/suggestions", s.handleDirectorySuggestions)
	mux.HandleFunc("GET /api/git/info", s.handleGitInfo)

	mux.HandleFunc("GET /api/threads", s.handleListThreads)
	mux.HandleFunc("POST /api/threads", s.handleCreateThread)
	mux.HandleFunc("DELETE /api/threads/all", s.handleResetAll)
	mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	mux.HandleFunc("PATCH /api/threads/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("PATCH /api/threads/{id}/config", s.handleUpdateConfig)
	mux.HandleFunc("PATCH /api/threads/{id}/title", s.handleUpdateTitle)
	mux.HandleFunc("GET /api/threads/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("POST /api/threads/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("DELETE /api/threads/{id}/messages", s.handleClearMessages)
	mux.HandleFunc("POST /api/threads/{id}/archive", s.handleArchive)
	mux.HandleFunc("POST /api/threads/{id}/unarchive", s.handleUnarchive)
	mux.HandleFunc("POST /api/threads/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/threads/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/threads/{id}/plan-action", s.handlePlanAction)
	mux.HandleFunc("GET /api/threads/{id}/tokens", s.handleTokens)
	mux.HandleFunc("GET /api/threads/{id}/usage", s.handleUsage)
	mux.HandleFunc("GET /api/threads/{id}/files", s.handleFiles)
	mux.HandleFunc("GET /api/threads/{id}/stream", s.handleStreamSSE)
	mux.HandleFunc("GET /api/threads/{id}/ws", s.handleStreamWS)
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve blocks until ctx is cancelled or the listener fails, then
// drains in-flight requests and checkpoints the WAL so the database
// file is complete on disk.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	close(s.shutdownCh)

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutCtx); err != nil {
		s.log.Warn("http shutdown incomplete", "error", err)
	}

	if _, err := s.store.DB().ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn("wal checkpoint failed", "error", err)
	}
	return nil
}

// cors applies the configured origin allowlist. "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
