package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const maxRequestBytes = 1 << 20 // 1MiB, grounded on gateway/cors.go's RequestSizeLimitMiddleware default order of magnitude

// Server is the HTTP surface spec §6 describes.
type Server struct {
	cfg    Config
	mux    *http.ServeMux
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the mux and wraps it with the auth/size-limit middleware
// chain, grounded on gateway/gateway.go's Server construction shape.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux(), logger: logger}
	s.routes()

	handler := requestSizeLimit(maxRequestBytes, s.mux)
	handler = requireToken(cfg.AuthToken, handler)

	s.http = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleConsole)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/archive", s.handleSessionsArchive)
	s.mux.HandleFunc("/api/memory/stats", s.handleMemoryStats)
	s.mux.HandleFunc("/api/memory/recent", s.handleMemoryRecent)
	s.mux.HandleFunc("/api/memory/search", s.handleMemorySearch)
	s.mux.HandleFunc("/api/memory/note", s.handleMemoryNote)
	s.mux.HandleFunc("/api/memory/compact", s.handleMemoryCompact)
	s.mux.HandleFunc("/api/memory/sync", s.handleMemorySync)
	s.mux.HandleFunc("/api/memory/soul", s.handleMemorySoul)
	s.mux.HandleFunc("/api/events/recent", s.handleEventsRecent)
	s.mux.HandleFunc("/api/events/stream", s.handleEventsStream)
	s.mux.HandleFunc("/api/events/ws", s.handleEventsWS)
	s.mux.HandleFunc("/api/prompt", s.handlePrompt)
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard: listening", "addr", s.cfg.BindAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}
