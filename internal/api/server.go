package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rki-case-scraper/internal/metrics"
	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// DefaultRecentLogs is the number of log entries GET / returns.
const DefaultRecentLogs = 20

// Config controls Server behavior.
type Config struct {
	RecentLogs     int
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the store.
type Server struct {
	router chi.Router
	store  rki.Store
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store rki.Store, cfg Config, logger *zap.Logger) *Server {
	if cfg.RecentLogs <= 0 {
		cfg.RecentLogs = DefaultRecentLogs
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: store, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/", s.recentLogs)
	r.Get("/data", s.snapshots)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) recentLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.RecentLogs(r.Context(), s.cfg.RecentLogs)
	if err != nil {
		s.logger.Error("read recent logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read log entries")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(FormatLogs(entries))); err != nil {
		s.logger.Warn("write log listing failed", zap.Error(err))
	}
}

func (s *Server) snapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.Snapshots(r.Context())
	if err != nil {
		s.logger.Error("read snapshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read snapshots")
		return
	}
	if snaps == nil {
		snaps = []rki.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.RecentLogs(r.Context(), 1); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// FormatLogs renders one line per entry: "<created_at> - <info>[ - <error>]".
func FormatLogs(entries []rki.LogEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s - %s", e.CreatedAt.Format(time.RFC3339), e.Info)
		if e.Error != "" {
			line += " - " + e.Error
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
