// Package api exposes the render orchestration HTTP surface: render
// submission, status polling, the aggregate health probe, and the billing
// webhook. Authentication maps the X-API-Key header to a user through the
// configured key table before any other work happens.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"showrunner/internal/config"
	"showrunner/internal/guardrail"
	"showrunner/internal/health"
	"showrunner/internal/ledger"
	"showrunner/internal/logging"
	"showrunner/internal/queue"
	"showrunner/internal/services"
)

// Server hosts the JSON API.
type Server struct {
	cfg    *config.Config
	store  *queue.Store
	ledger *ledger.Store
	gate   *guardrail.Gate
	health *health.Aggregator
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

func NewServer(
	cfg *config.Config,
	store *queue.Store,
	ledgerStore *ledger.Store,
	gate *guardrail.Gate,
	healthAgg *health.Aggregator,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		cfg:    cfg,
		store:  store,
		ledger: ledgerStore,
		gate:   gate,
		health: healthAgg,
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/episodes/", srv.handleEpisodes)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/webhooks/billing", srv.handleBillingWebhook)

	srv.server = &http.Server{
		Handler:           withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler exposes the routing table, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.API.Bind)
	if bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, draining in-flight requests briefly.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr reports the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleEpisodes routes /episodes/{id}/render and /episodes/{id}/status.
func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/episodes/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	episodeID := parts[0]
	switch parts[1] {
	case "render":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleRender(w, r, episodeID)
	case "status":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleStatus(w, r, episodeID)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

// authenticate resolves the X-API-Key header to a user ID. An empty return
// means the response has already been written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) string {
	userID, ok := s.cfg.UserForAPIKey(r.Header.Get("X-API-Key"))
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return ""
	}
	return userID
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// withRequestID tags every request context with a correlation identifier so
// log lines emitted while handling it can be grouped.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
