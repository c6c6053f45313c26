// Package dashboard serves the operational status API: orchestrator status,
// ledger and event-log reads, and manual cycle triggers.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/storage"
)

const recentEventLimit = 100

// Controller is the orchestrator surface the API triggers against.
type Controller interface {
	StatusSnapshot(ctx context.Context) models.BotStatus
	RunCycle(ctx context.Context)
	RunExecutionOnly(ctx context.Context)
}

// Config defines the listener.
type Config struct {
	Addr      string
	AuthToken string
}

// Server is the dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     storage.Interface
	bot       Controller
	logger    *logrus.Logger
	addr      string
	authToken string
}

// NewServer builds the dashboard server and its routes.
func NewServer(cfg Config, store storage.Interface, bot Controller, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		bot:       bot,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/events", s.handleEvents)
	s.router.Get("/api/config", s.handleConfig)
	s.router.Post("/api/run", s.handleRun)
	s.router.Post("/api/run-execution", s.handleRunExecution)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving the API until the listener fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.bot.StatusSnapshot(r.Context()))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetActiveTrades(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to load active trades")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.GetRecentEvents(r.Context(), recentEventLimit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load events")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetAutoTraderConfig(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to load config")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, cfg)
}

// handleRun fires a full cycle asynchronously; overlap with a running cycle
// is dropped by the orchestrator's own lock.
func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	go s.bot.RunCycle(context.Background())
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{"status": "triggered"})
}

func (s *Server) handleRunExecution(w http.ResponseWriter, _ *http.Request) {
	go s.bot.RunExecutionOnly(context.Background())
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{"status": "triggered"})
}
