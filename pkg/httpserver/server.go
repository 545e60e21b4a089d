// Package httpserver exposes the observability surface: Prometheus
// metrics, health probes and a small read-only JSON API over the
// store. API failures are telemetry failures; they never affect the
// trading loops.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"polymarket-trader/internal/store"
	"polymarket-trader/pkg/healthprobe"
)

// StatusFunc reports run context for /api/status.
type StatusFunc func() (mode string, lastBookTS, uptimeSecs float64)

// Server provides HTTP endpoints for metrics, health checks and the
// read-only trading API.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Store         store.Store
	Status        StatusFunc
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	if cfg.Store != nil {
		api := &apiHandler{store: cfg.Store, status: cfg.Status, logger: cfg.Logger}
		r.Get("/api/status", api.handleStatus)
		r.Get("/api/positions", api.handlePositions)
		r.Get("/api/pnl", api.handlePnL)
		r.Get("/api/watchlist", api.handleWatchlist)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server: server,
		logger: cfg.Logger,
	}
}

// Start starts the HTTP server. Blocks until the server stops or
// fails.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}

type apiHandler struct {
	store  store.Store
	status StatusFunc
	logger *zap.Logger
}

type statusResponse struct {
	Mode       string                `json:"mode"`
	LastBookTS float64               `json:"last_book_ts"`
	UptimeSecs float64               `json:"uptime_secs"`
	Components []store.RuntimeStatus `json:"components,omitempty"`
}

func (h *apiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if h.status != nil {
		resp.Mode, resp.LastBookTS, resp.UptimeSecs = h.status()
	}
	components, err := h.store.RuntimeStatuses(r.Context())
	if err != nil {
		h.logger.Warn("api-request-failed", zap.String("what", "load runtime statuses"), zap.Error(err))
	} else {
		resp.Components = components
	}
	h.writeJSON(w, resp)
}

func (h *apiHandler) handlePositions(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.store.LatestPositions(r.Context(), 500)
	if err != nil {
		h.writeError(w, "load positions", err)
		return
	}
	h.writeJSON(w, snaps)
}

func (h *apiHandler) handlePnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := h.store.LatestPnL(r.Context())
	if err != nil {
		h.writeError(w, "load pnl", err)
		return
	}
	if pnl == nil {
		pnl = &store.PnLSnapshot{}
	}
	h.writeJSON(w, pnl)
}

func (h *apiHandler) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Watchlist(r.Context(), 100)
	if err != nil {
		h.writeError(w, "load watchlist", err)
		return
	}
	h.writeJSON(w, entries)
}

func (h *apiHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("api-write-failed", zap.Error(err))
	}
}

func (h *apiHandler) writeError(w http.ResponseWriter, what string, err error) {
	h.logger.Warn("api-request-failed", zap.String("what", what), zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": what + " failed"})
}
