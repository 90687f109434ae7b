// Package server is the HTTP/JSON surface of the settlement engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"PredMarket/internal/observability"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the settlement API server.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer registers all routes and wires the request-logging middleware.
func NewServer(cfg Config, h *Handlers, health *observability.HealthChecker, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)

	mux.HandleFunc("POST /api/initialize", h.Initialize)
	mux.HandleFunc("GET /api/market", h.GetMarket)

	mux.HandleFunc("POST /api/events", h.CreateEvent)
	mux.HandleFunc("GET /api/events", h.ListEvents)
	mux.HandleFunc("GET /api/events/{id}", h.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/bets", h.ListEventBets)
	mux.HandleFunc("GET /api/events/{id}/escrow", h.GetEscrow)
	mux.HandleFunc("POST /api/events/{id}/bets", h.PlaceBet)
	mux.HandleFunc("POST /api/events/{id}/resolve", h.ResolveEvent)
	mux.HandleFunc("POST /api/events/{id}/claims", h.ClaimWinnings)
	mux.HandleFunc("POST /api/events/{id}/withdraw", h.EmergencyWithdraw)

	mux.HandleFunc("GET /api/bets/{id}", h.GetBet)

	mux.HandleFunc("POST /api/accounts/{id}/credit", h.CreditAccount)
	mux.HandleFunc("GET /api/accounts/{id}/balance", h.GetBalance)

	handler := requestLogging(logger)(mux)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, log: logger}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogging logs every request with method, path, status, and duration.
func requestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
