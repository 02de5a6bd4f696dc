// Package server exposes the webhook HTTP surface. It translates raw
// alert payloads into engine signals and always answers 200 with a
// status body so the alerting side never retries; full error detail
// stays in the log.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/botelyes/futroll/internal/engine"
)

// SignalHandler runs one decision cycle for a signal. Implemented by
// engine.Engine.
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig engine.Signal) (*engine.Result, error)
}

// Server is the webhook HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	handler   SignalHandler
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config holds server settings.
type Config struct {
	Port      int
	AuthToken string
}

// webhookPayload is the inbound alert body.
type webhookPayload struct {
	Symbol    string `json:"symbol"`
	Signal    string `json:"signal"`
	Timeframe string `json:"timeframe"`
}

// webhookResponse is returned for every webhook request.
type webhookResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewServer creates the webhook server.
func NewServer(cfg Config, handler SignalHandler, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		handler:   handler,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Post("/webhook", s.handleWebhook)
	s.router.Get("/health", s.handleHealth)
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

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting webhook server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.WithError(err).Warn("Webhook payload did not parse")
		s.respond(w, webhookResponse{Status: "ignored_signal", Detail: "unparseable payload"})
		return
	}

	direction, err := engine.ParseDirection(payload.Signal)
	if err != nil {
		s.logger.WithField("signal", payload.Signal).Warn("Unsupported signal value")
		s.respond(w, webhookResponse{Status: "ignored_signal", Detail: "unsupported signal"})
		return
	}

	result, err := s.handler.HandleSignal(r.Context(), engine.Signal{
		RawSymbol: payload.Symbol,
		Direction: direction,
		Timeframe: payload.Timeframe,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"symbol":    payload.Symbol,
			"timeframe": payload.Timeframe,
		}).Error("Signal processing failed")
		// Detail stays in the log; the caller only learns that the
		// cycle errored.
		s.respond(w, webhookResponse{Status: string(engine.StatusError)})
		return
	}

	s.logger.WithFields(logrus.Fields{
		"symbol": payload.Symbol,
		"root":   result.Root,
		"status": result.Status,
		"orders": len(result.Orders),
	}).Info("Webhook processed")

	resp := webhookResponse{Status: string(result.Status)}
	switch result.Status {
	case engine.StatusProcessed, engine.StatusNoAction:
		resp.Detail = result.Detail
		if result.Contract != "" {
			resp.Detail = result.Contract
		}
	case engine.StatusIgnoredTimeframe:
		resp.Detail = result.Detail
	}
	s.respond(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, webhookResponse{Status: "ok"})
}

func (s *Server) respond(w http.ResponseWriter, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
