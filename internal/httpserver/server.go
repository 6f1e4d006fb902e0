// Package httpserver serves MCP JSON-RPC over HTTP and WebSocket
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/memory"
)

const (
	maxRequestBytes = 4 * 1024 * 1024
	shutdownTimeout = 30 * time.Second
)

// Handler dispatches one JSON-RPC request
type Handler interface {
	HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse
}

// HealthReporter reports backend health for GET /health
type HealthReporter interface {
	Health(ctx context.Context) memory.HealthReport
}

// Server is the HTTP front of the MCP server
type Server struct {
	handler Handler
	health  HealthReporter
	auth    *APIKeyAuth
	config  config.ServerConfig
	logger  logging.Logger
	mux     *chi.Mux
}

// New builds the router. health may be nil.
func New(handler Handler, health HealthReporter, cfg *config.Config) *Server {
	s := &Server{
		handler: handler,
		health:  health,
		auth:    NewAPIKeyAuth(cfg.Auth.APIKeyHash),
		config:  cfg.Server,
		logger:  logging.WithComponent("http"),
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Use(chimiddleware.Recoverer)
	s.mux.Use(requestID)
	s.mux.Use(s.logRequests)
	s.mux.Use(chimiddleware.RequestSize(maxRequestBytes))

	s.mux.Get("/health", s.handleHealth)
	s.mux.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/mcp", s.handleMCP)
		r.Get("/ws", s.handleWebSocket)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req protocol.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &protocol.JSONRPCResponse{
			JSONRPC: "2.0",
			Error:   protocol.NewJSONRPCError(protocol.ParseError, "Parse error", err.Error()),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.handler.HandleRequest(r.Context(), &req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.health.Health(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			"addr", addr,
			"auth", s.auth.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// The parent context is already cancelled here
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return httpServer.Shutdown(shutdownCtx) //nolint:contextcheck
}
