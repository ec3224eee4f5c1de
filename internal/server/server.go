// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/termchat/internal/chat"
	"github.com/jeranaias/termchat/internal/metrics"
	"github.com/jeranaias/termchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 3000

	// DefaultHost binds to loopback unless configured otherwise.
	DefaultHost = "127.0.0.1"

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length for a single chat message.
	MaxMessageLength = 100000

	// Version is the server version.
	Version = "1.0.0"

	// AppName identifies the application in health responses.
	AppName = "termchat"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP proxy exposing the chat API under /api/v1.
type Server struct {
	host string
	port int

	router *http.ServeMux
	server *http.Server

	chat    *chat.Service
	store   *storage.Store
	metrics *metrics.Recorder

	cors        *CORSConfig
	limiter     *RateLimiter
	environment string
	startTime   time.Time
}

// NewServer creates a Server over a chat service and a conversation
// store. Port 0 selects the default port.
func NewServer(svc *chat.Service, store *storage.Store, port int) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		host:        DefaultHost,
		port:        port,
		router:      http.NewServeMux(),
		chat:        svc,
		store:       store,
		cors:        DefaultCORSConfig(),
		limiter:     DefaultRateLimiter(),
		environment: "development",
		startTime:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// WithHost sets the bind host.
func (s *Server) WithHost(host string) *Server {
	if host != "" {
		s.host = host
	}
	return s
}

// WithMetrics attaches the usage recorder surfaced by the analytics and
// detailed health endpoints. A nil recorder disables those statistics.
func (s *Server) WithMetrics(rec *metrics.Recorder) *Server {
	s.metrics = rec
	return s
}

// WithCORS sets a custom CORS configuration.
func (s *Server) WithCORS(config *CORSConfig) *Server {
	if config != nil {
		s.cors = config
	}
	return s
}

// WithRateLimiter sets a custom rate limiter.
func (s *Server) WithRateLimiter(limiter *RateLimiter) *Server {
	if limiter != nil {
		s.limiter = limiter
	}
	return s
}

// WithEnvironment sets the environment label reported by /health.
func (s *Server) WithEnvironment(env string) *Server {
	if env != "" {
		s.environment = env
	}
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the fully composed handler, middleware included.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Chat dispatch
	s.router.HandleFunc("POST /api/v1/chat", s.handleChat)

	// Model catalog
	s.router.HandleFunc("GET /api/v1/models", s.handleModels)
	s.router.HandleFunc("GET /api/v1/models/providers", s.handleModelProviders)
	s.router.HandleFunc("GET /api/v1/models/categories", s.handleModelCategories)
	s.router.HandleFunc("GET /api/v1/models/{id}", s.handleModelInfo)
	s.router.HandleFunc("POST /api/v1/models/{id}/chat", s.handleModelChat)
	s.router.HandleFunc("POST /api/v1/models/{id}/test", s.handleModelTest)

	// Conversations
	s.router.HandleFunc("GET /api/v1/conversations", s.handleListConversations)
	s.router.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("GET /api/v1/conversations/{id}/history", s.handleConversationHistory)
	s.router.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)

	// Maintenance and analytics
	s.router.HandleFunc("GET /api/v1/analytics/insights", s.handleInsights)
	s.router.HandleFunc("POST /api/v1/cleanup", s.handleCleanup)

	// Health
	s.router.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.router.HandleFunc("GET /api/v1/health/detailed", s.handleHealthDetailed)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s env=%s", addr, Version, s.environment)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WRITE_JSON_FAILED | error=%v", err)
	}
}

// writeError writes the standard error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
