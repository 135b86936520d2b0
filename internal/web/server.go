// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     web
// Description: HTTP server for the browser UI, REST API and WebSocket
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package web

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the Chatterbox web UI server
type Server struct {
	httpServer *http.Server
	deps       *Deps
	health     *health.Registry
	logger     *logging.Logger
	config     Config

	mu       sync.Mutex
	listener net.Listener
}

// Config holds server configuration
type Config struct {
	Host         string
	HTTPPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORS         bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		HTTPPort:     8085,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
	}
}

// New creates a new server. deps.Service and deps.Sessions are required.
func New(cfg Config, deps *Deps) (*Server, error) {
	if deps == nil || deps.Service == nil || deps.Sessions == nil {
		return nil, errors.New("web: service and session manager are required")
	}
	deps.withDefaults()
	logger := deps.Logger.Named("web")

	h := NewHandler(deps)
	wsHandler := NewWebSocketHandler(deps)
	page := NewPageHandler(deps)

	mux := http.NewServeMux()

	// WebSocket route
	mux.Handle("/api/v1/ws", wsHandler)

	// API routes
	var api http.Handler = h
	if cfg.CORS {
		api = corsMiddleware(deps, api)
	}
	mux.Handle("/api/", api)

	if deps.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	mux.Handle("/", page)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler:      loggingMiddleware(logger, deps.Metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Create health registry
	healthRegistry := deps.Health
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry("chatterbox-ui", deps.Version)
		deps.Health = healthRegistry
	}
	healthRegistry.RegisterFunc("http", func(ctx context.Context) health.CheckResult {
		return health.CheckResult{
			Name:    "http",
			Status:  health.StatusHealthy,
			Message: "HTTP server is running",
			Details: map[string]interface{}{"sessions": deps.Sessions.Len()},
		}
	})

	return &Server{
		httpServer: httpServer,
		deps:       deps,
		health:     healthRegistry,
		logger:     logger,
		config:     cfg,
	}, nil
}

// loggingMiddleware adds request logging and metrics
func loggingMiddleware(logger *logging.Logger, metrics *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		route := routeLabel(r.URL.Path)
		if metrics != nil && route != "/api/v1/ws" {
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapper.statusCode), duration.Seconds())
		}

		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.statusCode,
			"duration", duration,
		)
	})
}

// corsMiddleware answers preflights and echoes allowed origins
func corsMiddleware(deps *Deps, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && deps.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

// routeLabel collapses ids so the metrics label set stays bounded
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/static/"):
		return "/static"
	case !strings.HasPrefix(path, "/api/v1/"):
		return path
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	switch parts[0] {
	case "voices":
		if len(parts) > 1 && parts[1] != "upload" && parts[1] != "select" {
			parts = []string{"voices", "{id}"}
		}
	case "downloads", "history":
		if len(parts) > 1 {
			parts[1] = "{id}"
		}
	}
	return "/api/v1/" + strings.Join(parts, "/")
}

// responseWrapper wraps http.ResponseWriter to capture status code
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWrapper) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher
func (w *responseWrapper) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker for the WebSocket upgrade
func (w *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln, nil
}

// Start starts the server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting Chatterbox UI",
		"host", s.config.Host,
		"port", s.config.HTTPPort,
	)
	ln, err := s.listen()
	if err != nil {
		return err
	}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StartAsync starts the server asynchronously. The listener is bound
// before it returns, so Address is valid afterwards.
func (s *Server) StartAsync() error {
	s.logger.Info("Starting Chatterbox UI (async)",
		"host", s.config.Host,
		"port", s.config.HTTPPort,
	)
	ln, err := s.listen()
	if err != nil {
		return err
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server and ends all sessions
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping Chatterbox UI")

	err := s.httpServer.Shutdown(ctx)
	s.deps.Sessions.Close()
	if s.deps.Downloads != nil {
		s.deps.Downloads.Close()
	}
	return err
}

// Address returns the server address
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HealthRegistry returns the health check registry
func (s *Server) HealthRegistry() *health.Registry {
	return s.health
}
