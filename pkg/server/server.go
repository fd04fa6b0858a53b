// Package server runs the management HTTP endpoint of long running backupstore
// commands: liveness, readiness backed by the health registry, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nimburion/backupstore/pkg/health"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// Config holds configuration for the management server.
type Config struct {
	Address         string
	MetricsPath     string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// ManagementServer serves /health, /ready and the metrics path.
type ManagementServer struct {
	config     Config
	health     *health.Registry
	metrics    *metrics.Registry
	logger     logger.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewManagementServer wires the endpoints. Nothing listens until Start.
func NewManagementServer(cfg Config, healthRegistry *health.Registry, metricsRegistry *metrics.Registry, log logger.Logger) *ManagementServer {
	if log == nil {
		log = logger.Nop()
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry()
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}
	s := &ManagementServer{
		config:  cfg.normalize(),
		health:  healthRegistry,
		metrics: metricsRegistry,
		logger:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET "+s.config.MetricsPath, s.metrics.Handler())
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}
	return s
}

// Handler returns the endpoint multiplexer.
func (s *ManagementServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the bound address once Start is listening.
func (s *ManagementServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and serves until ctx is cancelled, then shuts down gracefully. It
// returns early if the address cannot be bound.
func (s *ManagementServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("management server failed to listen on %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("starting management server", "address", listener.Addr().String(), "metrics_path", s.config.MetricsPath)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("management server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown stops accepting connections and waits for in-flight requests, bounded by
// the configured shutdown timeout.
func (s *ManagementServer) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown failed: %w", err)
	}
	s.logger.Info("management server stopped")
	return nil
}

// handleHealth is a liveness probe and does not check dependencies.
func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
}

// handleReady runs every registered check. Degraded backends still serve traffic.
func (s *ManagementServer) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
