// Package health serves liveness, readiness and metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the readiness snapshot of the service
type Status struct {
	Status             string    `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds      int64     `json:"uptime_seconds"`
	ExtractorDegraded  bool      `json:"extractor_degraded"`
	ClassifierDegraded bool      `json:"classifier_degraded"`
	ActiveSessions     int       `json:"active_sessions"`
	MQTTConnected      bool      `json:"mqtt_connected"`
	CameraConnected    bool      `json:"camera_connected"`
	Reasons            []string  `json:"reasons,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Source provides the data behind the endpoints
type Source interface {
	HealthCheck() Status
	// Metrics returns a JSON-serializable statistics snapshot
	Metrics() any
}

// Server is the HTTP health endpoint
type Server struct {
	source  Source
	started time.Time
	server  *http.Server
}

// NewServer creates a server listening on addr (e.g. ":8080")
func NewServer(addr string, source Source) *Server {
	s := &Server{
		source:  source,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.LivenessHandler)
	mux.HandleFunc("/readiness", s.ReadinessHandler)
	mux.HandleFunc("/metrics", s.MetricsHandler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the port and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("health: failed to listen on %s: %w", s.server.Addr, err)
	}

	slog.Info("health: server started",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health: server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// LivenessHandler handles /health. Returns 200 while the process is up.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// ReadinessHandler handles /readiness. Degraded is still ready (200);
// unhealthy returns 503.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := s.source.HealthCheck()

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// MetricsHandler handles /metrics with the source's statistics as JSON
func (s *Server) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Metrics())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: failed to write response", "error", err)
	}
}
