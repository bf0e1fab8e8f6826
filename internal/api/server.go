// Package api exposes the query pipeline over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/internal/metrics"
	"github.com/jordanhubbard/queryforge/internal/orchestrator"
	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/pkg/config"
)

// Server represents the HTTP API server
type Server struct {
	orch     *orchestrator.Orchestrator
	sessions session.Store
	db       *database.Database
	config   *config.Config
	metrics  *metrics.Metrics
}

// NewServer creates a new API server. db may be nil when lessons live
// only in the curated file.
func NewServer(orch *orchestrator.Orchestrator, sessions session.Store, db *database.Database, cfg *config.Config) *Server {
	return &Server{
		orch:     orch,
		sessions: sessions,
		db:       db,
		config:   cfg,
		metrics:  metrics.NewMetrics(),
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Query pipeline
	mux.HandleFunc("/api/v1/queries", s.handleSubmit)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSession)

	// Lessons
	mux.HandleFunc("/api/v1/lessons", s.handleLessons)
	mux.HandleFunc("/api/v1/lessons/", s.handleLesson)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Apply middleware
	handler := s.metricsMiddleware(mux)
	handler = s.authMiddleware(handler)
	return otelhttp.NewHandler(handler, "queryforge-http-server")
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

// metricsMiddleware records request counts and latency.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := routePattern(r.URL.Path)
		s.metrics.HTTPRequestsTotal.WithLabelValues(path, r.Method, http.StatusText(rec.status)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

// authMiddleware enforces bearer token auth when enabled.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes and scrapers.
		if r.URL.Path == "/api/v1/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.config.Security.EnableAuth {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if err := validateToken(token, s.config.Security.JWTSecret); err != nil {
			s.respondError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routePattern collapses ids so metric labels stay low-cardinality.
func routePattern(path string) string {
	for _, prefix := range []string{"/api/v1/sessions/", "/api/v1/lessons/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + ":id"
		}
	}
	return path
}

// Helper functions

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses JSON request body
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts ID from URL path
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")

	parts := strings.Split(id, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return id
}
