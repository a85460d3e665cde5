// Package api provides the HTTP server for wattd. It exposes the QoS
// status and history endpoints plus manual overload tracking for external
// producers.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wattbound/wattd/internal/health"
	"github.com/wattbound/wattd/internal/infra/gpumon"
	"github.com/wattbound/wattd/internal/infra/sqlite"
	"github.com/wattbound/wattd/internal/qos"
)

const defaultHistoryLimit = 50

// Server is the wattd HTTP API server.
type Server struct {
	controller     *qos.Controller
	db             *sqlite.DB
	checker        *health.Checker
	monitor        *gpumon.Monitor // nil when the GPU monitor is disabled
	nodeID         string
	version        string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(controller *qos.Controller, db *sqlite.DB, checker *health.Checker, nodeID, version string) *Server {
	return &Server{
		controller: controller,
		db:         db,
		checker:    checker,
		nodeID:     nodeID,
		version:    version,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetMonitor attaches the GPU monitor so status responses can include the
// latest busy sample.
func (s *Server) SetMonitor(m *gpumon.Monitor) { s.monitor = m }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"version": s.version,
			})
		})
		r.Route("/qos", func(r chi.Router) {
			r.Get("/", s.handleQoS)
			r.Get("/history", s.handleHistory)
			r.Post("/overload/begin", s.handleOverloadBegin)
			r.Post("/overload/end", s.handleOverloadEnd)
		})
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.checker.Statuses()
	status := http.StatusOK
	overall := "ok"
	if !s.checker.IsHealthy() {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": statuses,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"node_id":      s.nodeID,
		"version":      s.version,
		"qos_value":    s.controller.Value().String(),
		"state":        s.controller.State().String(),
		"active_count": s.controller.ActiveCount(),
	}
	if s.monitor != nil {
		if pct, at, ok := s.monitor.LastSample(); ok {
			resp["gpu_busy_percent"] = pct
			resp["gpu_sampled_at"] = at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQoS(w http.ResponseWriter, r *http.Request) {
	v := s.controller.Value()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"value":        v.String(),
		"target_hz":    int32(v),
		"default":      v.IsDefault(),
		"state":        s.controller.State().String(),
		"active_count": s.controller.ActiveCount(),
		"misuse_count": s.controller.MisuseCount(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	transitions, err := s.db.RecentTransitions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	periods, err := s.db.RecentOverloadPeriods(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transitions":      transitions,
		"overload_periods": periods,
	})
}

func (s *Server) handleOverloadBegin(w http.ResponseWriter, r *http.Request) {
	s.controller.OverloadBegin()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        s.controller.State().String(),
		"active_count": s.controller.ActiveCount(),
	})
}

func (s *Server) handleOverloadEnd(w http.ResponseWriter, r *http.Request) {
	before := s.controller.MisuseCount()
	s.controller.OverloadEnd()
	if s.controller.MisuseCount() > before {
		writeError(w, http.StatusConflict, "overload end without matching begin")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":        s.controller.State().String(),
		"active_count": s.controller.ActiveCount(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
