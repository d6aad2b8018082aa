// Package http exposes the service's operational endpoints: health,
// readiness, metrics, and a read-only view of the station catalog.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/pipeline"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/stations"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes health, readiness, metrics, and station HTTP endpoints.
type Server struct {
	httpServer *http.Server
	registry   *stations.Registry
	store      pipeline.SeriesStore
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// /stations routes.
func NewServer(addr string, ready ReadinessChecker, registry *stations.Registry, store pipeline.SeriesStore, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		registry: registry,
		store:    store,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stations", s.handleStations)
	mux.HandleFunc("GET /stations/{id}", s.handleStation)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleStations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

// stationSummary is the ops view of one station's stored series.
type stationSummary struct {
	Station     string `json:"station"`
	StationName string `json:"stationName,omitempty"`
	Region      string `json:"region,omitempty"`
	Source      string `json:"source,omitempty"`
	Readings    int    `json:"readings"`
	Corrected   int    `json:"corrected"`
	FirstAt     string `json:"firstAt,omitempty"`
	LastAt      string `json:"lastAt,omitempty"`
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	series, found, err := s.store.Load(r.Context(), id)
	if err != nil {
		s.logger.Error("station lookup failed", "station", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}
	if !found {
		if _, known := s.registry.Lookup(id); !known {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown station"})
			return
		}
		series = s.registry.Series(id)
	}

	summary := stationSummary{
		Station:     series.StationID,
		StationName: series.StationName,
		Region:      series.Region,
		Source:      series.Source,
		Readings:    len(series.Readings),
	}
	for _, reading := range series.Readings {
		if reading.Corrected {
			summary.Corrected++
		}
	}
	if n := len(series.Readings); n > 0 {
		summary.FirstAt = series.Readings[0].Timestamp.Format(time.RFC3339)
		summary.LastAt = series.Readings[n-1].Timestamp.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
