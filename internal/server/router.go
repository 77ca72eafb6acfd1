package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/logworker/internal/handlers"
	"github.com/telhawk-systems/logworker/internal/middleware"
)

// NewRouter constructs a ServeMux with the worker's routes registered.
func NewRouter(h *handlers.LogHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/logs", h.Submit)
	mux.HandleFunc("POST /api/logs/batch", h.Publish)
	mux.HandleFunc("GET /api/stats", h.Stats)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
