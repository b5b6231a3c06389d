package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultWSPath is used when websocket.path is not configured.
const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth, like /health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Cached state; never waits on the pod
			r.Get("/snapshot", s.handleGetSnapshot)
			r.Get("/snapshot/{category}", s.handleGetCategory)
			r.Get("/derived", s.handleGetDerived)
			r.Get("/presets", s.handleListPresets)
			r.Get("/history", s.handleGetHistory)

			// Live reads
			r.Get("/device/version", s.handleGetDeviceVersion)

			// Command gateway
			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommandKinds)
				r.Get("/log", s.handleListCommandLog)
				r.Post("/{kind}", s.handleExecuteCommand)
			})
			r.Post("/refresh", s.handleRefresh)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)
	})

	// Web app (SPA fallback for anything not matched above)
	if s.ui != nil {
		r.Handle("/*", s.ui)
	}

	return r
}

// wsPath returns the WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return defaultWSPath
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.state.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"pod_id":        s.podID,
		"pod_available": snap.Available,
	})
}
