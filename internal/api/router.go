package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsCfg.Enabled && s.env.Metrics != nil {
		r.Handle(s.metricsCfg.Path, s.env.Metrics.Handler())
	}

	// One session per websocket connection.
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	if s.cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.isClosing() {
		status, code = "closing", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"sessions":       s.hub.ClientCount(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
