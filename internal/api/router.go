package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/purelink-bridge/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermChannelRead))
				r.Get("/state", s.handleGetState)
				r.Get("/channels", s.handleListChannels)
				r.Get("/channels/{unit}", s.handleGetChannel)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermChannelOperate))
				r.Post("/state/refresh", s.handleRefreshState)
				r.Post("/channels/{unit}/command", s.handleChannelCommand)
			})
		})
	})

	return r
}

// wsPath returns the configured WebSocket route under /api/v1.
func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"device":         m.Serial,
		"device_session": m.SessionState,
	})
}
