package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gateway-bridge/internal/fulfillment"
)

const (
	fulfillRateLimit = 60
	ticketRateLimit  = 20
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.securityHeadersMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated: health, metrics, the debug feed (ticket-authenticated
		// in the handler itself, not via middleware).
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.rateLimitMiddleware(ticketRateLimit, rateLimitWindow)).
				Post("/auth/ws-ticket", s.handleWSTicket)

			r.With(s.rateLimitMiddleware(fulfillRateLimit, rateLimitWindow)).
				Post("/fulfillment", s.handleFulfillment)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"bridge":  s.bridgeID,
	})
}

// handleFulfillment is the fulfillment surface: decodes the request
// body, dispatches it to the fulfillment handler scoped to the caller's
// token subject, and writes back the aggregated response.
func (s *Server) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req fulfillment.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	resp := s.fulfillment.Handle(r.Context(), claims.Subject, req)
	writeJSON(w, http.StatusOK, resp)
}
