package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "mktcalc",
		"journal": "disabled",
	}

	if s.journal != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.journal.QuickCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Journal health check failed")
			response["status"] = "unhealthy"
			response["journal"] = "error"
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response["journal"] = "ok"
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handlePing answers liveness probes with the server clock
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ALIVE-%d", time.Now().UnixMilli())
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
