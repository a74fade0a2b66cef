package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/seantiz/bulkq/internal/store"
)

const readyTimeout = 2 * time.Second

type healthResponse struct {
	Status  string `json:"status"`
	Engines int    `json:"engines"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Engines: len(s.engines.Engines())}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

// handleReadyz reports whether the entry store answers queries.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Engines: len(s.engines.Engines())}
	status := http.StatusOK
	if _, err := s.store.Find(ctx, store.Query{Limit: 1}); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		resp.Status = "unavailable"
		resp.Error = "store unreachable"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
