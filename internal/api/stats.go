package api

import (
	"net/http"
	"time"

	"github.com/seantiz/bulkq/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total   int                       `json:"total"`
	ByStage map[string]map[string]int `json:"by_stage"`
	Locked  int                       `json:"locked"`
}

// pollResponse is the JSON response for POST /v1/poll.
type pollResponse struct {
	Results []engine.PollResult `json:"results"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), time.Now().UTC())
	if err != nil {
		s.logger.Error("get entry stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	byStage := make(map[string]map[string]int, len(stats.CountByStage))
	for kind, stages := range stats.CountByStage {
		m := make(map[string]int, len(stages))
		for stage, n := range stages {
			m[string(stage)] = n
		}
		byStage[string(kind)] = m
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:   stats.Total,
		ByStage: byStage,
		Locked:  stats.LockedCount,
	})
}

// handlePoll runs one cycle on every engine. The host's own ticker keeps
// running; this only adds a cycle.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	manualPollsTotal.Inc()
	results := s.engines.PollAll(r.Context())
	if results == nil {
		results = []engine.PollResult{}
	}
	s.writeJSON(w, http.StatusOK, pollResponse{Results: results})
}
