package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/bulkq/internal/engine"
	"github.com/seantiz/bulkq/internal/model"
	"github.com/seantiz/bulkq/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB, feed payloads included
)

// queueEntryRequest is the JSON body for POST /v1/{kind}/entries. Payload is
// base64 encoded.
type queueEntryRequest struct {
	Region          string            `json:"region"`
	AccountID       string            `json:"account_id"`
	WorkType        string            `json:"work_type"`
	Payload         []byte            `json:"payload"`
	ScopeParameters map[string]string `json:"scope_parameters"`
	Callback        *model.Callback   `json:"callback"`
}

// entryResponse adds the derived stage to an entry.
type entryResponse struct {
	*model.WorkEntry
	Stage model.Stage `json:"stage"`
}

// listEntriesResponse wraps the paginated list response.
type listEntriesResponse struct {
	Entries []entryResponse `json:"entries"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func newEntryResponse(e *model.WorkEntry) entryResponse {
	return entryResponse{WorkEntry: e, Stage: e.Stage()}
}

// pathKind returns the kind in the URL, writing a 400 if it is unknown.
func (s *Server) pathKind(w http.ResponseWriter, r *http.Request) (model.Kind, bool) {
	kind := model.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown kind")
		return "", false
	}
	return kind, true
}

func (s *Server) handleQueueEntry(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.pathKind(w, r)
	if !ok {
		return
	}

	var req queueEntryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	scope := model.Scope{Kind: kind, Region: req.Region, AccountID: req.AccountID}
	eng, ok := s.engines.Engine(scope)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no engine for scope "+scope.String())
		return
	}

	entry, err := eng.Queue(r.Context(), engine.QueueRequest{
		WorkType:        req.WorkType,
		Payload:         req.Payload,
		ScopeParameters: req.ScopeParameters,
		Callback:        req.Callback,
	})
	if errors.Is(err, engine.ErrInvalidEntry) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("queue entry", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to queue entry")
		return
	}

	recordQueued(scope)
	s.writeJSON(w, http.StatusCreated, newEntryResponse(entry))
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.logger.Error("get entry", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get entry")
		return
	}

	s.writeJSON(w, http.StatusOK, newEntryResponse(entry))
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.pathKind(w, r)
	if !ok {
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	q := r.URL.Query()
	stage := model.Stage(q.Get("stage"))
	if stage != "" && !slices.Contains(model.Stages, stage) {
		s.writeError(w, http.StatusBadRequest, "unknown stage")
		return
	}

	entries, err := s.store.Find(r.Context(), store.Query{
		Kind:      kind,
		Region:    q.Get("region"),
		AccountID: q.Get("account_id"),
		Stage:     stage,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.logger.Error("list entries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	resp := listEntriesResponse{
		Entries: make([]entryResponse, 0, len(entries)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, newEntryResponse(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
