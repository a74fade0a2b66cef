package remotetest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/bulkq/internal/remote"
)

// Handler serves fakes over the remote service's JSON HTTP API. Each kind's
// collection is routed to its own fake.
func Handler(fakes map[string]*Fake) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1/{collection}", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			f, ok := lookup(w, req, fakes)
			if !ok {
				return
			}
			var body remote.SubmitRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeRemoteError(w, &remote.Error{Code: remote.CodeInvalidRequest, Message: err.Error(), StatusCode: http.StatusBadRequest})
				return
			}
			id, err := f.Submit(req.Context(), body)
			if err != nil {
				writeRemoteError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"request_id": id})
		})

		r.Post("/status", func(w http.ResponseWriter, req *http.Request) {
			f, ok := lookup(w, req, fakes)
			if !ok {
				return
			}
			var body struct {
				IDs []string `json:"ids"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeRemoteError(w, &remote.Error{Code: remote.CodeInvalidRequest, Message: err.Error(), StatusCode: http.StatusBadRequest})
				return
			}
			infos, err := f.PollStatuses(req.Context(), body.IDs)
			if err != nil {
				writeRemoteError(w, err)
				return
			}
			if infos == nil {
				infos = []remote.StatusInfo{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"statuses": infos})
		})

		r.Get("/results/{resultID}", func(w http.ResponseWriter, req *http.Request) {
			f, ok := lookup(w, req, fakes)
			if !ok {
				return
			}
			body, checksum, err := f.Download(req.Context(), chi.URLParam(req, "resultID"))
			if err != nil {
				writeRemoteError(w, err)
				return
			}
			defer body.Close()
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-MD5", checksum)
			w.WriteHeader(http.StatusOK)
			io.Copy(w, body)
		})
	})
	return r
}

func lookup(w http.ResponseWriter, r *http.Request, fakes map[string]*Fake) (*Fake, bool) {
	f, ok := fakes[chi.URLParam(r, "collection")]
	if !ok {
		writeRemoteError(w, &remote.Error{Code: remote.CodeInvalidRequest, Message: "unknown collection", StatusCode: http.StatusNotFound})
	}
	return f, ok
}

func writeRemoteError(w http.ResponseWriter, err error) {
	var re *remote.Error
	if !errors.As(err, &re) {
		re = &remote.Error{Code: "InternalError", Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}
	status := re.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, re)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
