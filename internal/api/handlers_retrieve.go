package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/retrieval"
)

const maxQueryBody = 1 << 20

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)
	var q retrieval.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.deps.Retriever.Retrieve(r.Context(), q)
	if errors.Is(err, retrieval.ErrEmptyQuery) || errors.Is(err, retrieval.ErrUnknownMode) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Error("retrieve failed", "error", err)
		jsonError(w, "retrieval failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNodeContext returns a section with its parent and children. Either
// can be switched off with ?parent=false or ?children=false.
func (s *Server) handleNodeContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	nc, err := s.deps.Retriever.NodeContext(r.Context(), id,
		boolParam(r, "parent", true), boolParam(r, "children", true))
	switch {
	case errors.Is(err, graph.ErrNotFound):
		jsonError(w, "section not found", http.StatusNotFound)
	case err != nil:
		s.log.Error("node context failed", "node_id", id, "error", err)
		jsonError(w, "failed to load section", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, nc)
	}
}

func boolParam(r *http.Request, key string, fallback bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
