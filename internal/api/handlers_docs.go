package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docgraph/internal/graph"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.deps.Graph.ListDocuments(r.Context())
	if err != nil {
		s.log.Error("list documents failed", "error", err)
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []graph.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument removes a document's sections, edges and chunks.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.deps.Orchestrator.Builder().Delete(r.Context(), name)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		jsonError(w, "document not found", http.StatusNotFound)
	case err != nil:
		s.log.Error("delete document failed", "doc", name, "error", err)
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"deleted": name})
	}
}

// handleReset drops every document and the chunk collection.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Orchestrator.Builder().Reset(r.Context()); err != nil {
		s.log.Error("reset failed", "error", err)
		jsonError(w, "failed to reset graph", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}
