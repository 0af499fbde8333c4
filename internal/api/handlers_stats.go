package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.LLM.Stats == nil && s.deps.Embedding.Stats == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"llm": map[string]any{
			"model": s.deps.LLM.Model,
			"stats": s.deps.LLM.Stats.Snapshot(),
		},
		"embedding": map[string]any{
			"model": s.deps.Embedding.Model,
			"stats": s.deps.Embedding.Stats.Snapshot(),
		},
	})
}

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Graph.Counts(r.Context())
	if err != nil {
		s.log.Error("graph counts failed", "error", err)
		jsonError(w, "failed to count graph", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":   counts.Documents,
		"sections":    counts.Sections,
		"nodes":       counts.Nodes(),
		"edges":       counts.Edges,
		"queue_depth": s.deps.Orchestrator.QueueDepth(),
	})
}
