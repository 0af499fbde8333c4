package retrieval

import (
	"github.com/dgallion1/docgraph/internal/graph"
)

// Result is one ranked hit. The shared fields are always set; exactly one
// of the strategy-specific detail fields is non-nil, matching Kind.
type Result struct {
	ID       string         `json:"id"`
	Kind     Mode           `json:"kind"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`

	Structural *StructuralHit `json:"structural,omitempty"`
	Summary    *SummaryHit    `json:"summary,omitempty"`
	Content    *ContentHit    `json:"content,omitempty"`
	Hybrid     *HybridHit     `json:"hybrid,omitempty"`
	Expansion  *ExpansionHit  `json:"expansion,omitempty"`
}

// StructuralHit is a keyword match on a section title or summary.
type StructuralHit struct {
	Keywords []string `json:"keywords"`
}

// SummaryHit is a section ranked by summary-embedding similarity.
type SummaryHit struct {
	Similarity float64 `json:"similarity"`
}

// ContentHit is a content chunk from the vector index.
type ContentHit struct {
	NodeID      string  `json:"node_id"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	StartLine   int     `json:"start_line"`
	EndLine     int     `json:"end_line"`
	Distance    float64 `json:"distance"`
}

// NodeRef is a compact reference to a neighboring section.
type NodeRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Level   int    `json:"level"`
	Summary string `json:"summary,omitempty"`
}

// HybridHit explains a fused score. StructuralRank is -1 when the section
// was not a structural hit; Similarity is 0 when it was not a vector hit.
type HybridHit struct {
	StructuralRank int       `json:"structural_rank"`
	Similarity     float64   `json:"similarity"`
	GraphScore     float64   `json:"graph_score"`
	VectorScore    float64   `json:"vector_score"`
	Parent         *NodeRef  `json:"parent,omitempty"`
	Children       []NodeRef `json:"children,omitempty"`
}

// ExpansionHit explains a graph-expansion score.
type ExpansionHit struct {
	Primary      float64 `json:"primary"`
	RelatedBoost float64 `json:"related_boost"`
	BestNeighbor string  `json:"best_neighbor,omitempty"`
	Neighbors    int     `json:"neighbors"`
}

func refOf(n graph.Node) NodeRef {
	return NodeRef{ID: n.ID, Title: n.Title, Level: n.Level, Summary: n.Summary}
}

// sectionResult fills the shared fields for a section node.
func sectionResult(n graph.Node, kind Mode, score float64) Result {
	text := n.Summary
	if text == "" {
		text = n.Title
	}
	return Result{
		ID:    n.ID,
		Kind:  kind,
		Score: score,
		Text:  text,
		Metadata: map[string]any{
			"document":   n.DocumentName,
			"node_id":    n.ID,
			"title":      n.Title,
			"level":      n.Level,
			"start_line": n.StartLine,
			"end_line":   n.EndLine,
		},
	}
}
