package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgallion1/docgraph/internal/embedding"
	"github.com/dgallion1/docgraph/internal/graph"
)

// structural matches query keywords against section titles and summaries.
// Every hit scores 1.0 and keeps graph scan order.
func (r *Router) structural(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	keywords := ExtractKeywords(query, r.cfg.MaxKeywords)
	if len(keywords) == 0 {
		return nil, nil
	}
	nodes, err := r.store.MatchKeywords(ctx, keywords, topK, f.graph())
	if err != nil {
		return nil, fmt.Errorf("structural search: %w", err)
	}
	out := make([]Result, len(nodes))
	for i, n := range nodes {
		out[i] = sectionResult(n, ModeNodeName, 1.0)
		out[i].Structural = &StructuralHit{Keywords: keywords}
	}
	return out, nil
}

type scoredNode struct {
	node  graph.Node
	score float64
}

// rankBySummary scores every embedded section against vec, best first.
// Equal scores keep graph scan order.
func (r *Router) rankBySummary(ctx context.Context, vec []float32, f Filter) ([]scoredNode, error) {
	nodes, err := r.store.EmbeddedSections(ctx, f.graph())
	if err != nil {
		return nil, fmt.Errorf("load embedded sections: %w", err)
	}
	scored := make([]scoredNode, len(nodes))
	for i, n := range nodes {
		scored[i] = scoredNode{node: n, score: embedding.Cosine(vec, n.SummaryEmbedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored, nil
}

// summary is a full scan over section summary embeddings.
func (r *Router) summary(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := r.rankBySummary(ctx, vec, f)
	if err != nil {
		return nil, err
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = sectionResult(s.node, ModeSummary, s.score)
		out[i].Summary = &SummaryHit{Similarity: s.score}
	}
	return out, nil
}

// content is a nearest-neighbor lookup over content chunks.
func (r *Router) content(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, r.cfg.Collection, vec, topK, f.vector())
	if err != nil {
		return nil, fmt.Errorf("content search: %w", err)
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		out[i] = Result{
			ID:       m.ID,
			Kind:     ModeContent,
			Score:    1 - m.Distance,
			Text:     m.Text,
			Metadata: meta,
			Content: &ContentHit{
				NodeID:      metaString(meta, "node_id"),
				ChunkIndex:  metaInt(meta, "chunk_index"),
				TotalChunks: metaInt(meta, "total_chunks"),
				StartLine:   metaInt(meta, "start_line"),
				EndLine:     metaInt(meta, "end_line"),
				Distance:    m.Distance,
			},
		}
	}
	return out, nil
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// metaInt reads a number that may have round-tripped through JSON.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
