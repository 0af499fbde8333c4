package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgallion1/docgraph/internal/graph"
)

type fused struct {
	node        graph.Node
	rank        int // structural rank, -1 if absent
	similarity  float64
	graphScore  float64
	vectorScore float64
}

func (f fused) score() float64 { return f.graphScore + f.vectorScore }

// fuse combines a structural hit list with a similarity-ranked list. A
// structural hit at rank r adds graphWeight/(r+1); a vector hit adds
// vectorWeight times its similarity, clamped at zero. Ties keep first-seen
// order: structural hits, then vector-only hits.
func fuse(structural []graph.Node, vector []scoredNode, graphWeight, vectorWeight float64) []fused {
	byID := make(map[string]int, len(structural)+len(vector))
	var out []fused

	for r, n := range structural {
		if _, dup := byID[n.ID]; dup {
			continue
		}
		byID[n.ID] = len(out)
		out = append(out, fused{node: n, rank: r, graphScore: graphWeight / float64(r+1)})
	}
	seenVec := make(map[string]bool, len(vector))
	for _, s := range vector {
		if seenVec[s.node.ID] {
			continue
		}
		seenVec[s.node.ID] = true
		i, ok := byID[s.node.ID]
		if !ok {
			i = len(out)
			byID[s.node.ID] = i
			out = append(out, fused{node: s.node, rank: -1})
		}
		out[i].similarity = s.score
		out[i].vectorScore = vectorWeight * max(s.score, 0)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score() > out[j].score() })
	return out
}

// hybrid fuses the structural and summary strategies, each fetching
// 2*topK candidates, and enriches the survivors with parent and children.
func (r *Router) hybrid(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	candidates := topK * 2

	var structural []graph.Node
	var structErr error
	if keywords := ExtractKeywords(query, r.cfg.MaxKeywords); len(keywords) > 0 {
		structural, structErr = r.store.MatchKeywords(ctx, keywords, candidates, f.graph())
		if structErr != nil {
			r.log.Warn("hybrid: structural search failed", "error", structErr)
		}
	}

	var vector []scoredNode
	vec, vecErr := r.emb.Embed(ctx, query)
	if vecErr == nil {
		vector, vecErr = r.rankBySummary(ctx, vec, f)
	}
	if vecErr != nil {
		r.log.Warn("hybrid: summary search failed", "error", vecErr)
	}
	if structErr != nil && vecErr != nil {
		return nil, fmt.Errorf("hybrid: %w", errors.Join(structErr, vecErr))
	}
	if len(vector) > candidates {
		vector = vector[:candidates]
	}

	merged := fuse(structural, vector, r.cfg.GraphWeight, r.cfg.VectorWeight)
	if len(merged) > topK {
		merged = merged[:topK]
	}

	out := make([]Result, len(merged))
	for i, m := range merged {
		hit := &HybridHit{
			StructuralRank: m.rank,
			Similarity:     m.similarity,
			GraphScore:     m.graphScore,
			VectorScore:    m.vectorScore,
		}
		r.enrich(ctx, m.node.ID, hit)
		out[i] = sectionResult(m.node, ModeHybrid, m.score())
		out[i].Hybrid = hit
	}
	return out, nil
}

// enrich attaches one-hop parent and children. Failures only drop context.
func (r *Router) enrich(ctx context.Context, id string, hit *HybridHit) {
	parent, err := r.store.Parent(ctx, id)
	if err != nil {
		r.log.Warn("hybrid: parent lookup failed", "node_id", id, "error", err)
	} else if parent != nil {
		ref := refOf(*parent)
		hit.Parent = &ref
	}
	children, err := r.store.Children(ctx, id)
	if err != nil {
		r.log.Warn("hybrid: children lookup failed", "node_id", id, "error", err)
		return
	}
	for _, c := range children {
		hit.Children = append(hit.Children, refOf(c))
	}
}
