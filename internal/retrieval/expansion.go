package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/dgallion1/docgraph/internal/embedding"
	"github.com/dgallion1/docgraph/internal/graph"
)

// graphExpansion reranks every embedded section by its own similarity plus
// a damped boost from its best-matching embedded neighbor within
// ExpansionDepth hops. Any backend failure falls back to the summary
// strategy.
func (r *Router) graphExpansion(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	results, err := r.expand(ctx, query, topK, f)
	if err != nil {
		r.log.Warn("graph expansion failed, falling back to summary search", "error", err)
		return r.summary(ctx, query, topK, f)
	}
	return results, nil
}

func (r *Router) expand(ctx context.Context, query string, topK int, f Filter) ([]Result, error) {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	nodes, err := r.store.EmbeddedSections(ctx, f.graph())
	if err != nil {
		return nil, fmt.Errorf("load embedded sections: %w", err)
	}
	edges, err := r.store.SectionEdges(ctx, f.graph())
	if err != nil {
		return nil, fmt.Errorf("load section edges: %w", err)
	}

	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}
	sims := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		sims[n.ID] = embedding.Cosine(vec, n.SummaryEmbedding)
	}

	type expanded struct {
		node graph.Node
		hit  ExpansionHit
	}
	ranked := make([]expanded, len(nodes))
	for i, n := range nodes {
		hit := ExpansionHit{Primary: sims[n.ID]}
		best := math.Inf(-1)
		for _, id := range neighborsWithin(adj, n.ID, r.cfg.ExpansionDepth) {
			sim, ok := sims[id]
			if !ok {
				continue
			}
			hit.Neighbors++
			if sim > best {
				best, hit.BestNeighbor = sim, id
			}
		}
		if hit.Neighbors > 0 {
			hit.RelatedBoost = best * r.cfg.ExpansionDamping
		}
		ranked[i] = expanded{node: n, hit: hit}
	}
	score := func(e expanded) float64 { return e.hit.Primary + e.hit.RelatedBoost }
	sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i]) > score(ranked[j]) })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Result, len(ranked))
	for i, e := range ranked {
		hit := e.hit
		out[i] = sectionResult(e.node, ModeGraphExpansion, score(e))
		out[i].Expansion = &hit
	}
	return out, nil
}

// neighborsWithin walks adj breadth-first up to depth hops from id and
// returns every node reached, excluding id.
func neighborsWithin(adj map[string][]string, id string, depth int) []string {
	seen := map[string]bool{id: true}
	frontier := []string{id}
	var out []string
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, nb := range adj[cur] {
				if seen[nb] {
					continue
				}
				seen[nb] = true
				out = append(out, nb)
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return out
}
