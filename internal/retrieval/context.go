package retrieval

import (
	"context"
	"fmt"

	"github.com/dgallion1/docgraph/internal/graph"
)

// NodeContext is a section with optional one-hop surroundings.
type NodeContext struct {
	Node     graph.Node   `json:"node"`
	Parent   *graph.Node  `json:"parent,omitempty"`
	Children []graph.Node `json:"children,omitempty"`
}

// NodeContext loads a section and, on request, its parent and children. A
// top-level section has no parent. Missing ids yield graph.ErrNotFound.
func (r *Router) NodeContext(ctx context.Context, id string, includeParent, includeChildren bool) (NodeContext, error) {
	n, err := r.store.GetNode(ctx, id)
	if err != nil {
		return NodeContext{}, err
	}
	out := NodeContext{Node: n}
	if includeParent {
		if out.Parent, err = r.store.Parent(ctx, id); err != nil {
			return out, fmt.Errorf("parent of %s: %w", id, err)
		}
	}
	if includeChildren {
		if out.Children, err = r.store.Children(ctx, id); err != nil {
			return out, fmt.Errorf("children of %s: %w", id, err)
		}
	}
	return out, nil
}
