// Package graph persists documents and their section trees as a property
// graph: document and section nodes joined by HAS_SECTION and HAS_SUBSECTION
// edges.
package graph

import (
	"context"
	"errors"

	"github.com/dgallion1/docgraph/internal/doctree"
)

// ErrNotFound is returned when a document or section does not exist.
var ErrNotFound = errors.New("graph: not found")

// Node is a stored section.
type Node struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	DocumentName     string    `json:"document"`
	Title            string    `json:"title"`
	Level            int       `json:"level"`
	StartLine        int       `json:"start_line"`
	EndLine          int       `json:"end_line"`
	Position         int       `json:"position"`
	Summary          string    `json:"summary,omitempty"`
	SummaryEmbedding []float32 `json:"-"`
}

// HasEmbedding reports whether the node carries a summary embedding.
func (n Node) HasEmbedding() bool { return len(n.SummaryEmbedding) > 0 }

// DocumentInfo is a document with its section count.
type DocumentInfo struct {
	doctree.Document
	Sections int `json:"sections"`
}

// Counts are whole-graph totals. Documents are counted as nodes.
type Counts struct {
	Documents int `json:"documents"`
	Sections  int `json:"sections"`
	Edges     int `json:"edges"`
}

// Nodes is documents plus sections.
func (c Counts) Nodes() int { return c.Documents + c.Sections }

// Filter narrows section queries. Zero fields match everything.
type Filter struct {
	Document     string `json:"document,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

// Store is the graph backend.
type Store interface {
	// SaveTree writes the document, every section and every edge in one
	// transaction, replacing a stored document with the same name. It
	// reports whether one was replaced. On error the store is unchanged.
	SaveTree(ctx context.Context, tree *doctree.Tree) (bool, error)
	// IDPrefix returns a section id prefix derived from base that no other
	// document holds. name keeps the prefix it already has.
	IDPrefix(ctx context.Context, name, base string) (string, error)
	// DeleteDocument removes a document with its sections and edges and
	// returns what was deleted.
	DeleteDocument(ctx context.Context, name string) (doctree.Document, error)
	GetDocument(ctx context.Context, name string) (doctree.Document, error)
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)

	GetNode(ctx context.Context, id string) (Node, error)
	// Parent returns the parent section, or nil for a top-level section.
	Parent(ctx context.Context, id string) (*Node, error)
	Children(ctx context.Context, id string) ([]Node, error)
	// Neighbors returns sections within depth hops along section edges in
	// either direction, excluding id itself.
	Neighbors(ctx context.Context, id string, depth int) ([]Node, error)

	// MatchKeywords returns sections whose title or summary contains any of
	// the keywords under Unicode case folding, in document order.
	MatchKeywords(ctx context.Context, keywords []string, limit int, f Filter) ([]Node, error)
	// EmbeddedSections returns every section that carries a summary embedding.
	EmbeddedSections(ctx context.Context, f Filter) ([]Node, error)
	// SectionEdges returns parent → child edges between sections.
	SectionEdges(ctx context.Context, f Filter) ([]doctree.Edge, error)

	Counts(ctx context.Context) (Counts, error)
	// Clear deletes everything.
	Clear(ctx context.Context) error
	Close() error
}
