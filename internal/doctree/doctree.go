package doctree

import (
	"fmt"
	"strings"
)

// Relation names a directed edge type in the section graph.
type Relation string

const (
	// RelHasSection links a document to each of its top-level sections.
	RelHasSection Relation = "HAS_SECTION"
	// RelHasSubsection links a section to each direct child section.
	RelHasSubsection Relation = "HAS_SUBSECTION"
)

// Document is the root of one ingested source.
type Document struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SourcePath   string `json:"source_path"`
	DocumentType string `json:"document_type,omitempty"` // e.g. "is_rule"
	IDPrefix     string `json:"id_prefix,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// SectionPrefix is the prefix of the document's section ids: IDPrefix when
// set, otherwise the slug of the name.
func (d Document) SectionPrefix() string {
	if d.IDPrefix != "" {
		return d.IDPrefix
	}
	return Slugify(d.Name)
}

// Section is one heading-delimited region of a document.
// Line numbers are 0-indexed and inclusive.
type Section struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Level            int        `json:"level"`
	StartLine        int        `json:"start_line"`
	EndLine          int        `json:"end_line"`
	Summary          string     `json:"summary,omitempty"`
	SummaryEmbedding []float32  `json:"-"`
	Parent           *Section   `json:"-"`
	Children         []*Section `json:"-"`
}

// IsRoot reports whether s is the virtual level-0 root.
func (s *Section) IsRoot() bool { return s.Level == 0 }

// Edge is a directed parent → child link.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

// Tree is a parsed document: its source lines plus a section forest hung
// under a virtual root.
type Tree struct {
	Document Document
	Lines    []string
	Root     *Section
}

// Sections returns every non-root section in document order (pre-order).
func (t *Tree) Sections() []*Section {
	if t.Root == nil {
		return nil
	}
	var out []*Section
	stack := make([]*Section, 0, len(t.Root.Children))
	for i := len(t.Root.Children) - 1; i >= 0; i-- {
		stack = append(stack, t.Root.Children[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}

// Edges returns the document → top-level and parent → child edges in
// document order.
func (t *Tree) Edges() []Edge {
	var edges []Edge
	for _, s := range t.Sections() {
		if s.Parent == nil || s.Parent.IsRoot() {
			edges = append(edges, Edge{From: t.Document.ID, To: s.ID, Relation: RelHasSection})
			continue
		}
		edges = append(edges, Edge{From: s.Parent.ID, To: s.ID, Relation: RelHasSubsection})
	}
	return edges
}

// ValidRange reports whether s has a usable line range within the source.
func (t *Tree) ValidRange(s *Section) bool {
	return s.StartLine >= 0 && s.EndLine >= s.StartLine && s.EndLine < len(t.Lines)
}

// Text returns the section's full text including its heading line.
func (t *Tree) Text(s *Section) string {
	if !t.ValidRange(s) {
		return ""
	}
	return strings.Join(t.Lines[s.StartLine:s.EndLine+1], "\n")
}

// Body returns the section's own content: the lines after its heading up to
// its end line, trimmed. Child sections are not included.
func (t *Tree) Body(s *Section) string {
	if !t.ValidRange(s) || s.StartLine == s.EndLine {
		return ""
	}
	return strings.TrimSpace(strings.Join(t.Lines[s.StartLine+1:s.EndLine+1], "\n"))
}

// Chunk is a token-budgeted slice of a section's text, indexed in the
// vector index. It is never persisted in the graph.
type Chunk struct {
	Document     string    `json:"document"`
	ParentNodeID string    `json:"node_id"`
	Title        string    `json:"title"`
	Level        int       `json:"level"`
	ChunkIndex   int       `json:"chunk_index"`
	TotalChunks  int       `json:"total_chunks"`
	StartLine    int       `json:"start_line"`
	EndLine      int       `json:"end_line"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
}

// Key is the composite vector index id: {document}_{nodeId}_{chunkIndex}.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s_%s_%d", c.Document, c.ParentNodeID, c.ChunkIndex)
}
