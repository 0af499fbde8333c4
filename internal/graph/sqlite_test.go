package graph

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/parser"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTree(name string) *doctree.Tree {
	doc := doctree.NewDocument(name, "/docs/"+name+".md", "")
	tree := parser.Parse(doc, "# Intro\ntext\n## Scope\nscope text\n### Detail\nfine print\n# Triage Protocol\nsteps\n")
	for _, s := range tree.Sections() {
		s.Summary = "about " + strings.ToLower(s.Title)
		s.SummaryEmbedding = []float32{float32(s.Level), 1}
	}
	return tree
}

func TestSaveTreeAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveTree(ctx, sampleTree("guide")); err != nil {
		t.Fatalf("save: %v", err)
	}
	c, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	// 4 sections; edges: doc->Intro, Intro->Scope, Scope->Detail, doc->Triage.
	if c.Documents != 1 || c.Sections != 4 || c.Edges != 4 {
		t.Errorf("unexpected counts %+v", c)
	}

	n, err := s.GetNode(ctx, "guide_h3")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if n.Title != "Detail" || n.Level != 3 || n.DocumentName != "guide" || n.StartLine != 4 || n.EndLine != 5 {
		t.Errorf("unexpected node %+v", n)
	}
	if len(n.SummaryEmbedding) != 2 || n.SummaryEmbedding[0] != 3 {
		t.Errorf("embedding not round-tripped: %v", n.SummaryEmbedding)
	}
}

func TestSaveTreeIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tree := sampleTree("broken")
	// Duplicate a section id so the second insert fails mid-transaction.
	tree.Root.Children[0].Children[0].ID = tree.Root.Children[0].ID

	if _, err := s.SaveTree(ctx, tree); err == nil {
		t.Fatal("expected save to fail on duplicate section id")
	}
	c, _ := s.Counts(ctx)
	if c.Documents != 0 || c.Sections != 0 || c.Edges != 0 {
		t.Errorf("partial write visible: %+v", c)
	}
}

func TestSaveTreeReplacesByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if replaced, err := s.SaveTree(ctx, sampleTree("guide")); err != nil || replaced {
		t.Fatalf("first save: replaced=%v, %v", replaced, err)
	}
	first, _ := s.Counts(ctx)
	second := sampleTree("guide")
	if replaced, err := s.SaveTree(ctx, second); err != nil || !replaced {
		t.Fatalf("second save: replaced=%v, %v", replaced, err)
	}
	if c, _ := s.Counts(ctx); c != first {
		t.Errorf("replacement changed counts: %+v vs %+v", c, first)
	}

	// A failing replacement leaves the stored version in place.
	broken := sampleTree("guide")
	broken.Root.Children[0].Children[0].ID = broken.Root.Children[0].ID
	if _, err := s.SaveTree(ctx, broken); err == nil {
		t.Fatal("expected save to fail on duplicate section id")
	}
	doc, err := s.GetDocument(ctx, "guide")
	if err != nil || doc.ID != second.Document.ID {
		t.Fatalf("stored version lost: %+v, %v", doc, err)
	}
	if c, _ := s.Counts(ctx); c != first {
		t.Errorf("failed replacement changed counts: %+v vs %+v", c, first)
	}
}

func TestIDPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if p, err := s.IDPrefix(ctx, "Triage Guide", "triage_guide"); err != nil || p != "triage_guide" {
		t.Fatalf("free prefix: got %q, %v", p, err)
	}
	if _, err := s.SaveTree(ctx, sampleTree("Triage Guide")); err != nil {
		t.Fatalf("save: %v", err)
	}

	p, err := s.IDPrefix(ctx, "triage-guide", "triage_guide")
	if err != nil || p != "triage_guide_2" {
		t.Fatalf("taken prefix: got %q, %v", p, err)
	}
	if own, _ := s.IDPrefix(ctx, "Triage Guide", "triage_guide"); own != "triage_guide" {
		t.Errorf("owner should keep its prefix, got %q", own)
	}

	doc := doctree.NewDocument("triage-guide", "", "")
	doc.IDPrefix = p
	if _, err := s.SaveTree(ctx, parser.Parse(doc, "# Intake\ntext\n")); err != nil {
		t.Fatalf("save second document: %v", err)
	}
	n, err := s.GetNode(ctx, "triage_guide_2_h1")
	if err != nil || n.DocumentName != "triage-guide" {
		t.Errorf("unexpected node %+v, %v", n, err)
	}
	if next, _ := s.IDPrefix(ctx, "TRIAGE GUIDE", "triage_guide"); next != "triage_guide_3" {
		t.Errorf("expected triage_guide_3, got %q", next)
	}
}

func TestParentChildrenNeighbors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveTree(ctx, sampleTree("guide")); err != nil {
		t.Fatalf("save: %v", err)
	}

	p, err := s.Parent(ctx, "guide_h2")
	if err != nil || p == nil || p.ID != "guide_h1" {
		t.Fatalf("expected parent guide_h1, got %v, %v", p, err)
	}
	if top, err := s.Parent(ctx, "guide_h1"); err != nil || top != nil {
		t.Errorf("expected no parent for top-level section, got %v, %v", top, err)
	}

	kids, err := s.Children(ctx, "guide_h1")
	if err != nil || len(kids) != 1 || kids[0].ID != "guide_h2" {
		t.Errorf("unexpected children %v, %v", kids, err)
	}

	n1, err := s.Neighbors(ctx, "guide_h2", 1)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if ids := nodeIDs(n1); ids != "guide_h1,guide_h3" {
		t.Errorf("depth 1 neighbors: got %s", ids)
	}
	n2, err := s.Neighbors(ctx, "guide_h3", 2)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if ids := nodeIDs(n2); ids != "guide_h1,guide_h2" {
		t.Errorf("depth 2 neighbors: got %s", ids)
	}
	// Top-level sections are not linked through the document node.
	if n, _ := s.Neighbors(ctx, "guide_h4", 3); len(n) != 0 {
		t.Errorf("expected isolated section, got %s", nodeIDs(n))
	}
}

func nodeIDs(nodes []Node) string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return strings.Join(ids, ",")
}

func TestMatchKeywords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveTree(ctx, sampleTree("guide")); err != nil {
		t.Fatalf("save: %v", err)
	}
	other := sampleTree("other")
	other.Document.DocumentType = "is_rule"
	if _, err := s.SaveTree(ctx, other); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.MatchKeywords(ctx, []string{"triage", "scope"}, 10, Filter{})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if ids := nodeIDs(got); ids != "guide_h2,guide_h4,other_h2,other_h4" {
		t.Errorf("unexpected matches %s", ids)
	}

	got, _ = s.MatchKeywords(ctx, []string{"PROTOCOL"}, 10, Filter{DocumentType: "is_rule"})
	if ids := nodeIDs(got); ids != "other_h4" {
		t.Errorf("filtered match: got %s", ids)
	}

	got, _ = s.MatchKeywords(ctx, []string{"about"}, 3, Filter{Document: "guide"})
	if len(got) != 3 {
		t.Errorf("expected limit 3, got %d", len(got))
	}

	// Quotes and wildcards are plain text.
	got, err = s.MatchKeywords(ctx, []string{"%' OR 1=1 --"}, 10, Filter{})
	if err != nil || len(got) != 0 {
		t.Errorf("expected no matches for injection attempt, got %d, %v", len(got), err)
	}
}

func TestMatchKeywordsFoldsUnicode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tree := parser.Parse(doctree.NewDocument("station", "", ""), "# Ärzte Übergabe\ntext\n# Straße Zugang\ntext\n")
	if _, err := s.SaveTree(ctx, tree); err != nil {
		t.Fatalf("save: %v", err)
	}

	tests := []struct {
		keyword string
		want    string
	}{
		{"ärzte", "station_h1"},
		{"ÄRZTE", "station_h1"},
		{"Übergabe", "station_h1"},
		{"Straße", "station_h2"},
		{"strasse", "station_h2"},
		{"STRASSE", "station_h2"},
	}
	for _, tt := range tests {
		got, err := s.MatchKeywords(ctx, []string{tt.keyword}, 10, Filter{})
		if err != nil {
			t.Fatalf("match %q: %v", tt.keyword, err)
		}
		if ids := nodeIDs(got); ids != tt.want {
			t.Errorf("MatchKeywords(%q) = %q, want %q", tt.keyword, ids, tt.want)
		}
	}
}

func TestOpenMigratesOlderSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE documents (id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, source_path TEXT NOT NULL,
			document_type TEXT NOT NULL DEFAULT '', created_at INTEGER NOT NULL)`,
		`CREATE TABLE sections (id TEXT PRIMARY KEY, document_id TEXT NOT NULL, title TEXT NOT NULL,
			level INTEGER NOT NULL, start_line INTEGER NOT NULL, end_line INTEGER NOT NULL,
			position INTEGER NOT NULL, summary TEXT, summary_embedding TEXT)`,
		`INSERT INTO documents VALUES ('d1', 'Old Guide', 'old.md', '', 1)`,
		`INSERT INTO sections VALUES ('old_guide_h1', 'd1', 'Straße', 1, 0, 1, 0, 'Zugang', NULL)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	db.Close()

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	doc, err := s.GetDocument(ctx, "Old Guide")
	if err != nil || doc.IDPrefix != "old_guide" {
		t.Fatalf("prefix not backfilled: %+v, %v", doc, err)
	}
	got, err := s.MatchKeywords(ctx, []string{"strasse"}, 10, Filter{})
	if err != nil || nodeIDs(got) != "old_guide_h1" {
		t.Errorf("search text not backfilled: %v, %v", nodeIDs(got), err)
	}
	if p, _ := s.IDPrefix(ctx, "old-guide", "old_guide"); p != "old_guide_2" {
		t.Errorf("expected old_guide_2, got %q", p)
	}
}

func TestDeleteDocumentAndRebuild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveTree(ctx, sampleTree("guide")); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, _ := s.Counts(ctx)

	doc, err := s.DeleteDocument(ctx, "guide")
	if err != nil || doc.Name != "guide" {
		t.Fatalf("delete: %v, %v", doc, err)
	}
	if c, _ := s.Counts(ctx); c != (Counts{}) {
		t.Errorf("expected empty graph, got %+v", c)
	}
	if _, err := s.DeleteDocument(ctx, "guide"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.SaveTree(ctx, sampleTree("guide")); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if again, _ := s.Counts(ctx); again != first {
		t.Errorf("rebuild counts %+v differ from first build %+v", again, first)
	}
}

func TestEmbeddedSectionsAndEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tree := sampleTree("guide")
	tree.Root.Children[1].SummaryEmbedding = nil
	if _, err := s.SaveTree(ctx, tree); err != nil {
		t.Fatalf("save: %v", err)
	}

	nodes, err := s.EmbeddedSections(ctx, Filter{Document: "guide"})
	if err != nil {
		t.Fatalf("embedded: %v", err)
	}
	if ids := nodeIDs(nodes); ids != "guide_h1,guide_h2,guide_h3" {
		t.Errorf("unexpected embedded sections %s", ids)
	}

	edges, err := s.SectionEdges(ctx, Filter{})
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("expected 2 section edges, got %d", len(edges))
	}
}

func TestClearAndListDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		if _, err := s.SaveTree(ctx, sampleTree(name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	docs, err := s.ListDocuments(ctx)
	if err != nil || len(docs) != 2 || docs[0].Sections != 4 {
		t.Fatalf("unexpected documents %+v, %v", docs, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c, _ := s.Counts(ctx); c != (Counts{}) {
		t.Errorf("expected empty graph after clear, got %+v", c)
	}
	if _, err := s.GetNode(ctx, "a_h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
