package retrieval

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/indexer"
	"github.com/dgallion1/docgraph/internal/parser"
	"github.com/dgallion1/docgraph/internal/vectorindex"
)

var vocab = []string{"intake", "register", "triage", "airway", "contacts", "phone", "discharge", "medication"}

// vocabEmbedder counts vocabulary words, so similarity tracks shared terms.
type vocabEmbedder struct{ err error }

func (e vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e vocabEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, len(vocab))
		for _, w := range strings.Fields(strings.ToLower(t)) {
			w = strings.Trim(w, ".,:;!?#")
			for j, v := range vocab {
				if w == v {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (vocabEmbedder) Dimensions() int { return len(vocab) }

const erDoc = `# Intake
Patients register at the front desk.
## Triage Protocol
Check airway and breathing first.
### Table of Contacts
Phone the on-call triage nurse.
# Discharge
Review medication before discharge.
`

var erSummaries = map[string]string{
	"er_h1": "intake register desk",
	"er_h2": "triage airway breathing",
	"er_h3": "contacts phone triage",
	"er_h4": "discharge medication",
}

type env struct {
	store   *graph.SQLiteStore
	vectors *vectorindex.SQLiteIndex
	router  *Router
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := graph.OpenSQLite(ctx, filepath.Join(dir, "graph.db"))
	if err != nil {
		t.Fatalf("open graph: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	vectors, err := vectorindex.OpenSQLite(ctx, filepath.Join(dir, "vectors.db"), nil)
	if err != nil {
		t.Fatalf("open vectors: %v", err)
	}
	t.Cleanup(func() { vectors.Close() })

	emb := vocabEmbedder{}
	ix := indexer.New(emb, vectors, nil, indexer.Config{BatchDelay: 0})
	ingest := func(name, text string, summaries map[string]string) {
		tree := parser.Parse(doctree.NewDocument(name, "", ""), text)
		for _, s := range tree.Sections() {
			s.Summary = summaries[s.ID]
		}
		if _, err := ix.EmbedSummaries(ctx, tree); err != nil {
			t.Fatalf("embed summaries: %v", err)
		}
		if _, err := store.SaveTree(ctx, tree); err != nil {
			t.Fatalf("save tree: %v", err)
		}
		if _, err := ix.IndexContent(ctx, tree); err != nil {
			t.Fatalf("index content: %v", err)
		}
	}
	ingest("er", erDoc, erSummaries)
	ingest("ward", "# Airway\nairway airway airway\n", map[string]string{"ward_h1": "ward airway care"})

	cfg := DefaultConfig()
	cfg.Collection = ix.Collection()
	return &env{store: store, vectors: vectors, router: New(store, emb, vectors, nil, cfg)}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSelectModeScenarios(t *testing.T) {
	tests := []struct {
		query string
		want  Mode
	}{
		{"What are triage steps", ModeSummary},
		{"table of emergency contacts", ModeNodeName},
		{"the nurse on duty must record each patient arrival time and the name of the attending physician before any treatment is started", ModeContent},
		{"Appendix B", ModeNodeName},
		{"list the sections", ModeNodeName},
		{"triage", ModeSummary},
		{"which of the listed medications may be given by the nurse without a physician order in the emergency room", ModeSummary},
		{"the appendix describes how nurses should record the arrival and discharge of every single patient", ModeContent},
		{"What's the correct order of steps when a patient arrives by ambulance during the night shift in winter", ModeSummary},
		{"who’s responsible for recording the arrival time of every patient brought in by the ambulance crew tonight", ModeSummary},
		{"the table's rows", ModeNodeName},
	}
	for _, tt := range tests {
		got := SelectMode(tt.query)
		if got != tt.want {
			t.Errorf("SelectMode(%q) = %s, want %s", tt.query, got, tt.want)
		}
		if again := SelectMode(tt.query); again != got {
			t.Errorf("SelectMode(%q) not deterministic: %s then %s", tt.query, got, again)
		}
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		query string
		max   int
		want  []string
	}{
		{"What are the triage steps for airway?", 5, []string{"triage", "steps", "airway"}},
		{"one two three four five six seven eight nine", 5, []string{"three", "four", "five", "seven", "eight"}},
		{"ＴＲＩＡＧＥ triage Straße", 5, []string{"triage", "strasse"}},
		{"is it ok", 5, nil},
	}
	for _, tt := range tests {
		got := ExtractKeywords(tt.query, tt.max)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestRetrieveArgumentErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.router.Retrieve(ctx, Query{Text: "   "}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := e.router.Retrieve(ctx, Query{Text: "triage", Mode: "fuzzy"}); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestNodeNameMode(t *testing.T) {
	e := newEnv(t)
	resp, err := e.router.Retrieve(context.Background(), Query{Text: "triage protocol", Mode: ModeNodeName, TopK: 10})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := strings.Join(ids(resp.Results), ","); got != "er_h2,er_h3" {
		t.Fatalf("unexpected results %s", got)
	}
	for _, r := range resp.Results {
		if r.Score != 1.0 || r.Kind != ModeNodeName || r.Structural == nil {
			t.Errorf("unexpected structural result %+v", r)
		}
	}
}

func TestSummaryMode(t *testing.T) {
	e := newEnv(t)
	resp, err := e.router.Retrieve(context.Background(), Query{Text: "airway triage", Mode: ModeSummary, TopK: 2, Filter: Filter{Document: "er"}})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := strings.Join(ids(resp.Results), ","); got != "er_h2,er_h3" {
		t.Fatalf("unexpected results %s", got)
	}
	if math.Abs(resp.Results[0].Score-1) > 1e-9 {
		t.Errorf("expected similarity 1, got %v", resp.Results[0].Score)
	}
	if resp.Results[0].Text != "triage airway breathing" || resp.Results[0].Metadata["document"] != "er" {
		t.Errorf("unexpected payload %+v", resp.Results[0])
	}
}

func TestContentModeWithFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp, err := e.router.Retrieve(ctx, Query{Text: "airway breathing", Mode: ModeContent, TopK: 3})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "ward_ward_h1_0" {
		t.Fatalf("expected ward chunk first, got %v", ids(resp.Results))
	}

	resp, err = e.router.Retrieve(ctx, Query{Text: "airway breathing", Mode: ModeContent, TopK: 3, Filter: Filter{Document: "er"}})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected filtered results")
	}
	top := resp.Results[0]
	if top.ID != "er_er_h2_0" || top.Content == nil || top.Content.NodeID != "er_h2" {
		t.Errorf("unexpected top chunk %+v", top)
	}
	if math.Abs(top.Score-1/math.Sqrt2) > 1e-6 {
		t.Errorf("expected score 1-distance ≈ 0.707, got %v", top.Score)
	}
	if top.Content.StartLine != 2 || top.Content.EndLine != 3 || top.Content.TotalChunks != 1 {
		t.Errorf("unexpected chunk detail %+v", top.Content)
	}
	for _, r := range resp.Results {
		if r.Metadata["document"] != "er" {
			t.Errorf("filter leaked %v", r.Metadata["document"])
		}
	}
}

func TestAutomaticModeReportsSelection(t *testing.T) {
	e := newEnv(t)
	resp, err := e.router.Retrieve(context.Background(), Query{Text: "table of contacts"})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if resp.Mode != ModeNodeName {
		t.Errorf("expected node_name, got %s", resp.Mode)
	}
	if len(resp.Results) == 0 || resp.Results[0].ID != "er_h3" {
		t.Errorf("unexpected results %v", ids(resp.Results))
	}
}

func TestHybridEnrichesResults(t *testing.T) {
	e := newEnv(t)
	resp, err := e.router.Retrieve(context.Background(), Query{Text: "triage protocol", Mode: ModeHybrid, TopK: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := strings.Join(ids(resp.Results), ","); got != "er_h2,er_h3" {
		t.Fatalf("unexpected results %s", got)
	}
	h := resp.Results[0].Hybrid
	if h == nil || h.StructuralRank != 0 {
		t.Fatalf("unexpected hybrid detail %+v", h)
	}
	want := 0.3 + 0.7/math.Sqrt2
	if math.Abs(resp.Results[0].Score-want) > 1e-6 {
		t.Errorf("expected fused score %v, got %v", want, resp.Results[0].Score)
	}
	if h.Parent == nil || h.Parent.ID != "er_h1" {
		t.Errorf("expected parent er_h1, got %+v", h.Parent)
	}
	if len(h.Children) != 1 || h.Children[0].ID != "er_h3" {
		t.Errorf("expected child er_h3, got %+v", h.Children)
	}
}

func TestFusionMonotonicity(t *testing.T) {
	node := func(id string) graph.Node { return graph.Node{ID: id} }
	structural := []graph.Node{node("A"), node("B"), node("C")}
	vector := []scoredNode{
		{node("B"), 0.95}, {node("X"), 0.9}, {node("D"), 0.5}, {node("A"), 0.2}, {node("N"), -0.4},
	}
	rankOf := func(list []fused, id string) int {
		for i, f := range list {
			if f.node.ID == id {
				return i
			}
		}
		t.Fatalf("%s missing from fused list", id)
		return -1
	}

	for _, id := range []string{"X", "D", "N"} {
		prev := math.MaxInt
		for step := 0; step <= 20; step++ {
			w := float64(step) / 10
			rank := rankOf(fuse(structural, vector, 0.3, w), id)
			if rank > prev {
				t.Errorf("%s: rank worsened from %d to %d at vectorWeight %.1f", id, prev, rank, w)
			}
			prev = rank
		}
	}

	got := fuse(structural, vector, 0.3, 0.7)
	if got[0].node.ID != "B" || got[0].rank != 1 {
		t.Errorf("expected B first with structural rank 1, got %+v", got[0])
	}
	if n := got[rankOf(got, "N")]; n.vectorScore != 0 || n.similarity != -0.4 {
		t.Errorf("negative similarity should contribute nothing: %+v", n)
	}
}

func TestGraphExpansionBoostsNeighbors(t *testing.T) {
	e := newEnv(t)
	resp, err := e.router.Retrieve(context.Background(), Query{Text: "phone contacts", Mode: ModeGraphExpansion, TopK: 2, Filter: Filter{Document: "er"}})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got := strings.Join(ids(resp.Results), ","); got != "er_h3,er_h2" {
		t.Fatalf("unexpected results %s", got)
	}
	x := resp.Results[1].Expansion
	if x == nil || x.BestNeighbor != "er_h3" || x.Neighbors != 2 || x.Primary != 0 {
		t.Fatalf("unexpected expansion detail %+v", x)
	}
	wantBoost := 0.3 * 2 / (math.Sqrt2 * math.Sqrt(3))
	if math.Abs(x.RelatedBoost-wantBoost) > 1e-6 {
		t.Errorf("expected boost %v, got %v", wantBoost, x.RelatedBoost)
	}
}

func TestNeighborsWithinDepth(t *testing.T) {
	adj := map[string][]string{
		"a": {"b"}, "b": {"a", "c"}, "c": {"b", "d"}, "d": {"c"},
	}
	if got := strings.Join(neighborsWithin(adj, "a", 1), ","); got != "b" {
		t.Errorf("depth 1: %s", got)
	}
	if got := strings.Join(neighborsWithin(adj, "a", 3), ","); got != "b,c,d" {
		t.Errorf("depth 3: %s", got)
	}
}

// edgeFailStore fails section edge loading.
type edgeFailStore struct {
	graph.Store
}

func (edgeFailStore) SectionEdges(context.Context, graph.Filter) ([]doctree.Edge, error) {
	return nil, errors.New("edges unavailable")
}

func TestGraphExpansionFallsBackToSummary(t *testing.T) {
	e := newEnv(t)
	r := New(edgeFailStore{e.store}, vocabEmbedder{}, e.vectors, nil, e.router.cfg)
	resp, err := r.Retrieve(context.Background(), Query{Text: "airway triage", Mode: ModeGraphExpansion, TopK: 1})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Kind != ModeSummary {
		t.Fatalf("expected a summary-strategy result, got %+v", resp.Results)
	}
}

func TestBackendFailuresReturnEmpty(t *testing.T) {
	e := newEnv(t)
	r := New(e.store, vocabEmbedder{err: errors.New("embedding service down")}, e.vectors, nil, e.router.cfg)
	for _, mode := range []Mode{ModeSummary, ModeContent, ModeHybrid, ModeGraphExpansion} {
		resp, err := r.Retrieve(context.Background(), Query{Text: "airway", Mode: mode})
		if err != nil {
			t.Errorf("%s: expected error to be swallowed, got %v", mode, err)
		}
		if mode == ModeHybrid {
			// Structural half still answers.
			if len(resp.Results) == 0 {
				t.Errorf("hybrid: expected structural results to survive")
			}
			continue
		}
		if resp.Results == nil || len(resp.Results) != 0 {
			t.Errorf("%s: expected empty non-nil results, got %v", mode, resp.Results)
		}
	}
}

func TestNodeContext(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	nc, err := e.router.NodeContext(ctx, "er_h2", true, true)
	if err != nil {
		t.Fatalf("node context: %v", err)
	}
	if nc.Node.Title != "Triage Protocol" || nc.Parent == nil || nc.Parent.ID != "er_h1" {
		t.Errorf("unexpected context %+v", nc)
	}
	if len(nc.Children) != 1 || nc.Children[0].ID != "er_h3" {
		t.Errorf("unexpected children %+v", nc.Children)
	}

	nc, err = e.router.NodeContext(ctx, "er_h1", true, false)
	if err != nil {
		t.Fatalf("node context: %v", err)
	}
	if nc.Parent != nil || nc.Children != nil {
		t.Errorf("top-level section without children request: %+v", nc)
	}

	if _, err := e.router.NodeContext(ctx, "missing", true, true); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
