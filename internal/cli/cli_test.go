package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/dgallion1/docgraph/internal/app"
	"github.com/dgallion1/docgraph/internal/config"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/indexer"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/pipeline"
	"github.com/dgallion1/docgraph/internal/retrieval"
	"github.com/dgallion1/docgraph/internal/summarize"
	"github.com/dgallion1/docgraph/internal/vectorindex"
)

const guideMD = `# Intake
Patients are registered at the front desk.
## Triage Protocol
Assess airway, breathing and circulation.
### Table of Contacts
See Table 2 for on-call numbers.
# Discharge
Review medication with the patient.
`

func init() {
	color.NoColor = true
}

type lenEmbedder struct{}

func (lenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, _ := lenEmbedder{}.EmbedBatch(ctx, []string{text})
	return v[0], nil
}

func (lenEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t) % 11)}
	}
	return out, nil
}

func (lenEmbedder) Dimensions() int { return 2 }

// testOpener wires an App over temporary SQLite stores with a canned LLM.
func testOpener(t *testing.T) opener {
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

	log := slog.New(slog.DiscardHandler)
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return "Covers triage steps.", nil
	})
	ix := indexer.New(lenEmbedder{}, vectors, log, indexer.Config{BatchDelay: time.Millisecond})
	rcfg := retrieval.DefaultConfig()
	rcfg.Collection = ix.Collection()
	a := &app.App{
		Graph:     store,
		Vectors:   vectors,
		Builder:   pipeline.NewBuilder(store, summarize.New(gen, log, summarize.DefaultConfig()), ix, log),
		Retriever: retrieval.New(store, lenEmbedder{}, vectors, log, rcfg),
	}
	return func(context.Context, config.Config, *slog.Logger) (*app.App, error) { return a, nil }
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestIngestQueryContext(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test")
	open := testOpener(t)
	path := writeDoc(t, "guide.md", guideMD)

	out, err := run(t, open, "ingest", "--type", "guideline", path)
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "built guide") || !strings.Contains(out, "sections=4 edges=4 chunks=4") {
		t.Errorf("unexpected ingest output:\n%s", out)
	}

	out, err = run(t, open, "query", "--mode", "node_name", "triage", "protocol")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(out, "mode node_name") || !strings.Contains(out, "guide_h2  Triage Protocol") {
		t.Errorf("unexpected query output:\n%s", out)
	}

	out, err = run(t, open, "context", "guide_h3")
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if !strings.Contains(out, "parent\n  guide_h2 ## Triage Protocol") {
		t.Errorf("unexpected context output:\n%s", out)
	}

	if _, err := run(t, open, "context", "guide_h99"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryRejectsUnknownMode(t *testing.T) {
	if _, err := run(t, testOpener(t), "query", "--mode", "fuzzy", "x"); !errors.Is(err, retrieval.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestIngestRequiresLLMKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeDoc(t, "guide.md", guideMD)
	if _, err := run(t, testOpener(t), "ingest", path); err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("expected a configuration error, got %v", err)
	}
}

func TestIngestNameNeedsSingleFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test")
	a := writeDoc(t, "a.md", guideMD)
	b := writeDoc(t, "b.md", guideMD)
	if _, err := run(t, testOpener(t), "ingest", "--name", "x", a, b); err == nil {
		t.Error("expected an error for --name with two files")
	}
}

func TestIngestContinuesPastFailures(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test")
	good := writeDoc(t, "guide.md", guideMD)
	out, err := run(t, testOpener(t), "ingest", filepath.Join(t.TempDir(), "missing.md"), good)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 documents failed") {
		t.Errorf("expected partial failure, got %v", err)
	}
	if !strings.Contains(out, "built guide") {
		t.Errorf("second file should still be built:\n%s", out)
	}
}

func TestResetNeedsConfirmation(t *testing.T) {
	if _, err := run(t, testOpener(t), "reset"); !errors.Is(err, errNeedsConfirm) {
		t.Errorf("expected confirmation error, got %v", err)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test")
	open := testOpener(t)
	path := writeDoc(t, "guide.md", guideMD)

	var counts []string
	for range 2 {
		out, err := run(t, open, "rebuild", "--yes", path)
		if err != nil {
			t.Fatalf("rebuild: %v\n%s", err, out)
		}
		i := strings.Index(out, "graph documents=")
		if i < 0 {
			t.Fatalf("no counts in output:\n%s", out)
		}
		counts = append(counts, strings.TrimSpace(out[i:]))
	}
	if counts[0] != counts[1] {
		t.Errorf("counts differ between rebuilds: %q vs %q", counts[0], counts[1])
	}
	if counts[0] != "graph documents=1 sections=4 nodes=5 edges=4" {
		t.Errorf("unexpected counts %q", counts[0])
	}
}
