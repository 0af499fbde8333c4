package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/indexer"
	"github.com/dgallion1/docgraph/internal/parser"
	"github.com/dgallion1/docgraph/internal/summarize"
)

// ErrNoContent is returned for sources that yield no text at all.
var ErrNoContent = errors.New("pipeline: document has no extractable content")

// Source is one document to ingest.
type Source struct {
	Filename     string // used to pick the parser; its base name is the default Name
	Name         string
	Path         string
	DocumentType string
	Data         []byte
}

// Report describes a completed build.
type Report struct {
	Document    doctree.Document `json:"document"`
	ContentHash string           `json:"content_hash"`
	Sections    int              `json:"sections"`
	Edges       int              `json:"edges"`
	Summarized  int              `json:"summarized"`
	Fallbacks   int              `json:"fallbacks"`
	Chunks      int              `json:"chunks"`
	Replaced    bool             `json:"replaced"`
	Duration    time.Duration    `json:"duration_ns"`
}

// PhaseFunc observes phase transitions during a build.
type PhaseFunc func(status JobStatus)

// Builder runs the ingestion pipeline for one document at a time:
// parse, build the section tree, summarize bottom-up, embed summaries,
// persist the graph, then index content chunks.
type Builder struct {
	store      graph.Store
	summarizer *summarize.Summarizer
	indexer    *indexer.Indexer
	classifier *Classifier
	log        *slog.Logger

	pdfFallback bool

	// Builds and resets mutate shared stores and run one at a time.
	mu sync.Mutex
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClassifier enables document type classification for sources that do
// not carry a type.
func WithClassifier(c *Classifier) BuilderOption {
	return func(b *Builder) { b.classifier = c }
}

// WithPDFFallback enables the pdftotext fallback for PDF sources.
func WithPDFFallback(enabled bool) BuilderOption {
	return func(b *Builder) { b.pdfFallback = enabled }
}

func NewBuilder(store graph.Store, s *summarize.Summarizer, ix *indexer.Indexer, log *slog.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{store: store, summarizer: s, indexer: ix, log: log}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build ingests src. A document with the same name is replaced. If the graph
// write fails the previous version is untouched; if indexing fails after it,
// nothing of the document remains in the graph or the vector index.
func (b *Builder) Build(ctx context.Context, src Source, onPhase PhaseFunc) (Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	if onPhase == nil {
		onPhase = func(JobStatus) {}
	}
	if src.Name == "" {
		src.Name = parser.DocumentName(src.Filename)
	}
	log := b.log.With("doc", src.Name, "filename", src.Filename)

	// Phase 1: parse into a section tree.
	onPhase(StatusParsing)
	tree, hash, err := b.parse(ctx, src)
	if err != nil {
		log.Error("parse failed", "error", err)
		return Report{}, err
	}
	rep := Report{ContentHash: hash, Sections: len(tree.Sections())}
	log.Info("section tree built", "sections", rep.Sections)

	if b.classifier != nil && tree.Document.DocumentType == "" {
		docType, err := b.classifier.Classify(ctx, src.Name, strings.Join(tree.Lines, "\n"))
		if err != nil {
			log.Warn("classification failed, continuing without a type", "error", err)
		} else {
			tree.Document.DocumentType = docType
		}
	}

	// Phase 2: bottom-up summaries.
	onPhase(StatusSummarizing)
	sres, err := b.summarizer.Summarize(ctx, tree)
	if err != nil {
		return Report{}, fmt.Errorf("summarize: %w", err)
	}
	rep.Summarized, rep.Fallbacks = sres.Summarized, sres.Fallbacks

	if _, err := b.indexer.EmbedSummaries(ctx, tree); err != nil {
		log.Error("summary embedding failed", "error", err)
		return Report{}, err
	}

	// Phase 3: persist in one transaction that also drops any previous
	// version. A failed save leaves the previous version in place.
	onPhase(StatusPersisting)
	replaced, err := b.store.SaveTree(ctx, tree)
	if err != nil {
		log.Error("persist failed", "error", err)
		return Report{}, fmt.Errorf("persist: %w", err)
	}
	rep.Replaced = replaced
	rep.Edges = len(tree.Edges())

	// Phase 4: swap the previous version's chunks for the new ones.
	onPhase(StatusIndexing)
	abort := func(err error) (Report, error) {
		log.Error("indexing failed, removing document", "error", err)
		// Cleanup must run even when ctx was the cause.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, cerr := b.remove(cleanupCtx, src.Name); cerr != nil {
			log.Error("compensating delete failed", "error", cerr)
		}
		return Report{}, fmt.Errorf("index content: %w", err)
	}
	if err := b.indexer.DeleteDocument(ctx, src.Name); err != nil {
		return abort(err)
	}
	n, err := b.indexer.IndexContent(ctx, tree)
	if err != nil {
		return abort(err)
	}
	rep.Chunks = n
	rep.Document = tree.Document
	rep.Duration = time.Since(start)

	log.Info("document built",
		"doc_id", tree.Document.ID,
		"sections", rep.Sections,
		"edges", rep.Edges,
		"chunks", rep.Chunks,
		"fallbacks", rep.Fallbacks,
		"replaced", rep.Replaced,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (b *Builder) parse(ctx context.Context, src Source) (*doctree.Tree, string, error) {
	p, err := parser.ForFile(src.Filename)
	if err != nil {
		return nil, "", err
	}
	if pp, ok := p.(*parser.PDFParser); ok {
		pp.FallbackPdftotext = b.pdfFallback
	}
	text, err := p.Parse(bytes.NewReader(src.Data), src.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("parse: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, "", ErrNoContent
	}
	// A source without headings becomes a single section named after it.
	if len(parser.ExtractHeadings(parser.SplitLines(text))) == 0 {
		text = "# " + src.Name + "\n" + text
	}

	path := src.Path
	if path == "" {
		path = src.Filename
	}
	doc := doctree.NewDocument(src.Name, path, src.DocumentType)
	doc.IDPrefix, err = b.store.IDPrefix(ctx, src.Name, doctree.Slugify(src.Name))
	if err != nil {
		return nil, "", fmt.Errorf("assign id prefix: %w", err)
	}
	return parser.Parse(doc, text), ContentHashHex([]byte(text)), nil
}

// remove deletes a document's graph entities and chunks. It reports whether
// a stored document existed.
func (b *Builder) remove(ctx context.Context, name string) (bool, error) {
	existed := true
	if _, err := b.store.DeleteDocument(ctx, name); err != nil {
		if !errors.Is(err, graph.ErrNotFound) {
			return false, err
		}
		existed = false
	}
	if err := b.indexer.DeleteDocument(ctx, name); err != nil {
		return existed, err
	}
	return existed, nil
}

// Delete removes a stored document by name.
func (b *Builder) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	existed, err := b.remove(ctx, name)
	if err != nil {
		return err
	}
	if !existed {
		return graph.ErrNotFound
	}
	b.log.Info("document deleted", "doc", name)
	return nil
}

// Reset clears the whole graph and drops the chunk collection.
func (b *Builder) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear graph: %w", err)
	}
	if err := b.indexer.Reset(ctx); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	b.log.Info("graph and vector index reset")
	return nil
}
