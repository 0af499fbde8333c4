// Package retrieval answers queries against the document graph and the
// content vector index. A Router selects one of several strategies:
// structural keyword matching, summary-embedding similarity, chunk vector
// search, or a fusion of structural and semantic signals.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/docgraph/internal/embedding"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/vectorindex"
)

var (
	ErrUnknownMode = errors.New("retrieval: unknown mode")
	ErrEmptyQuery  = errors.New("retrieval: empty query")
)

// Mode selects a retrieval strategy.
type Mode string

const (
	ModeNodeName       Mode = "node_name"
	ModeSummary        Mode = "summary"
	ModeContent        Mode = "content"
	ModeAutomatic      Mode = "automatic"
	ModeHybrid         Mode = "hybrid"
	ModeGraphExpansion Mode = "graph_expansion"
)

// ParseMode maps a name to a Mode. The empty string means automatic.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAutomatic, nil
	case ModeNodeName, ModeSummary, ModeContent, ModeAutomatic, ModeHybrid, ModeGraphExpansion:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Filter restricts results to one document and/or document type.
type Filter struct {
	Document     string `json:"document,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

func (f Filter) graph() graph.Filter {
	return graph.Filter{Document: f.Document, DocumentType: f.DocumentType}
}

func (f Filter) vector() vectorindex.Filter {
	out := vectorindex.Filter{}
	if f.Document != "" {
		out["document"] = f.Document
	}
	if f.DocumentType != "" {
		out["document_type"] = f.DocumentType
	}
	return out
}

// Query is one retrieval request.
type Query struct {
	Text   string `json:"query"`
	Mode   Mode   `json:"mode,omitempty"`
	TopK   int    `json:"top_k,omitempty"`
	Filter Filter `json:"filter,omitempty"`
}

// Response carries ranked results. Mode is the strategy that actually ran.
type Response struct {
	Query   string   `json:"query"`
	Mode    Mode     `json:"mode"`
	Results []Result `json:"results"`
}

// Retriever is the query surface exposed to the API and CLI.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) (Response, error)
	NodeContext(ctx context.Context, id string, includeParent, includeChildren bool) (NodeContext, error)
}

type Config struct {
	DefaultTopK      int
	MaxKeywords      int
	GraphWeight      float64
	VectorWeight     float64
	ExpansionDepth   int
	ExpansionDamping float64
	Collection       string
}

func DefaultConfig() Config {
	return Config{
		DefaultTopK:      5,
		MaxKeywords:      5,
		GraphWeight:      0.3,
		VectorWeight:     0.7,
		ExpansionDepth:   1,
		ExpansionDamping: 0.3,
		Collection:       "docgraph_chunks",
	}
}

// Router dispatches queries to strategies. It holds no mutable state and is
// safe for concurrent use.
type Router struct {
	store graph.Store
	emb   embedding.Embedder
	index vectorindex.Index
	log   *slog.Logger
	cfg   Config
}

var _ Retriever = (*Router)(nil)

func New(store graph.Store, emb embedding.Embedder, index vectorindex.Index, log *slog.Logger, cfg Config) *Router {
	def := DefaultConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = def.MaxKeywords
	}
	if cfg.ExpansionDepth <= 0 {
		cfg.ExpansionDepth = def.ExpansionDepth
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Router{store: store, emb: emb, index: index, log: log, cfg: cfg}
}

// Retrieve runs q. Only argument errors are returned; backend failures are
// logged and produce an empty result list.
func (r *Router) Retrieve(ctx context.Context, q Query) (Response, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{}, ErrEmptyQuery
	}
	mode, err := ParseMode(string(q.Mode))
	if err != nil {
		return Response{}, err
	}
	if mode == ModeAutomatic {
		mode = SelectMode(text)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}

	start := time.Now()
	var results []Result
	switch mode {
	case ModeNodeName:
		results, err = r.structural(ctx, text, topK, q.Filter)
	case ModeSummary:
		results, err = r.summary(ctx, text, topK, q.Filter)
	case ModeContent:
		results, err = r.content(ctx, text, topK, q.Filter)
	case ModeHybrid:
		results, err = r.hybrid(ctx, text, topK, q.Filter)
	case ModeGraphExpansion:
		results, err = r.graphExpansion(ctx, text, topK, q.Filter)
	}
	if err != nil {
		r.log.Warn("retrieval failed, returning no results", "mode", mode, "error", err)
		results = nil
	}
	if results == nil {
		results = []Result{}
	}
	r.log.Debug("retrieval done", "mode", mode, "top_k", topK, "results", len(results), "duration", time.Since(start))
	return Response{Query: text, Mode: mode, Results: results}, nil
}
