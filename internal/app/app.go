// Package app wires configuration into the running components shared by the
// HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/config"
	"github.com/dgallion1/docgraph/internal/embedding"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/indexer"
	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/pipeline"
	"github.com/dgallion1/docgraph/internal/retrieval"
	"github.com/dgallion1/docgraph/internal/summarize"
	"github.com/dgallion1/docgraph/internal/telemetry"
	"github.com/dgallion1/docgraph/internal/vectorindex"
)

// App holds the wired components.
type App struct {
	Graph     *graph.SQLiteStore
	Vectors   vectorindex.Index
	Builder   *pipeline.Builder
	Retriever retrieval.Retriever

	LLMStats   *llm.Stats
	EmbedStats *llm.Stats

	closers []func() error
	log     *slog.Logger
}

// Open builds every component from cfg. Callers must Close the App.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{
		LLMStats:   llm.NewStats(time.Hour),
		EmbedStats: llm.NewStats(time.Hour),
		log:        log,
	}

	store, err := graph.OpenSQLite(ctx, cfg.GraphPath, graph.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	a.Graph = store
	a.closers = append(a.closers, store.Close)

	if a.Vectors, err = a.openVectors(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	claude := llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel,
		llm.WithBaseURL(cfg.AnthropicBaseURL),
		llm.WithTimeout(cfg.LLMTimeout),
		llm.WithStats(a.LLMStats),
		llm.WithLogger(log),
	)
	a.closers = append(a.closers, func() error { claude.Close(); return nil })
	embedder := embedding.NewOpenAIClient(embedding.Config{
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		Timeout:    cfg.EmbeddingTimeout,
	}, a.EmbedStats, log)
	a.closers = append(a.closers, func() error { embedder.Close(); return nil })

	var gen llm.Generator = claude
	var emb embedding.Embedder = embedder
	var inst *telemetry.Instruments
	if cfg.TelemetryEnabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = telemetry.Init(ctx, cfg.TelemetryServiceName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
		gen = telemetry.WrapGenerator(claude, "anthropic", cfg.AnthropicModel, inst)
		emb = telemetry.WrapEmbedder(embedder, cfg.EmbeddingModel, inst)
	}

	ix := indexer.New(emb, a.Vectors, log, indexer.Config{
		Collection: cfg.VectorCollection,
		BatchSize:  cfg.EmbeddingBatchSize,
		BatchDelay: cfg.EmbeddingBatchDelay,
		Chunking: chunker.Config{
			MaxTokens:    cfg.ChunkMaxTokens,
			OverlapWords: cfg.ChunkOverlapWords,
		},
	})
	summarizer := summarize.New(gen, log, summarize.Config{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	opts := []pipeline.BuilderOption{pipeline.WithPDFFallback(cfg.PDFFallbackPdftotext)}
	if cfg.ClassifyDocuments {
		opts = append(opts, pipeline.WithClassifier(pipeline.NewClassifier(gen, cfg.DocumentTypes, log)))
	}
	a.Builder = pipeline.NewBuilder(store, summarizer, ix, log, opts...)

	var r retrieval.Retriever = retrieval.New(store, emb, a.Vectors, log, retrieval.Config{
		DefaultTopK:      cfg.DefaultTopK,
		GraphWeight:      cfg.GraphWeight,
		VectorWeight:     cfg.VectorWeight,
		ExpansionDepth:   cfg.ExpansionDepth,
		ExpansionDamping: cfg.ExpansionDamping,
		Collection:       ix.Collection(),
	})
	if inst != nil {
		r = telemetry.WrapRetriever(r, inst)
	}
	a.Retriever = r
	return a, nil
}

func (a *App) openVectors(ctx context.Context, cfg config.Config) (vectorindex.Index, error) {
	switch cfg.VectorBackend {
	case config.VectorQdrant:
		c := vectorindex.NewQdrantClient(cfg.QdrantURL, cfg.QdrantAPIKey, a.log)
		a.closers = append(a.closers, c.Close)
		return c, nil
	case config.VectorPGVector:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		ix := vectorindex.NewPGVector(pool, a.log)
		if err := ix.Init(ctx); err != nil {
			return nil, fmt.Errorf("init pgvector: %w", err)
		}
		return ix, nil
	default:
		ix, err := vectorindex.OpenSQLite(ctx, cfg.VectorPath, a.log)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		a.closers = append(a.closers, ix.Close)
		return ix, nil
	}
}

// Close releases everything in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
