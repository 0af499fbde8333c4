// Package indexer computes section summary embeddings and uploads section
// content, split into token-budgeted chunks, to the vector index.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/embedding"
	"github.com/dgallion1/docgraph/internal/vectorindex"
)

// Metadata keys stored with every content chunk.
const (
	MetaDocument     = "document"
	MetaDocumentType = "document_type"
	MetaNodeID       = "node_id"
	MetaTitle        = "title"
	MetaLevel        = "level"
	MetaChunkIndex   = "chunk_index"
	MetaTotalChunks  = "total_chunks"
	MetaStartLine    = "start_line"
	MetaEndLine      = "end_line"
)

type Config struct {
	Collection string
	BatchSize  int
	BatchDelay time.Duration // pause between upload batches
	Chunking   chunker.Config
}

func DefaultConfig() Config {
	return Config{
		Collection: "docgraph_chunks",
		BatchSize:  32,
		BatchDelay: 200 * time.Millisecond,
		Chunking:   chunker.DefaultConfig(),
	}
}

// Indexer owns the embedding side of a document build.
type Indexer struct {
	emb   embedding.Embedder
	index vectorindex.Index
	log   *slog.Logger
	cfg   Config
}

func New(emb embedding.Embedder, index vectorindex.Index, log *slog.Logger, cfg Config) *Indexer {
	def := DefaultConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Chunking.MaxTokens <= 0 {
		cfg.Chunking = def.Chunking
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Indexer{emb: emb, index: index, log: log, cfg: cfg}
}

// Collection is the vector index collection holding content chunks.
func (ix *Indexer) Collection() string { return ix.cfg.Collection }

// EmbedSummaries sets SummaryEmbedding on every section, embedding the
// summary when present and the title otherwise.
func (ix *Indexer) EmbedSummaries(ctx context.Context, tree *doctree.Tree) (int, error) {
	sections := tree.Sections()
	embedded := 0
	for start := 0; start < len(sections); start += ix.cfg.BatchSize {
		batch := sections[start:min(start+ix.cfg.BatchSize, len(sections))]
		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.Summary
			if texts[i] == "" {
				texts[i] = s.Title
			}
		}
		vecs, err := ix.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return embedded, fmt.Errorf("embed summaries: %w", err)
		}
		for i, s := range batch {
			s.SummaryEmbedding = vecs[i]
		}
		embedded += len(batch)
	}
	ix.log.Info("summary embeddings computed", "doc", tree.Document.Name, "sections", embedded)
	return embedded, nil
}

// Chunks splits every section's text into chunks. Sections without body
// text or with an invalid line range are skipped; the latter with a warning.
func (ix *Indexer) Chunks(tree *doctree.Tree) []doctree.Chunk {
	var out []doctree.Chunk
	for _, s := range tree.Sections() {
		if !tree.ValidRange(s) {
			ix.log.Warn("skipping section with invalid line range",
				"doc", tree.Document.Name, "node_id", s.ID, "start", s.StartLine, "end", s.EndLine)
			continue
		}
		if tree.Body(s) == "" {
			continue
		}
		pieces := chunker.Split(tree.Text(s), s.StartLine, s.EndLine, ix.cfg.Chunking)
		for i, p := range pieces {
			out = append(out, doctree.Chunk{
				Document:     tree.Document.Name,
				ParentNodeID: s.ID,
				Title:        s.Title,
				Level:        s.Level,
				ChunkIndex:   i,
				TotalChunks:  len(pieces),
				StartLine:    p.StartLine,
				EndLine:      p.EndLine,
				Text:         p.Text,
			})
		}
	}
	return out
}

// IndexContent embeds and uploads the tree's content chunks batch by batch,
// sequentially, pausing between batches. It returns the number of chunks
// uploaded.
func (ix *Indexer) IndexContent(ctx context.Context, tree *doctree.Tree) (int, error) {
	chunks := ix.Chunks(tree)
	if len(chunks) == 0 {
		return 0, nil
	}
	log := ix.log.With("doc", tree.Document.Name, "collection", ix.cfg.Collection)

	ensured := false
	uploaded := 0
	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		if start > 0 && ix.cfg.BatchDelay > 0 {
			select {
			case <-time.After(ix.cfg.BatchDelay):
			case <-ctx.Done():
				return uploaded, ctx.Err()
			}
		}
		batch := chunks[start:min(start+ix.cfg.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := ix.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return uploaded, fmt.Errorf("embed chunks: %w", err)
		}
		if !ensured {
			if err := ix.index.EnsureCollection(ctx, ix.cfg.Collection, len(vecs[0])); err != nil {
				return uploaded, fmt.Errorf("ensure collection: %w", err)
			}
			ensured = true
		}

		recs := make([]vectorindex.Record, len(batch))
		for i := range batch {
			batch[i].Embedding = vecs[i]
			recs[i] = record(batch[i], tree.Document.DocumentType)
		}
		if err := ix.index.Upsert(ctx, ix.cfg.Collection, recs); err != nil {
			return uploaded, fmt.Errorf("upsert chunks: %w", err)
		}
		uploaded += len(batch)
		log.Debug("chunk batch uploaded", "batch_start", start, "size", len(batch))
	}
	log.Info("content indexed", "chunks", uploaded)
	return uploaded, nil
}

func record(c doctree.Chunk, documentType string) vectorindex.Record {
	meta := map[string]any{
		MetaDocument:    c.Document,
		MetaNodeID:      c.ParentNodeID,
		MetaTitle:       c.Title,
		MetaLevel:       c.Level,
		MetaChunkIndex:  c.ChunkIndex,
		MetaTotalChunks: c.TotalChunks,
		MetaStartLine:   c.StartLine,
		MetaEndLine:     c.EndLine,
	}
	if documentType != "" {
		meta[MetaDocumentType] = documentType
	}
	return vectorindex.Record{ID: c.Key(), Vector: c.Embedding, Metadata: meta, Text: c.Text}
}

// DeleteDocument removes every chunk of the named document.
func (ix *Indexer) DeleteDocument(ctx context.Context, name string) error {
	if err := ix.index.Delete(ctx, ix.cfg.Collection, vectorindex.Filter{MetaDocument: name}); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", name, err)
	}
	return nil
}

// Reset drops the chunk collection.
func (ix *Indexer) Reset(ctx context.Context) error {
	return ix.index.DeleteCollection(ctx, ix.cfg.Collection)
}
