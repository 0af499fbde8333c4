package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorIndex stores records in Postgres with the pgvector extension.
// The pool is owned by the caller.
type PGVectorIndex struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ Index = (*PGVectorIndex)(nil)

// NewPGVector wraps an existing pool.
func NewPGVector(pool *pgxpool.Pool, log *slog.Logger) *PGVectorIndex {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PGVectorIndex{pool: pool, log: log}
}

// Init creates the extension and tables. Safe to call repeatedly.
func (ix *PGVectorIndex) Init(ctx context.Context) error {
	for _, ddl := range []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			dim INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vector_records (
			collection TEXT NOT NULL REFERENCES vector_collections(name) ON DELETE CASCADE,
			id TEXT NOT NULL,
			embedding vector NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			text TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS vector_records_metadata_idx ON vector_records USING gin (metadata)`,
	} {
		if _, err := ix.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("init pgvector schema: %w", err)
		}
	}
	return nil
}

func (ix *PGVectorIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("vectorindex: invalid dimension %d", dim)
	}
	var existing int
	err := ix.pool.QueryRow(ctx, `SELECT dim FROM vector_collections WHERE name = $1`, name).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := ix.pool.Exec(ctx,
			`INSERT INTO vector_collections (name, dim) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
			name, dim); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		ix.log.Info("pgvector: collection created", "collection", name, "dim", dim)
		return nil
	case err != nil:
		return fmt.Errorf("lookup collection: %w", err)
	case existing != dim:
		return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, name, existing, dim)
	}
	return nil
}

func (ix *PGVectorIndex) Upsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var dim int
	if err := tx.QueryRow(ctx, `SELECT dim FROM vector_collections WHERE name = $1`, collection).Scan(&dim); err != nil {
		return fmt.Errorf("lookup collection %s: %w", collection, err)
	}

	for _, r := range recs {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has %d, collection %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO vector_records (collection, id, embedding, metadata, text)
			 VALUES ($1, $2, $3::vector, $4::jsonb, $5)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   embedding = EXCLUDED.embedding,
			   metadata = EXCLUDED.metadata,
			   text = EXCLUDED.text`,
			collection, r.ID, serializeVector(r.Vector), string(meta), r.Text,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (ix *PGVectorIndex) Query(ctx context.Context, collection string, vec []float32, topK int, f Filter) ([]Match, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	filter, err := json.Marshal(map[string]any(f))
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	if len(f) == 0 {
		filter = []byte("{}")
	}

	rows, err := ix.pool.Query(ctx,
		`SELECT id, embedding <=> $1::vector AS distance, metadata, text
		 FROM vector_records
		 WHERE collection = $2 AND metadata @> $3::jsonb
		 ORDER BY embedding <=> $1::vector
		 LIMIT $4`,
		serializeVector(vec), collection, string(filter), max(topK, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.Distance, &meta, &m.Text); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ix *PGVectorIndex) Delete(ctx context.Context, collection string, f Filter) error {
	if len(f) == 0 {
		return errors.New("vectorindex: delete requires a filter")
	}
	if err := f.validate(); err != nil {
		return err
	}
	filter, err := json.Marshal(map[string]any(f))
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}
	tag, err := ix.pool.Exec(ctx,
		`DELETE FROM vector_records WHERE collection = $1 AND metadata @> $2::jsonb`,
		collection, string(filter))
	if err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	ix.log.Debug("pgvector: delete ok", "collection", collection, "deleted", tag.RowsAffected())
	return nil
}

func (ix *PGVectorIndex) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := ix.pool.Exec(ctx, `DELETE FROM vector_collections WHERE name = $1`, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (ix *PGVectorIndex) Close() error { return nil }

// serializeVector renders a pgvector literal such as "[0.1,0.2]".
func serializeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
