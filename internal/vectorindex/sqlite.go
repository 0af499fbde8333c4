package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgallion1/docgraph/internal/embedding"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteIndex keeps vectors as JSON text and searches by brute-force cosine
// similarity in process. Suitable for corpora of up to a few hundred
// thousand vectors.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Index = (*SQLiteIndex)(nil)

// OpenSQLite opens the index database at path. logger may be nil.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ix := &SQLiteIndex{db: db, logger: logger}

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dim INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vectors (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return ix, nil
}

func (ix *SQLiteIndex) collectionDim(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dim FROM collections WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

func (ix *SQLiteIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("vectorindex: invalid dimension %d", dim)
	}
	existing, err := ix.collectionDim(ctx, ix.db, name)
	if err != nil {
		return fmt.Errorf("lookup collection: %w", err)
	}
	if existing == dim {
		return nil
	}
	if existing != 0 {
		return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, name, existing, dim)
	}
	if _, err := ix.db.ExecContext(ctx, `INSERT INTO collections (name, dim) VALUES (?, ?)`, name, dim); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	ix.logger.Debug("sqlite index: collection created", "collection", name, "dim", dim)
	return nil
}

func (ix *SQLiteIndex) Upsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	dim, err := ix.collectionDim(ctx, tx, collection)
	if err != nil {
		return fmt.Errorf("lookup collection: %w", err)
	}
	if dim == 0 {
		return fmt.Errorf("vectorindex: collection %s does not exist", collection)
	}

	for _, r := range recs {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %s has %d, collection %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
		vec, _ := json.Marshal(r.Vector)
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vectors (collection, id, embedding, metadata, text) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET
			   embedding = excluded.embedding, metadata = excluded.metadata, text = excluded.text`,
			collection, r.ID, string(vec), string(meta), r.Text,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	ix.logger.Debug("sqlite index: upsert ok", "collection", collection, "count", len(recs), "duration", time.Since(start))
	return nil
}

func (ix *SQLiteIndex) Query(ctx context.Context, collection string, vec []float32, topK int, f Filter) ([]Match, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, embedding, metadata, text FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var out []Match
	scanned := 0
	for rows.Next() {
		var id, embJSON, metaJSON, text string
		if err := rows.Scan(&id, &embJSON, &metaJSON, &text); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		scanned++
		var meta map[string]any
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if !f.matches(meta) {
			continue
		}
		var stored []float32
		if err := json.Unmarshal([]byte(embJSON), &stored); err != nil {
			continue
		}
		out = append(out, Match{
			ID:       id,
			Distance: 1 - embedding.Cosine(vec, stored),
			Metadata: meta,
			Text:     text,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	ix.logger.Debug("sqlite index: query ok", "collection", collection, "scanned", scanned, "returned", len(out), "duration", time.Since(start))
	return out, nil
}

func (ix *SQLiteIndex) Delete(ctx context.Context, collection string, f Filter) error {
	if len(f) == 0 {
		return errors.New("vectorindex: delete requires a filter")
	}
	if err := f.validate(); err != nil {
		return err
	}
	rows, err := ix.db.QueryContext(ctx, `SELECT id, metadata FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("scan for delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			rows.Close()
			return fmt.Errorf("scan vector: %w", err)
		}
		var meta map[string]any
		if json.Unmarshal([]byte(metaJSON), &meta) == nil && f.matches(meta) {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	ix.logger.Debug("sqlite index: delete ok", "collection", collection, "deleted", len(ids))
	return nil
}

func (ix *SQLiteIndex) DeleteCollection(ctx context.Context, collection string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of records in a collection.
func (ix *SQLiteIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func (ix *SQLiteIndex) Close() error {
	return ix.db.Close()
}
