package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/docgraph/internal/doctree"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets a logger for per-operation debug timings. If not set, no
// logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// SQLiteStore implements Store on a local SQLite file. Summary embeddings are
// stored as JSON text next to the section row.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite graph: opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			source_path TEXT NOT NULL,
			document_type TEXT NOT NULL DEFAULT '',
			id_prefix TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type)`,
		`CREATE TABLE IF NOT EXISTS sections (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			level INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			position INTEGER NOT NULL,
			summary TEXT,
			summary_embedding TEXT,
			search_text TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document_id, position)`,
		`CREATE TABLE IF NOT EXISTS edges (
			parent_id TEXT NOT NULL,
			child_id TEXT NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			PRIMARY KEY (parent_id, child_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_child ON edges(child_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_prefix ON documents(id_prefix)`); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// migrate adds columns missing from databases created by older builds and
// fills them from the stored rows.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	added, err := s.ensureColumn(ctx, "documents", "id_prefix", `TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return err
	}
	if added {
		if err := s.backfill(ctx, `SELECT id, name FROM documents`,
			`UPDATE documents SET id_prefix = ? WHERE id = ?`,
			func(name, _ string) string { return doctree.Slugify(name) }); err != nil {
			return err
		}
	}
	added, err = s.ensureColumn(ctx, "sections", "search_text", `TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return err
	}
	if added {
		return s.backfill(ctx, `SELECT id, title, coalesce(summary, '') FROM sections`,
			`UPDATE sections SET search_text = ? WHERE id = ?`, searchText)
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(ctx context.Context, table, column, decl string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n); err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return false, nil
	}
	// Identifiers cannot be bound; table and column are constants.
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE `+table+` ADD COLUMN `+column+` `+decl); err != nil {
		return false, fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	s.logger.Debug("sqlite graph: added column", "table", table, "column", column)
	return true, nil
}

// backfill reads (id, a[, b]) rows with query and writes value(a, b) back
// with update.
func (s *SQLiteStore) backfill(ctx context.Context, query, update string, value func(a, b string) string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	cols, _ := rows.Columns()
	type row struct{ id, val string }
	var pending []row
	for rows.Next() {
		var id, a, b string
		dest := []any{&id, &a}
		if len(cols) == 3 {
			dest = append(dest, &b)
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return fmt.Errorf("backfill scan: %w", err)
		}
		pending = append(pending, row{id, value(a, b)})
	}
	// Close before writing; the pool has a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, r := range pending {
		if _, err := s.db.ExecContext(ctx, update, r.val, r.id); err != nil {
			return fmt.Errorf("backfill update: %w", err)
		}
	}
	return nil
}

// searchText is what MatchKeywords searches: the folded title and summary.
func searchText(title, summary string) string {
	return doctree.Fold(title + "\n" + summary)
}

// SaveTree writes the tree inside one transaction: any stored document with
// the same name is deleted first, then the document and all sections are
// inserted, then edges that join on the stored ids.
func (s *SQLiteStore) SaveTree(ctx context.Context, tree *doctree.Tree) (bool, error) {
	start := time.Now()
	doc := tree.Document
	sections := tree.Sections()
	s.logger.Debug("sqlite graph: save tree", "doc", doc.Name, "sections", len(sections))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	replaced := true
	if _, err := deleteDocument(ctx, tx, doc.Name); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return false, err
		}
		replaced = false
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, name, source_path, document_type, id_prefix, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.SourcePath, doc.DocumentType, doc.SectionPrefix(), doc.CreatedAt,
	); err != nil {
		return false, fmt.Errorf("insert document %s: %w", doc.Name, err)
	}

	for i, sec := range sections {
		var emb any
		if len(sec.SummaryEmbedding) > 0 {
			emb = serializeEmbedding(sec.SummaryEmbedding)
		}
		var summary any
		if sec.Summary != "" {
			summary = sec.Summary
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sections (id, document_id, title, level, start_line, end_line, position, summary, summary_embedding, search_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sec.ID, doc.ID, sec.Title, sec.Level, sec.StartLine, sec.EndLine, i, summary, emb,
			searchText(sec.Title, sec.Summary),
		); err != nil {
			return false, fmt.Errorf("insert section %s: %w", sec.ID, err)
		}
	}

	for _, e := range tree.Edges() {
		var res sql.Result
		if e.Relation == doctree.RelHasSection {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO edges (parent_id, child_id, relation, document_id)
				 SELECT d.id, c.id, ?, d.id FROM documents d JOIN sections c ON c.id = ? WHERE d.id = ?`,
				string(e.Relation), e.To, e.From)
		} else {
			res, err = tx.ExecContext(ctx,
				`INSERT INTO edges (parent_id, child_id, relation, document_id)
				 SELECT p.id, c.id, ?, c.document_id FROM sections p JOIN sections c ON c.id = ? WHERE p.id = ?`,
				string(e.Relation), e.To, e.From)
		}
		if err != nil {
			return false, fmt.Errorf("insert edge %s->%s: %w", e.From, e.To, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return false, fmt.Errorf("insert edge %s->%s: endpoint missing", e.From, e.To)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite graph: save tree ok", "doc", doc.Name, "replaced", replaced, "duration", time.Since(start))
	return replaced, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, name string) (doctree.Document, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doctree.Document{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	doc, err := deleteDocument(ctx, tx, name)
	if err != nil {
		return doctree.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return doctree.Document{}, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite graph: delete document ok", "doc", name, "duration", time.Since(start))
	return doc, nil
}

func deleteDocument(ctx context.Context, tx *sql.Tx, name string) (doctree.Document, error) {
	doc, err := scanDocument(tx.QueryRowContext(ctx, documentSelect+` WHERE name = ?`, name))
	if err != nil {
		return doctree.Document{}, err
	}
	for _, stmt := range []string{
		`DELETE FROM edges WHERE document_id = ?`,
		`DELETE FROM sections WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, doc.ID); err != nil {
			return doctree.Document{}, fmt.Errorf("delete document %s: %w", name, err)
		}
	}
	return doc, nil
}

// IDPrefix picks the section id prefix for the document called name: base
// when no other document uses it, otherwise the first free base_2, base_3...
// A prefix already held by name itself is reused.
func (s *SQLiteStore) IDPrefix(ctx context.Context, name, base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		var owner string
		err := s.db.QueryRowContext(ctx, `SELECT name FROM documents WHERE id_prefix = ?`, candidate).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner == name) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("id prefix %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d", base, n)
	}
}

const documentSelect = `SELECT id, name, source_path, document_type, id_prefix, created_at FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (doctree.Document, error) {
	var d doctree.Document
	err := row.Scan(&d.ID, &d.Name, &d.SourcePath, &d.DocumentType, &d.IDPrefix, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("scan document: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, name string) (doctree.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE name = ?`, name))
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.source_path, d.document_type, d.id_prefix, d.created_at,
		        (SELECT COUNT(*) FROM sections s WHERE s.document_id = d.id)
		 FROM documents d ORDER BY d.created_at, d.name`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentInfo
	for rows.Next() {
		var di DocumentInfo
		if err := rows.Scan(&di.ID, &di.Name, &di.SourcePath, &di.DocumentType, &di.IDPrefix, &di.CreatedAt, &di.Sections); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, di)
	}
	return out, rows.Err()
}

const nodeSelect = `SELECT s.id, s.document_id, d.name, s.title, s.level, s.start_line, s.end_line,
	s.position, s.summary, s.summary_embedding
	FROM sections s JOIN documents d ON d.id = s.document_id`

const nodeOrder = ` ORDER BY d.created_at, d.id, s.position`

func scanNode(row rowScanner) (Node, error) {
	var n Node
	var summary, emb sql.NullString
	if err := row.Scan(&n.ID, &n.DocumentID, &n.DocumentName, &n.Title, &n.Level,
		&n.StartLine, &n.EndLine, &n.Position, &summary, &emb); err != nil {
		return n, err
	}
	n.Summary = summary.String
	if emb.Valid && emb.String != "" {
		v, err := deserializeEmbedding(emb.String)
		if err != nil {
			return n, fmt.Errorf("decode embedding for %s: %w", n.ID, err)
		}
		n.SummaryEmbedding = v
	}
	return n, nil
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, nodeSelect+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, fmt.Errorf("get section %s: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteStore) Parent(ctx context.Context, id string) (*Node, error) {
	nodes, err := s.queryNodes(ctx,
		nodeSelect+` JOIN edges e ON e.parent_id = s.id WHERE e.child_id = ? AND e.relation = ?`,
		id, string(doctree.RelHasSubsection))
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

func (s *SQLiteStore) Children(ctx context.Context, id string) ([]Node, error) {
	return s.queryNodes(ctx,
		nodeSelect+` JOIN edges e ON e.child_id = s.id WHERE e.parent_id = ? AND e.relation = ?`+nodeOrder,
		id, string(doctree.RelHasSubsection))
}

func (s *SQLiteStore) Neighbors(ctx context.Context, id string, depth int) ([]Node, error) {
	if depth <= 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE walk(id, depth) AS (
			SELECT ?, 0
			UNION
			SELECT CASE WHEN e.parent_id = w.id THEN e.child_id ELSE e.parent_id END, w.depth + 1
			FROM edges e JOIN walk w ON e.parent_id = w.id OR e.child_id = w.id
			WHERE w.depth < ? AND e.relation = ?
		)
		SELECT DISTINCT id FROM walk WHERE id != ?`,
		id, depth, string(doctree.RelHasSubsection), id)
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", id, err)
	}
	var ids []any
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		ids = append(ids, nid)
	}
	// Close before the next query; the pool has a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	nodes, err := s.queryNodes(ctx, nodeSelect+` WHERE s.id IN (`+placeholders(len(ids))+`)`+nodeOrder, ids...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite graph: neighbors ok", "id", id, "depth", depth, "returned", len(nodes), "duration", time.Since(start))
	return nodes, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// filterClause renders f as extra AND conditions on the d alias.
func filterClause(f Filter) (string, []any) {
	var sb strings.Builder
	var args []any
	if f.Document != "" {
		sb.WriteString(` AND d.name = ?`)
		args = append(args, f.Document)
	}
	if f.DocumentType != "" {
		sb.WriteString(` AND d.document_type = ?`)
		args = append(args, f.DocumentType)
	}
	return sb.String(), args
}

// MatchKeywords runs instr against the folded search_text column so
// keywords need no LIKE escaping. SQLite's lower() folds ASCII only, so
// folding happens in Go on both sides.
func (s *SQLiteStore) MatchKeywords(ctx context.Context, keywords []string, limit int, f Filter) ([]Node, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	start := time.Now()
	conds := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords)+3)
	for _, kw := range keywords {
		conds = append(conds, `instr(s.search_text, ?) > 0`)
		args = append(args, doctree.Fold(kw))
	}
	where, fargs := filterClause(f)
	args = append(args, fargs...)

	query := nodeSelect + ` WHERE (` + strings.Join(conds, ` OR `) + `)` + where + nodeOrder
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	nodes, err := s.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite graph: match keywords ok", "keywords", keywords, "returned", len(nodes), "duration", time.Since(start))
	return nodes, nil
}

func (s *SQLiteStore) EmbeddedSections(ctx context.Context, f Filter) ([]Node, error) {
	where, args := filterClause(f)
	return s.queryNodes(ctx, nodeSelect+` WHERE s.summary_embedding IS NOT NULL`+where+nodeOrder, args...)
}

func (s *SQLiteStore) SectionEdges(ctx context.Context, f Filter) ([]doctree.Edge, error) {
	where, args := filterClause(f)
	args = append([]any{string(doctree.RelHasSubsection)}, args...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.parent_id, e.child_id, e.relation FROM edges e JOIN documents d ON d.id = e.document_id
		 WHERE e.relation = ?`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("section edges: %w", err)
	}
	defer rows.Close()

	var out []doctree.Edge
	for rows.Next() {
		var e doctree.Edge
		var rel string
		if err := rows.Scan(&e.From, &e.To, &rel); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Relation = doctree.Relation(rel)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM documents),
		(SELECT COUNT(*) FROM sections),
		(SELECT COUNT(*) FROM edges)`).Scan(&c.Documents, &c.Sections, &c.Edges)
	if err != nil {
		return c, fmt.Errorf("counts: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range []string{`DELETE FROM edges`, `DELETE FROM sections`, `DELETE FROM documents`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear graph: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite graph: cleared")
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
