package vectorstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite "modernc.org/sqlite"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

const sqliteFile = "vectors.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    dim INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    content TEXT NOT NULL,
    fecha TEXT NOT NULL DEFAULT '',
    categoria TEXT NOT NULL DEFAULT '',
    fuente TEXT NOT NULL DEFAULT '',
    competicion TEXT NOT NULL DEFAULT '',
    estado TEXT NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_estado ON documents(collection, estado);
`

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions makes vec_cosine_distance available on connections
// opened after the call.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction("vec_cosine_distance", 2, cosineDistanceImpl)
		if registerErr != nil && strings.Contains(registerErr.Error(), "already") {
			registerErr = nil
		}
	})
	return registerErr
}

func cosineDistanceImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine_distance: expected 2 arguments, got %d", len(args))
	}
	a, err := blobArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobArg(args[1])
	if err != nil {
		return nil, err
	}
	d, err := CosineDistance(a, b)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func blobArg(arg driver.Value) ([]float32, error) {
	v, ok := arg.([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_cosine_distance: unsupported argument type %T; want BLOB", arg)
	}
	return DecodeEmbedding(v)
}

// SQLiteStore keeps every collection of a data directory in one SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	name string
	log  *slog.Logger
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func OpenSQLite(ctx context.Context, opts Options) (*SQLiteStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("vectorstore: sqlite backend needs a data directory")
	}
	path := filepath.Join(opts.Dir, sqliteFile)

	if opts.Create {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	} else if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q (no database at %s)", rag.ErrCollectionNotFound, opts.Collection, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, name: opts.Collection, log: opts.logger()}
	if err := s.init(ctx, opts.Create); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.log.Info("sqlite collection ready", slog.String("path", path), slog.String("collection", s.name))
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context, create bool) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure sqlite schema: %w", err)
	}
	if create {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO collections(name) VALUES(?)`, s.name); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	_, err := s.collectionDim(ctx, s.db)
	return err
}

func (s *SQLiteStore) collectionDim(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dim FROM collections WHERE name = ?`, s.name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", rag.ErrCollectionNotFound, s.name)
	}
	if err != nil {
		return 0, fmt.Errorf("read collection: %w", err)
	}
	return dim, nil
}

func (s *SQLiteStore) AddDocuments(ctx context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insert(ctx, tx, docs, embeddings); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("documents stored", slog.Int("count", len(docs)), slog.String("collection", s.name))
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, docs []rag.NewsDocument, embeddings [][]float32) error {
	dim, err := s.collectionDim(ctx, tx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	vdim := len(embeddings[0])
	switch {
	case dim == 0:
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dim = ? WHERE name = ?`, vdim, s.name); err != nil {
			return fmt.Errorf("set collection dim: %w", err)
		}
	case dim != vdim:
		return fmt.Errorf("%w: collection has %d, got %d", rag.ErrDimensionMismatch, dim, vdim)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents(collection, id, content, fecha, categoria, fuente, competicion, estado, embedding)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			fecha = excluded.fecha,
			categoria = excluded.categoria,
			fuente = excluded.fuente,
			competicion = excluded.competicion,
			estado = excluded.estado,
			embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range docs {
		m := d.Metadata()
		if _, err := stmt.ExecContext(ctx,
			s.name, d.ID, d.Text(),
			m.Date, m.Category, m.Source, m.Competition, string(m.Status),
			EncodeEmbedding(embeddings[i]),
		); err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, filter rag.Filter) ([]rag.SearchHit, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	dim, err := s.collectionDim(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: collection has %d, query has %d", rag.ErrDimensionMismatch, dim, len(vector))
	}
	if err := rag.CheckVector(vector); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var q strings.Builder
	q.WriteString(`SELECT id, content, fecha, categoria, fuente, competicion, estado,
		vec_cosine_distance(embedding, ?) AS distance
		FROM documents WHERE collection = ?`)
	args := []any{EncodeEmbedding(vector), s.name}
	for _, k := range filter.Keys() {
		// keys are validated metadata names, which are also the column names
		q.WriteString(" AND " + k + " = ?")
		args = append(args, filter[k])
	}
	q.WriteString(" ORDER BY distance ASC, id ASC LIMIT ?")
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var hits []rag.SearchHit
	for rows.Next() {
		var (
			h      rag.SearchHit
			status string
		)
		if err := rows.Scan(
			&h.ID,
			&h.Text,
			&h.Metadata.Date,
			&h.Metadata.Category,
			&h.Metadata.Source,
			&h.Metadata.Competition,
			&status,
			&h.Distance,
		); err != nil {
			return nil, err
		}
		h.Metadata.Status = rag.Status(status)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status rag.Status) error {
	if _, err := s.collectionDim(ctx, s.db); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET estado = ? WHERE collection = ? AND id = ?`,
		string(status), s.name, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", rag.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := s.clear(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info("collection cleared", slog.Int64("deleted", n), slog.String("collection", s.name))
	return nil
}

func (s *SQLiteStore) ReplaceAll(ctx context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := s.clear(ctx, tx)
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, docs, embeddings); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info("collection replaced",
		slog.Int64("deleted", n),
		slog.Int("stored", len(docs)),
		slog.String("collection", s.name),
	)
	return nil
}

func (s *SQLiteStore) clear(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := s.collectionDim(ctx, tx); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, s.name)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	// a reindex may come from a different embedding model
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET dim = 0 WHERE name = ?`, s.name); err != nil {
		return 0, fmt.Errorf("reset collection dim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (rag.Stats, error) {
	if _, err := s.collectionDim(ctx, s.db); err != nil {
		return rag.Stats{}, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, s.name).Scan(&n); err != nil {
		return rag.Stats{}, fmt.Errorf("count documents: %w", err)
	}
	return rag.Stats{Count: n, Name: s.name}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
