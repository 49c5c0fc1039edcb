package vectorstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/josinaldojr/club-news-rag/internal/db"
	"github.com/josinaldojr/club-news-rag/internal/rag"
)

//go:embed scripts/schema.sql
var schemaFS embed.FS

// PgStore keeps a collection in Postgres with a pgvector embedding column.
type PgStore struct {
	db   *pgxpool.Pool
	name string
	log  *slog.Logger
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// undefined_table: the database was never bootstrapped
const pgUndefinedTable = "42P01"

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

func OpenPostgres(ctx context.Context, opts Options) (*PgStore, error) {
	pool, err := db.NewPool(ctx, opts.URL)
	if err != nil {
		return nil, err
	}

	s := &PgStore{db: pool, name: opts.Collection, log: opts.logger()}
	if err := s.init(ctx, opts.Create); err != nil {
		pool.Close()
		return nil, err
	}

	s.log.Info("postgres collection ready", slog.String("collection", s.name))
	return s, nil
}

func (s *PgStore) init(ctx context.Context, create bool) error {
	if create {
		schema, err := schemaFS.ReadFile("scripts/schema.sql")
		if err != nil {
			return fmt.Errorf("read schema.sql: %w", err)
		}
		if _, err := s.db.Exec(ctx, string(schema)); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
		if _, err := s.db.Exec(ctx,
			`INSERT INTO news_collection (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, s.name); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	_, err := s.collectionDim(ctx, s.db)
	return err
}

func (s *PgStore) collectionDim(ctx context.Context, q pgQuerier) (int, error) {
	var dim int
	err := q.QueryRow(ctx, `SELECT dim FROM news_collection WHERE name = $1`, s.name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", rag.ErrCollectionNotFound, s.name)
	}
	if err != nil {
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("%w: %q (schema missing)", rag.ErrCollectionNotFound, s.name)
		}
		return 0, fmt.Errorf("read collection: %w", err)
	}
	return dim, nil
}

func (s *PgStore) AddDocuments(ctx context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.insert(ctx, tx, docs, embeddings); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("documents stored", slog.Int("count", len(docs)), slog.String("collection", s.name))
	return nil
}

func (s *PgStore) insert(ctx context.Context, tx pgx.Tx, docs []rag.NewsDocument, embeddings [][]float32) error {
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
		if _, err := tx.Exec(ctx, `UPDATE news_collection SET dim = $1 WHERE name = $2`, vdim, s.name); err != nil {
			return fmt.Errorf("set collection dim: %w", err)
		}
	case dim != vdim:
		return fmt.Errorf("%w: collection has %d, got %d", rag.ErrDimensionMismatch, dim, vdim)
	}

	for i, d := range docs {
		m := d.Metadata()
		_, err := tx.Exec(ctx, `
			INSERT INTO news_document (collection, id, content, fecha, categoria, fuente, competicion, estado, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (collection, id) DO UPDATE SET
				content = EXCLUDED.content,
				fecha = EXCLUDED.fecha,
				categoria = EXCLUDED.categoria,
				fuente = EXCLUDED.fuente,
				competicion = EXCLUDED.competicion,
				estado = EXCLUDED.estado,
				embedding = EXCLUDED.embedding,
				updated_at = now()
		`,
			s.name,
			d.ID,
			d.Text(),
			m.Date,
			m.Category,
			m.Source,
			m.Competition,
			string(m.Status),
			pgvector.NewVector(embeddings[i]),
		)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Search usa o operador <=> (distância de cosseno) do pgvector.
func (s *PgStore) Search(ctx context.Context, vector []float32, topK int, filter rag.Filter) ([]rag.SearchHit, error) {
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
	q.WriteString(`
		SELECT id, content, fecha, categoria, fuente, competicion, estado, embedding <=> $1 AS distance
		FROM news_document
		WHERE collection = $2`)
	args := []any{pgvector.NewVector(vector), s.name}
	for _, k := range filter.Keys() {
		args = append(args, filter[k])
		q.WriteString(" AND " + k + " = $" + strconv.Itoa(len(args)))
	}
	args = append(args, topK)
	q.WriteString(" ORDER BY distance ASC, id ASC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := s.db.Query(ctx, q.String(), args...)
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

func (s *PgStore) SetStatus(ctx context.Context, id string, status rag.Status) error {
	if _, err := s.collectionDim(ctx, s.db); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE news_document SET estado = $1, updated_at = now()
		WHERE collection = $2 AND id = $3
	`, string(status), s.name, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", rag.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *PgStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := s.clear(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.log.Info("collection cleared", slog.Int64("deleted", n), slog.String("collection", s.name))
	return nil
}

func (s *PgStore) ReplaceAll(ctx context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := s.clear(ctx, tx)
	if err != nil {
		return err
	}
	if err := s.insert(ctx, tx, docs, embeddings); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.log.Info("collection replaced",
		slog.Int64("deleted", n),
		slog.Int("stored", len(docs)),
		slog.String("collection", s.name),
	)
	return nil
}

func (s *PgStore) clear(ctx context.Context, tx pgx.Tx) (int64, error) {
	if _, err := s.collectionDim(ctx, tx); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM news_document WHERE collection = $1`, s.name)
	if err != nil {
		return 0, fmt.Errorf("clear documents: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE news_collection SET dim = 0 WHERE name = $1`, s.name); err != nil {
		return 0, fmt.Errorf("reset collection dim: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) Stats(ctx context.Context) (rag.Stats, error) {
	if _, err := s.collectionDim(ctx, s.db); err != nil {
		return rag.Stats{}, err
	}
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM news_document WHERE collection = $1`, s.name).Scan(&n); err != nil {
		return rag.Stats{}, fmt.Errorf("count documents: %w", err)
	}
	return rag.Stats{Count: n, Name: s.name}, nil
}

func (s *PgStore) Close() error {
	s.db.Close()
	return nil
}

var _ Store = (*PgStore)(nil)
