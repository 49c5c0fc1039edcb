package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// Indexer embeds news documents and writes them to a vector store.
type Indexer struct {
	store     rag.VectorStore
	embedder  rag.Embedder
	batchSize int
	workers   int
	log       *slog.Logger
}

type Options struct {
	BatchSize int
	Workers   int
	Logger    *slog.Logger
}

type Result struct {
	Indexed  int
	Batches  int
	Duration time.Duration
}

func NewIndexer(store rag.VectorStore, embedder rag.Embedder, opts Options) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Indexer{
		store:     store,
		embedder:  embedder,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		log:       opts.Logger,
	}
}

// Index embeds docs in parallel batches and stores them in one call, so a
// failed embedding leaves the collection untouched. With clear set the
// collection is replaced by docs instead of merged with them.
func (ix *Indexer) Index(ctx context.Context, docs []rag.NewsDocument, clear bool) (Result, error) {
	start := time.Now()

	embeddings, batches, err := ix.embed(ctx, docs)
	if err != nil {
		return Result{}, err
	}

	if clear {
		err = ix.store.ReplaceAll(ctx, docs, embeddings)
	} else {
		err = ix.store.AddDocuments(ctx, docs, embeddings)
	}
	if err != nil {
		return Result{}, fmt.Errorf("store documents: %w", err)
	}

	res := Result{Indexed: len(docs), Batches: batches, Duration: time.Since(start)}
	ix.log.Info("news indexed",
		slog.Int("documents", res.Indexed),
		slog.Int("batches", res.Batches),
		slog.Bool("replaced", clear),
		slog.Duration("took", res.Duration),
	)
	return res, nil
}

func (ix *Indexer) embed(ctx context.Context, docs []rag.NewsDocument) ([][]float32, int, error) {
	embeddings := make([][]float32, len(docs))
	batches := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for from := 0; from < len(docs); from += ix.batchSize {
		to := from + ix.batchSize
		if to > len(docs) {
			to = len(docs)
		}
		batches++

		g.Go(func() error {
			texts := make([]string, 0, to-from)
			for _, d := range docs[from:to] {
				texts = append(texts, d.Text())
			}

			vecs, err := ix.embedder.Encode(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", from, to, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", from, to, len(vecs))
			}
			// each goroutine owns a disjoint range of the slice
			copy(embeddings[from:to], vecs)

			ix.log.Debug("batch embedded", slog.Int("from", from), slog.Int("to", to))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return embeddings, batches, nil
}

// Supersede marks news as no longer current. Every id is attempted; the
// first failure is returned.
func (ix *Indexer) Supersede(ctx context.Context, ids []string) error {
	var firstErr error
	for _, id := range ids {
		if err := ix.store.SetStatus(ctx, id, rag.StatusSuperseded); err != nil {
			ix.log.Warn("supersede failed", slog.String("id", id), slog.Any("err", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ix.log.Info("news superseded", slog.String("id", id))
	}
	return firstErr
}
