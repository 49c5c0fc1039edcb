// Package vectorstore keeps news embeddings in a named collection and answers
// nearest-neighbour queries over them. Three backends share the rag.VectorStore
// contract:
//   - sqlite: a file under a data directory, distance computed by a registered
//     SQL function (default)
//   - postgres: pgvector column and the <=> cosine operator
//   - bolt: a bbolt file with one bucket per collection, scanned in Go
package vectorstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
)

// Store is a rag.VectorStore that owns a connection.
type Store interface {
	rag.VectorStore
	Close() error
}

type Options struct {
	Backend    string
	Dir        string // sqlite and bolt
	URL        string // postgres
	Collection string
	// Create makes Open create the collection when it is missing. Query paths
	// leave it false so an empty or missing index is reported instead of
	// silently answering from nothing.
	Create bool
	Logger *slog.Logger
}

func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, opts)
	case BackendPostgres:
		return OpenPostgres(ctx, opts)
	case BackendBolt:
		return OpenBolt(opts)
	default:
		return nil, fmt.Errorf("vectorstore: unknown backend %q", opts.Backend)
	}
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

func checkTopK(topK int) error {
	if topK <= 0 {
		return fmt.Errorf("vectorstore: top_k must be positive, got %d", topK)
	}
	return nil
}
