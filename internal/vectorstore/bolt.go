package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

const boltFile = "vectors.bolt"

var (
	bucketCollections = []byte("collections")
	bucketDocs        = []byte("docs")
	keyDim            = []byte("dim")
)

type boltRecord struct {
	Content   string       `json:"content"`
	Metadata  rag.Metadata `json:"metadata"`
	Embedding []byte       `json:"embedding"`
}

// BoltStore keeps each collection in its own bucket of a bbolt file and
// answers queries with a full scan.
type BoltStore struct {
	db   *bbolt.DB
	name []byte
	log  *slog.Logger
}

func OpenBolt(opts Options) (*BoltStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("vectorstore: bolt backend needs a data directory")
	}
	path := filepath.Join(opts.Dir, boltFile)

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

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	s := &BoltStore{db: db, name: []byte(opts.Collection), log: opts.logger()}
	err = db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketCollections)
		if err != nil {
			return err
		}
		if opts.Create {
			coll, err := root.CreateBucketIfNotExists(s.name)
			if err != nil {
				return err
			}
			if _, err := coll.CreateBucketIfNotExists(bucketDocs); err != nil {
				return err
			}
		}
		_, err = s.collection(tx)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("bolt collection ready", slog.String("path", path), slog.String("collection", opts.Collection))
	return s, nil
}

func (s *BoltStore) collection(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	root := tx.Bucket(bucketCollections)
	if root == nil {
		return nil, fmt.Errorf("%w: %q", rag.ErrCollectionNotFound, s.name)
	}
	coll := root.Bucket(s.name)
	if coll == nil || coll.Bucket(bucketDocs) == nil {
		return nil, fmt.Errorf("%w: %q", rag.ErrCollectionNotFound, s.name)
	}
	return coll, nil
}

func collectionDim(coll *bbolt.Bucket) int {
	raw := coll.Get(keyDim)
	if len(raw) != 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint32(raw))
}

func putDim(coll *bbolt.Bucket, dim int) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(dim))
	return coll.Put(keyDim, b)
}

func (s *BoltStore) AddDocuments(_ context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		return putDocuments(coll, docs, embeddings)
	})
	if err != nil {
		return err
	}

	s.log.Info("documents stored", slog.Int("count", len(docs)), slog.String("collection", string(s.name)))
	return nil
}

func putDocuments(coll *bbolt.Bucket, docs []rag.NewsDocument, embeddings [][]float32) error {
	if len(docs) == 0 {
		return nil
	}

	dim, vdim := collectionDim(coll), len(embeddings[0])
	switch {
	case dim == 0:
		if err := putDim(coll, vdim); err != nil {
			return err
		}
	case dim != vdim:
		return fmt.Errorf("%w: collection has %d, got %d", rag.ErrDimensionMismatch, dim, vdim)
	}

	b := coll.Bucket(bucketDocs)
	for i, d := range docs {
		data, err := json.Marshal(boltRecord{
			Content:   d.Text(),
			Metadata:  d.Metadata(),
			Embedding: EncodeEmbedding(embeddings[i]),
		})
		if err != nil {
			return err
		}
		if err := b.Put([]byte(d.ID), data); err != nil {
			return fmt.Errorf("put document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *BoltStore) Search(_ context.Context, vector []float32, topK int, filter rag.Filter) ([]rag.SearchHit, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var hits []rag.SearchHit
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		dim := collectionDim(coll)
		if dim == 0 {
			return nil
		}
		if len(vector) != dim {
			return fmt.Errorf("%w: collection has %d, query has %d", rag.ErrDimensionMismatch, dim, len(vector))
		}
		if err := rag.CheckVector(vector); err != nil {
			return fmt.Errorf("query: %w", err)
		}

		return coll.Bucket(bucketDocs).ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode document %s: %w", k, err)
			}
			if !filter.Matches(rec.Metadata) {
				return nil
			}
			emb, err := DecodeEmbedding(rec.Embedding)
			if err != nil {
				return fmt.Errorf("document %s: %w", k, err)
			}
			d, err := CosineDistance(vector, emb)
			if err != nil {
				return fmt.Errorf("document %s: %w", k, err)
			}
			hits = append(hits, rag.SearchHit{
				ID:       string(k),
				Text:     rec.Content,
				Metadata: rec.Metadata,
				Distance: d,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].ID < hits[b].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *BoltStore) SetStatus(_ context.Context, id string, status rag.Status) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		b := coll.Bucket(bucketDocs)
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", rag.ErrDocumentNotFound, id)
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode document %s: %w", id, err)
		}
		rec.Metadata.Status = status
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) ClearAll(_ context.Context) error {
	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		deleted, err = clearCollection(coll)
		return err
	})
	if err != nil {
		return err
	}

	s.log.Info("collection cleared", slog.Int("deleted", deleted), slog.String("collection", string(s.name)))
	return nil
}

func (s *BoltStore) ReplaceAll(_ context.Context, docs []rag.NewsDocument, embeddings [][]float32) error {
	if err := rag.CheckAligned(docs, embeddings); err != nil {
		return err
	}

	var deleted int
	// one bbolt transaction: a failed put rolls the delete back too
	err := s.db.Update(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		if deleted, err = clearCollection(coll); err != nil {
			return err
		}
		return putDocuments(coll, docs, embeddings)
	})
	if err != nil {
		return err
	}

	s.log.Info("collection replaced",
		slog.Int("deleted", deleted),
		slog.Int("stored", len(docs)),
		slog.String("collection", string(s.name)),
	)
	return nil
}

func clearCollection(coll *bbolt.Bucket) (int, error) {
	deleted := coll.Bucket(bucketDocs).Stats().KeyN
	if err := coll.DeleteBucket(bucketDocs); err != nil {
		return 0, err
	}
	if _, err := coll.CreateBucket(bucketDocs); err != nil {
		return 0, err
	}
	return deleted, coll.Delete(keyDim)
}

func (s *BoltStore) Stats(_ context.Context) (rag.Stats, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		coll, err := s.collection(tx)
		if err != nil {
			return err
		}
		return coll.Bucket(bucketDocs).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return rag.Stats{}, err
	}
	return rag.Stats{Count: n, Name: string(s.name)}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
