package rag

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrLengthMismatch     = errors.New("documents and embeddings length mismatch")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrZeroVector         = errors.New("embedding has zero magnitude")
)

// VectorStore persists news vectors for one collection.
//
// Every method fails with ErrCollectionNotFound when the collection is gone,
// so "no data yet" is never confused with a broken store.
type VectorStore interface {
	// AddDocuments upserts docs[i] with embeddings[i]. The status is always
	// reset to StatusCurrent.
	AddDocuments(ctx context.Context, docs []NewsDocument, embeddings [][]float32) error
	// Search returns at most topK hits matching filter, nearest first.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]SearchHit, error)
	SetStatus(ctx context.Context, id string, status Status) error
	ClearAll(ctx context.Context) error
	// ReplaceAll empties the collection and stores docs in one step; on
	// error the previous contents are kept.
	ReplaceAll(ctx context.Context, docs []NewsDocument, embeddings [][]float32) error
	Stats(ctx context.Context) (Stats, error)
}

// CheckAligned validates the positional contract of AddDocuments.
func CheckAligned(docs []NewsDocument, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("%w: %d documents, %d embeddings", ErrLengthMismatch, len(docs), len(embeddings))
	}
	dim := -1
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document at position %d has empty id", i)
		}
		if len(embeddings[i]) == 0 {
			return fmt.Errorf("document %s has empty embedding", doc.ID)
		}
		if err := CheckVector(embeddings[i]); err != nil {
			return fmt.Errorf("document %s: %w", doc.ID, err)
		}
		if dim == -1 {
			dim = len(embeddings[i])
		} else if len(embeddings[i]) != dim {
			return fmt.Errorf("%w: document %s has %d, expected %d", ErrDimensionMismatch, doc.ID, len(embeddings[i]), dim)
		}
	}
	return nil
}

// CheckVector rejects vectors that have no direction; cosine distance is
// undefined for them.
func CheckVector(v []float32) error {
	for _, x := range v {
		if x != 0 {
			return nil
		}
	}
	return ErrZeroVector
}
