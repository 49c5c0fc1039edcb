package vectorstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josinaldojr/club-news-rag/internal/rag"
	"github.com/josinaldojr/club-news-rag/internal/vectorstore"
)

var fileBackends = []string{vectorstore.BackendSQLite, vectorstore.BackendBolt}

func openStore(t *testing.T, backend, dir string, create bool) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.Open(context.Background(), vectorstore.Options{
		Backend:    backend,
		Dir:        dir,
		Collection: "balonmano_zamora",
		Create:     create,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocs() ([]rag.NewsDocument, [][]float32) {
	docs := []rag.NewsDocument{
		{ID: "n1", Title: "Convocatoria", Body: "Lista para el partido contra Sinfín.", Date: "2024-02-12", Category: "convocatoria", Source: "web", Competition: "Primera Nacional"},
		{ID: "n2", Title: "Entrenamiento", Body: "El BM Zamora prepara el partido.", Date: "2024-02-10", Category: "noticia", Source: "web", Competition: "Primera Nacional"},
		{ID: "n3", Title: "Cantera", Body: "Los juveniles ganan en Valladolid.", Date: "2024-02-08", Category: "cantera", Source: "prensa", Competition: "Juvenil"},
	}
	embeddings := [][]float32{
		{1, 0, 0},
		{0.8, 0.6, 0},
		{0, 0, 1},
	}
	return docs, embeddings
}

func TestStoreAddAndSearchExactMatch(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			hits, err := s.Search(ctx, []float32{0, 0, 1}, 2, rag.CurrentOnly())
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			require.Equal(t, "n3", hits[0].ID)
			require.InDelta(t, 0, hits[0].Distance, 1e-6)
			require.Equal(t, "Cantera. Los juveniles ganan en Valladolid.", hits[0].Text)
			require.Equal(t, rag.Metadata{
				Date:        "2024-02-08",
				Category:    "cantera",
				Source:      "prensa",
				Competition: "Juvenil",
				Status:      rag.StatusCurrent,
			}, hits[0].Metadata)
		})
	}
}

func TestStoreSearchOrderedByDistance(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			hits, err := s.Search(ctx, []float32{1, 0.1, 0}, 3, nil)
			require.NoError(t, err)
			require.Len(t, hits, 3)
			require.Equal(t, []string{"n1", "n2", "n3"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
			for i := 1; i < len(hits); i++ {
				require.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
			}
		})
	}
}

func TestStoreSearchFewerMatchesThanTopK(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			hits, err := s.Search(ctx, []float32{1, 0, 0}, 10, rag.Filter{rag.KeyCompetition: "Primera Nacional"})
			require.NoError(t, err)
			require.Len(t, hits, 2)

			_, err = s.Search(ctx, []float32{1, 0, 0}, 0, nil)
			require.Error(t, err)
		})
	}
}

func TestStoreSupersededIsFilteredOut(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			require.NoError(t, s.SetStatus(ctx, "n1", rag.StatusSuperseded))

			hits, err := s.Search(ctx, []float32{1, 0, 0}, 5, rag.CurrentOnly())
			require.NoError(t, err)
			for _, h := range hits {
				require.NotEqual(t, "n1", h.ID)
			}
			require.Len(t, hits, 2)

			// still stored, only hidden by the filter
			all, err := s.Search(ctx, []float32{1, 0, 0}, 5, nil)
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, rag.StatusSuperseded, all[0].Metadata.Status)

			require.ErrorIs(t, s.SetStatus(ctx, "missing", rag.StatusSuperseded), rag.ErrDocumentNotFound)
		})
	}
}

func TestStoreDuplicateIDsUpsert(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))
			require.NoError(t, s.SetStatus(ctx, "n2", rag.StatusSuperseded))

			updated := docs[1]
			updated.Body = "Sesión suspendida por lluvia."
			require.NoError(t, s.AddDocuments(ctx, []rag.NewsDocument{updated}, [][]float32{{0, 1, 0}}))

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, stats.Count)

			hits, err := s.Search(ctx, []float32{0, 1, 0}, 1, rag.CurrentOnly())
			require.NoError(t, err)
			require.Len(t, hits, 1)
			require.Equal(t, "n2", hits[0].ID)
			require.Equal(t, "Entrenamiento. Sesión suspendida por lluvia.", hits[0].Text)
			require.Equal(t, rag.StatusCurrent, hits[0].Metadata.Status)
		})
	}
}

func TestStoreClearAllAndStats(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, rag.Stats{Count: 3, Name: "balonmano_zamora"}, stats)

			require.NoError(t, s.ClearAll(ctx))

			stats, err = s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 0, stats.Count)

			hits, err := s.Search(ctx, []float32{1, 0, 0}, 5, nil)
			require.NoError(t, err)
			require.Empty(t, hits)

			// a reindex may use another dimension
			require.NoError(t, s.AddDocuments(ctx, docs[:1], [][]float32{{1, 0}}))
		})
	}
}

func TestStoreDimensionAndLengthChecks(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()

			require.ErrorIs(t, s.AddDocuments(ctx, docs, embs[:2]), rag.ErrLengthMismatch)
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			err := s.AddDocuments(ctx, docs[:1], [][]float32{{1, 0}})
			require.ErrorIs(t, err, rag.ErrDimensionMismatch)

			_, err = s.Search(ctx, []float32{1, 0}, 3, nil)
			require.ErrorIs(t, err, rag.ErrDimensionMismatch)

			_, err = s.Search(ctx, []float32{1, 0, 0}, 3, rag.Filter{"titulo": "x"})
			require.ErrorIs(t, err, rag.ErrInvalidFilter)
		})
	}
}

func TestStoreMissingCollectionFailsLoudly(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()

			_, err := vectorstore.Open(context.Background(), vectorstore.Options{
				Backend:    backend,
				Dir:        dir,
				Collection: "balonmano_zamora",
			})
			require.ErrorIs(t, err, rag.ErrCollectionNotFound)

			// the file exists now, but holds another collection
			other, err := vectorstore.Open(context.Background(), vectorstore.Options{
				Backend:    backend,
				Dir:        dir,
				Collection: "otro_club",
				Create:     true,
			})
			require.NoError(t, err)
			require.NoError(t, other.Close())

			_, err = vectorstore.Open(context.Background(), vectorstore.Options{
				Backend:    backend,
				Dir:        dir,
				Collection: "balonmano_zamora",
			})
			require.ErrorIs(t, err, rag.ErrCollectionNotFound)
		})
	}
}

func TestStoreReopenPersists(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s, err := vectorstore.Open(ctx, vectorstore.Options{Backend: backend, Dir: dir, Collection: "balonmano_zamora", Create: true})
			require.NoError(t, err)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))
			require.NoError(t, s.Close())

			reopened := openStore(t, backend, dir, false)
			stats, err := reopened.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, stats.Count)
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := vectorstore.Open(context.Background(), vectorstore.Options{Backend: "chroma", Collection: "x"})
	require.Error(t, err)

	_, err = vectorstore.Open(context.Background(), vectorstore.Options{Backend: vectorstore.BackendSQLite, Dir: t.TempDir()})
	require.Error(t, err)
}

func TestStoreRejectsZeroVectors(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			embs[2] = []float32{0, 0, 0}

			require.ErrorIs(t, s.AddDocuments(ctx, docs, embs), rag.ErrZeroVector)

			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			require.Zero(t, stats.Count)

			_, embs = sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			_, err = s.Search(ctx, []float32{0, 0, 0}, 3, rag.CurrentOnly())
			require.ErrorIs(t, err, rag.ErrZeroVector)

			hits, err := s.Search(ctx, []float32{1, 0, 0}, 3, rag.CurrentOnly())
			require.NoError(t, err)
			require.Len(t, hits, 3)
		})
	}
}

func TestStoreReplaceAll(t *testing.T) {
	for _, backend := range fileBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend, t.TempDir(), true)
			docs, embs := sampleDocs()
			require.NoError(t, s.AddDocuments(ctx, docs, embs))

			// rejected input keeps the current contents
			bad := [][]float32{{1, 0}, {0, 0}}
			require.ErrorIs(t, s.ReplaceAll(ctx, docs[:2], bad), rag.ErrZeroVector)
			stats, err := s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 3, stats.Count)

			// the new set may use another dimension
			require.NoError(t, s.ReplaceAll(ctx, docs[:1], [][]float32{{0, 1}}))
			stats, err = s.Stats(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, stats.Count)

			hits, err := s.Search(ctx, []float32{0, 1}, 5, nil)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			require.Equal(t, "n1", hits[0].ID)
		})
	}
}
