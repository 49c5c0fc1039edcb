package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

// fakeGemini answers the two REST calls the client makes.
func fakeGemini(t *testing.T, dim int, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "mbedContent"):
			var body struct {
				Requests []json.RawMessage `json:"requests"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			n := len(body.Requests)
			if n == 0 {
				n = 1
			}
			embs := make([]map[string][]float32, n)
			for i := range embs {
				v := make([]float32, dim)
				v[i%dim] = 1
				embs[i] = map[string][]float32{"values": v}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embs})
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			generate(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, dim int) *GeminiClient {
	t.Helper()
	c, err := NewGeminiClient(context.Background(), Options{
		APIKey:   "test-key",
		EmbedDim: dim,
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := NewGeminiClient(context.Background(), Options{})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOptionsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	o := Options{}
	o.withDefaults()
	require.Equal(t, "from-env", o.APIKey)
	require.Equal(t, DefaultEmbedModel, o.EmbedModel)
	require.Equal(t, DefaultEmbedDim, o.EmbedDim)
	require.Equal(t, DefaultGenModel, o.GenModel)
	require.NotNil(t, o.Temperature)
	require.NotNil(t, o.TopP)
	require.InDelta(t, 0.3, *o.Temperature, 1e-6)
	require.InDelta(t, 0.9, *o.TopP, 1e-6)
	require.Equal(t, 2048, o.MaxOutputTokens)

	zero := Options{Temperature: genai.Ptr[float32](0), TopP: genai.Ptr[float32](0)}
	zero.withDefaults()
	require.Zero(t, *zero.Temperature)
	require.Zero(t, *zero.TopP)
}

func TestGenerateSendsZeroTemperature(t *testing.T) {
	var sent struct {
		GenerationConfig map[string]any `json:"generationConfig"`
	}
	srv := fakeGemini(t, 4, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`))
	})
	c, err := NewGeminiClient(context.Background(), Options{
		APIKey:      "test-key",
		EmbedDim:    4,
		BaseURL:     srv.URL,
		Temperature: genai.Ptr[float32](0),
	})
	require.NoError(t, err)

	gen := c.Generate(context.Background(), "prompt")
	require.False(t, gen.Failed())
	require.Contains(t, sent.GenerationConfig, "temperature")
	require.EqualValues(t, 0, sent.GenerationConfig["temperature"])
	require.InDelta(t, 0.9, sent.GenerationConfig["topP"], 1e-6)
}

func TestGenerateSuccess(t *testing.T) {
	srv := fakeGemini(t, 4, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"  El partido es el sábado.  "}]}}]}`))
	})
	c := newTestClient(t, srv, 4)

	gen := c.Generate(context.Background(), "prompt")
	require.False(t, gen.Failed())
	require.Equal(t, "El partido es el sábado.", gen.Display())
}

func TestGenerateFailureIsReportedNotReturned(t *testing.T) {
	srv := fakeGemini(t, 4, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	})
	c := newTestClient(t, srv, 4)

	gen := c.Generate(context.Background(), "prompt")
	require.True(t, gen.Failed())
	require.True(t, strings.HasPrefix(gen.Display(), rag.GenerationErrorPrefix))
}

func TestGenerateEmptyTextFails(t *testing.T) {
	srv := fakeGemini(t, 4, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"   "}]}}]}`))
	})
	c := newTestClient(t, srv, 4)

	gen := c.Generate(context.Background(), "prompt")
	require.True(t, gen.Failed())
}

func TestEncodeKeepsOrderAndDimension(t *testing.T) {
	srv := fakeGemini(t, 4, nil)
	c := newTestClient(t, srv, 4)

	vecs, err := c.Encode(context.Background(), []string{"uno", "dos", "tres"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		require.Len(t, v, 4)
		require.Equal(t, float32(1), v[i])
	}

	single, err := c.EncodeSingle(context.Background(), "uno")
	require.NoError(t, err)
	require.Equal(t, vecs[0], single)
}

func TestEncodeRejectsWrongDimension(t *testing.T) {
	srv := fakeGemini(t, 3, nil)
	c := newTestClient(t, srv, 4)

	_, err := c.Encode(context.Background(), []string{"uno"})
	require.Error(t, err)
}

func TestEncodeRejectsBlankText(t *testing.T) {
	srv := fakeGemini(t, 4, nil)
	c := newTestClient(t, srv, 4)

	_, err := c.Encode(context.Background(), []string{"uno", " \n\t "})
	require.Error(t, err)
}

func TestNormalizeWhitespace(t *testing.T) {
	require.Equal(t, "a b c", normalizeWhitespace("  a\n\nb\t c "))
	require.Equal(t, "", normalizeWhitespace(" \n "))
}
