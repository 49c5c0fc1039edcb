package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

const (
	DefaultEmbedModel      = "gemini-embedding-001"
	DefaultEmbedDim        = 768
	DefaultGenModel        = "gemini-2.5-flash"
	DefaultTemperature     = 0.3
	DefaultTopP            = 0.9
	DefaultMaxOutputTokens = 2048

	// limite da API batchEmbedContents
	maxEmbedBatch = 100
)

var ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY or GOOGLE_API_KEY")

type Options struct {
	APIKey          string
	EmbedModel      string
	EmbedDim        int
	GenModel        string
	// Temperature and TopP are pointers so an explicit 0 is sent as 0;
	// nil selects the default.
	Temperature     *float32
	TopP            *float32
	MaxOutputTokens int
	// BaseURL overrides the Gemini endpoint (tests, proxies).
	BaseURL string
	Logger  *slog.Logger
}

func (o *Options) withDefaults() {
	if o.APIKey == "" {
		o.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if o.EmbedModel == "" {
		o.EmbedModel = DefaultEmbedModel
	}
	if o.EmbedDim <= 0 {
		o.EmbedDim = DefaultEmbedDim
	}
	if o.GenModel == "" {
		o.GenModel = DefaultGenModel
	}
	if o.Temperature == nil {
		o.Temperature = genai.Ptr[float32](DefaultTemperature)
	}
	if o.TopP == nil {
		o.TopP = genai.Ptr[float32](DefaultTopP)
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// GeminiClient serves both the embedding and the generation side of the
// pipeline over one genai client.
type GeminiClient struct {
	client *genai.Client
	opts   Options
	log    *slog.Logger
}

func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	opts.withDefaults()
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: c, opts: opts, log: opts.Logger}, nil
}

// Encode embeds texts in input order, batching requests to the API limit.
func (g *GeminiClient) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GeminiClient) EncodeSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *GeminiClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for i, t := range texts {
		clean := normalizeWhitespace(t)
		if clean == "" {
			return nil, fmt.Errorf("empty text for embedding (item %d)", i)
		}
		contents = append(contents, genai.NewContentFromText(clean, genai.RoleUser))
	}

	resp, err := g.client.Models.EmbedContent(
		ctx,
		g.opts.EmbedModel,
		contents,
		&genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(g.opts.EmbedDim)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed error: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", got, len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) != g.opts.EmbedDim {
			n := 0
			if e != nil {
				n = len(e.Values)
			}
			return nil, fmt.Errorf("unexpected embedding size %d (expected %d)", n, g.opts.EmbedDim)
		}
		vec := make([]float32, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Generate never returns an error: failures travel inside the Generation.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) rag.Generation {
	cfg := &genai.GenerateContentConfig{
		Temperature:     g.opts.Temperature,
		TopP:            g.opts.TopP,
		MaxOutputTokens: int32(g.opts.MaxOutputTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.opts.GenModel, genai.Text(prompt), cfg)
	if err != nil {
		g.log.Error("gemini generateContent error", slog.String("model", g.opts.GenModel), slog.Any("err", err))
		return rag.GenerationFailed(err)
	}
	if resp == nil {
		return rag.GenerationFailed(errors.New("empty response from gemini"))
	}

	txt := strings.TrimSpace(resp.Text())
	if txt == "" {
		return rag.GenerationFailed(errors.New("model returned empty text"))
	}
	return rag.Generated(txt)
}

// -------- helpers --------

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ rag.Embedder = (*GeminiClient)(nil)
var _ rag.Generator = (*GeminiClient)(nil)
