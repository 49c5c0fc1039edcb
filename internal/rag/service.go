package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	wl "github.com/abadojack/whatlanggo"
)

const DefaultTopK = 5

var ErrEmptyQuestion = errors.New("question is required")

type Service struct {
	store      VectorStore
	embeddings Embedder
	llm        Generator
	topK       int
	log        *slog.Logger
}

// Answer is what one question produces: the text to show, the raw
// generation outcome and the hits used as sources.
type Answer struct {
	Text       string
	Generation Generation
	Hits       []SearchHit
	Lang       string
}

func NewService(store VectorStore, embeddings Embedder, llm Generator, topK int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:      store,
		embeddings: embeddings,
		llm:        llm,
		topK:       topK,
		log:        logger,
	}
}

// Answer embeds the question, retrieves current news, builds the grounded
// prompt and asks the model. Only embedding and store failures are returned
// as errors; a failed generation is reported inside the Answer.
func (s *Service) Answer(ctx context.Context, question string, topK int) (*Answer, error) {
	if topK <= 0 {
		topK = s.topK
	}

	s.log.Debug("embedding question", slog.String("question", question))
	vec, err := s.embeddings.EncodeSingle(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	s.log.Debug("searching vector store", slog.Int("top_k", topK))
	hits, err := s.store.Search(ctx, vec, topK, CurrentOnly())
	if err != nil {
		return nil, fmt.Errorf("search news: %w", err)
	}

	prompt := BuildGroundedPrompt(BuildContext(hits), question)

	s.log.Debug("generating answer", slog.Int("hits", len(hits)), slog.Int("prompt_len", len(prompt)))
	gen := s.llm.Generate(ctx, prompt)
	if gen.Failed() {
		s.log.Warn("generation failed", slog.Any("err", gen.Err))
	}

	return &Answer{
		Text:       gen.Display(),
		Generation: gen,
		Hits:       hits,
		Lang:       detectLang(question),
	}, nil
}

// Ask is the API flavour of Answer.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}

	ans, err := s.Answer(ctx, q, req.TopK)
	if err != nil {
		return nil, err
	}

	// Monta fontes
	sources := make([]SourceRef, 0, len(ans.Hits))
	for _, h := range ans.Hits {
		sources = append(sources, SourceRef{
			ID:          h.ID,
			Date:        h.Metadata.Date,
			Category:    h.Metadata.Category,
			Source:      h.Metadata.Source,
			Competition: h.Metadata.Competition,
			Distance:    h.Distance,
			Snippet:     snippet(h.Text, 160),
		})
	}

	return &AskResponse{
		Answer:  ans.Text,
		Failed:  ans.Generation.Failed(),
		Lang:    ans.Lang,
		Sources: sources,
	}, nil
}

// SetStatus retracts (or restores) a news item without deleting it.
func (s *Service) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.store.SetStatus(ctx, id, status)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func detectLang(s string) string {
	info := wl.Detect(s)
	switch info.Lang {
	case wl.Spa:
		return "es"
	case wl.Eng:
		return "en"
	case wl.Por:
		return "pt"
	default:
		return "es"
	}
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
