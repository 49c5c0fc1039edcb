package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/josinaldojr/club-news-rag/internal/config"
	"github.com/josinaldojr/club-news-rag/internal/llm"
	"github.com/josinaldojr/club-news-rag/internal/logger"
	"github.com/josinaldojr/club-news-rag/internal/rag"
	"github.com/josinaldojr/club-news-rag/internal/vectorstore"
)

func main() {
	log := logger.New("ask")

	topK := flag.Int("k", 0, "número de notícias a recuperar (0 = RAG_TOP_K)")
	showSources := flag.Bool("sources", true, "mostrar as notícias usadas")
	flag.Parse()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "uso: ask [-k N] \"¿Cuándo es el próximo partido?\"")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AskTimeout+15*time.Second)
	defer cancel()

	geminiClient, err := llm.NewGeminiClient(ctx, llm.Options{
		APIKey:          cfg.GeminiAPIKey,
		EmbedModel:      cfg.EmbedModel,
		EmbedDim:        cfg.EmbedDim,
		GenModel:        cfg.GenModel,
		Temperature:     &cfg.Temperature,
		TopP:            &cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to init Gemini client", slog.Any("err", err))
		os.Exit(1)
	}

	store, err := vectorstore.Open(ctx, vectorstore.Options{
		Backend:    cfg.VectorBackend,
		Dir:        cfg.DataDir,
		URL:        cfg.DatabaseURL,
		Collection: cfg.Collection,
		Logger:     log,
	})
	if err != nil {
		log.Error("failed to open vector store", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	svc := rag.NewService(store, geminiClient, geminiClient, cfg.TopK, log)
	ans, err := svc.Answer(ctx, question, *topK)
	if err != nil {
		log.Error("ask failed", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println(ans.Text)
	if *showSources && len(ans.Hits) > 0 {
		fmt.Println()
		fmt.Println("Fuentes:")
		for i, h := range ans.Hits {
			fmt.Printf("  %d. [%s - %s] %s (distancia %.3f)\n", i+1, h.Metadata.Date, h.Metadata.Category, h.ID, h.Distance)
		}
	}
	if ans.Generation.Failed() {
		os.Exit(1)
	}
}
