package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/josinaldojr/club-news-rag/internal/config"
	"github.com/josinaldojr/club-news-rag/internal/feed"
	"github.com/josinaldojr/club-news-rag/internal/ingest"
	"github.com/josinaldojr/club-news-rag/internal/llm"
	"github.com/josinaldojr/club-news-rag/internal/logger"
	"github.com/josinaldojr/club-news-rag/internal/vectorstore"
)

func main() {
	log := logger.New("import-news")

	if err := run(log); err != nil {
		log.Error("import failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	feedFlag := flag.String("feed", cfg.FeedSource, "feed de notícias: caminho local, URL http(s) ou s3://bucket/key")
	clearFlag := flag.Bool("clear", false, "esvaziar a coleção antes de importar")
	supersedeFlag := flag.String("supersede", "", "ids separados por vírgula a marcar como superada (não importa o feed)")
	statsFlag := flag.Bool("stats", false, "apenas mostrar o total de documentos da coleção")
	batchFlag := flag.Int("batch", cfg.EmbedBatch, "textos por chamada de embedding (máx. 100)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := vectorstore.Open(ctx, vectorstore.Options{
		Backend:    cfg.VectorBackend,
		Dir:        cfg.DataDir,
		URL:        cfg.DatabaseURL,
		Collection: cfg.Collection,
		Create:     true,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer store.Close()

	if *statsFlag {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Colección %s: %d documentos\n", stats.Name, stats.Count)
		return nil
	}

	geminiClient, err := llm.NewGeminiClient(ctx, llm.Options{
		APIKey:     cfg.GeminiAPIKey,
		EmbedModel: cfg.EmbedModel,
		EmbedDim:   cfg.EmbedDim,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("init Gemini: %w", err)
	}

	ix := ingest.NewIndexer(store, geminiClient, ingest.Options{
		BatchSize: *batchFlag,
		Workers:   cfg.EmbedWorker,
		Logger:    log,
	})

	if *supersedeFlag != "" {
		return ix.Supersede(ctx, splitIDs(*supersedeFlag))
	}

	docs, err := feed.Load(ctx, *feedFlag, feed.Options{
		S3: feed.S3Config{
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.S3Endpoint,
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	res, err := ix.Index(ctx, docs, *clearFlag)
	if err != nil {
		return err
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info("import finished",
		slog.Int("indexed", res.Indexed),
		slog.Int("total", stats.Count),
		slog.String("collection", stats.Name),
	)
	return nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
