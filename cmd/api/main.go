package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josinaldojr/club-news-rag/internal/config"
	apphttp "github.com/josinaldojr/club-news-rag/internal/http"
	"github.com/josinaldojr/club-news-rag/internal/llm"
	"github.com/josinaldojr/club-news-rag/internal/logger"
	"github.com/josinaldojr/club-news-rag/internal/rag"
	"github.com/josinaldojr/club-news-rag/internal/vectorstore"
)

func main() {
	log := logger.New("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

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

	// the API never creates the collection: run import-news first
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

	ragService := rag.NewService(store, geminiClient, geminiClient, cfg.TopK, log)

	h := apphttp.NewHandler(ragService, cfg.AskTimeout, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apphttp.NewRouter(h, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("API listening", slog.String("addr", srv.Addr), slog.String("backend", cfg.VectorBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.Any("err", err))
	}
	log.Info("API stopped")
}
