package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey    string
	EmbedModel      string
	EmbedDim        int
	GenModel        string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int

	VectorBackend string
	DataDir       string
	Collection    string
	DatabaseURL   string

	FeedSource  string
	EmbedBatch  int
	EmbedWorker int

	TopK           int
	Port           string
	AskTimeout     time.Duration
	AllowedOrigins []string

	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
	S3Endpoint   string
}

// Load reads .env (if present) and the environment. The Gemini key is not
// checked here: only the commands that talk to the model require it.
// A set but unparseable numeric or duration value is an error, not a default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var env envReader
	cfg := &Config{
		GeminiAPIKey:    firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
		EmbedModel:      getEnv("EMBED_MODEL", "gemini-embedding-001"),
		EmbedDim:        env.getInt("EMBED_DIM", 768),
		GenModel:        getEnv("GEN_MODEL", "gemini-2.5-flash"),
		Temperature:     env.getFloat("GEN_TEMPERATURE", 0.3),
		TopP:            env.getFloat("GEN_TOP_P", 0.9),
		MaxOutputTokens: env.getInt("GEN_MAX_OUTPUT_TOKENS", 2048),

		VectorBackend: getEnv("VECTOR_BACKEND", "sqlite"),
		DataDir:       getEnv("VECTOR_DIR", "./data/vector_db"),
		Collection:    getEnv("VECTOR_COLLECTION", "balonmano_zamora"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		FeedSource:  getEnv("FEED_SOURCE", "./data/noticias_ejemplo.json"),
		EmbedBatch:  env.getInt("EMBED_BATCH_SIZE", 32),
		EmbedWorker: env.getInt("EMBED_WORKERS", 4),

		TopK:           env.getInt("RAG_TOP_K", 5),
		Port:           getEnv("PORT", "8080"),
		AskTimeout:     env.getDuration("ASK_TIMEOUT", "30s"),
		AllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")),

		AWSRegion:    getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
	}
	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	switch cfg.VectorBackend {
	case "sqlite", "bolt":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("VECTOR_DIR is required for the %s backend", cfg.VectorBackend)
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be sqlite, bolt or postgres, got %q", cfg.VectorBackend)
	}

	if cfg.Collection == "" {
		return nil, fmt.Errorf("VECTOR_COLLECTION must not be empty")
	}
	if cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("EMBED_DIM must be positive")
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("RAG_TOP_K must be positive")
	}
	if cfg.EmbedBatch <= 0 || cfg.EmbedBatch > 100 {
		return nil, fmt.Errorf("EMBED_BATCH_SIZE must be between 1 and 100")
	}
	if cfg.EmbedWorker <= 0 {
		return nil, fmt.Errorf("EMBED_WORKERS must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("GEN_TEMPERATURE must be between 0 and 2")
	}
	if cfg.TopP < 0 || cfg.TopP > 1 {
		return nil, fmt.Errorf("GEN_TOP_P must be between 0 and 1")
	}
	if cfg.MaxOutputTokens <= 0 {
		return nil, fmt.Errorf("GEN_MAX_OUTPUT_TOKENS must be positive")
	}
	if cfg.AskTimeout <= 0 {
		return nil, fmt.Errorf("ASK_TIMEOUT must be positive")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := getEnv(k, ""); v != "" {
			return v
		}
	}
	return ""
}

// envReader collects parse failures so Load can report all of them at once.
type envReader struct {
	errs []error
}

func (r *envReader) getInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return parsed
}

func (r *envReader) getFloat(key string, def float32) float32 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return float32(parsed)
}

func (r *envReader) getDuration(key, def string) time.Duration {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		d, _ = time.ParseDuration(def)
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
