// Package feed loads the club news feed (a JSON array of news items) from a
// local file, an HTTP(S) URL or an S3 object and turns it into documents
// ready to be indexed.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josinaldojr/club-news-rag/internal/rag"
)

// limite de leitura para feeds remotos
const maxFeedBytes = 32 << 20

var ErrEmptyItem = errors.New("news item has neither title nor body")

// itemNamespace derives ids for items that come without one.
var itemNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("balonmano-zamora/noticias"))

type Options struct {
	HTTPClient *http.Client
	S3         S3Config
	Logger     *slog.Logger
}

// rawItem mirrors one entry of the feed file.
type rawItem struct {
	ID          string `json:"id"`
	Title       string `json:"titulo"`
	Body        string `json:"contenido"`
	Date        string `json:"fecha"`
	Category    string `json:"categoria"`
	Source      string `json:"fuente"`
	Competition string `json:"competicion"`
}

// Load reads the feed at source. Sources starting with s3:// are fetched
// from S3, http:// and https:// over HTTP, anything else is a local path.
func Load(ctx context.Context, source string, opts Options) ([]rag.NewsDocument, error) {
	data, err := fetch(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	docs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source, err)
	}
	if opts.Logger != nil {
		opts.Logger.Info("feed loaded", slog.String("source", source), slog.Int("items", len(docs)))
	}
	return docs, nil
}

func fetch(ctx context.Context, source string, opts Options) ([]byte, error) {
	switch {
	case strings.HasPrefix(source, "s3://"):
		bucket, key, err := parseS3URL(source)
		if err != nil {
			return nil, err
		}
		return fetchS3(ctx, opts.S3, bucket, key)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return fetchHTTP(ctx, opts.HTTPClient, source)
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		return data, nil
	}
}

func fetchHTTP(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}
	return body, nil
}

// Parse decodes a feed. It accepts a bare array or an object wrapping the
// array under "noticias".
func Parse(data []byte) ([]rag.NewsDocument, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty feed")
	}

	var items []rawItem
	if data[0] == '{' {
		var wrapped struct {
			News []rawItem `json:"noticias"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		items = wrapped.News
	} else if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	docs := make([]rag.NewsDocument, 0, len(items))
	for i, it := range items {
		d, err := it.document()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (it rawItem) document() (rag.NewsDocument, error) {
	d := rag.NewsDocument{
		ID:          strings.TrimSpace(it.ID),
		Title:       plainText(it.Title),
		Body:        plainText(it.Body),
		Date:        strings.TrimSpace(it.Date),
		Category:    strings.TrimSpace(it.Category),
		Source:      strings.TrimSpace(it.Source),
		Competition: strings.TrimSpace(it.Competition),
	}
	if d.Title == "" && d.Body == "" {
		return rag.NewsDocument{}, ErrEmptyItem
	}
	if d.ID == "" {
		d.ID = uuid.NewSHA1(itemNamespace, []byte(d.Date+"|"+d.Title)).String()
	}
	return d, nil
}
