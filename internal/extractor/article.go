package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
)

const (
	articleTimeout          = 60 * time.Second
	defaultArticleBatchSize = 10
)

// ArticleFields is the per-URL result of the article parser.
type ArticleFields struct {
	Title            string
	Content          string
	Description      string
	Image            string
	DatePublishedRaw string
	DateModifiedRaw  string
}

// ArticleClient talks to the article parsing API: one JSON batch of URLs per
// request, structured article fields back per URL. The API key rides as the
// basic-auth username.
type ArticleClient struct {
	endpoint  string
	apiKey    string
	batchSize int
	client    *http.Client
	logger    arbor.ILogger
}

// NewArticleClient builds a client for the given endpoint and credential.
func NewArticleClient(endpoint, apiKey string, batchSize int, logger arbor.ILogger) *ArticleClient {
	if batchSize <= 0 {
		batchSize = defaultArticleBatchSize
	}
	return &ArticleClient{
		endpoint:  endpoint,
		apiKey:    apiKey,
		batchSize: batchSize,
		client:    &http.Client{Timeout: articleTimeout},
		logger:    logger,
	}
}

// BatchSize returns how many URLs one request carries.
func (c *ArticleClient) BatchSize() int { return c.batchSize }

type articleQuery struct {
	URL      string `json:"url"`
	PageType string `json:"pageType"`
}

type articleResult struct {
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
	Article struct {
		Headline    string `json:"headline"`
		ArticleBody string `json:"articleBody"`
		Description string `json:"description"`
		MainImage   struct {
			URL string `json:"url"`
		} `json:"mainImage"`
		DatePublishedRaw string `json:"datePublishedRaw"`
		DateModifiedRaw  string `json:"dateModifiedRaw"`
	} `json:"article"`
}

// ParseBatch submits one batch of URLs and maps results by URL. URLs the
// parser reports an error for are logged and left out of the map.
func (c *ArticleClient) ParseBatch(ctx context.Context, urls []string) (map[string]ArticleFields, error) {
	queries := make([]articleQuery, len(urls))
	for i, u := range urls {
		queries[i] = articleQuery{URL: u, PageType: "article"}
	}
	payload, err := json.Marshal(queries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode article batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.SetBasicAuth(c.apiKey, "")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call article parser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("article parser returned status %d", resp.StatusCode)
	}

	var results []articleResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode article response: %w", err)
	}

	out := make(map[string]ArticleFields, len(results))
	for _, res := range results {
		if res.Error != "" {
			c.logger.Warn().Str("url", res.URL).Str("error", res.Error).Msg("Article parser failed for url")
			continue
		}
		out[res.URL] = ArticleFields{
			Title:            res.Article.Headline,
			Content:          res.Article.ArticleBody,
			Description:      res.Article.Description,
			Image:            res.Article.MainImage.URL,
			DatePublishedRaw: res.Article.DatePublishedRaw,
			DateModifiedRaw:  res.Article.DateModifiedRaw,
		}
	}
	return out, nil
}

// mergeArticleFields copies non-empty parser fields onto the record.
func mergeArticleFields(rec models.Record, fields ArticleFields) {
	if fields.Title != "" {
		rec[models.FieldExtractedTitle] = fields.Title
	}
	if fields.Content != "" {
		rec[models.FieldExtractedContent] = fields.Content
	}
	if fields.Description != "" {
		rec["description"] = fields.Description
	}
	if fields.Image != "" {
		rec["image"] = fields.Image
	}
	if fields.DatePublishedRaw != "" {
		rec["datePublishedRaw"] = fields.DatePublishedRaw
	}
	if fields.DateModifiedRaw != "" {
		rec["dateModifiedRaw"] = fields.DateModifiedRaw
	}
}
