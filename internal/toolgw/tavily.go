package toolgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/interceptors"
	"github.com/troupehq/troupe/internal/run"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily calls the Tavily search and extract APIs.
type Tavily struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTavily constructs a Tavily provider with default HTTP settings.
func NewTavily(apiKey string, logger *zap.Logger) *Tavily {
	return NewTavilyWithClient(apiKey, nil, "", logger)
}

// NewTavilyWithClient overrides the HTTP client and base URL, mainly for
// tests pointing at a local server.
func NewTavilyWithClient(apiKey string, client *http.Client, baseURL string, logger *zap.Logger) *Tavily {
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: interceptors.NewRunHTTPRoundTripper(nil),
		}
	}
	if baseURL == "" {
		baseURL = tavilyBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tavily{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// post sends a JSON body, retrying on 429 with a doubling delay capped at
// 30s. The caller owns the response body on success.
func (t *Tavily) post(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		resp.Body.Close()

		t.logger.Warn("tavily rate limited, backing off",
			zap.String("path", path),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

// Search implements Gateway.
func (t *Tavily) Search(ctx context.Context, query, depth string, maxResults int) ([]run.SourceRecord, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if depth == "" {
		depth = DepthBasic
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	resp, err := t.post(ctx, "/search", map[string]any{
		"api_key":      t.apiKey,
		"query":        query,
		"search_depth": depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	records := make([]run.SourceRecord, 0, len(response.Results))
	for _, r := range response.Results {
		records = append(records, run.SourceRecord{
			URL:            r.URL,
			Title:          r.Title,
			Content:        r.Content,
			RelevanceScore: r.Score,
		})
		if len(records) >= maxResults {
			break
		}
	}
	return records, nil
}

// Extract implements Gateway. URLs Tavily could not fetch are simply
// absent from the result.
func (t *Tavily) Extract(ctx context.Context, urls []string) ([]PageExtract, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if len(urls) == 0 {
		return nil, nil
	}

	resp, err := t.post(ctx, "/extract", map[string]any{
		"api_key": t.apiKey,
		"urls":    urls,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			URL        string `json:"url"`
			RawContent string `json:"raw_content"`
		} `json:"results"`
		FailedResults []struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		} `json:"failed_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	for _, f := range response.FailedResults {
		t.logger.Warn("tavily extract failed for url",
			zap.String("url", f.URL),
			zap.String("error", f.Error))
	}

	pages := make([]PageExtract, 0, len(response.Results))
	for _, r := range response.Results {
		pages = append(pages, PageExtract{URL: r.URL, Content: r.RawContent})
	}
	return pages, nil
}
