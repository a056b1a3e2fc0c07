package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/interceptors"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/tracing"
)

// HTTPClient talks to an OpenAI-compatible completion gateway. One gateway
// serves many backends; the backend identifier goes out as the model name.
// Requests are rate limited per backend so one hot model cannot starve the
// others.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewHTTPClient builds a gateway client. baseURL carries the version
// prefix, e.g. "https://api.openai.com/v1". rps <= 0 disables rate
// limiting.
func NewHTTPClient(baseURL, apiKey string, rps float64, burst int, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc: &http.Client{
			Timeout:   120 * time.Second,
			Transport: interceptors.NewRunHTTPRoundTripper(nil),
		},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		rps:      limit,
		burst:    burst,
	}
}

func (c *HTTPClient) limiter(backend string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[backend]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[backend] = l
	}
	return l
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// Generate implements Generator against the chat completions endpoint.
func (c *HTTPClient) Generate(ctx context.Context, backend string, messages []run.Message, cfg Config) (*Completion, error) {
	if err := c.limiter(backend).Wait(ctx); err != nil {
		return nil, err
	}

	payload := chatRequest{
		Model:     backend,
		Messages:  make([]chatMessage, 0, len(messages)),
		MaxTokens: cfg.MaxTokens,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		payload.Temperature = &t
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &backends.FatalError{Backend: backend, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := c.baseURL + "/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &backends.FatalError{Backend: backend, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &backends.TransientError{Backend: backend, Err: fmt.Errorf("call gateway: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := readSnippet(resp.Body)
		statusErr := fmt.Errorf("gateway status %d: %s", resp.StatusCode, snippet)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &backends.TransientError{Backend: backend, Err: statusErr}
		}
		return nil, &backends.FatalError{Backend: backend, Err: statusErr}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &backends.TransientError{Backend: backend, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &backends.TransientError{Backend: backend, Err: fmt.Errorf("response has no choices")}
	}

	return &Completion{
		Text: parsed.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			CachedTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(b))
}
