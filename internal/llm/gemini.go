package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	genai "google.golang.org/genai"

	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/run"
)

// GeminiClient serves gemini-* backends through the official genai SDK
// instead of the chat-completions gateway.
type GeminiClient struct {
	cli     *genai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiClient dials the Gemini API. rps <= 0 disables rate limiting.
func NewGeminiClient(ctx context.Context, apiKey string, rps float64, burst int, logger *zap.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &GeminiClient{
		cli:     cli,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Generate implements Generator. System messages become the system
// instruction; the rest map onto the user/model turn structure.
func (g *GeminiClient) Generate(ctx context.Context, backend string, messages []run.Message, cfg Config) (*Completion, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case run.RoleSystem:
			system = append(system, m.Content)
		case run.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	gc := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		gc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}

	resp, err := g.cli.Models.GenerateContent(ctx, backend, contents, gc)
	if err != nil {
		return nil, classifyGeminiError(backend, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &backends.TransientError{Backend: backend, Err: fmt.Errorf("empty candidate")}
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}

	var usage Usage
	if md := resp.UsageMetadata; md != nil {
		usage = Usage{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount),
			CachedTokens: int(md.CachedContentTokenCount),
		}
	}
	return &Completion{Text: sb.String(), Usage: usage}, nil
}

func classifyGeminiError(backend string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return &backends.TransientError{Backend: backend, Err: err}
		}
		return &backends.FatalError{Backend: backend, Err: err}
	}
	// No structured code means a transport-level failure.
	return &backends.TransientError{Backend: backend, Err: err}
}
