// Package llm holds the generation boundary: clients that turn a message
// transcript into one completion against a named backend, reporting token
// usage and classifying failures as transient or fatal.
package llm

import (
	"context"

	"github.com/troupehq/troupe/internal/run"
)

// Config carries per-call generation parameters.
type Config struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Usage reports token consumption for one generation call as the backend
// metered it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens"`
}

// Completion is the result of one generation call.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Generator produces one completion from a transcript. Implementations
// return backends.TransientError for failures worth retrying on another
// backend and backends.FatalError for failures that abort the run.
type Generator interface {
	Generate(ctx context.Context, backend string, messages []run.Message, cfg Config) (*Completion, error)
}
