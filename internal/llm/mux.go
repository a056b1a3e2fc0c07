package llm

import (
	"context"
	"fmt"

	"github.com/troupehq/troupe/internal/run"
)

// Mux routes each generation call to the client that serves the backend's
// provider family: gemini-* backends go to the Gemini client when one is
// configured, everything else goes to the chat-completions gateway.
type Mux struct {
	gateway Generator
	gemini  Generator
}

// NewMux builds a router. gateway is required; gemini may be nil, in which
// case google backends fall through to the gateway too.
func NewMux(gateway, gemini Generator) (*Mux, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	return &Mux{gateway: gateway, gemini: gemini}, nil
}

// Generate implements Generator.
func (m *Mux) Generate(ctx context.Context, backend string, messages []run.Message, cfg Config) (*Completion, error) {
	if m.gemini != nil && DetectProvider(backend) == "google" {
		return m.gemini.Generate(ctx, backend, messages, cfg)
	}
	return m.gateway.Generate(ctx, backend, messages, cfg)
}
