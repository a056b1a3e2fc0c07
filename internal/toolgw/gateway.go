// Package toolgw is the tool boundary for research agents: web search and
// page extraction behind one interface, with provider failures surfaced as
// errors for the caller to degrade on.
package toolgw

import (
	"context"

	"github.com/troupehq/troupe/internal/run"
)

// Search depth levels understood by the provider.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// PageExtract is the full text pulled from one URL.
type PageExtract struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Gateway answers search queries with scored source records and extracts
// page contents for known URLs.
type Gateway interface {
	Search(ctx context.Context, query, depth string, maxResults int) ([]run.SourceRecord, error)
	Extract(ctx context.Context, urls []string) ([]PageExtract, error)
}
