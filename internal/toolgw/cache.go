package toolgw

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/troupehq/troupe/internal/run"
)

// CachedGateway memoizes an inner gateway. Search results are cached per
// (query, depth, max) with a TTL so repeated research passes in one run,
// or across concurrent runs, do not re-bill identical queries. Extract
// results are cached per URL.
type CachedGateway struct {
	inner    Gateway
	searches *expirable.LRU[string, []run.SourceRecord]
	pages    *expirable.LRU[string, PageExtract]
}

// NewCachedGateway wraps inner. size bounds each cache; ttl bounds entry
// staleness (zero means entries never expire).
func NewCachedGateway(inner Gateway, size int, ttl time.Duration) *CachedGateway {
	if size <= 0 {
		size = 512
	}
	return &CachedGateway{
		inner:    inner,
		searches: expirable.NewLRU[string, []run.SourceRecord](size, nil, ttl),
		pages:    expirable.NewLRU[string, PageExtract](size, nil, ttl),
	}
}

// Search implements Gateway.
func (c *CachedGateway) Search(ctx context.Context, query, depth string, maxResults int) ([]run.SourceRecord, error) {
	key := fmt.Sprintf("%s|%s|%d", query, depth, maxResults)
	if cached, ok := c.searches.Get(key); ok {
		out := make([]run.SourceRecord, len(cached))
		copy(out, cached)
		return out, nil
	}

	records, err := c.inner.Search(ctx, query, depth, maxResults)
	if err != nil {
		return nil, err
	}
	c.searches.Add(key, records)

	out := make([]run.SourceRecord, len(records))
	copy(out, records)
	return out, nil
}

// Extract implements Gateway. Cached URLs are answered locally; only the
// misses go to the provider.
func (c *CachedGateway) Extract(ctx context.Context, urls []string) ([]PageExtract, error) {
	hits := make(map[string]PageExtract, len(urls))
	var misses []string
	for _, u := range urls {
		if page, ok := c.pages.Get(u); ok {
			hits[u] = page
		} else {
			misses = append(misses, u)
		}
	}

	if len(misses) > 0 {
		fetched, err := c.inner.Extract(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, page := range fetched {
			c.pages.Add(page.URL, page)
			hits[page.URL] = page
		}
	}

	// Preserve request order; unfetchable URLs stay absent.
	out := make([]PageExtract, 0, len(hits))
	for _, u := range urls {
		if page, ok := hits[u]; ok {
			out = append(out, page)
		}
	}
	return out, nil
}
