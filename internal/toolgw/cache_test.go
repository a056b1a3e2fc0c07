package toolgw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/internal/run"
)

type countingGateway struct {
	searchCalls  int
	extractCalls int
	searchErr    error
}

func (g *countingGateway) Search(_ context.Context, query, _ string, _ int) ([]run.SourceRecord, error) {
	g.searchCalls++
	if g.searchErr != nil {
		return nil, g.searchErr
	}
	return []run.SourceRecord{{URL: "https://a.example", Title: query, RelevanceScore: 0.9}}, nil
}

func (g *countingGateway) Extract(_ context.Context, urls []string) ([]PageExtract, error) {
	g.extractCalls++
	pages := make([]PageExtract, 0, len(urls))
	for _, u := range urls {
		pages = append(pages, PageExtract{URL: u, Content: "content of " + u})
	}
	return pages, nil
}

func TestCachedSearchHitsSkipProvider(t *testing.T) {
	inner := &countingGateway{}
	c := NewCachedGateway(inner, 16, 0)

	first, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.searchCalls)
	assert.Equal(t, first, second)

	// Different depth or max is a different cache entry.
	_, err = c.Search(context.Background(), "q", DepthAdvanced, 5)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "q", DepthBasic, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.searchCalls)
}

func TestCachedSearchDoesNotCacheFailures(t *testing.T) {
	inner := &countingGateway{searchErr: errors.New("provider down")}
	c := NewCachedGateway(inner, 16, 0)

	_, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.Error(t, err)

	inner.searchErr = nil
	records, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, inner.searchCalls)
}

func TestCachedSearchEntriesExpire(t *testing.T) {
	inner := &countingGateway{}
	c := NewCachedGateway(inner, 16, 50*time.Millisecond)

	_, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	_, err = c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.searchCalls)
}

func TestCachedSearchReturnsCopies(t *testing.T) {
	inner := &countingGateway{}
	c := NewCachedGateway(inner, 16, 0)

	first, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	first[0].Title = "tampered"

	second, err := c.Search(context.Background(), "q", DepthBasic, 5)
	require.NoError(t, err)
	assert.Equal(t, "q", second[0].Title)
}

func TestCachedExtractFetchesOnlyMisses(t *testing.T) {
	inner := &countingGateway{}
	c := NewCachedGateway(inner, 16, 0)

	pages, err := c.Extract(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, inner.extractCalls)

	// u2 is cached; only u3 goes to the provider.
	pages, err = c.Extract(context.Background(), []string{"u2", "u3"})
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "u2", pages[0].URL)
	assert.Equal(t, "u3", pages[1].URL)
	assert.Equal(t, 2, inner.extractCalls)

	// Fully cached request never reaches the provider.
	_, err = c.Extract(context.Background(), []string{"u1", "u3"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.extractCalls)
}
