package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/pricing"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/toolgw"
)

// scriptedGenerator serves canned completions or errors per backend.
type scriptedGenerator struct {
	replies map[string]*llm.Completion
	errs    map[string]error
	calls   []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, backend string, msgs []run.Message, cfg llm.Config) (*llm.Completion, error) {
	g.calls = append(g.calls, backend)
	if err := g.errs[backend]; err != nil {
		return nil, err
	}
	if c := g.replies[backend]; c != nil {
		return c, nil
	}
	return &llm.Completion{Text: "ok", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

// scriptedGateway serves canned search results or fails per query.
type scriptedGateway struct {
	results map[string][]run.SourceRecord
	errs    map[string]error
	queries []string
}

func (g *scriptedGateway) Search(ctx context.Context, query, depth string, maxResults int) ([]run.SourceRecord, error) {
	g.queries = append(g.queries, query)
	if err := g.errs[query]; err != nil {
		return nil, err
	}
	return g.results[query], nil
}

func (g *scriptedGateway) Extract(ctx context.Context, urls []string) ([]toolgw.PageExtract, error) {
	return nil, nil
}

func testPricingTable() *pricing.Table {
	return pricing.NewTable(map[string]pricing.Price{
		"alpha":   {Input: 1.0, Output: 2.0},
		"bravo":   {Input: 1.0, Output: 2.1},
		"charlie": {Input: 1.0, Output: 3.0},
	}, pricing.Price{Input: 0.5, Output: 0.5})
}

func newTestActivities(gen llm.Generator, gw toolgw.Gateway) *Activities {
	table := testPricingTable()
	resolver := backends.NewResolver(table, 2)
	executor := backends.NewExecutor(resolver, zap.NewNop())
	return NewActivities(gen, gw, executor, table, nil, nil, nil, zap.NewNop())
}

func TestExecuteAgentSynthesize(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]*llm.Completion{
		"alpha": {Text: "  the answer  ", Usage: llm.Usage{InputTokens: 100, OutputTokens: 40}},
	}}
	a := newTestActivities(gen, nil)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		RunID: "run-1",
		Unit:  agents.Unit{ID: "synthesize-1", Responsibility: agents.Synthesize, Backend: "alpha"},
		Query: "what is raft",
		Draft: "old draft",
	})
	require.NoError(t, err)

	assert.Equal(t, "synthesize-1", res.AgentID)
	assert.Equal(t, "the answer", res.Response)
	assert.Equal(t, "alpha", res.BackendUsed)
	assert.Equal(t, 100, res.Usage.InputTokens)
	assert.Equal(t, 40, res.Usage.OutputTokens)
	// 100/1e6*1.0 + 40/1e6*2.0
	assert.InDelta(t, 0.00018, res.Usage.CostUSD, 1e-9)
	assert.Empty(t, res.Warnings)
	assert.Zero(t, res.ToolCalls)
}

func TestExecuteAgentResearchRunsSearches(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]*llm.Completion{
		"alpha": {
			Text:  "1. raft leader election\n2. \"raft log replication\"\n",
			Usage: llm.Usage{InputTokens: 50, OutputTokens: 20},
		},
	}}
	gw := &scriptedGateway{results: map[string][]run.SourceRecord{
		"raft leader election": {
			{URL: "https://a.example/1", Title: "Leader election", Content: "..."},
			{URL: "https://a.example/2", Title: "Terms", Content: "..."},
		},
		"raft log replication": {
			{URL: "https://a.example/2", Title: "Terms", Content: "..."}, // duplicate
			{URL: "https://a.example/3", Title: "Log replication", Content: "..."},
		},
	}}
	a := newTestActivities(gen, gw)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		RunID: "run-1",
		Unit:  agents.Unit{ID: "research-1", Responsibility: agents.Research, Backend: "alpha", ToolCapable: true},
		Query: "how does raft work",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"raft leader election", "raft log replication"}, gw.queries)
	require.Len(t, res.NewContext, 3)
	assert.Equal(t, "https://a.example/1", res.NewContext[0].URL)
	assert.Equal(t, "https://a.example/3", res.NewContext[2].URL)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Equal(t, 2, res.ToolSearches)
	assert.Empty(t, res.Warnings)
}

func TestExecuteAgentResearchFallsBackToQuery(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]*llm.Completion{
		"alpha": {Text: "", Usage: llm.Usage{InputTokens: 5, OutputTokens: 0}},
	}}
	gw := &scriptedGateway{results: map[string][]run.SourceRecord{
		"how does raft work": {{URL: "https://a.example/1", Title: "Raft", Content: "..."}},
	}}
	a := newTestActivities(gen, gw)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "research-1", Responsibility: agents.Research, Backend: "alpha"},
		Query: "how does raft work",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"how does raft work"}, gw.queries)
	assert.Len(t, res.NewContext, 1)
}

func TestExecuteAgentSearchFailureDegrades(t *testing.T) {
	gen := &scriptedGenerator{replies: map[string]*llm.Completion{
		"alpha": {Text: "only query", Usage: llm.Usage{InputTokens: 5, OutputTokens: 3}},
	}}
	gw := &scriptedGateway{errs: map[string]error{
		"only query": fmt.Errorf("tavily: status 500"),
	}}
	a := newTestActivities(gen, gw)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "research-1", Responsibility: agents.Research, Backend: "alpha"},
		Query: "q",
	})
	require.NoError(t, err, "tool failures must not abort the run")
	assert.Empty(t, res.NewContext)
	assert.Equal(t, 1, res.ToolCalls)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "failed")
}

func TestExecuteAgentNoGatewayDegrades(t *testing.T) {
	gen := &scriptedGenerator{}
	a := newTestActivities(gen, nil)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "research-1", Responsibility: agents.Research, Backend: "alpha"},
		Query: "q",
	})
	require.NoError(t, err)
	assert.Empty(t, res.NewContext)
	assert.Zero(t, res.ToolCalls)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "gateway not configured")
}

func TestExecuteAgentFallsBackOnTransient(t *testing.T) {
	gen := &scriptedGenerator{
		errs: map[string]error{
			"alpha": &backends.TransientError{Backend: "alpha", Err: errors.New("503")},
		},
		replies: map[string]*llm.Completion{
			"bravo": {Text: "served elsewhere", Usage: llm.Usage{InputTokens: 10, OutputTokens: 4}},
		},
	}
	a := newTestActivities(gen, nil)

	res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "analyze-1", Responsibility: agents.Analyze, Backend: "alpha"},
		Query: "q",
	})
	require.NoError(t, err)
	assert.Equal(t, "bravo", res.BackendUsed)
	assert.Equal(t, "bravo", res.Usage.Backend)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "served by bravo")
}

func TestExecuteAgentExhaustionIsNonRetryable(t *testing.T) {
	gen := &scriptedGenerator{errs: map[string]error{
		"alpha":   &backends.TransientError{Backend: "alpha", Err: errors.New("down")},
		"bravo":   &backends.TransientError{Backend: "bravo", Err: errors.New("down")},
		"charlie": &backends.TransientError{Backend: "charlie", Err: errors.New("down")},
	}}
	a := newTestActivities(gen, nil)

	_, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "analyze-1", Responsibility: agents.Analyze, Backend: "alpha"},
		Query: "q",
	})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeAllBackendsExhausted, appErr.Type())
	assert.True(t, appErr.NonRetryable())
	assert.Len(t, gen.calls, 3, "every backend in the chain gets one attempt")
}

func TestExecuteAgentFatalIsNonRetryable(t *testing.T) {
	gen := &scriptedGenerator{errs: map[string]error{
		"alpha": &backends.FatalError{Backend: "alpha", Err: errors.New("invalid request")},
	}}
	a := newTestActivities(gen, nil)

	_, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit:  agents.Unit{ID: "analyze-1", Responsibility: agents.Analyze, Backend: "alpha"},
		Query: "q",
	})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeFatalBackend, appErr.Type())
	assert.Len(t, gen.calls, 1, "fatal errors must not cascade")
}

func TestExecuteAgentRouteLabels(t *testing.T) {
	tests := []struct {
		response   string
		wantLabel  agents.RouteLabel
		wantCoerce bool
	}{
		{"research", agents.RouteResearch, false},
		{"FINISH", agents.RouteFinish, false},
		{"Synthesize", agents.RouteSynthesize, false},
		{"**critique** the draft needs work", agents.RouteCritique, true},
		{"done", agents.RouteFinish, true},
		{"", agents.RouteFinish, true},
	}
	for _, tt := range tests {
		gen := &scriptedGenerator{replies: map[string]*llm.Completion{
			"alpha": {Text: tt.response, Usage: llm.Usage{InputTokens: 5, OutputTokens: 1}},
		}}
		a := newTestActivities(gen, nil)

		res, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
			Unit:  agents.Unit{ID: "route-1", Responsibility: agents.Route, Backend: "alpha"},
			Query: "q",
		})
		require.NoError(t, err, "response %q", tt.response)
		assert.Equal(t, tt.wantLabel, res.RouteLabel, "response %q", tt.response)
		if tt.wantCoerce {
			assert.NotEmpty(t, res.Warnings, "response %q should warn", tt.response)
		} else {
			assert.Empty(t, res.Warnings, "response %q should not warn", tt.response)
		}
	}
}

func TestExecuteAgentRejectsBadUnit(t *testing.T) {
	a := newTestActivities(&scriptedGenerator{}, nil)

	_, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit: agents.Unit{ID: "x", Responsibility: "juggle", Backend: "alpha"},
	})
	assert.Error(t, err)

	_, err = a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Unit: agents.Unit{ID: "x", Responsibility: agents.Analyze},
	})
	assert.Error(t, err)
}

func TestParseSearchQueries(t *testing.T) {
	tests := []struct {
		name string
		plan string
		want []string
	}{
		{"numbered", "1. first query\n2. second query", []string{"first query", "second query"}},
		{"bulleted", "- one\n* two\n• three", []string{"one", "two", "three"}},
		{"quoted", `"exact phrase"`, []string{"exact phrase"}},
		{"caps at three", "1. a1\n2. a2\n3. a3\n4. a4", []string{"a1", "a2", "a3"}},
		{"skips blanks", "\n\nfirst\n\n", []string{"first"}},
		{"empty plan", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSearchQueries(tt.plan, maxSearchQueries)
			assert.Equal(t, tt.want, got)
		})
	}
}
