package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/toolgw"
)

// Non-retryable application error types surfaced to workflows.
const (
	ErrTypeAllBackendsExhausted = "AllBackendsExhausted"
	ErrTypeFatalBackend         = "FatalBackend"
)

const (
	maxSearchQueries     = 3
	defaultSearchResults = 5
)

// ExecuteAgent runs one agent unit: exactly one generation through the
// backend chain, plus tool-gateway calls for research units. Tool failures
// degrade to warnings; backend exhaustion and fatal backend errors come
// back as non-retryable application errors so the workflow can terminate
// the run rather than retry.
func (a *Activities) ExecuteAgent(ctx context.Context, in AgentExecutionInput) (AgentExecutionResult, error) {
	start := time.Now()
	logger := a.logger.With(
		zap.String("run_id", in.RunID),
		zap.String("agent_id", in.Unit.ID),
		zap.String("agent_name", in.Unit.Name),
		zap.String("responsibility", string(in.Unit.Responsibility)),
		zap.String("backend", in.Unit.Backend),
	)

	if !in.Unit.Responsibility.Valid() {
		return AgentExecutionResult{}, fmt.Errorf("unknown responsibility %q for agent %s", in.Unit.Responsibility, in.Unit.ID)
	}
	if in.Unit.Backend == "" {
		return AgentExecutionResult{}, fmt.Errorf("agent %s has no backend assigned", in.Unit.ID)
	}

	msgs := buildMessages(in)
	genCfg := a.genConfig(in.Config)

	var comp *llm.Completion
	served, err := a.executor.Execute(ctx, in.Unit.Backend, func(ctx context.Context, backend string) error {
		c, gerr := a.generator.Generate(ctx, backend, msgs, genCfg)
		if gerr != nil {
			return gerr
		}
		comp = c
		return nil
	})
	if err != nil {
		metrics.RecordAgentMetrics(string(in.Unit.Responsibility), "error", float64(time.Since(start).Milliseconds()))
		if errors.Is(err, backends.ErrAllBackendsExhausted) {
			logger.Error("All backends exhausted", zap.Error(err))
			return AgentExecutionResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeAllBackendsExhausted, err)
		}
		var fatal *backends.FatalError
		if errors.As(err, &fatal) {
			logger.Error("Fatal backend error", zap.Error(err))
			metrics.RecordBackendCall(fatal.Backend, llm.DetectProvider(fatal.Backend), "fatal")
			return AgentExecutionResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeFatalBackend, err)
		}
		return AgentExecutionResult{}, err
	}

	metrics.RecordBackendCall(served, llm.DetectProvider(served), "ok")

	res := AgentExecutionResult{
		AgentID:     in.Unit.ID,
		Response:    strings.TrimSpace(comp.Text),
		BackendUsed: served,
		Usage: UsageRecord{
			Backend:      served,
			InputTokens:  comp.Usage.InputTokens,
			OutputTokens: comp.Usage.OutputTokens,
			CachedTokens: comp.Usage.CachedTokens,
			CostUSD:      a.pricing.CostFor(served, comp.Usage.InputTokens, comp.Usage.OutputTokens),
		},
	}
	if served != in.Unit.Backend {
		metrics.RecordFallback(in.Unit.Backend, served)
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("backend %s unavailable; %s served by %s", in.Unit.Backend, in.Unit.ID, served))
	}

	switch in.Unit.Responsibility {
	case agents.Research:
		a.performResearch(ctx, in, res.Response, &res, logger)
	case agents.Route:
		res.RouteLabel = agents.NormalizeRouteLabel(res.Response)
		if !strings.EqualFold(strings.TrimSpace(res.Response), string(res.RouteLabel)) {
			metrics.RouteLabelsCoerced.Inc()
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("route label %.40q not recognized; coerced to %s", res.Response, res.RouteLabel))
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.RecordAgentMetrics(string(in.Unit.Responsibility), "ok", float64(res.DurationMs))
	logger.Info("Agent unit completed",
		zap.String("served_by", served),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Int("sources", len(res.NewContext)),
		zap.Int64("duration_ms", res.DurationMs))
	return res, nil
}

// performResearch turns the generation's query plan into gateway searches.
// The run degrades to an empty context on failure; it never aborts here.
func (a *Activities) performResearch(ctx context.Context, in AgentExecutionInput, plan string, res *AgentExecutionResult, logger *zap.Logger) {
	if a.gateway == nil {
		res.Warnings = append(res.Warnings, "search gateway not configured; continuing without sources")
		metrics.ToolDegradations.Inc()
		return
	}

	queries := parseSearchQueries(plan, maxSearchQueries)
	if len(queries) == 0 {
		queries = []string{in.Query}
	}
	depth := in.SearchDepth
	if depth == "" {
		depth = toolgw.DepthBasic
	}
	maxResults := in.MaxSearchResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	var records []run.SourceRecord
	for _, q := range queries {
		found, err := a.gateway.Search(ctx, q, depth, maxResults)
		res.ToolCalls++
		res.ToolSearches++
		if err != nil {
			metrics.RecordToolCall("search", "error", 1)
			metrics.ToolDegradations.Inc()
			res.Warnings = append(res.Warnings, fmt.Sprintf("search %q failed: %v", q, err))
			logger.Warn("Search degraded", zap.String("query", q), zap.Error(err))
			continue
		}
		metrics.RecordToolCall("search", "ok", 1)
		records = append(records, found...)
	}

	res.NewContext = dedupeByURL(records)
}

// parseSearchQueries extracts up to max queries from a line-per-query
// plan, stripping list markers and surrounding quotes.
func parseSearchQueries(plan string, max int) []string {
	var out []string
	for _, line := range strings.Split(plan, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*• \t")
		q = trimOrdinal(q)
		q = strings.Trim(q, `"'`)
		q = strings.TrimSpace(q)
		if q == "" || len(q) > 200 {
			continue
		}
		out = append(out, q)
		if len(out) >= max {
			break
		}
	}
	return out
}

// trimOrdinal strips a leading "1." or "2)" style marker.
func trimOrdinal(s string) string {
	i := 0
	for i < len(s) && unicode.IsDigit(rune(s[i])) {
		i++
	}
	if i == 0 || i >= len(s) {
		return s
	}
	if s[i] == '.' || s[i] == ')' {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func dedupeByURL(records []run.SourceRecord) []run.SourceRecord {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]run.SourceRecord, 0, len(records))
	for _, rec := range records {
		if rec.URL != "" {
			if _, dup := seen[rec.URL]; dup {
				continue
			}
			seen[rec.URL] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}
