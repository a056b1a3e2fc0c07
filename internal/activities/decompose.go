package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/run"
)

const defaultMaxSections = 4

const outlineSystem = "You split a question into independent sections that can " +
	"be researched and written in parallel. Reply with one section per line, " +
	"numbered, at most %d lines. Output only the outline."

// DecomposeOutline asks a backend for a section outline of the query,
// used to fan work out across parallel branches. An unparseable reply
// degrades to a single section covering the whole query.
func (a *Activities) DecomposeOutline(ctx context.Context, in DecomposeOutlineInput) (DecomposeOutlineResult, error) {
	start := time.Now()
	maxSections := in.MaxSections
	if maxSections <= 0 {
		maxSections = defaultMaxSections
	}
	if in.Backend == "" {
		return DecomposeOutlineResult{}, fmt.Errorf("decompose needs a backend")
	}

	msgs := []run.Message{
		{Role: run.RoleSystem, Content: fmt.Sprintf(outlineSystem, maxSections)},
		{Role: run.RoleUser, Content: "Question: " + in.Query + "\nOutline:"},
	}

	var comp *llm.Completion
	served, err := a.executor.Execute(ctx, in.Backend, func(ctx context.Context, backend string) error {
		c, gerr := a.generator.Generate(ctx, backend, msgs, in.Config)
		if gerr != nil {
			return gerr
		}
		comp = c
		return nil
	})
	if err != nil {
		if errors.Is(err, backends.ErrAllBackendsExhausted) {
			return DecomposeOutlineResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeAllBackendsExhausted, err)
		}
		var fatal *backends.FatalError
		if errors.As(err, &fatal) {
			return DecomposeOutlineResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeFatalBackend, err)
		}
		return DecomposeOutlineResult{}, err
	}

	metrics.RecordBackendCall(served, llm.DetectProvider(served), "ok")

	sections := parseOutline(comp.Text, maxSections)
	if len(sections) == 0 {
		sections = []string{in.Query}
	}

	a.logger.Info("Query decomposed",
		zap.String("run_id", in.RunID),
		zap.Int("sections", len(sections)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))

	return DecomposeOutlineResult{
		Sections:    sections,
		BackendUsed: served,
		Usage: UsageRecord{
			Backend:      served,
			InputTokens:  comp.Usage.InputTokens,
			OutputTokens: comp.Usage.OutputTokens,
			CachedTokens: comp.Usage.CachedTokens,
			CostUSD:      a.pricing.CostFor(served, comp.Usage.InputTokens, comp.Usage.OutputTokens),
		},
	}, nil
}

// parseOutline extracts section titles from a numbered or bulleted reply.
func parseOutline(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		s = strings.TrimLeft(s, "-*• \t")
		s = trimOrdinal(s)
		s = strings.TrimSpace(strings.Trim(s, `"'`))
		if s == "" || len(s) > 300 {
			continue
		}
		out = append(out, s)
		if len(out) >= max {
			break
		}
	}
	return out
}
