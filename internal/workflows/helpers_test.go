package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/archive"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/journal"
	"github.com/troupehq/troupe/internal/pricing"
	"github.com/troupehq/troupe/internal/run"
)

// runRecorder captures every activity call a workflow under test makes,
// so assertions can count executions per responsibility and inspect the
// exact inputs each unit received.
type runRecorder struct {
	agentInputs []activities.AgentExecutionInput
	evalInputs  []activities.EvaluateDraftInput
	decomposed  int
	steps       []journal.StepRow
	runRows     []journal.RunRow
	archived    []archive.Record
	published   []events.Event
}

func (r *runRecorder) agentCalls(resp agents.Responsibility) int {
	n := 0
	for _, in := range r.agentInputs {
		if in.Unit.Responsibility == resp {
			n++
		}
	}
	return n
}

func (r *runRecorder) inputsFor(resp agents.Responsibility) []activities.AgentExecutionInput {
	var out []activities.AgentExecutionInput
	for _, in := range r.agentInputs {
		if in.Unit.Responsibility == resp {
			out = append(out, in)
		}
	}
	return out
}

func (r *runRecorder) eventTypes() []string {
	var out []string
	for _, ev := range r.published {
		out = append(out, ev.Type)
	}
	return out
}

// stubOptions scripts the agent roster and the quality gate for one test.
type stubOptions struct {
	// verdicts are gate decisions served in order; the last one repeats.
	// Empty means approve everything.
	verdicts []string
	// sections is the outline DecomposeOutline serves.
	sections []string
	// agentHook intercepts agent executions. Returning a non-nil result
	// or an error overrides the scripted default for that call.
	agentHook func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error)
	// persistErr makes the archive and journal stubs fail, exercising
	// the best-effort persistence path.
	persistErr error
	// tunables are the operator defaults served to the run.
	tunables config.Tunables
}

func newRunEnv() *testsuite.TestWorkflowEnvironment {
	suite := &testsuite.WorkflowTestSuite{}
	return suite.NewTestWorkflowEnvironment()
}

func testRunInput(pattern run.Pattern) RunInput {
	return RunInput{
		RunID:            "run-test-1",
		Query:            "how does raft handle leader election failures",
		Pattern:          pattern,
		DefaultBackend:   "alpha",
		QualityThreshold: 0.7,
	}
}

// scriptedAgentResult is the deterministic reply each responsibility gets
// unless the test's agentHook overrides it. Token counts are fixed so
// ledger assertions can sum them.
func scriptedAgentResult(in activities.AgentExecutionInput) activities.AgentExecutionResult {
	res := activities.AgentExecutionResult{
		AgentID:     in.Unit.ID,
		BackendUsed: in.Unit.Backend,
		Usage: activities.UsageRecord{
			Backend:      in.Unit.Backend,
			InputTokens:  100,
			OutputTokens: 40,
			CostUSD:      0.00018,
		},
		DurationMs: 5,
	}
	switch in.Unit.Responsibility {
	case agents.Research:
		res.Response = "raft leader election\nraft failure handling"
		res.NewContext = []run.SourceRecord{
			{URL: "https://example.test/raft", Title: "Raft overview", Content: "leaders and terms", RelevanceScore: 0.9},
		}
		res.ToolCalls = 2
		res.ToolSearches = 2
	case agents.Analyze:
		res.Response = "elections are term-scoped; timeouts trigger new votes"
	case agents.Synthesize:
		if in.Section != "" {
			res.Response = fmt.Sprintf("part %d: %s", in.SectionIndex, in.Section)
		} else {
			res.Response = fmt.Sprintf("draft after iteration %d", in.Iteration)
		}
	case agents.Critique:
		res.Response = "tighten the failure-mode coverage"
	case agents.Route:
		res.RouteLabel = agents.RouteFinish
	}
	return res
}

// registerRunStubs wires the full activity roster: scripted agents, a
// scripted quality gate, a fixed pricing snapshot, and recording
// persistence stubs.
func registerRunStubs(env *testsuite.TestWorkflowEnvironment, rec *runRecorder, opts stubOptions) {
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.AgentExecutionInput) (activities.AgentExecutionResult, error) {
			rec.agentInputs = append(rec.agentInputs, in)
			if opts.agentHook != nil {
				res, err := opts.agentHook(in)
				if err != nil {
					return activities.AgentExecutionResult{}, err
				}
				if res != nil {
					return *res, nil
				}
			}
			return scriptedAgentResult(in), nil
		},
		activity.RegisterOptions{Name: constants.ExecuteAgentActivity},
	)

	verdictIdx := 0
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.EvaluateDraftInput) (activities.EvaluateDraftResult, error) {
			rec.evalInputs = append(rec.evalInputs, in)
			decision := activities.DecisionApprove
			if len(opts.verdicts) > 0 {
				i := verdictIdx
				if i >= len(opts.verdicts) {
					i = len(opts.verdicts) - 1
				}
				decision = opts.verdicts[i]
				verdictIdx++
			}
			out := activities.EvaluateDraftResult{
				Decision: decision,
				Scores: map[string]float64{
					"coverage": 0.8, "grounding": 0.8, "structure": 0.8, "overall": 0.8,
				},
			}
			if decision != activities.DecisionApprove {
				out.Feedback = "cover the split-vote case"
			}
			return out, nil
		},
		activity.RegisterOptions{Name: constants.EvaluateDraftActivity},
	)

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.DecomposeOutlineInput) (activities.DecomposeOutlineResult, error) {
			rec.decomposed++
			sections := opts.sections
			if len(sections) == 0 {
				sections = []string{in.Query}
			}
			return activities.DecomposeOutlineResult{
				Sections:    sections,
				BackendUsed: in.Backend,
				Usage: activities.UsageRecord{
					Backend: in.Backend, InputTokens: 50, OutputTokens: 20, CostUSD: 0.00009,
				},
			}, nil
		},
		activity.RegisterOptions{Name: constants.DecomposeOutlineActivity},
	)

	env.RegisterActivityWithOptions(
		func(ctx context.Context) (pricing.Snapshot, error) {
			return pricing.Snapshot{
				Prices: map[string]pricing.Price{
					"alpha": {Input: 1.0, Output: 2.0},
					"bravo": {Input: 1.0, Output: 2.1},
				},
				Default: pricing.Price{Input: 0.5, Output: 0.5},
			}, nil
		},
		activity.RegisterOptions{Name: constants.GetPricingSnapshotActivity},
	)

	env.RegisterActivityWithOptions(
		func(ctx context.Context) (config.Tunables, error) {
			return opts.tunables, nil
		},
		activity.RegisterOptions{Name: constants.GetRunTunablesActivity},
	)

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.JournalStepInput) error {
			rec.steps = append(rec.steps, in.Step)
			return nil
		},
		activity.RegisterOptions{Name: constants.JournalStepActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.JournalRunInput) error {
			if opts.persistErr != nil {
				return opts.persistErr
			}
			rec.runRows = append(rec.runRows, in.Run)
			return nil
		},
		activity.RegisterOptions{Name: constants.JournalRunActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PersistRunRecordInput) error {
			if opts.persistErr != nil {
				return opts.persistErr
			}
			rec.archived = append(rec.archived, in.Record)
			return nil
		},
		activity.RegisterOptions{Name: constants.PersistRunRecordActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PublishRunEventInput) error {
			rec.published = append(rec.published, in.Event)
			return nil
		},
		activity.RegisterOptions{Name: constants.PublishRunEventActivity},
	)
}
