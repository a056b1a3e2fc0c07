package workflows

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/ledger"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/workflows/opts"
)

const defaultFanOutConcurrency = 4

// fanOutSynthesize splits the first synthesis into an outline of
// independent sections, writes them concurrently, and reduces them back
// into one draft in outline order. One failed section fails the whole
// fan-out; there is no partial merge.
func (d *driver) fanOutSynthesize(ctx workflow.Context) error {
	logger := workflow.GetLogger(ctx)

	// One checkpoint for the whole fan-out; branches are not interrupted
	// individually.
	if err := d.ctrl.CheckPausePoint(ctx, "fan-out"); err != nil {
		return err
	}

	outline, err := d.decomposeOutline(ctx)
	if err != nil {
		return err
	}
	if len(outline) <= 1 {
		// Nothing to parallelize.
		_, err := d.executeUnit(ctx, agents.Synthesize)
		return err
	}

	outcomes, err := d.runBranches(ctx, outline)
	if err != nil {
		return err
	}

	// Reduce: merge by outline index, never by completion order.
	parts := make([]string, len(outcomes))
	var warnings []string
	for i, res := range outcomes {
		parts[i] = strings.TrimSpace(res.Response)
		warnings = append(warnings, res.Warnings...)
	}
	d.state.Apply(run.Delta{
		AgentID:  d.units[agents.Synthesize].ID,
		Draft:    run.StrPtr(strings.Join(parts, "\n\n")),
		Warnings: warnings,
	})
	logger.Info("Fan-out reduced", "run_id", d.input.RunID, "sections", len(outcomes))
	return nil
}

// decomposeOutline plans the sections and accounts for the planning
// generation in the ledger.
func (d *driver) decomposeOutline(ctx workflow.Context) ([]string, error) {
	maxSections := d.input.MaxSections
	if maxSections <= 0 {
		maxSections = d.tunables.MaxSections
	}
	actx := opts.WithAgentOptions(ctx)
	var out activities.DecomposeOutlineResult
	err := workflow.ExecuteActivity(actx, constants.DecomposeOutlineActivity, activities.DecomposeOutlineInput{
		RunID:       d.input.RunID,
		Query:       d.state.Query,
		Backend:     d.units[agents.Synthesize].Backend,
		MaxSections: maxSections,
		Config:      d.input.GenConfig,
	}).Get(ctx, &out)
	if err != nil {
		return nil, err
	}
	if out.Usage.Backend != "" {
		if rerr := d.state.Ledger.Record(out.Usage.Backend, out.Usage.InputTokens, out.Usage.OutputTokens); rerr != nil {
			d.state.Warn("dropped malformed usage record from outline planning")
		}
	}
	return out.Sections, nil
}

type branchOutcome struct {
	Index  int
	Result activities.AgentExecutionResult
	Err    error
}

// runBranches executes one synthesis per section with bounded
// concurrency. It always waits for every branch, then merges the
// successful branches' ledgers in index order before reporting the first
// failure, so costs already incurred stay accounted for.
func (d *driver) runBranches(ctx workflow.Context, sections []string) ([]activities.AgentExecutionResult, error) {
	maxConc := d.input.MaxConcurrency
	if maxConc <= 0 {
		maxConc = d.tunables.MaxConcurrency
	}
	if maxConc <= 0 {
		maxConc = defaultFanOutConcurrency
	}
	sem := workflow.NewSemaphore(ctx, int64(maxConc))
	results := workflow.NewChannel(ctx)
	base := *d.units[agents.Synthesize]

	for i, section := range sections {
		i, section := i, section
		workflow.Go(ctx, func(gctx workflow.Context) {
			if err := sem.Acquire(gctx, 1); err != nil {
				results.Send(gctx, branchOutcome{Index: i, Err: err})
				return
			}
			defer sem.Release(1)

			unit := base
			unit.ID = fmt.Sprintf("%s-s%d", base.ID, i+1)
			unit.Name = agents.DisplayName(d.input.RunID, agents.IdxBranchBase+i)
			in := d.unitInput(unit)
			in.Section = section
			in.SectionIndex = i

			publishEvent(gctx, events.Event{
				RunID:   d.input.RunID,
				Type:    events.TypeAgentStarted,
				AgentID: unit.ID,
				Message: unit.Name,
			})
			actx := opts.WithAgentOptions(gctx)
			var res activities.AgentExecutionResult
			err := workflow.ExecuteActivity(actx, constants.ExecuteAgentActivity, in).Get(gctx, &res)
			if err == nil {
				publishEvent(gctx, events.Event{
					RunID:   d.input.RunID,
					Type:    events.TypeAgentCompleted,
					AgentID: res.AgentID,
					Message: unit.Name,
				})
			}
			results.Send(gctx, branchOutcome{Index: i, Result: res, Err: err})
		})
	}

	// Barrier: every branch reports before anything is merged.
	outcomes := make([]branchOutcome, len(sections))
	for range sections {
		var out branchOutcome
		results.Receive(ctx, &out)
		outcomes[out.Index] = out
	}

	// Successful branches are billed even when a sibling failed. Their
	// usage accumulates in a barrier-local ledger and folds into the run
	// ledger in one merge.
	branchLedger := ledger.New(d.state.Ledger.Prices)
	var firstErr error
	merged := make([]activities.AgentExecutionResult, len(sections))
	for i := range outcomes {
		if outcomes[i].Err != nil {
			if firstErr == nil {
				firstErr = outcomes[i].Err
			}
			continue
		}
		res := outcomes[i].Result
		if res.Usage.Backend != "" {
			if rerr := branchLedger.Record(res.Usage.Backend, res.Usage.InputTokens, res.Usage.OutputTokens); rerr != nil {
				d.state.Warn("dropped malformed usage record from " + res.AgentID)
			}
		}
		branchLedger.RecordToolCalls(res.ToolCalls, res.ToolSearches)
		d.journalStep(ctx, string(agents.Synthesize), &res)
		merged[i] = res
	}
	d.state.Ledger.Merge(branchLedger)
	if firstErr != nil {
		return nil, firstErr
	}

	// A substitution that served a branch sticks for later revisions.
	for i := range merged {
		if merged[i].BackendUsed != "" && merged[i].BackendUsed != base.Backend {
			d.units[agents.Synthesize].Backend = merged[i].BackendUsed
			break
		}
	}
	return merged, nil
}
