package workflows

import (
	"errors"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/journal"
	"github.com/troupehq/troupe/internal/ledger"
	"github.com/troupehq/troupe/internal/pricing"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/workflows/control"
	"github.com/troupehq/troupe/internal/workflows/opts"
)

// driver owns the run state for one topology execution. Units return
// deltas through activity results; only the driver mutates state, so a
// unit never observes a half-applied step.
type driver struct {
	input        RunInput
	tunables     config.Tunables
	state        *run.State
	units        map[agents.Responsibility]*agents.Unit
	ctrl         *control.SignalHandler
	researchRuns int
}

// newDriver initializes run state, prices the ledger from a snapshot taken
// at run start, and pins the operator defaults the same way, so replays and
// mid-run config or price edits cannot change a run's behavior.
func newDriver(ctx workflow.Context, input RunInput, pattern run.Pattern) (*driver, error) {
	st, err := run.NewState(input.Query, pattern)
	if err != nil {
		return nil, err
	}
	st.Messages = append(st.Messages, input.Messages...)

	// Pattern workflows run as children; the parent announces resume, so
	// this handler skips that emission. Pause and cancel are still announced
	// here, by whichever checkpoint actually blocks.
	ctrl := &control.SignalHandler{
		RunID:    input.RunID,
		Logger:   workflow.GetLogger(ctx),
		SkipEmit: true,
	}
	ctrl.Setup(ctx)

	actx := opts.WithSnapshotOptions(ctx)
	var snap pricing.Snapshot
	if err := workflow.ExecuteActivity(actx, constants.GetPricingSnapshotActivity).Get(ctx, &snap); err != nil {
		workflow.GetLogger(ctx).Warn("Pricing snapshot unavailable, run costs will read as zero", "error", err)
		st.Warn("pricing snapshot unavailable; ledger costs are zero")
	}
	st.Ledger = ledger.New(snap)

	var tun config.Tunables
	if err := workflow.ExecuteActivity(actx, constants.GetRunTunablesActivity).Get(ctx, &tun); err != nil {
		workflow.GetLogger(ctx).Warn("Run tunables unavailable, using compiled-in defaults", "error", err)
	}

	return &driver{
		input:    input,
		tunables: tun,
		state:    st,
		units:    buildUnits(input),
		ctrl:     ctrl,
	}, nil
}

// iterationCap is the effective cap for this run, pinned at start.
func (d *driver) iterationCap() int {
	return d.input.iterationCap(d.tunables)
}

// executeUnit runs one unit as an activity, commits its sticky backend
// substitution, records its generation in the ledger exactly once, and
// applies the fields the responsibility owns. Each execution is a control
// checkpoint, so pause and cancel take effect between steps.
func (d *driver) executeUnit(ctx workflow.Context, resp agents.Responsibility) (*activities.AgentExecutionResult, error) {
	if err := d.ctrl.CheckPausePoint(ctx, string(resp)); err != nil {
		return nil, err
	}

	unit := d.units[resp]
	in := d.unitInput(*unit)
	publishEvent(ctx, events.Event{
		RunID:   d.input.RunID,
		Type:    events.TypeAgentStarted,
		AgentID: unit.ID,
		Message: unit.Name,
	})

	var res activities.AgentExecutionResult
	actx := opts.WithAgentOptions(ctx)
	if err := workflow.ExecuteActivity(actx, constants.ExecuteAgentActivity, in).Get(ctx, &res); err != nil {
		return nil, err
	}

	// Sticky switch: later calls from this unit go to the substitute.
	if res.BackendUsed != "" && res.BackendUsed != unit.Backend {
		unit.Backend = res.BackendUsed
	}

	d.recordResult(ctx, &res)
	d.applyResult(resp, &res)
	d.journalStep(ctx, string(resp), &res)
	publishEvent(ctx, events.Event{
		RunID:   d.input.RunID,
		Type:    events.TypeAgentCompleted,
		AgentID: res.AgentID,
		Message: unit.Name,
	})
	return &res, nil
}

// unitInput copies the slices of run state the unit's prompt may read.
func (d *driver) unitInput(unit agents.Unit) activities.AgentExecutionInput {
	depth := d.input.SearchDepth
	if depth == "" {
		depth = d.tunables.SearchDepth
	}
	maxResults := d.input.MaxSearchResults
	if maxResults <= 0 {
		maxResults = d.tunables.MaxSearchResults
	}
	return activities.AgentExecutionInput{
		RunID:            d.input.RunID,
		Unit:             unit,
		Query:            d.state.Query,
		Messages:         d.state.Messages,
		Context:          d.state.RetrievedContext,
		Analysis:         d.state.Analysis,
		Draft:            d.state.Draft,
		Feedback:         d.state.Feedback,
		Iteration:        d.state.IterationCount,
		SearchDepth:      depth,
		MaxSearchResults: maxResults,
		Config:           d.input.GenConfig,
	}
}

// recordResult folds one execution's usage and tool counters into the
// ledger, keeping the cached total consistent in the same step.
func (d *driver) recordResult(ctx workflow.Context, res *activities.AgentExecutionResult) {
	if res.Usage.Backend != "" {
		if err := d.state.Ledger.Record(res.Usage.Backend, res.Usage.InputTokens, res.Usage.OutputTokens); err != nil {
			workflow.GetLogger(ctx).Warn("Dropping malformed usage record",
				"backend", res.Usage.Backend, "error", err)
			d.state.Warn("dropped malformed usage record from " + res.AgentID)
		}
	}
	d.state.Ledger.RecordToolCalls(res.ToolCalls, res.ToolSearches)
}

// applyResult commits the responsibility-owned fields as one delta.
func (d *driver) applyResult(resp agents.Responsibility, res *activities.AgentExecutionResult) {
	delta := run.Delta{AgentID: res.AgentID, Warnings: res.Warnings}
	switch resp {
	case agents.Research:
		delta.Context = res.NewContext
		// First retrieval replaces; a topology asking for more data
		// stacks new sources on what it has.
		delta.AccumulateContext = d.researchRuns > 0
		d.researchRuns++
	case agents.Analyze:
		delta.Analysis = run.StrPtr(res.Response)
	case agents.Synthesize:
		delta.Draft = run.StrPtr(res.Response)
	case agents.Critique:
		delta.Feedback = run.StrPtr(res.Response)
	case agents.Route:
		// Routing writes no state fields.
	}
	d.state.Apply(delta)
}

// evaluate consults the quality gate on the current draft and commits the
// verdict. Gate failures degrade to approval of the current draft rather
// than failing a run that already has a result.
func (d *driver) evaluate(ctx workflow.Context, allowMoreData bool) (string, error) {
	if err := d.ctrl.CheckPausePoint(ctx, "gate"); err != nil {
		return "", err
	}

	threshold := d.input.QualityThreshold
	if threshold <= 0 {
		threshold = d.tunables.QualityThreshold
	}
	in := activities.EvaluateDraftInput{
		RunID:         d.input.RunID,
		Query:         d.state.Query,
		Draft:         d.state.Draft,
		Feedback:      d.state.Feedback,
		Context:       d.state.RetrievedContext,
		Threshold:     threshold,
		AllowMoreData: allowMoreData,
	}
	actx := opts.WithGateOptions(ctx)
	var out activities.EvaluateDraftResult
	if err := workflow.ExecuteActivity(actx, constants.EvaluateDraftActivity, in).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("Quality gate unavailable, accepting current draft", "error", err)
		d.state.Warn("quality gate unavailable; draft accepted unevaluated")
		out = activities.EvaluateDraftResult{Decision: activities.DecisionApprove}
	}

	delta := run.Delta{Scores: out.Scores}
	switch out.Decision {
	case activities.DecisionApprove:
		delta.Complete = run.BoolPtr(true)
		delta.NeedsMore = run.BoolPtr(false)
	case activities.DecisionNeedMoreData:
		delta.Complete = run.BoolPtr(false)
		delta.NeedsMore = run.BoolPtr(true)
	default:
		delta.Complete = run.BoolPtr(false)
		delta.NeedsMore = run.BoolPtr(false)
	}
	if d.state.Feedback == "" && out.Feedback != "" {
		delta.Feedback = run.StrPtr(out.Feedback)
	}
	d.state.Apply(delta)
	return out.Decision, nil
}

// finish seals the run with its termination reason.
func (d *driver) finish(ctx workflow.Context, reason run.TerminationReason) RunResult {
	workflow.GetLogger(ctx).Info("Run finished",
		"run_id", d.input.RunID,
		"reason", string(reason),
		"iterations", d.state.IterationCount,
		"total_cost", d.state.Ledger.TotalCost)
	return RunResult{State: *d.state, TerminationReason: reason}
}

// backendsExhausted reports whether an activity failure means every
// candidate backend declined transiently. That outcome terminates the run
// with a reason instead of failing it.
func backendsExhausted(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == activities.ErrTypeAllBackendsExhausted
}

// journalStep records the step for offline analysis without blocking or
// failing the run.
func (d *driver) journalStep(ctx workflow.Context, responsibility string, res *activities.AgentExecutionResult) {
	var stepID string
	workflow.SideEffect(ctx, func(ctx workflow.Context) interface{} {
		return uuid.New().String()
	}).Get(&stepID)
	id, err := uuid.Parse(stepID)
	if err != nil {
		id = uuid.Nil
	}

	jctx := opts.WithBestEffortOptions(ctx)
	workflow.ExecuteActivity(jctx, constants.JournalStepActivity, activities.JournalStepInput{
		Step: journal.StepRow{
			ID:             id,
			RunID:          d.input.RunID,
			AgentID:        res.AgentID,
			Responsibility: responsibility,
			Backend:        res.BackendUsed,
			Iteration:      d.state.IterationCount,
			InputTokens:    res.Usage.InputTokens,
			OutputTokens:   res.Usage.OutputTokens,
			CostUSD:        res.Usage.CostUSD,
			DurationMs:     res.DurationMs,
		},
	})
}

// publishEvent emits a progress event without blocking the run.
func publishEvent(ctx workflow.Context, ev events.Event) {
	ectx := opts.WithBestEffortOptions(ctx)
	workflow.ExecuteActivity(ectx, constants.PublishRunEventActivity, activities.PublishRunEventInput{Event: ev})
}

// publishEventAndWait emits a terminal event and waits for the write.
// Failures are still swallowed; the wait only guarantees the event is not
// abandoned when the workflow closes right after.
func publishEventAndWait(ctx workflow.Context, ev events.Event) {
	ectx := opts.WithBestEffortOptions(ctx)
	_ = workflow.ExecuteActivity(ectx, constants.PublishRunEventActivity, activities.PublishRunEventInput{Event: ev}).Get(ctx, nil)
}
