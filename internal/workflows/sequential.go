package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/run"
)

// SequentialWorkflow runs the fixed research, analyze, synthesize,
// critique pipeline with a feedback loop. After each critique the quality
// gate decides: approve ends the run, need-more-data loops back to
// research, anything else revises the draft. The iteration cap counts
// synthesis entries and forces an end tagged max-iterations, which is an
// outcome, not an error.
func SequentialWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	input.Pattern = run.PatternSequential
	if err := input.Validate(); err != nil {
		return RunResult{}, err
	}

	d, err := newDriver(ctx, input, run.PatternSequential)
	if err != nil {
		return RunResult{}, err
	}
	maxIter := d.iterationCap()
	logger.Info("Sequential run starting", "run_id", input.RunID, "cap", maxIter)

	next := agents.Research
	for {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		switch next {
		case agents.Research:
			if _, err := d.executeUnit(ctx, agents.Research); err != nil {
				if backendsExhausted(err) {
					return d.finish(ctx, run.ReasonBackendExhausted), nil
				}
				return RunResult{}, err
			}
			next = agents.Analyze

		case agents.Analyze:
			if _, err := d.executeUnit(ctx, agents.Analyze); err != nil {
				if backendsExhausted(err) {
					return d.finish(ctx, run.ReasonBackendExhausted), nil
				}
				return RunResult{}, err
			}
			next = agents.Synthesize

		case agents.Synthesize:
			if d.state.IterationCount >= maxIter {
				logger.Info("Iteration cap reached", "run_id", input.RunID, "iterations", d.state.IterationCount)
				return d.finish(ctx, run.ReasonMaxIterations), nil
			}
			d.state.AdvanceIteration()

			if err := d.synthesizeStep(ctx); err != nil {
				if backendsExhausted(err) {
					return d.finish(ctx, run.ReasonBackendExhausted), nil
				}
				return RunResult{}, err
			}
			next = agents.Critique

		case agents.Critique:
			if _, err := d.executeUnit(ctx, agents.Critique); err != nil {
				if backendsExhausted(err) {
					return d.finish(ctx, run.ReasonBackendExhausted), nil
				}
				return RunResult{}, err
			}
			decision, err := d.evaluate(ctx, true)
			if err != nil {
				return RunResult{}, err
			}
			switch decision {
			case activities.DecisionApprove:
				return d.finish(ctx, run.ReasonApproved), nil
			case activities.DecisionNeedMoreData:
				next = agents.Research
			default:
				next = agents.Synthesize
			}
		}
	}
}

// synthesizeStep writes the draft, fanning the first synthesis out across
// outline sections when the run asks for it. Revisions always run as a
// single unit over the merged draft.
func (d *driver) synthesizeStep(ctx workflow.Context) error {
	if d.input.FanOut && d.state.IterationCount == 1 {
		return d.fanOutSynthesize(ctx)
	}
	_, err := d.executeUnit(ctx, agents.Synthesize)
	return err
}
