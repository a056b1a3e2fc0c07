package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/run"
)

// ReflexionWorkflow researches and analyzes exactly once, then refines
// through a bounded synthesize/critique loop. The gate's need-more-data
// verdict is treated as revise here: this topology only polishes the
// context it already has and never returns to research.
func ReflexionWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	input.Pattern = run.PatternReflexion
	if err := input.Validate(); err != nil {
		return RunResult{}, err
	}

	d, err := newDriver(ctx, input, run.PatternReflexion)
	if err != nil {
		return RunResult{}, err
	}
	maxIter := d.iterationCap()
	logger.Info("Reflexion run starting", "run_id", input.RunID, "cap", maxIter)

	for _, resp := range []agents.Responsibility{agents.Research, agents.Analyze} {
		if _, err := d.executeUnit(ctx, resp); err != nil {
			if backendsExhausted(err) {
				return d.finish(ctx, run.ReasonBackendExhausted), nil
			}
			return RunResult{}, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
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
		if _, err := d.executeUnit(ctx, agents.Critique); err != nil {
			if backendsExhausted(err) {
				return d.finish(ctx, run.ReasonBackendExhausted), nil
			}
			return RunResult{}, err
		}

		decision, err := d.evaluate(ctx, false)
		if err != nil {
			return RunResult{}, err
		}
		if decision == activities.DecisionApprove {
			return d.finish(ctx, run.ReasonApproved), nil
		}
		// revise; the gate cannot request new research in this topology
	}
}
