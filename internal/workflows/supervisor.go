package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/run"
)

// SupervisorWorkflow lets a routing unit pick each next step. Every
// worker returns control to the supervisor; the run ends when the router
// emits FINISH, when a critique verdict approves the draft, or when the
// dispatch cap trips. The cap check runs before consulting the router, so
// termination never depends on the router behaving.
func SupervisorWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	input.Pattern = run.PatternSupervisor
	if err := input.Validate(); err != nil {
		return RunResult{}, err
	}

	d, err := newDriver(ctx, input, run.PatternSupervisor)
	if err != nil {
		return RunResult{}, err
	}
	maxIter := d.iterationCap()
	logger.Info("Supervisor run starting", "run_id", input.RunID, "cap", maxIter)

	for {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if d.state.IterationCount >= maxIter {
			logger.Info("Dispatch cap reached, ending with last draft",
				"run_id", input.RunID, "iterations", d.state.IterationCount)
			return d.finish(ctx, run.ReasonMaxIterations), nil
		}

		routeRes, err := d.executeUnit(ctx, agents.Route)
		if err != nil {
			if backendsExhausted(err) {
				return d.finish(ctx, run.ReasonBackendExhausted), nil
			}
			return RunResult{}, err
		}
		worker := routeRes.RouteLabel.Responsibility()
		if worker == "" {
			// FINISH, or a label with no worker behind it.
			return d.finishRouted(ctx)
		}
		d.state.AdvanceIteration()
		if _, err := d.executeUnit(ctx, worker); err != nil {
			if backendsExhausted(err) {
				return d.finish(ctx, run.ReasonBackendExhausted), nil
			}
			return RunResult{}, err
		}

		if worker == agents.Critique {
			decision, err := d.evaluate(ctx, true)
			if err != nil {
				return RunResult{}, err
			}
			if decision == activities.DecisionApprove {
				return d.finish(ctx, run.ReasonApproved), nil
			}
		}
	}
}

// finishRouted seals a run the router chose to end. A draft that was
// never gated gets one evaluation on the way out so the result carries
// honest scores; the router's exit stands either way.
func (d *driver) finishRouted(ctx workflow.Context) (RunResult, error) {
	if !d.state.IsComplete && d.state.Draft != "" {
		if _, err := d.evaluate(ctx, false); err != nil {
			return RunResult{}, err
		}
	}
	return d.finish(ctx, run.ReasonApproved), nil
}
