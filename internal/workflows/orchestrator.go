package workflows

import (
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/archive"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/journal"
	ometrics "github.com/troupehq/troupe/internal/metrics"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/workflows/control"
	"github.com/troupehq/troupe/internal/workflows/opts"
)

// OrchestratorWorkflow is the run entrypoint. It dispatches the requested
// pattern as a child workflow, then archives, journals, and announces the
// outcome. Persistence is best effort: the caller gets the terminal state
// even when every store is down.
func OrchestratorWorkflow(ctx workflow.Context, input RunInput) (RunResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.RunID == "" {
		input.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	// Callers may omit backend bindings; the operator defaults cover them.
	// Fetched through an activity so a replay sees the bindings the run
	// started with, not the worker's current config.
	var tun config.Tunables
	tctx := opts.WithSnapshotOptions(ctx)
	if err := workflow.ExecuteActivity(tctx, constants.GetRunTunablesActivity).Get(ctx, &tun); err != nil {
		return RunResult{}, fmt.Errorf("fetch run defaults: %w", err)
	}
	if input.DefaultBackend == "" {
		input.DefaultBackend = tun.DefaultBackend
	}
	if len(input.Backends) == 0 {
		input.Backends = tun.Bindings
	}
	if err := input.Validate(); err != nil {
		return RunResult{}, err
	}

	ometrics.RunsStarted.WithLabelValues(string(input.Pattern)).Inc()
	startedAt := workflow.Now(ctx)
	logger.Info("Run starting",
		"run_id", input.RunID,
		"pattern", string(input.Pattern),
		"fan_out", input.FanOut,
	)
	ctrl := &control.SignalHandler{RunID: input.RunID, Logger: logger}
	ctrl.Setup(ctx)
	publishEvent(ctx, events.Event{
		RunID:   input.RunID,
		Type:    events.TypeRunStarted,
		Message: input.Query,
		Payload: map[string]interface{}{"pattern": string(input.Pattern)},
	})

	var topology interface{}
	switch input.Pattern {
	case run.PatternSequential:
		topology = SequentialWorkflow
	case run.PatternReflexion:
		topology = ReflexionWorkflow
	case run.PatternSupervisor:
		topology = SupervisorWorkflow
	default:
		return RunResult{}, fmt.Errorf("unknown pattern %q", input.Pattern)
	}

	if err := ctrl.CheckPausePoint(ctx, "dispatch"); err != nil {
		return RunResult{}, err
	}

	// Control signals arriving mid-run are forwarded to the pattern child,
	// where the checkpoints live.
	childID := fmt.Sprintf("%s-%s", input.RunID, input.Pattern)
	cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:        childID,
		ParentClosePolicy: enumspb.PARENT_CLOSE_POLICY_TERMINATE,
	})
	ctrl.RegisterChildWorkflow(childID)
	var result RunResult
	err := workflow.ExecuteChildWorkflow(cctx, topology, input).Get(ctx, &result)
	ctrl.UnregisterChildWorkflow(childID)
	if err != nil {
		var canceled *temporal.CanceledError
		if errors.As(err, &canceled) {
			logger.Info("Run cancelled", "run_id", input.RunID)
			ometrics.RunsCompleted.WithLabelValues(string(input.Pattern), "cancelled").Inc()
			return RunResult{}, err
		}
		logger.Error("Run failed", "run_id", input.RunID, "error", err)
		ometrics.RunsCompleted.WithLabelValues(string(input.Pattern), "failed").Inc()
		publishEventAndWait(ctx, events.Event{
			RunID:   input.RunID,
			Type:    events.TypeWarning,
			Message: "run failed: " + err.Error(),
		})
		return RunResult{}, err
	}

	duration := workflow.Now(ctx).Sub(startedAt)
	ometrics.RecordRunMetrics(
		string(input.Pattern),
		string(result.TerminationReason),
		duration.Seconds(),
		result.State.IterationCount,
		result.State.Ledger.TotalTokens(),
		result.State.Ledger.TotalCost,
	)
	persistOutcome(ctx, input, &result, duration)
	// Stream consumers treat run_completed as the end of the run, so this
	// one write is waited on; anything scheduled after the workflow returns
	// would be abandoned.
	publishEventAndWait(ctx, events.Event{
		RunID: input.RunID,
		Type:  events.TypeRunCompleted,
		Payload: map[string]interface{}{
			"reason":     string(result.TerminationReason),
			"iterations": result.State.IterationCount,
		},
	})
	logger.Info("Run completed",
		"run_id", input.RunID,
		"reason", string(result.TerminationReason),
		"iterations", result.State.IterationCount,
		"duration", duration,
	)
	return result, nil
}

// persistOutcome writes the terminal record to the archive and the
// journal. Either store failing leaves a warning in the logs, never an
// error on the run.
func persistOutcome(ctx workflow.Context, input RunInput, result *RunResult, duration time.Duration) {
	logger := workflow.GetLogger(ctx)
	completedAt := workflow.Now(ctx).UTC()

	pctx := opts.WithPersistOptions(ctx)
	if err := workflow.ExecuteActivity(pctx, constants.PersistRunRecordActivity, activities.PersistRunRecordInput{
		Record: archive.Record{
			RunID:       input.RunID,
			Query:       input.Query,
			Pattern:     string(input.Pattern),
			Draft:       result.State.Draft,
			Reason:      string(result.TerminationReason),
			Iterations:  result.State.IterationCount,
			TotalTokens: result.State.Ledger.TotalTokens(),
			TotalCost:   result.State.Ledger.TotalCost,
			Scores:      result.State.Scores,
			Warnings:    result.State.Warnings,
			CompletedAt: completedAt,
		},
	}).Get(ctx, nil); err != nil {
		logger.Warn("Archive write failed", "run_id", input.RunID, "error", err)
	}

	if err := workflow.ExecuteActivity(pctx, constants.JournalRunActivity, activities.JournalRunInput{
		Run: journal.RunRow{
			RunID:        input.RunID,
			Query:        input.Query,
			Pattern:      string(input.Pattern),
			Reason:       string(result.TerminationReason),
			Draft:        result.State.Draft,
			Iterations:   result.State.IterationCount,
			TotalTokens:  result.State.Ledger.TotalTokens(),
			TotalCost:    result.State.Ledger.TotalCost,
			WarningCount: len(result.State.Warnings),
			DurationMs:   duration.Milliseconds(),
			CompletedAt:  completedAt,
		},
	}).Get(ctx, nil); err != nil {
		logger.Warn("Journal write failed", "run_id", input.RunID, "error", err)
	}
}
