// Package registry wires the run workflows and their activities onto a
// Temporal worker. Activity names are registered from the shared constants
// so workflow call sites and worker registration cannot drift apart.
package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/constants"
	"github.com/troupehq/troupe/internal/workflows"
)

// RunRegistry implements Registry for the run orchestrator.
type RunRegistry struct {
	acts   *activities.Activities
	logger *zap.Logger
}

// NewRunRegistry creates a registry around a fully constructed activity set.
func NewRunRegistry(acts *activities.Activities, logger *zap.Logger) *RunRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRegistry{acts: acts, logger: logger}
}

// RegisterAll registers workflows and activities on the worker.
func (r *RunRegistry) RegisterAll(w worker.Worker) error {
	if err := r.RegisterWorkflows(w); err != nil {
		return err
	}
	return r.RegisterActivities(w)
}

// RegisterWorkflows registers the orchestrator and the three topology
// workflows it dispatches to as children.
func (r *RunRegistry) RegisterWorkflows(w worker.Worker) error {
	w.RegisterWorkflow(workflows.OrchestratorWorkflow)
	w.RegisterWorkflow(workflows.SequentialWorkflow)
	w.RegisterWorkflow(workflows.ReflexionWorkflow)
	w.RegisterWorkflow(workflows.SupervisorWorkflow)

	r.logger.Info("Registered run workflows")
	return nil
}

// RegisterActivities registers every activity under its stable name.
func (r *RunRegistry) RegisterActivities(w worker.Worker) error {
	// Agent execution and the quality gate
	w.RegisterActivityWithOptions(r.acts.ExecuteAgent, activity.RegisterOptions{Name: constants.ExecuteAgentActivity})
	w.RegisterActivityWithOptions(r.acts.EvaluateDraft, activity.RegisterOptions{Name: constants.EvaluateDraftActivity})

	// Outline planning for fan-out synthesis
	w.RegisterActivityWithOptions(r.acts.DecomposeOutline, activity.RegisterOptions{Name: constants.DecomposeOutlineActivity})

	// Pricing snapshot and operator defaults pinned at run start
	w.RegisterActivityWithOptions(r.acts.GetPricingSnapshot, activity.RegisterOptions{Name: constants.GetPricingSnapshotActivity})
	w.RegisterActivityWithOptions(r.acts.GetRunTunables, activity.RegisterOptions{Name: constants.GetRunTunablesActivity})

	// Persistence and lifecycle events
	w.RegisterActivityWithOptions(r.acts.PersistRunRecord, activity.RegisterOptions{Name: constants.PersistRunRecordActivity})
	w.RegisterActivityWithOptions(r.acts.JournalRun, activity.RegisterOptions{Name: constants.JournalRunActivity})
	w.RegisterActivityWithOptions(r.acts.JournalStep, activity.RegisterOptions{Name: constants.JournalStepActivity})
	w.RegisterActivityWithOptions(r.acts.PublishRunEvent, activity.RegisterOptions{Name: constants.PublishRunEventActivity})

	r.logger.Info("Registered run activities")
	return nil
}
