package workflows

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/run"
	"github.com/troupehq/troupe/internal/workflows/control"
)

func TestSequentialCancelSignalStopsRunBeforeFirstStep(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalCancel, control.CancelRequest{
			Reason:      "operator abort",
			RequestedBy: "ops",
		})
	}, 0)

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled), "expected CanceledError, got %T", err)

	assert.Empty(t, rec.agentInputs)
	assert.Contains(t, rec.eventTypes(), events.TypeRunCancelled)
}

func TestSequentialPauseHoldsRunUntilResume(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalPause, control.PauseRequest{
			Reason:      "hold for review",
			RequestedBy: "ops",
		})
	}, 0)
	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(control.QueryControlState)
		require.NoError(t, err)
		var st control.State
		require.NoError(t, v.Get(&st))
		assert.True(t, st.IsPaused)
		assert.Equal(t, "hold for review", st.PauseReason)

		env.SignalWorkflow(control.SignalResume, control.ResumeRequest{RequestedBy: "ops"})
	}, time.Minute)

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, 1, rec.agentCalls(agents.Research))

	// The run blocked before its first step, so the paused announcement
	// precedes every agent event. Child workflows leave the resumed
	// announcement to the parent.
	types := rec.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeRunPaused, types[0])
	assert.NotContains(t, types, events.TypeRunResumed)
}

func TestOrchestratorCancelledBeforeDispatchRunsNothing(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})
	registerTopologies(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalCancel, control.CancelRequest{Reason: "drop the run"})
	}, 0)

	env.ExecuteWorkflow(OrchestratorWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled), "expected CanceledError, got %T", err)

	assert.Empty(t, rec.agentInputs)
	assert.Empty(t, rec.archived)
	assert.Empty(t, rec.runRows)
	require.Equal(t, []string{events.TypeRunStarted, events.TypeRunCancelled}, rec.eventTypes())
}

func TestOrchestratorResumeAnnouncedByParent(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})
	registerTopologies(env)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalPause, control.PauseRequest{Reason: "hold"})
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(control.SignalResume, control.ResumeRequest{})
	}, time.Minute)

	env.ExecuteWorkflow(OrchestratorWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	// Held before dispatch, then ran to a persisted completion.
	assert.Len(t, rec.archived, 1)
	assert.Len(t, rec.runRows, 1)

	types := rec.eventTypes()
	assert.Contains(t, types, events.TypeRunPaused)
	assert.Contains(t, types, events.TypeRunResumed)
}
