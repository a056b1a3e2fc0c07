package workflows

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/run"
)

func TestSequentialApprovesFirstDraft(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.True(t, result.State.IsComplete)
	assert.Equal(t, 1, result.State.IterationCount)
	assert.Equal(t, "draft after iteration 1", result.State.Draft)
	assert.NotEmpty(t, result.State.Scores)

	// One pass through the pipeline, in order.
	assert.Equal(t, 1, rec.agentCalls(agents.Research))
	assert.Equal(t, 1, rec.agentCalls(agents.Analyze))
	assert.Equal(t, 1, rec.agentCalls(agents.Synthesize))
	assert.Equal(t, 1, rec.agentCalls(agents.Critique))
	require.Len(t, rec.agentInputs, 4)
	assert.Equal(t, agents.Research, rec.agentInputs[0].Unit.Responsibility)
	assert.Equal(t, agents.Critique, rec.agentInputs[3].Unit.Responsibility)

	// Cost stays consistent with a recompute from the token maps.
	assert.InDelta(t, result.State.Ledger.ComputedCost(), result.State.Ledger.TotalCost, 1e-12)
	assert.Equal(t, 4*140, result.State.Ledger.TotalTokens())
	assert.InDelta(t, 4*(100*1.0+40*2.0)/1e6, result.State.Ledger.TotalCost, 1e-12)
}

func TestSequentialReviseLoop(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionRevise, activities.DecisionRevise, activities.DecisionApprove},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, 3, result.State.IterationCount)
	assert.Equal(t, "draft after iteration 3", result.State.Draft)

	// Revisions rewrite the draft; they never send the run back to research.
	assert.Equal(t, 3, rec.agentCalls(agents.Synthesize))
	assert.Equal(t, 3, rec.agentCalls(agents.Critique))
	assert.Equal(t, 1, rec.agentCalls(agents.Research))
	assert.Equal(t, 1, rec.agentCalls(agents.Analyze))
	assert.Len(t, rec.evalInputs, 3)

	// Later synthesis calls see the previous draft and the open feedback.
	synthInputs := rec.inputsFor(agents.Synthesize)
	assert.Empty(t, synthInputs[0].Draft)
	assert.Equal(t, "draft after iteration 1", synthInputs[1].Draft)
	assert.NotEmpty(t, synthInputs[1].Feedback)
}

func TestSequentialNeedMoreDataLoopsToResearch(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionNeedMoreData, activities.DecisionApprove},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, 2, result.State.IterationCount)

	// The verdict reopened research, and the pipeline ran forward again.
	assert.Equal(t, 2, rec.agentCalls(agents.Research))
	assert.Equal(t, 2, rec.agentCalls(agents.Analyze))
	assert.Equal(t, 2, rec.agentCalls(agents.Synthesize))

	// A research revisit stacks new sources instead of replacing them.
	assert.Len(t, result.State.RetrievedContext, 2)
	assert.True(t, result.State.IsComplete)
	assert.False(t, result.State.NeedsMoreData)
}

func TestSequentialIterationCapTagsMaxIterations(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionRevise},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	// Hitting the cap is an outcome, not a failure.
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonMaxIterations, result.TerminationReason)
	assert.Equal(t, DefaultIterationCap, result.State.IterationCount)
	assert.False(t, result.State.IsComplete)
	assert.NotEmpty(t, result.State.Draft)

	assert.Equal(t, DefaultIterationCap, rec.agentCalls(agents.Synthesize))
	assert.Equal(t, DefaultIterationCap, rec.agentCalls(agents.Critique))
	assert.Equal(t, 1, rec.agentCalls(agents.Research))
}

func TestSequentialHonorsMaxIterationsOverride(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionRevise},
	})

	input := testRunInput(run.PatternSequential)
	input.MaxIterations = 2
	env.ExecuteWorkflow(SequentialWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonMaxIterations, result.TerminationReason)
	assert.Equal(t, 2, result.State.IterationCount)
	assert.Equal(t, 2, rec.agentCalls(agents.Synthesize))
}

func TestSequentialOperatorDefaultsApply(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionRevise},
		tunables: config.Tunables{MaxIterations: 2, SearchDepth: "advanced", MaxSearchResults: 9},
	})

	// The input leaves every knob unset, so the operator defaults govern.
	input := testRunInput(run.PatternSequential)
	env.ExecuteWorkflow(SequentialWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonMaxIterations, result.TerminationReason)
	assert.Equal(t, 2, result.State.IterationCount)

	research := rec.inputsFor(agents.Research)
	require.NotEmpty(t, research)
	assert.Equal(t, "advanced", research[0].SearchDepth)
	assert.Equal(t, 9, research[0].MaxSearchResults)
}

func TestSequentialCallerOverridesOperatorDefaults(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		verdicts: []string{activities.DecisionRevise},
		tunables: config.Tunables{MaxIterations: 4, SearchDepth: "advanced"},
	})

	input := testRunInput(run.PatternSequential)
	input.MaxIterations = 1
	input.SearchDepth = "basic"
	env.ExecuteWorkflow(SequentialWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.State.IterationCount)
	assert.Equal(t, 1, rec.agentCalls(agents.Synthesize))

	research := rec.inputsFor(agents.Research)
	require.NotEmpty(t, research)
	assert.Equal(t, "basic", research[0].SearchDepth)
}

func TestSequentialBackendExhaustionEndsRun(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		agentHook: func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error) {
			if in.Unit.Responsibility == agents.Synthesize {
				return nil, temporal.NewNonRetryableApplicationError(
					"all candidate backends declined", activities.ErrTypeAllBackendsExhausted, nil)
			}
			return nil, nil
		},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	// Exhaustion terminates the run with a reason, not an error.
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonBackendExhausted, result.TerminationReason)
	assert.False(t, result.State.IsComplete)
	assert.Empty(t, result.State.Draft)

	// Whatever completed before the stall is kept in the terminal state.
	assert.NotEmpty(t, result.State.Analysis)
	assert.Len(t, result.State.RetrievedContext, 1)
	assert.Equal(t, 1, rec.agentCalls(agents.Synthesize))
	assert.Equal(t, 0, rec.agentCalls(agents.Critique))
}

func TestSequentialFatalBackendFailsRun(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		agentHook: func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error) {
			if in.Unit.Responsibility == agents.Analyze {
				return nil, temporal.NewNonRetryableApplicationError(
					"backend alpha: invalid credentials", activities.ErrTypeFatalBackend, nil)
			}
			return nil, nil
		},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Equal(t, 0, rec.agentCalls(agents.Synthesize))
}

func TestSequentialResearchWarningsCarryIntoState(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		agentHook: func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error) {
			if in.Unit.Responsibility == agents.Research {
				res := scriptedAgentResult(in)
				res.NewContext = nil
				res.ToolCalls = 2
				res.ToolSearches = 2
				res.Warnings = []string{`search "raft leader election" failed: gateway timeout`}
				return &res, nil
			}
			return nil, nil
		},
	})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	// A degraded search never aborts the run; it surfaces as a warning.
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Empty(t, result.State.RetrievedContext)
	assert.NotEmpty(t, result.State.Warnings)
	assert.Equal(t, 2, result.State.Ledger.ToolCallCount)
	assert.Equal(t, 2, result.State.Ledger.ToolSearchCount)
}

func TestSequentialJournalsEveryStep(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})

	env.ExecuteWorkflow(SequentialWorkflow, testRunInput(run.PatternSequential))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.Len(t, rec.steps, 4)
	assert.Equal(t, "research", rec.steps[0].Responsibility)
	assert.Equal(t, "critique", rec.steps[3].Responsibility)
	for _, step := range rec.steps {
		assert.Equal(t, "run-test-1", step.RunID)
		assert.NotEqual(t, uuid.Nil, step.ID)
	}
	require.Len(t, rec.published, 8)
	for i := 0; i < len(rec.published); i += 2 {
		assert.Equal(t, events.TypeAgentStarted, rec.published[i].Type)
		assert.Equal(t, events.TypeAgentCompleted, rec.published[i+1].Type)
		assert.Equal(t, rec.published[i].AgentID, rec.published[i+1].AgentID)
	}
}

func TestSequentialRequiresBackendBinding(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{})

	input := testRunInput(run.PatternSequential)
	input.DefaultBackend = ""
	env.ExecuteWorkflow(SequentialWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Empty(t, rec.agentInputs)
}
