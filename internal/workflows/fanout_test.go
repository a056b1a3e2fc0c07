package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/run"
)

func fanOutInput() RunInput {
	in := testRunInput(run.PatternSequential)
	in.FanOut = true
	return in
}

func TestFanOutMergesInOutlineOrder(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"history", "mechanism", "outlook"},
	})

	env.ExecuteWorkflow(SequentialWorkflow, fanOutInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)

	// The merged draft keeps outline order, one blank line between parts.
	assert.Equal(t, "part 0: history\n\npart 1: mechanism\n\npart 2: outlook", result.State.Draft)
	assert.Equal(t, 1, rec.decomposed)

	// Each branch wrote its own section against the pre-draft state.
	synthInputs := rec.inputsFor(agents.Synthesize)
	require.Len(t, synthInputs, 3)
	seen := map[int]string{}
	for _, in := range synthInputs {
		seen[in.SectionIndex] = in.Section
		assert.Empty(t, in.Draft)
		assert.NotEmpty(t, in.Analysis)
	}
	assert.Equal(t, map[int]string{0: "history", 1: "mechanism", 2: "outlook"}, seen)

	// Branch units are distinct clones of the synthesis unit.
	ids := map[string]bool{}
	for _, in := range synthInputs {
		ids[in.Unit.ID] = true
		assert.Equal(t, agents.Synthesize, in.Unit.Responsibility)
	}
	assert.Len(t, ids, 3)

	// Outline planning and every branch are accounted for.
	assert.Equal(t, 6*140+70, result.State.Ledger.TotalTokens())
	assert.InDelta(t, result.State.Ledger.ComputedCost(), result.State.Ledger.TotalCost, 1e-12)
	assert.Len(t, rec.steps, 6)
}

func TestFanOutBranchFailureSkipsReduce(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"history", "mechanism", "outlook", "criticism"},
		agentHook: func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error) {
			if in.Unit.Responsibility == agents.Synthesize && in.SectionIndex == 1 && in.Section != "" {
				return nil, temporal.NewNonRetryableApplicationError(
					"all candidate backends declined", activities.ErrTypeAllBackendsExhausted, nil)
			}
			return nil, nil
		},
	})

	env.ExecuteWorkflow(SequentialWorkflow, fanOutInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonBackendExhausted, result.TerminationReason)

	// One lost branch means no partial merge.
	assert.Empty(t, result.State.Draft)
	assert.Empty(t, rec.evalInputs)
	assert.Equal(t, 0, rec.agentCalls(agents.Critique))

	// Every branch ran to the barrier; the three that succeeded are
	// still billed.
	assert.Equal(t, 4, rec.agentCalls(agents.Synthesize))
	assert.Equal(t, 2*140+70+3*140, result.State.Ledger.TotalTokens())
	assert.InDelta(t, result.State.Ledger.ComputedCost(), result.State.Ledger.TotalCost, 1e-12)
}

func TestFanOutFatalBranchFailsRun(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"history", "mechanism"},
		agentHook: func(in activities.AgentExecutionInput) (*activities.AgentExecutionResult, error) {
			if in.Unit.Responsibility == agents.Synthesize && in.Section == "mechanism" {
				return nil, temporal.NewNonRetryableApplicationError(
					"backend alpha: invalid credentials", activities.ErrTypeFatalBackend, nil)
			}
			return nil, nil
		},
	})

	env.ExecuteWorkflow(SequentialWorkflow, fanOutInput())

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

func TestFanOutSingleSectionRunsInline(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"the whole question"},
	})

	env.ExecuteWorkflow(SequentialWorkflow, fanOutInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, 1, rec.decomposed)

	// A one-section outline is not worth a fan-out.
	synthInputs := rec.inputsFor(agents.Synthesize)
	require.Len(t, synthInputs, 1)
	assert.Empty(t, synthInputs[0].Section)
	assert.Equal(t, "draft after iteration 1", result.State.Draft)
}

func TestFanOutOnlyOnFirstSynthesis(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"history", "mechanism"},
		verdicts: []string{activities.DecisionRevise, activities.DecisionApprove},
	})

	env.ExecuteWorkflow(SequentialWorkflow, fanOutInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, 2, result.State.IterationCount)

	// The outline is planned once; revisions rewrite the merged draft
	// as a single unit.
	assert.Equal(t, 1, rec.decomposed)
	synthInputs := rec.inputsFor(agents.Synthesize)
	require.Len(t, synthInputs, 3)
	assert.NotEmpty(t, synthInputs[0].Section)
	assert.NotEmpty(t, synthInputs[1].Section)
	assert.Empty(t, synthInputs[2].Section)
	assert.Equal(t, "part 0: history\n\npart 1: mechanism", synthInputs[2].Draft)
	assert.Equal(t, "draft after iteration 2", result.State.Draft)
}

func TestFanOutWorksInReflexion(t *testing.T) {
	env := newRunEnv()
	rec := &runRecorder{}
	registerRunStubs(env, rec, stubOptions{
		sections: []string{"history", "mechanism"},
	})

	in := testRunInput(run.PatternReflexion)
	in.FanOut = true
	env.ExecuteWorkflow(ReflexionWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, run.ReasonApproved, result.TerminationReason)
	assert.Equal(t, "part 0: history\n\npart 1: mechanism", result.State.Draft)
	assert.Equal(t, 1, rec.decomposed)
}
