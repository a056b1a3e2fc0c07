package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSequentialState(t *testing.T) *State {
	t.Helper()
	s, err := NewState("q", PatternSequential)
	require.NoError(t, err)
	return s
}

func TestApplyMessagesAreAppendOnly(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{Messages: []Message{{Role: RoleUser, Content: "q"}}})
	s.Apply(Delta{Messages: []Message{{Role: RoleAssistant, Content: "draft one"}}})
	s.Apply(Delta{AgentID: "critic"}) // no messages: transcript untouched

	require.Len(t, s.Messages, 2)
	assert.Equal(t, "q", s.Messages[0].Content)
	assert.Equal(t, "draft one", s.Messages[1].Content)
}

func TestApplyContextReplaceAndAccumulate(t *testing.T) {
	s := newSequentialState(t)

	first := []SourceRecord{{URL: "https://a.example", Title: "A"}}
	s.Apply(Delta{Context: first})
	require.Len(t, s.RetrievedContext, 1)

	// Default is wholesale replacement.
	second := []SourceRecord{{URL: "https://b.example", Title: "B"}}
	s.Apply(Delta{Context: second})
	require.Len(t, s.RetrievedContext, 1)
	assert.Equal(t, "https://b.example", s.RetrievedContext[0].URL)

	// The topology can opt into accumulation for research revisits.
	third := []SourceRecord{{URL: "https://c.example", Title: "C"}}
	s.Apply(Delta{Context: third, AccumulateContext: true})
	require.Len(t, s.RetrievedContext, 2)
	assert.Equal(t, "https://b.example", s.RetrievedContext[0].URL)
	assert.Equal(t, "https://c.example", s.RetrievedContext[1].URL)

	// nil context leaves everything alone; empty non-nil clears it.
	s.Apply(Delta{AgentID: "analyst"})
	require.Len(t, s.RetrievedContext, 2)
	s.Apply(Delta{Context: []SourceRecord{}})
	assert.Empty(t, s.RetrievedContext)
}

func TestApplyOwnedFieldsOnlyWhenSet(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{Analysis: StrPtr("themes: cost, safety")})
	s.Apply(Delta{Draft: StrPtr("draft v1")})
	s.Apply(Delta{Feedback: StrPtr("needs sources")})

	// A delta without those fields leaves them alone.
	s.Apply(Delta{AgentID: "router"})
	assert.Equal(t, "themes: cost, safety", s.Analysis)
	assert.Equal(t, "draft v1", s.Draft)
	assert.Equal(t, "needs sources", s.Feedback)

	// An explicitly set empty string does overwrite.
	s.Apply(Delta{Feedback: StrPtr("")})
	assert.Empty(t, s.Feedback)
}

func TestApplyScoresMergePerDimension(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{Scores: map[string]float64{"coverage": 0.6, "grounding": 0.7}})
	s.Apply(Delta{Scores: map[string]float64{"coverage": 0.9}})

	assert.Equal(t, 0.9, s.Scores["coverage"])
	assert.Equal(t, 0.7, s.Scores["grounding"])
}

func TestApplyCompletionFlagsAreFreshPerEvaluation(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{NeedsMore: BoolPtr(true)})
	assert.False(t, s.IsComplete)
	assert.True(t, s.NeedsMoreData)

	// The next evaluation replaces the previous one entirely.
	s.Apply(Delta{Complete: BoolPtr(true), NeedsMore: BoolPtr(false)})
	assert.True(t, s.IsComplete)
	assert.False(t, s.NeedsMoreData)

	// A delta with neither flag is not an evaluation and changes nothing.
	s.Apply(Delta{AgentID: "synthesizer"})
	assert.True(t, s.IsComplete)
	assert.False(t, s.NeedsMoreData)
}

func TestApplyCompletionWinsConflictingEvaluation(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{Complete: BoolPtr(true), NeedsMore: BoolPtr(true)})
	assert.True(t, s.IsComplete)
	assert.False(t, s.NeedsMoreData)
}

func TestApplyCurrentAgentAndWarnings(t *testing.T) {
	s := newSequentialState(t)

	s.Apply(Delta{AgentID: "researcher", Warnings: []string{"search degraded"}})
	assert.Equal(t, "researcher", s.CurrentAgent)
	assert.Equal(t, []string{"search degraded"}, s.Warnings)

	// Empty agent id keeps the previous attribution.
	s.Apply(Delta{Draft: StrPtr("v1")})
	assert.Equal(t, "researcher", s.CurrentAgent)
}
