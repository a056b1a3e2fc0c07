package run

import (
	"fmt"

	"github.com/troupehq/troupe/internal/ledger"
)

// Pattern identifies which topology drives a run.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternReflexion  Pattern = "reflexion"
	PatternSupervisor Pattern = "supervisor"
)

// Valid reports whether p is a recognized pattern name.
func (p Pattern) Valid() bool {
	switch p {
	case PatternSequential, PatternReflexion, PatternSupervisor:
		return true
	}
	return false
}

// TerminationReason tags how a run ended. Every terminal result carries one;
// there is no silent partial outcome.
type TerminationReason string

const (
	ReasonApproved         TerminationReason = "approved"
	ReasonMaxIterations    TerminationReason = "max-iterations"
	ReasonBackendExhausted TerminationReason = "all-backends-exhausted"
)

// Message roles used in the run transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the append-only run transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceRecord is a single retrieved source. Records are produced only by
// the research step and are immutable once created; the context list is
// replaced (or deliberately accumulated by the topology), never merged
// record-by-record.
type SourceRecord struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

// State is the single record threaded through one run. It is owned by
// exactly one topology driver for the duration of the run; agent units
// never mutate it directly, they return Deltas the driver applies.
type State struct {
	Query            string             `json:"query"`
	Messages         []Message          `json:"messages"`
	RetrievedContext []SourceRecord     `json:"retrieved_context"`
	Analysis         string             `json:"analysis"`
	Draft            string             `json:"draft"`
	Feedback         string             `json:"feedback"`
	Scores           map[string]float64 `json:"scores"`
	IterationCount   int                `json:"iteration_count"`
	PatternName      Pattern            `json:"pattern_name"`
	CurrentAgent     string             `json:"current_agent"`
	Ledger           ledger.Ledger      `json:"ledger"`
	IsComplete       bool               `json:"is_complete"`
	NeedsMoreData    bool               `json:"needs_more_data"`
	Warnings         []string           `json:"warnings,omitempty"`
}

// NewState initializes run state for a query under the given pattern.
func NewState(query string, pattern Pattern) (*State, error) {
	if !pattern.Valid() {
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
	return &State{
		Query:       query,
		Messages:    make([]Message, 0, 8),
		Scores:      make(map[string]float64),
		PatternName: pattern,
	}, nil
}

// AdvanceIteration increments the iteration counter. The counter is owned by
// the topology driver: one increment per loop cycle, never decremented.
func (s *State) AdvanceIteration() {
	s.IterationCount++
}

// Warn appends a non-fatal warning (tool degradation, coerced route labels).
func (s *State) Warn(msg string) {
	if msg == "" {
		return
	}
	s.Warnings = append(s.Warnings, msg)
}
