package workflows

import (
	"fmt"

	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/run"
)

// Iteration caps applied when the caller does not override them.
const (
	DefaultIterationCap  = 5
	DefaultSupervisorCap = 12
)

// RunInput configures one orchestration run.
type RunInput struct {
	RunID   string
	Query   string
	Pattern run.Pattern

	// MaxIterations overrides the pattern's iteration cap when positive.
	MaxIterations    int
	QualityThreshold float64

	// Backends binds responsibilities to backend ids; DefaultBackend
	// covers any responsibility left unbound.
	Backends       map[string]string
	DefaultBackend string

	SearchDepth      string
	MaxSearchResults int

	// FanOut splits the first synthesis across outline sections.
	FanOut         bool
	MaxSections    int
	MaxConcurrency int

	// Messages seeds the conversation for multi-turn callers.
	Messages []run.Message

	GenConfig llm.Config
}

// RunResult is the terminal run state plus how the run ended.
type RunResult struct {
	State             run.State
	TerminationReason run.TerminationReason
}

// Validate rejects inputs no topology can run.
func (in *RunInput) Validate() error {
	if in.Query == "" {
		return fmt.Errorf("run needs a query")
	}
	if !in.Pattern.Valid() {
		return fmt.Errorf("unknown pattern %q", in.Pattern)
	}
	for _, resp := range []agents.Responsibility{
		agents.Research, agents.Analyze, agents.Synthesize, agents.Critique,
	} {
		if in.backendFor(resp) == "" {
			return fmt.Errorf("no backend bound for %s and no default backend", resp)
		}
	}
	if in.Pattern == run.PatternSupervisor && in.backendFor(agents.Route) == "" {
		return fmt.Errorf("supervisor pattern needs a backend for routing")
	}
	return nil
}

func (in *RunInput) backendFor(resp agents.Responsibility) string {
	if b, ok := in.Backends[string(resp)]; ok && b != "" {
		return b
	}
	return in.DefaultBackend
}

// iterationCap resolves the effective cap for this run: caller override,
// then operator default, then the compiled-in cap.
func (in *RunInput) iterationCap(t config.Tunables) int {
	if in.MaxIterations > 0 {
		return in.MaxIterations
	}
	if in.Pattern == run.PatternSupervisor {
		if t.SupervisorCap > 0 {
			return t.SupervisorCap
		}
		return DefaultSupervisorCap
	}
	if t.MaxIterations > 0 {
		return t.MaxIterations
	}
	return DefaultIterationCap
}

// buildUnits constructs the unit roster for this run. Units are mutable
// for the run's duration: a fallback substitution rebinds the unit's
// backend for all its later calls.
func buildUnits(in RunInput) map[agents.Responsibility]*agents.Unit {
	roster := []struct {
		resp agents.Responsibility
		id   string
		idx  int
	}{
		{agents.Research, "research-1", agents.IdxResearch},
		{agents.Analyze, "analyze-1", agents.IdxAnalyze},
		{agents.Synthesize, "synthesize-1", agents.IdxSynthesize},
		{agents.Critique, "critique-1", agents.IdxCritique},
		{agents.Route, "supervisor-1", agents.IdxRoute},
	}
	units := make(map[agents.Responsibility]*agents.Unit, len(roster))
	for _, r := range roster {
		units[r.resp] = &agents.Unit{
			ID:             r.id,
			Name:           agents.DisplayName(in.RunID, r.idx),
			Responsibility: r.resp,
			Backend:        in.backendFor(r.resp),
			ToolCapable:    r.resp == agents.Research,
		}
	}
	return units
}
