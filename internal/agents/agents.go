// Package agents defines the unit-of-work vocabulary: which responsibility
// an agent carries, which backend it is bound to, and the routing labels a
// supervisor may emit.
package agents

// Responsibility names what a unit contributes to the run.
type Responsibility string

const (
	Research   Responsibility = "research"
	Analyze    Responsibility = "analyze"
	Synthesize Responsibility = "synthesize"
	Critique   Responsibility = "critique"
	Route      Responsibility = "route"
)

// Valid reports whether r is one of the known responsibilities.
func (r Responsibility) Valid() bool {
	switch r {
	case Research, Analyze, Synthesize, Critique, Route:
		return true
	}
	return false
}

// Unit is one agent: an identity, a responsibility, and a backend binding.
// ToolCapable gates access to the tool gateway; only research units get it.
// Name is a stable display name for logs and progress events.
type Unit struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Responsibility Responsibility `json:"responsibility"`
	Backend        string         `json:"backend"`
	ToolCapable    bool           `json:"tool_capable,omitempty"`
}
