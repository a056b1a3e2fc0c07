package agents

import "strings"

// RouteLabel is a supervisor routing decision. The set is closed: anything
// a router emits outside it is coerced to RouteFinish, so a confused or
// truncated model output can only ever end the run early, never wedge it.
type RouteLabel string

const (
	RouteResearch   RouteLabel = "research"
	RouteAnalyze    RouteLabel = "analyze"
	RouteSynthesize RouteLabel = "synthesize"
	RouteCritique   RouteLabel = "critique"
	RouteFinish     RouteLabel = "FINISH"
)

// Responsibility maps a worker route label onto the responsibility it
// dispatches. RouteFinish has no worker; it returns the empty value.
func (l RouteLabel) Responsibility() Responsibility {
	switch l {
	case RouteResearch:
		return Research
	case RouteAnalyze:
		return Analyze
	case RouteSynthesize:
		return Synthesize
	case RouteCritique:
		return Critique
	}
	return ""
}

// NormalizeRouteLabel extracts a routing decision from raw model output.
// It takes the first word, strips punctuation, and matches it
// case-insensitively against the closed label set. No match means
// RouteFinish.
func NormalizeRouteLabel(raw string) RouteLabel {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	})
	if len(fields) == 0 {
		return RouteFinish
	}
	switch strings.ToLower(fields[0]) {
	case "research":
		return RouteResearch
	case "analyze":
		return RouteAnalyze
	case "synthesize":
		return RouteSynthesize
	case "critique":
		return RouteCritique
	}
	return RouteFinish
}
