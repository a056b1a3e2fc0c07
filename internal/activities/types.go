package activities

import (
	"github.com/troupehq/troupe/internal/agents"
	"github.com/troupehq/troupe/internal/archive"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/journal"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/run"
)

// AgentExecutionInput is the input for one agent unit execution. The
// workflow copies the slices of run state the unit's prompt needs; the
// activity never sees or mutates the state itself.
type AgentExecutionInput struct {
	RunID            string
	Unit             agents.Unit
	Query            string
	Messages         []run.Message
	Context          []run.SourceRecord
	Analysis         string
	Draft            string
	Feedback         string
	Section          string // assigned slice of the work, when decomposed
	SectionIndex     int
	Iteration        int
	SearchDepth      string
	MaxSearchResults int
	Config           llm.Config
}

// UsageRecord reports token consumption for exactly one generation call.
type UsageRecord struct {
	Backend      string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	CostUSD      float64
}

// AgentExecutionResult is the result of one agent unit execution.
type AgentExecutionResult struct {
	AgentID      string
	Response     string
	BackendUsed  string
	Usage        UsageRecord
	NewContext   []run.SourceRecord `json:"new_context,omitempty"`
	RouteLabel   agents.RouteLabel  `json:"route_label,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	ToolCalls    int
	ToolSearches int
	DurationMs   int64
}

// Evaluation decisions.
const (
	DecisionApprove      = "approve"
	DecisionRevise       = "revise"
	DecisionNeedMoreData = "need_more_data"
)

// EvaluateDraftInput is the input for draft evaluation.
type EvaluateDraftInput struct {
	RunID         string
	Query         string
	Draft         string
	Feedback      string
	Context       []run.SourceRecord
	Threshold     float64
	AllowMoreData bool
}

// EvaluateDraftResult carries per-dimension scores in [0,1], the overall
// score, and a single decision.
type EvaluateDraftResult struct {
	Scores   map[string]float64
	Decision string
	Feedback string
}

// DecomposeOutlineInput is the input for splitting a query into sections.
type DecomposeOutlineInput struct {
	RunID       string
	Query       string
	Backend     string
	MaxSections int
	Config      llm.Config
}

// DecomposeOutlineResult is the result of outline decomposition.
type DecomposeOutlineResult struct {
	Sections    []string
	BackendUsed string
	Usage       UsageRecord
}

// PersistRunRecordInput is the input for archiving a finished run.
type PersistRunRecordInput struct {
	Record archive.Record
}

// JournalRunInput is the input for journaling a finished run and its
// agent steps.
type JournalRunInput struct {
	Run   journal.RunRow
	Steps []journal.StepRow
}

// JournalStepInput is the input for journaling a single agent step as it
// completes.
type JournalStepInput struct {
	Step journal.StepRow
}

// PublishRunEventInput is the input for publishing one run event.
type PublishRunEventInput struct {
	Event events.Event
}
