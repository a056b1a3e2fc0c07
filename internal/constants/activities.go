package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Agent Execution Activities
	ExecuteAgentActivity  = "ExecuteAgent"
	EvaluateDraftActivity = "EvaluateDraft"

	// Planning Activities
	DecomposeOutlineActivity = "DecomposeOutline"

	// Pricing Activities
	GetPricingSnapshotActivity = "GetPricingSnapshot"

	// Run Configuration Activities
	GetRunTunablesActivity = "GetRunTunables"

	// Persistence Activities
	PersistRunRecordActivity = "PersistRunRecord"
	JournalRunActivity       = "JournalRun"
	JournalStepActivity      = "JournalStep"
	PublishRunEventActivity  = "PublishRunEvent"
)
