package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_runs_started_total",
			Help: "Total number of runs started",
		},
		[]string{"pattern"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_runs_completed_total",
			Help: "Total number of runs completed",
		},
		[]string{"pattern", "reason"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "troupe_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"pattern"},
	)

	RunIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "troupe_run_iterations",
			Help:    "Iteration count at run termination",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 12},
		},
		[]string{"pattern"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_agent_executions_total",
			Help: "Total number of agent unit executions",
		},
		[]string{"responsibility", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "troupe_agent_execution_duration_ms",
			Help:    "Agent unit execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"responsibility"},
	)

	RouteLabelsCoerced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_route_labels_coerced_total",
			Help: "Total number of router outputs coerced to FINISH",
		},
	)

	// Backend metrics
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_backend_calls_total",
			Help: "Total number of generation calls by backend",
		},
		[]string{"backend", "provider", "status"},
	)

	BackendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_backend_fallbacks_total",
			Help: "Total number of calls served by a fallback instead of the primary",
		},
		[]string{"primary", "served_by"},
	)

	RunTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "troupe_run_tokens_used",
			Help:    "Number of tokens consumed per run",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "troupe_run_cost_usd",
			Help:    "Cost in USD per run",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	// Tool gateway metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_tool_calls_total",
			Help: "Total number of tool gateway invocations",
		},
		[]string{"operation", "status"},
	)

	ToolSearches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_tool_searches_total",
			Help: "Total number of search queries issued through the tool gateway",
		},
	)

	ToolDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_tool_degradations_total",
			Help: "Total number of tool failures degraded to empty results",
		},
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_evaluations_total",
			Help: "Total number of draft evaluations",
		},
		[]string{"decision"},
	)

	QualityScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "troupe_quality_score",
			Help:    "Per-dimension quality scores assigned by evaluation",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"dimension"},
	)

	// Archive metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_archive_writes_total",
			Help: "Total number of run results archived",
		},
		[]string{"status"},
	)

	ArchiveHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_archive_hits_total",
			Help: "Total number of archive reads served",
		},
	)

	ArchiveMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "troupe_archive_misses_total",
			Help: "Total number of archive reads that found nothing",
		},
	)

	// Journal metrics
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_journal_writes_total",
			Help: "Total number of run journal rows written",
		},
		[]string{"status"},
	)

	// Event stream metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "troupe_events_published_total",
			Help: "Total number of run events published",
		},
		[]string{"type", "status"},
	)
)

// RecordRunMetrics records metrics for a completed run
func RecordRunMetrics(pattern, reason string, durationSeconds float64, iterations, tokensUsed int, costUSD float64) {
	RunsCompleted.WithLabelValues(pattern, reason).Inc()
	RunDuration.WithLabelValues(pattern).Observe(durationSeconds)
	RunIterations.WithLabelValues(pattern).Observe(float64(iterations))

	if tokensUsed > 0 {
		RunTokensUsed.Observe(float64(tokensUsed))
	}
	if costUSD > 0 {
		RunCostUSD.Observe(costUSD)
	}
}

// RecordAgentMetrics records metrics for one agent unit execution
func RecordAgentMetrics(responsibility, status string, durationMs float64) {
	AgentExecutions.WithLabelValues(responsibility, status).Inc()
	if durationMs > 0 {
		AgentExecutionDuration.WithLabelValues(responsibility).Observe(durationMs)
	}
}

// RecordBackendCall records the outcome of one generation call
func RecordBackendCall(backend, provider, status string) {
	BackendCalls.WithLabelValues(backend, provider, status).Inc()
}

// RecordFallback records a call served by a fallback backend
func RecordFallback(primary, servedBy string) {
	if primary != servedBy {
		BackendFallbacks.WithLabelValues(primary, servedBy).Inc()
	}
}

// RecordToolCall records one tool gateway invocation
func RecordToolCall(operation, status string, searches int) {
	ToolCalls.WithLabelValues(operation, status).Inc()
	if searches > 0 {
		ToolSearches.Add(float64(searches))
	}
}

// RecordEvaluation records an evaluation decision and its scores
func RecordEvaluation(decision string, scores map[string]float64) {
	EvaluationsTotal.WithLabelValues(decision).Inc()
	for dim, v := range scores {
		QualityScore.WithLabelValues(dim).Observe(v)
	}
}
