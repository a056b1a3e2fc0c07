// Package opts centralizes activity options so every workflow schedules
// the same activity family with the same timeouts and retries.
package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// AgentActivityOptions returns standardized options for agent executions,
// sized for a full generation plus tool calls
func AgentActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}

// WithAgentOptions applies standardized agent activity options to a context
func WithAgentOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, AgentActivityOptions())
}

// GateActivityOptions returns standardized options for quality gate checks
func GateActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
}

// WithGateOptions applies standardized quality gate options to a context
func WithGateOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, GateActivityOptions())
}

// SnapshotActivityOptions returns standardized options for reading the
// inputs pinned at run start, pricing and tunables
func SnapshotActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
}

// WithSnapshotOptions applies standardized snapshot options to a context
func WithSnapshotOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, SnapshotActivityOptions())
}

// PersistActivityOptions returns standardized options for terminal archive
// and journal writes
func PersistActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
}

// WithPersistOptions applies standardized persistence options to a context
func WithPersistOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, PersistActivityOptions())
}

// BestEffortActivityOptions returns standardized options for writes that
// must never fail or stall a run, step journaling and progress events
func BestEffortActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// WithBestEffortOptions applies standardized best-effort options to a context
func WithBestEffortOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, BestEffortActivityOptions())
}
