package registry

import (
	"go.temporal.io/sdk/worker"
)

// WorkflowRegistrar registers workflows on a Temporal worker.
type WorkflowRegistrar interface {
	RegisterWorkflows(w worker.Worker) error
}

// ActivityRegistrar registers activities on a Temporal worker.
type ActivityRegistrar interface {
	RegisterActivities(w worker.Worker) error
}

// Registry combines workflow and activity registration.
type Registry interface {
	WorkflowRegistrar
	ActivityRegistrar
}
