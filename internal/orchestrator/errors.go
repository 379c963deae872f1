package orchestrator

import "errors"

// Orchestrator errors
var (
	// ErrWorkflowNotFound indicates the workflow id names no registered template
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowRunning indicates a run for the workflow id is still active
	ErrWorkflowRunning = errors.New("workflow is already running")

	// ErrNoActiveRun indicates there is no run to act on for the workflow id
	ErrNoActiveRun = errors.New("no active run for workflow")

	// ErrClosed indicates the orchestrator has been shut down
	ErrClosed = errors.New("orchestrator is closed")
)
