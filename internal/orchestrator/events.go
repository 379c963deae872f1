package orchestrator

import "time"

// EventType identifies an orchestrator lifecycle notification
type EventType string

// Orchestrator event types
const (
	EventWorkflowCreated  EventType = "workflow_created"
	EventRunStarted       EventType = "run_started"
	EventTaskComplete     EventType = "task_complete"
	EventTaskFailed       EventType = "task_failed"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowFailed   EventType = "workflow_failed"
	EventWorkflowStopped  EventType = "workflow_stopped"
)

// Event is the payload delivered to the event hook. Exactly one terminal
// event (complete, failed or stopped) fires per run, when the run exits.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventHook receives orchestrator events. Hooks run on engine and run
// goroutines and must not block.
type EventHook func(Event)
