package model

import "time"

// WorkflowStatus represents the lifecycle state of a workflow
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
	WorkflowStatusCancelled  WorkflowStatus = "cancelled"

	// WorkflowStatusPaused is reserved for wire compatibility with
	// clients; no engine transition produces it.
	WorkflowStatusPaused WorkflowStatus = "paused"
)

// Terminal reports whether no further transition can leave this status
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// Workflow is a dependency graph of tasks plus the runtime state of one
// execution. A stored workflow acts as a template; each run operates on
// a Clone so templates stay reusable.
type Workflow struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Tasks       []*Task                `json:"tasks"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Runtime state, owned by the executing engine
	Status        WorkflowStatus `json:"status"`
	StartTime     *time.Time     `json:"start_time,omitempty"`
	EndTime       *time.Time     `json:"end_time,omitempty"`
	Error         string         `json:"error,omitempty"`
	CurrentTaskID string         `json:"current_task_id,omitempty"`
}

// Task returns the task with the given id, or nil if none matches
func (w *Workflow) Task(id string) *Task {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ReadyTasks returns every pending task whose dependencies have all
// completed. A dependency id that matches no task in the workflow can
// never be satisfied; the engine eventually reports such a workflow as
// stuck rather than diagnosing it here.
//
// Workflow queries are unsynchronized. During execution the engine
// serializes all access under its own lock.
func (w *Workflow) ReadyTasks() []*Task {
	var ready []*Task

	for _, t := range w.Tasks {
		if t.Status != TaskStatusPending {
			continue
		}

		satisfied := true
		for _, depID := range t.Dependencies {
			dep := w.Task(depID)
			if dep == nil || dep.Status != TaskStatusCompleted {
				satisfied = false
				break
			}
		}

		if satisfied {
			ready = append(ready, t)
		}
	}

	return ready
}

// IsComplete reports whether every task has reached a terminal status
func (w *Workflow) IsComplete() bool {
	for _, t := range w.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// HasFailedTasks reports whether any task has failed
func (w *Workflow) HasFailedTasks() bool {
	for _, t := range w.Tasks {
		if t.Status == TaskStatusFailed {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the workflow. Task state, params and
// metadata are fully independent, so executing a clone never touches
// the template it was made from.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Metadata = deepCopyMap(w.Metadata)
	c.StartTime = copyTime(w.StartTime)
	c.EndTime = copyTime(w.EndTime)
	c.Tasks = make([]*Task, len(w.Tasks))
	for i, t := range w.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return &c
}
