package model

import (
	"errors"
	"fmt"
	"time"
)

// Definition validation errors. Messages for missing fields follow the
// platform's workflow API contract.
var (
	ErrWorkflowIDRequired    = errors.New("Workflow ID is required")
	ErrWorkflowNameRequired  = errors.New("Workflow name is required")
	ErrTaskIDRequired        = errors.New("Task ID is required")
	ErrTaskAgentTypeRequired = errors.New("Task agent_type is required")
)

// TaskDefinition is the external description of a single task inside a
// workflow definition document.
type TaskDefinition struct {
	ID           string                 `json:"id"`
	AgentType    AgentType              `json:"agent_type"`
	Name         string                 `json:"name,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Timeout      float64                `json:"timeout,omitempty"`
	RetryLimit   int                    `json:"retry_limit,omitempty"`
}

// WorkflowDefinition is the external document callers submit to create
// a workflow template. Timeouts are expressed in seconds.
type WorkflowDefinition struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Tasks       []TaskDefinition       `json:"tasks"`
}

// Validate checks required fields, duplicate task ids and dependency
// cycles. A dependency id that names no task in the definition is left
// for the engine's stuck detection; rejecting it here would also reject
// definitions that intentionally gate on tasks added later.
func (d *WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return ErrWorkflowIDRequired
	}
	if d.Name == "" {
		return ErrWorkflowNameRequired
	}

	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return ErrTaskIDRequired
		}
		if t.AgentType == "" {
			return ErrTaskAgentTypeRequired
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id: %s", t.ID)
		}
		seen[t.ID] = true
	}

	return d.checkCycles()
}

// checkCycles runs a depth-first search over the dependency graph and
// reports the first cycle found.
func (d *WorkflowDefinition) checkCycles() error {
	deps := make(map[string][]string, len(d.Tasks))
	for _, t := range d.Tasks {
		deps[t.ID] = t.Dependencies
	}

	visited := make(map[string]bool)
	path := make(map[string]bool)

	var visit func(string) error
	visit = func(current string) error {
		if path[current] {
			return fmt.Errorf("circular dependency detected: task %s", current)
		}
		if visited[current] {
			return nil
		}

		visited[current] = true
		path[current] = true

		for _, dep := range deps[current] {
			if err := visit(dep); err != nil {
				return err
			}
		}

		path[current] = false
		return nil
	}

	for _, t := range d.Tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// Build validates the definition and constructs a workflow template with
// defaults applied: task names fall back to their ids, retry limits to
// DefaultRetryLimit, and every task starts pending.
func (d *WorkflowDefinition) Build() (*Workflow, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(d.Tasks))
	for _, td := range d.Tasks {
		name := td.Name
		if name == "" {
			name = td.ID
		}

		retryLimit := td.RetryLimit
		if retryLimit <= 0 {
			retryLimit = DefaultRetryLimit
		}

		tasks = append(tasks, &Task{
			ID:           td.ID,
			Name:         name,
			Description:  td.Description,
			AgentType:    td.AgentType,
			Params:       deepCopyMap(td.Params),
			Dependencies: append([]string(nil), td.Dependencies...),
			Timeout:      time.Duration(td.Timeout * float64(time.Second)),
			RetryLimit:   retryLimit,
			Status:       TaskStatusPending,
		})
	}

	return &Workflow{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Metadata:    deepCopyMap(d.Metadata),
		Tasks:       tasks,
		Status:      WorkflowStatusPending,
	}, nil
}
