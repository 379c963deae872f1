package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transition can leave this status
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentType identifies the executor category a task is dispatched to.
// The engine treats the value as an opaque registry key; an unknown type
// surfaces as a dispatch error at execution time, not at creation.
type AgentType string

const (
	AgentTypeQuery              AgentType = "query"
	AgentTypeOrchestrator       AgentType = "orchestrator"
	AgentTypeMetadataExtraction AgentType = "metadata_extraction"
	AgentTypeConnector          AgentType = "connector"
	AgentTypeInvestigation      AgentType = "investigation"
	AgentTypeCustom             AgentType = "custom"
)

// DefaultRetryLimit applies to tasks that do not set their own limit
const DefaultRetryLimit = 3

// Task represents a single unit of work inside a workflow
type Task struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	AgentType    AgentType              `json:"agent_type"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
	Timeout      time.Duration          `json:"timeout,omitempty"`
	RetryLimit   int                    `json:"retry_limit"`

	// Runtime state, owned by the executing engine
	Status     TaskStatus  `json:"status"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	Result     *TaskResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	RetryCount int         `json:"retry_count"`
	SessionID  string      `json:"session_id,omitempty"`
}

// TaskResult holds the structured payload an executor produced
type TaskResult struct {
	Content  string                 `json:"content"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Instruction returns the text submitted to the executor: the "prompt"
// param when present, otherwise an instruction synthesized from the
// task's name and description.
func (t *Task) Instruction() string {
	if p, ok := t.Params["prompt"].(string); ok && p != "" {
		return p
	}
	return fmt.Sprintf("Execute task: %s\n%s", t.Name, t.Description)
}

// Clone returns a deep copy of the task. Params, dependency lists,
// timestamps and results are all independent of the original.
func (t *Task) Clone() *Task {
	c := *t
	c.Params = deepCopyMap(t.Params)
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	c.StartTime = copyTime(t.StartTime)
	c.EndTime = copyTime(t.EndTime)
	if t.Result != nil {
		c.Result = &TaskResult{
			Content:  t.Result.Content,
			Data:     deepCopyMap(t.Result.Data),
			Metadata: deepCopyMap(t.Result.Metadata),
		}
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// deepCopyMap copies nested map and slice values so clones never share
// mutable state. Scalar values are copied as-is.
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
