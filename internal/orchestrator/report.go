package orchestrator

import (
	"time"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

// Summary describes a registered workflow template
type Summary struct {
	WorkflowID  string        `json:"workflow_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	TaskCount   int           `json:"task_count"`
	Tasks       []TaskSummary `json:"tasks"`
}

// TaskSummary echoes a task back to the caller that registered it
type TaskSummary struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	AgentType model.AgentType `json:"agent_type"`
}

// StatusReport is the external view of a workflow run
type StatusReport struct {
	WorkflowID string               `json:"workflow_id"`
	RunID      string               `json:"run_id,omitempty"`
	Name       string               `json:"name"`
	Status     model.WorkflowStatus `json:"status"`
	StartTime  *time.Time           `json:"start_time,omitempty"`
	EndTime    *time.Time           `json:"end_time,omitempty"`
	Error      string               `json:"error,omitempty"`
	Tasks      []TaskReport         `json:"tasks"`
}

// TaskReport is the per-task slice of a status report
type TaskReport struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	AgentType model.AgentType  `json:"agent_type"`
	Status    model.TaskStatus `json:"status"`
	StartTime *time.Time       `json:"start_time,omitempty"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Error     string           `json:"error,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
}

func buildSummary(wf *model.Workflow) *Summary {
	summary := &Summary{
		WorkflowID:  wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		TaskCount:   len(wf.Tasks),
		Tasks:       make([]TaskSummary, 0, len(wf.Tasks)),
	}
	for _, t := range wf.Tasks {
		summary.Tasks = append(summary.Tasks, TaskSummary{
			ID:        t.ID,
			Name:      t.Name,
			AgentType: t.AgentType,
		})
	}
	return summary
}

func buildReport(wf *model.Workflow, runID string) *StatusReport {
	report := &StatusReport{
		WorkflowID: wf.ID,
		RunID:      runID,
		Name:       wf.Name,
		Status:     wf.Status,
		StartTime:  wf.StartTime,
		EndTime:    wf.EndTime,
		Error:      wf.Error,
		Tasks:      make([]TaskReport, 0, len(wf.Tasks)),
	}
	for _, t := range wf.Tasks {
		report.Tasks = append(report.Tasks, TaskReport{
			ID:        t.ID,
			Name:      t.Name,
			AgentType: t.AgentType,
			Status:    t.Status,
			StartTime: t.StartTime,
			EndTime:   t.EndTime,
			Error:     t.Error,
			SessionID: t.SessionID,
		})
	}
	return report
}
