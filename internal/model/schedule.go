package model

import "time"

// ScheduleStatus represents the state of a workflow schedule
type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
)

// WorkflowSchedule represents a recurring execution of a stored workflow
type WorkflowSchedule struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Name        string         `json:"name"`
	Expression  string         `json:"expression"`
	Status      ScheduleStatus `json:"status"`
	LastRunTime *time.Time     `json:"last_run_time,omitempty"`
	NextRunTime *time.Time     `json:"next_run_time,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns an independent copy of the schedule
func (s *WorkflowSchedule) Clone() *WorkflowSchedule {
	out := *s
	out.LastRunTime = copyTime(s.LastRunTime)
	out.NextRunTime = copyTime(s.NextRunTime)
	return &out
}
