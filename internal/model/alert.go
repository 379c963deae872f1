package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the workflow condition an alert rule watches for
type AlertType string

const (
	AlertTypeWorkflowFailure AlertType = "workflow_failure"
	AlertTypeTaskFailure     AlertType = "task_failure"
	AlertTypeStuckWorkflow   AlertType = "stuck_workflow"
)

// AlertRule defines a rule for generating alerts from workflow events.
// Cooldown suppresses repeat alerts from the same rule within the window.
type AlertRule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          AlertType     `json:"type"`
	ErrorContains string        `json:"error_contains,omitempty"`
	Severity      AlertSeverity `json:"severity"`
	Silenced      bool          `json:"silenced"`
	Cooldown      time.Duration `json:"cooldown,omitempty"`
	NotifyURL     string        `json:"notify_url,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Alert represents a triggered alert
type Alert struct {
	ID         string                 `json:"id"`
	RuleID     string                 `json:"rule_id"`
	Type       AlertType              `json:"type"`
	Severity   AlertSeverity          `json:"severity"`
	Message    string                 `json:"message"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	TaskID     string                 `json:"task_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
